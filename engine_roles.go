package goAccess

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	internalaudit "github.com/MrEthical07/goAccess/internal/audit"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

/*
====================================
PERMISSION CATALOG
====================================
*/

// PermissionCatalog returns the built-in permissions grouped by category.
func (e *Engine) PermissionCatalog() map[string][]Permission {
	if e == nil || e.registry == nil {
		return map[string][]Permission{}
	}
	return permission.GroupByCategory(e.registry.Definitions())
}

// SeedPermissions writes the built-in catalog to the directory. Existing
// permissions are left alone. It returns how many were created.
func (e *Engine) SeedPermissions(ctx context.Context) (int, error) {
	if e == nil || e.directory == nil {
		return 0, ErrEngineNotReady
	}
	created := 0
	for _, def := range e.registry.Definitions() {
		ok, err := e.directory.UpsertPermission(ctx, def)
		if err != nil {
			return created, fmt.Errorf("%w: %v", ErrDirectory, err)
		}
		if ok {
			created++
		}
	}

	e.log.Info("permissions seeded", zap.Int("created", created))
	e.emitAudit(ctx, auditEvent{
		action:  auditEventPermissionsSeeded,
		success: true,
		metadata: func() map[string]string {
			return map[string]string{"created": strconv.Itoa(created)}
		},
	})
	return created, nil
}

// DeletePermission removes a non-system permission from the directory.
func (e *Engine) DeletePermission(ctx context.Context, name string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	if def, ok := e.registry.Definition(name); ok && def.System {
		return ErrSystemPermissionProtected
	}
	defs, err := e.directory.Permissions(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	var found *Permission
	for i := range defs {
		if defs[i].Name == name {
			found = &defs[i]
			break
		}
	}
	if found == nil {
		return ErrNotFound
	}
	if found.System {
		return ErrSystemPermissionProtected
	}
	if err := e.directory.DeletePermission(ctx, name); err != nil {
		return wrapDirectory(err)
	}
	e.emitAudit(ctx, auditEvent{
		action:    auditEventPermissionDeleted,
		success:   true,
		entityID:  name,
		oldValues: map[string]any{"name": found.Name, "category": found.Category},
	})
	return nil
}

/*
====================================
CUSTOM ROLES
====================================
*/

// CreateRole stores a new custom role. Names are unique and must not shadow
// a built-in role; every permission must be in the catalog.
func (e *Engine) CreateRole(ctx context.Context, role Role) (*Role, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" || e.roleManager.Known(role.Name) {
		return nil, ErrInvalidRole
	}
	perms, err := e.checkPermissions(role.Permissions)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms

	if _, err := e.directory.RoleByName(ctx, role.Name); err == nil {
		return nil, ErrRoleExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	role.ID = uuid.NewString()
	if err := e.directory.CreateRole(ctx, role); err != nil {
		return nil, wrapDirectory(err)
	}
	e.metricInc(MetricRoleChanged)
	e.emitAudit(ctx, auditEvent{
		action:    auditEventRoleCreated,
		success:   true,
		entityID:  role.ID,
		newValues: roleValues(&role),
	})
	return &role, nil
}

// UpdateRole replaces the name, description, permissions and system flag of
// an existing role. The system flag of a system role cannot be cleared.
func (e *Engine) UpdateRole(ctx context.Context, role Role) (*Role, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	existing, err := e.directory.Role(ctx, role.ID)
	if err != nil {
		return nil, wrapDirectory(err)
	}
	if existing.System && !role.System {
		return nil, ErrSystemRoleProtected
	}
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" || e.roleManager.Known(role.Name) {
		return nil, ErrInvalidRole
	}
	if role.Name != existing.Name {
		if other, err := e.directory.RoleByName(ctx, role.Name); err == nil && other.ID != role.ID {
			return nil, ErrRoleExists
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
		}
	}
	perms, err := e.checkPermissions(role.Permissions)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms

	if err := e.directory.UpdateRole(ctx, role); err != nil {
		return nil, wrapDirectory(err)
	}
	e.resolver.Purge()
	e.metricInc(MetricRoleChanged)

	oldValues, newValues := internalaudit.Changes(roleValues(existing), roleValues(&role))
	e.emitAudit(ctx, auditEvent{
		action:    auditEventRoleUpdated,
		success:   true,
		entityID:  role.ID,
		oldValues: oldValues,
		newValues: newValues,
	})
	return &role, nil
}

// DeleteRole removes a custom role. System roles are protected.
func (e *Engine) DeleteRole(ctx context.Context, id string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	existing, err := e.directory.Role(ctx, id)
	if err != nil {
		return wrapDirectory(err)
	}
	if existing.IsSystem() {
		return ErrSystemRoleProtected
	}
	if err := e.directory.DeleteRole(ctx, id); err != nil {
		return wrapDirectory(err)
	}
	e.resolver.Purge()
	e.metricInc(MetricRoleChanged)
	e.emitAudit(ctx, auditEvent{
		action:    auditEventRoleDeleted,
		success:   true,
		entityID:  id,
		oldValues: roleValues(existing),
	})
	return nil
}

// Role returns one custom role.
func (e *Engine) Role(ctx context.Context, id string) (*Role, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	role, err := e.directory.Role(ctx, id)
	if err != nil {
		return nil, wrapDirectory(err)
	}
	return role, nil
}

// RoleTemplates lists the predefined role templates.
func (e *Engine) RoleTemplates() []RoleTemplate {
	return permission.Templates()
}

// CreateRoleFromTemplate creates a custom role carrying the permissions of
// template key. An empty name uses the template's.
func (e *Engine) CreateRoleFromTemplate(ctx context.Context, key, name string) (*Role, error) {
	t, ok := permission.TemplateByKey(key)
	if !ok {
		return nil, ErrNotFound
	}
	if strings.TrimSpace(name) == "" {
		name = t.Name
	}
	return e.CreateRole(ctx, Role{Name: name, Description: t.Description, Permissions: t.Permissions})
}

// RoleComparison lays the permission catalog against a set of roles.
type RoleComparison struct {
	Roles []Role              `json:"roles"`
	Rows  []RoleComparisonRow `json:"rows"`
}

// RoleComparisonRow is one permission of a [RoleComparison]. Granted is
// keyed by role id.
type RoleComparisonRow struct {
	Permission string          `json:"permission"`
	Category   string          `json:"category"`
	Granted    map[string]bool `json:"granted"`
}

// CompareRoles builds the permission matrix of the given custom roles, in
// the order asked for. Unknown ids are skipped. Rows follow the catalog,
// grouped by category.
func (e *Engine) CompareRoles(ctx context.Context, ids []string) (*RoleComparison, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	found, err := e.directory.Roles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	byID := make(map[string]Role, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}
	roles := make([]Role, 0, len(found))
	held := make([]map[string]bool, 0, len(found))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		set := make(map[string]bool, len(r.Permissions))
		for _, name := range r.Permissions {
			set[name] = true
		}
		roles = append(roles, r)
		held = append(held, set)
	}

	defs := e.registry.Definitions()
	var order []string
	grouped := permission.GroupByCategory(defs)
	seen := make(map[string]bool, len(grouped))
	for _, def := range defs {
		if !seen[def.Category] {
			seen[def.Category] = true
			order = append(order, def.Category)
		}
	}

	out := &RoleComparison{Roles: roles, Rows: make([]RoleComparisonRow, 0, len(defs))}
	for _, category := range order {
		for _, def := range grouped[category] {
			row := RoleComparisonRow{Permission: def.Name, Category: category, Granted: make(map[string]bool, len(roles))}
			for i, r := range roles {
				row.Granted[r.ID] = held[i][def.Name]
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

/*
====================================
ROLE ASSIGNMENT
====================================
*/

// AssignRole grants a built-in role (ROLE_*) or a custom role, by name, to
// userID.
func (e *Engine) AssignRole(ctx context.Context, userID, role string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	role = strings.TrimSpace(role)
	if e.roleManager.Known(role) {
		if err := e.directory.AddUserRole(ctx, userID, role); err != nil {
			return wrapDirectory(err)
		}
	} else {
		custom, err := e.directory.RoleByName(ctx, role)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrUnknownRole
			}
			return fmt.Errorf("%w: %v", ErrDirectory, err)
		}
		if err := e.directory.AddUserCustomRole(ctx, userID, custom.ID); err != nil {
			return wrapDirectory(err)
		}
	}

	e.resolver.Purge()
	e.metricInc(MetricRoleChanged)
	e.emitAudit(ctx, auditEvent{
		action:    auditEventRoleAssigned,
		success:   true,
		userID:    userID,
		newValues: map[string]any{"role": role},
	})
	return nil
}

// RevokeRole removes a built-in or custom role from userID. It reports
// whether the user held it. ROLE_USER is implied for everyone and revoking
// it has no effect on access.
func (e *Engine) RevokeRole(ctx context.Context, userID, role string) (bool, error) {
	if e == nil || e.directory == nil {
		return false, ErrEngineNotReady
	}
	role = strings.TrimSpace(role)
	var (
		removed bool
		err     error
	)
	if e.roleManager.Known(role) {
		removed, err = e.directory.RemoveUserRole(ctx, userID, role)
	} else {
		custom, lookupErr := e.directory.RoleByName(ctx, role)
		if lookupErr != nil {
			if errors.Is(lookupErr, ErrNotFound) {
				return false, ErrUnknownRole
			}
			return false, fmt.Errorf("%w: %v", ErrDirectory, lookupErr)
		}
		removed, err = e.directory.RemoveUserCustomRole(ctx, userID, custom.ID)
	}
	if err != nil {
		return false, wrapDirectory(err)
	}
	if !removed {
		return false, nil
	}

	e.resolver.Purge()
	e.metricInc(MetricRoleChanged)
	e.emitAudit(ctx, auditEvent{
		action:    auditEventRoleRevoked,
		success:   true,
		userID:    userID,
		oldValues: map[string]any{"role": role},
	})
	return true, nil
}

// DeactivateUser disables an account and terminates all of its sessions.
// It returns how many sessions were ended.
func (e *Engine) DeactivateUser(ctx context.Context, userID, actor string) (int, error) {
	if e == nil || e.directory == nil {
		return 0, ErrEngineNotReady
	}
	if err := e.directory.SetUserActive(ctx, userID, false); err != nil {
		return 0, wrapDirectory(err)
	}
	e.emitAudit(ctx, auditEvent{
		action:    auditEventUserDeactivated,
		success:   true,
		userID:    userID,
		oldValues: map[string]any{"active": true},
		newValues: map[string]any{"active": false},
	})
	return e.TerminateUserSessions(ctx, userID, actor)
}

func (e *Engine) checkPermissions(names []string) ([]string, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := e.registry.Bit(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func roleValues(r *Role) map[string]any {
	return map[string]any{
		"name":        r.Name,
		"description": r.Description,
		"permissions": append([]string(nil), r.Permissions...),
		"system":      r.System,
	}
}

func wrapDirectory(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrDirectory, err)
}
