package permission

import (
	"errors"
	"sort"
	"sync"
)

// Built-in role names.
const (
	RoleUser        = "ROLE_USER"
	RoleAuditor     = "ROLE_AUDITOR"
	RoleDPO         = "ROLE_DPO"
	RoleManagerName = "ROLE_MANAGER"
	RoleCISO        = "ROLE_CISO"
	RoleAdmin       = "ROLE_ADMIN"
	RoleSuperAdmin  = "ROLE_SUPER_ADMIN"
)

// RoleManager holds the built-in role hierarchy and the permission mask each
// built-in role grants on its own (before inheritance).
//
// RoleManager instances are configured during initialization, frozen, and
// then treated as immutable.
type RoleManager struct {
	registry *Registry

	mu      sync.RWMutex
	implies map[string][]string
	masks   map[string]Mask
	frozen  bool
}

// NewRoleManager returns an empty manager bound to registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		implies:  make(map[string][]string),
		masks:    make(map[string]Mask),
	}
}

// DefaultRoleManager returns the stock hierarchy:
//
//	ROLE_SUPER_ADMIN > ROLE_ADMIN > ROLE_MANAGER > ROLE_USER
//	ROLE_ADMIN > ROLE_AUDITOR > ROLE_USER
//	ROLE_CISO > ROLE_MANAGER, ROLE_AUDITOR
//	ROLE_DPO > ROLE_USER
//
// ROLE_SUPER_ADMIN holds root. ROLE_ADMIN holds every registered permission
// except BACKUP_RESTORE. The registry must already contain every permission
// that ROLE_ADMIN should see.
func DefaultRoleManager(registry *Registry) (*RoleManager, error) {
	rm := NewRoleManager(registry)

	adminMask := registry.All()
	if bit, ok := registry.Bit(BackupRestore); ok {
		adminMask.Clear(bit)
	}
	var root Mask
	root.Set(RootBit)

	steps := []struct {
		role    string
		implies []string
		mask    Mask
	}{
		{RoleUser, nil, Mask{}},
		{RoleAuditor, []string{RoleUser}, Mask{}},
		{RoleDPO, []string{RoleUser}, Mask{}},
		{RoleManagerName, []string{RoleUser}, Mask{}},
		{RoleCISO, []string{RoleManagerName, RoleAuditor}, Mask{}},
		{RoleAdmin, []string{RoleManagerName, RoleAuditor}, adminMask},
		{RoleSuperAdmin, []string{RoleAdmin}, root},
	}
	for _, step := range steps {
		if err := rm.registerMask(step.role, step.mask, step.implies); err != nil {
			return nil, err
		}
	}
	return rm, nil
}

// RegisterRole adds a built-in role granting permissionNames and inheriting
// every role in implies. Implied roles must already be registered, which
// keeps the hierarchy acyclic.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string, implies []string) error {
	mask, unknown := rm.registry.MaskOf(permissionNames)
	if len(unknown) > 0 {
		return errors.New("permission not registered: " + unknown[0])
	}
	return rm.registerMask(roleName, mask, implies)
}

// Grant adds permissions to an already registered role.
func (rm *RoleManager) Grant(roleName string, permissionNames ...string) error {
	mask, unknown := rm.registry.MaskOf(permissionNames)
	if len(unknown) > 0 {
		return errors.New("permission not registered: " + unknown[0])
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	current, ok := rm.masks[roleName]
	if !ok {
		return errors.New("role not registered: " + roleName)
	}
	rm.masks[roleName] = current.Union(mask)
	return nil
}

func (rm *RoleManager) registerMask(roleName string, mask Mask, implies []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.masks[roleName]; exists {
		return errors.New("role already registered")
	}
	for _, parent := range implies {
		if _, ok := rm.masks[parent]; !ok {
			return errors.New("implied role not registered: " + parent)
		}
	}

	rm.masks[roleName] = mask
	rm.implies[roleName] = append([]string(nil), implies...)
	return nil
}

// Known reports whether roleName is a registered built-in role.
func (rm *RoleManager) Known(roleName string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.masks[roleName]
	return ok
}

// GetMask returns the mask granted by roleName alone.
func (rm *RoleManager) GetMask(roleName string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.masks[roleName]
	return mask, ok
}

// Reachable expands roles through the hierarchy. ROLE_USER is always part
// of the result; unknown role strings are kept as-is so custom role names
// survive the expansion. The result is sorted.
func (rm *RoleManager) Reachable(roles []string) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	seen := map[string]struct{}{RoleUser: {}}
	queue := append([]string(nil), roles...)
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		queue = append(queue, rm.implies[role]...)
	}

	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// MaskFor unions the masks of every role reachable from roles.
func (rm *RoleManager) MaskFor(roles []string) Mask {
	var mask Mask
	for _, role := range rm.Reachable(roles) {
		if m, ok := rm.GetMask(role); ok {
			mask = mask.Union(m)
		}
	}
	return mask
}

// Freeze prevents further changes.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of built-in roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.masks)
}
