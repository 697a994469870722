package goAccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goAccess/tenant"
)

// CurrentTenant returns the tenant of user, or nil when the user has none or
// it no longer exists. A nil tenant means the global view.
func (e *Engine) CurrentTenant(ctx context.Context, user *User) (*Tenant, error) {
	if e == nil || e.tenants == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenants.Current(ctx, user.TenantKey())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return t, nil
}

// TenantScope returns the tenants whose data user may list under view. An
// empty view uses Config.Tenant.DefaultView. Subsidiaries and parents are
// one level deep.
func (e *Engine) TenantScope(ctx context.Context, user *User, view string) (TenantScope, error) {
	if e == nil || e.tenants == nil {
		return TenantScope{}, ErrEngineNotReady
	}
	if view == "" {
		view = e.config.Tenant.DefaultView
	}
	scope, err := e.tenants.ScopeFor(ctx, user.TenantKey(), tenant.ParseView(view))
	if err != nil {
		return TenantScope{}, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return scope, nil
}

// TenantInheritance describes the parent and subsidiaries of user's tenant.
func (e *Engine) TenantInheritance(ctx context.Context, user *User) (tenant.Inheritance, error) {
	t, err := e.CurrentTenant(ctx, user)
	if err != nil {
		return tenant.Inheritance{}, err
	}
	info, err := e.tenants.Inheritance(ctx, t)
	if err != nil {
		return tenant.Inheritance{}, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return info, nil
}

// SetTenantParent moves tenantID under parentID. An empty parentID makes it
// a root. Changes that would create a cycle return ErrTenantCycle.
func (e *Engine) SetTenantParent(ctx context.Context, tenantID, parentID string) error {
	if e == nil || e.tenants == nil {
		return ErrEngineNotReady
	}
	before, err := e.directory.Tenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if err := e.tenants.SetParent(ctx, tenantID, parentID); err != nil {
		switch {
		case errors.Is(err, tenant.ErrCycle):
			return ErrTenantCycle
		case errors.Is(err, tenant.ErrNotFound):
			return ErrNotFound
		default:
			return fmt.Errorf("%w: %v", ErrDirectory, err)
		}
	}
	e.emitAudit(ctx, auditEvent{
		action:    auditEventTenantParentChanged,
		success:   true,
		tenantID:  tenantID,
		entityID:  tenantID,
		oldValues: map[string]any{"parent_id": before.ParentID},
		newValues: map[string]any{"parent_id": parentID},
	})
	return nil
}

// ActiveTenants lists the active tenants ordered by name.
func (e *Engine) ActiveTenants(ctx context.Context) ([]Tenant, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	list, err := e.directory.Tenants(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return list, nil
}

// BelongsTo reports whether user is a member of tenantID. Membership is
// exact and does not follow the hierarchy.
func (e *Engine) BelongsTo(user *User, tenantID string) bool {
	return tenant.BelongsTo(user.TenantKey(), tenantID)
}
