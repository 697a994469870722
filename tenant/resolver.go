package tenant

import (
	"context"
	"errors"
	"fmt"
)

// maxDepth bounds ancestor walks so a corrupted store cannot loop forever.
const maxDepth = 64

// Inheritance summarises where a tenant sits in the tree.
type Inheritance struct {
	TenantID        string
	HasParent       bool
	ParentID        string
	HasSubsidiaries bool
	Subsidiaries    int
}

// Resolver answers tenant context questions against a Store.
type Resolver struct {
	store Store
}

// NewResolver returns a resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Current returns the tenant with the given id. An empty id or a tenant
// that no longer exists yields (nil, nil): callers fall back to the global
// view instead of failing.
func (r *Resolver) Current(ctx context.Context, tenantID string) (*Tenant, error) {
	if tenantID == "" {
		return nil, nil
	}
	t, err := r.store.Tenant(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	return t, nil
}

// Scope resolves the tenants visible from t under view. A nil tenant yields
// the global scope.
func (r *Resolver) Scope(ctx context.Context, t *Tenant, view View) (Scope, error) {
	if t == nil {
		return GlobalScope(), nil
	}

	scope := Scope{View: view, TenantIDs: []string{t.ID}}
	switch view {
	case ViewOwn:
	case ViewIncludingSubsidiaries:
		children, err := r.store.Children(ctx, t.ID)
		if err != nil {
			return Scope{}, fmt.Errorf("load subsidiaries of %s: %w", t.ID, err)
		}
		for _, child := range children {
			scope.TenantIDs = append(scope.TenantIDs, child.ID)
		}
	default:
		if t.ParentID != "" {
			scope.TenantIDs = append(scope.TenantIDs, t.ParentID)
		}
	}
	return scope, nil
}

// ScopeFor combines Current and Scope.
func (r *Resolver) ScopeFor(ctx context.Context, tenantID string, view View) (Scope, error) {
	t, err := r.Current(ctx, tenantID)
	if err != nil {
		return Scope{}, err
	}
	return r.Scope(ctx, t, view)
}

// Inheritance reports the parent and direct subsidiaries of t.
func (r *Resolver) Inheritance(ctx context.Context, t *Tenant) (Inheritance, error) {
	if t == nil {
		return Inheritance{}, nil
	}
	children, err := r.store.Children(ctx, t.ID)
	if err != nil {
		return Inheritance{}, fmt.Errorf("load subsidiaries of %s: %w", t.ID, err)
	}
	return Inheritance{
		TenantID:        t.ID,
		HasParent:       t.HasParent(),
		ParentID:        t.ParentID,
		HasSubsidiaries: len(children) > 0,
		Subsidiaries:    len(children),
	}, nil
}

// SetParent re-parents a tenant. An empty parentID detaches it. The change is
// rejected with ErrCycle when parentID is the tenant itself or one of its
// descendants.
func (r *Resolver) SetParent(ctx context.Context, tenantID, parentID string) error {
	if _, err := r.store.Tenant(ctx, tenantID); err != nil {
		return err
	}
	if parentID != "" {
		if err := r.checkAcyclic(ctx, tenantID, parentID); err != nil {
			return err
		}
	}
	return r.store.SetParent(ctx, tenantID, parentID)
}

func (r *Resolver) checkAcyclic(ctx context.Context, tenantID, parentID string) error {
	current := parentID
	for depth := 0; current != ""; depth++ {
		if current == tenantID {
			return ErrCycle
		}
		if depth >= maxDepth {
			return ErrCycle
		}
		t, err := r.store.Tenant(ctx, current)
		if err != nil {
			return err
		}
		current = t.ParentID
	}
	return nil
}

// BelongsTo reports whether a user assigned to userTenantID is a member of
// tenantID. Membership is exact: a parent's users do not belong to the
// subsidiary.
func BelongsTo(userTenantID, tenantID string) bool {
	return userTenantID != "" && userTenantID == tenantID
}
