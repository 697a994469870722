// Package tenant resolves the tenant a request operates in and the set of
// tenants whose data it may see.
//
// Tenants form a tree through an optional parent link. Scopes only ever look
// one level away from the current tenant: the direct parent, or the direct
// subsidiaries. A user without a tenant (or whose tenant no longer exists)
// gets the unscoped global view.
package tenant

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by a Store when the tenant does not exist.
	ErrNotFound = errors.New("tenant not found")
	// ErrCycle is returned when a parent change would create a cycle.
	ErrCycle = errors.New("tenant hierarchy cycle")
)

// Tenant is one organisational unit.
type Tenant struct {
	ID       string `db:"id" json:"id"`
	Code     string `db:"code" json:"code"`
	Name     string `db:"name" json:"name"`
	ParentID string `db:"parent_id" json:"parent_id,omitempty"`
	Active   bool   `db:"is_active" json:"active"`
}

// HasParent reports whether t is a subsidiary.
func (t *Tenant) HasParent() bool {
	return t != nil && t.ParentID != ""
}

// TenantKey returns the tenant id. It lets voters treat tenants like any
// other tenant-owned target.
func (t *Tenant) TenantKey() string {
	if t == nil {
		return ""
	}
	return t.ID
}

// Store is the persistence the resolver needs.
type Store interface {
	Tenant(ctx context.Context, id string) (*Tenant, error)
	Children(ctx context.Context, parentID string) ([]Tenant, error)
	SetParent(ctx context.Context, id, parentID string) error
}

// View selects which tenants a listing includes.
type View int

const (
	// ViewIncludingParent shows own data plus the direct parent's. It is the
	// default ("inherited").
	ViewIncludingParent View = iota
	// ViewOwn shows own data only.
	ViewOwn
	// ViewIncludingSubsidiaries shows own data plus direct subsidiaries'.
	ViewIncludingSubsidiaries
)

func (v View) String() string {
	switch v {
	case ViewOwn:
		return "own"
	case ViewIncludingSubsidiaries:
		return "subsidiaries"
	default:
		return "inherited"
	}
}

// ParseView maps a request parameter to a View. Unknown or empty values
// yield the default.
func ParseView(s string) View {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "own":
		return ViewOwn
	case "subsidiaries", "including_subsidiaries":
		return ViewIncludingSubsidiaries
	default:
		return ViewIncludingParent
	}
}
