package tenant

import "strings"

// Scope is the resolved set of tenants a query may read. A Global scope
// applies no tenant restriction at all.
type Scope struct {
	Global    bool
	TenantIDs []string
	View      View
}

// GlobalScope returns the unscoped view.
func GlobalScope() Scope {
	return Scope{Global: true}
}

// Contains reports whether data owned by tenantID is visible.
func (s Scope) Contains(tenantID string) bool {
	if s.Global {
		return true
	}
	for _, id := range s.TenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}

// SQL returns a WHERE fragment restricting column to the scope, plus its
// bind arguments. A global scope yields an always-true fragment.
func (s Scope) SQL(column string) (string, []any) {
	if s.Global {
		return "1=1", nil
	}
	if len(s.TenantIDs) == 0 {
		return "1=0", nil
	}
	args := make([]any, len(s.TenantIDs))
	for i, id := range s.TenantIDs {
		args[i] = id
	}
	return column + " IN (?" + strings.Repeat(",?", len(s.TenantIDs)-1) + ")", args
}

// Filter keeps the items whose owning tenant is in scope.
func Filter[T any](s Scope, items []T, owner func(T) string) []T {
	if s.Global {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if s.Contains(owner(item)) {
			out = append(out, item)
		}
	}
	return out
}
