package permission

import (
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Subject is the input to effective permission resolution.
type Subject struct {
	UserID string
	// Version changes whenever the user's role assignments change. It is
	// part of the cache key.
	Version uint64
	// Roles are built-in role strings held directly by the user.
	Roles []string
	// CustomRoles are names of custom Role records held by the user.
	CustomRoles []string
	// CustomPermissions are the permission names granted by CustomRoles.
	CustomPermissions []string
}

// Set is the effective permission set of one user. It answers both
// questions callers ask: "does the user hold role R" and "does the user hold
// permission P", whichever role model granted it.
type Set struct {
	mask     Mask
	roles    map[string]struct{}
	registry *Registry
}

// Has reports whether the permission is granted.
func (s Set) Has(name string) bool {
	if s.registry == nil {
		return false
	}
	bit, ok := s.registry.Bit(name)
	if !ok {
		return s.mask.IsRoot()
	}
	return s.mask.Has(bit)
}

// HasRole reports whether the role is held, directly or through the
// hierarchy. Custom role names are matched too.
func (s Set) HasRole(role string) bool {
	_, ok := s.roles[role]
	return ok
}

// IsRoot reports whether the set is the super-admin set.
func (s Set) IsRoot() bool {
	return s.mask.IsRoot()
}

// Mask returns the underlying bitmask.
func (s Set) Mask() Mask {
	return s.mask
}

// Roles returns the reachable roles, sorted.
func (s Set) Roles() []string {
	out := make([]string, 0, len(s.roles))
	for role := range s.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Permissions returns the granted permission names, sorted.
func (s Set) Permissions() []string {
	if s.registry == nil {
		return nil
	}
	return s.registry.Names(s.mask)
}

// Resolver computes effective permission sets and caches them per user
// version.
type Resolver struct {
	registry *Registry
	roles    *RoleManager
	cache    *lru.Cache[string, Set]
}

// NewResolver returns a resolver. cacheSize <= 0 disables caching.
func NewResolver(registry *Registry, roles *RoleManager, cacheSize int) (*Resolver, error) {
	r := &Resolver{
		registry: registry,
		roles:    roles,
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, Set](cacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// Registry returns the registry the resolver reads from.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// RoleManager returns the built-in role hierarchy.
func (r *Resolver) RoleManager() *RoleManager {
	return r.roles
}

// Resolve merges built-in role grants (through the hierarchy) with the
// custom role permissions of subject. Unknown custom permission names are
// ignored: they grant nothing.
func (r *Resolver) Resolve(subject Subject) Set {
	key := ""
	if r.cache != nil && subject.UserID != "" {
		key = subject.UserID + ":" + strconv.FormatUint(subject.Version, 10)
		if set, ok := r.cache.Get(key); ok {
			return set
		}
	}

	reachable := r.roles.Reachable(subject.Roles)
	roles := make(map[string]struct{}, len(reachable)+len(subject.CustomRoles))
	for _, role := range reachable {
		roles[role] = struct{}{}
	}
	for _, role := range subject.CustomRoles {
		roles[role] = struct{}{}
	}

	mask := r.roles.MaskFor(subject.Roles)
	custom, _ := r.registry.MaskOf(subject.CustomPermissions)
	mask = mask.Union(custom)

	set := Set{mask: mask, roles: roles, registry: r.registry}
	if key != "" {
		r.cache.Add(key, set)
	}
	return set
}

// Purge drops every cached set. Call it after a custom role's permission
// list changes, since that affects every holder regardless of version.
func (r *Resolver) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

// CacheLen returns the number of cached sets.
func (r *Resolver) CacheLen() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Len()
}
