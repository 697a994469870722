// Package permission provides the permission catalog, a bit registry, the
// built-in role hierarchy and the effective permission set resolver used by
// goAccess authorization checks.
//
// # Model
//
// Permissions are atomic named capabilities grouped by category (see
// [Catalog]). Every registered permission owns one bit of a 256-bit [Mask].
// The highest bit is reserved for root (ROLE_SUPER_ADMIN): a mask with the
// root bit set answers true for every permission.
//
// Users hold two kinds of roles: built-in role strings (ROLE_ADMIN,
// ROLE_MANAGER, ...) resolved through the [RoleManager] hierarchy, and custom
// Role records whose permission names come from storage. [Resolver] merges
// both into one [Set]; callers never check the two models separately.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import goAccess, voter, or session.
//   - Grow the registry after [Registry.Freeze].
package permission
