// Package goAccess is the access control core of an administration
// backend: password and SSO login, a TOTP second factor with backup codes,
// a capped registry of concurrent sessions, voter based authorization over
// a hierarchical role model, and tenant scoping.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goAccess is the public surface. It exposes [Engine], [Builder], [Config]
// and the value types (User, Role, MfaToken, SessionRecord, AuditEntry).
// Persistence is reached only through the [Directory] and [AuditStore]
// interfaces; sqlstore provides the SQL implementation. The session
// registry and MFA challenges live in Redis. Rate limiting and audit
// dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, stores, or encoding details in its public API.
//   - Fail a user operation because an audit write failed.
//   - Grant access when no voter has an opinion.
//   - Import any sub-package that re-imports goAccess (no import cycles).
//
// # Performance contract
//
// Authenticate and IsGranted are the hot path. Authenticate costs one
// Redis round-trip for the session touch; effective permissions are cached
// per user and role version, so IsGranted does not touch the directory on
// a cache hit.
package goAccess
