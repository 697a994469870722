// Package session provides the Redis-backed active session registry.
//
// # Layout
//
// Each session is a Redis hash under {prefix}:s:{sid}. Two sorted sets index
// the active ones: {prefix}:u:{uid} scored by creation time (oldest first,
// used for cap eviction) and {prefix}:active scored by last activity (used for
// admin listings). The braces are a hash tag: every key of one registry maps
// to the same cluster slot.
//
// # Atomicity
//
// Registration, touch, validation and termination each run as one Lua
// script, so the per-user concurrent cap cannot be exceeded by racing logins.
// Scripts only touch keys passed in KEYS. Register and TerminateUser read the
// user index first and pass its sessions along; the script rejects a stale
// read before writing and the call retries. Idle and absolute expiry are
// applied lazily whenever a script sees an expired record.
//
// # What this package must NOT do
//
//   - Import goAccess, jwt, or voter (no upward imports).
//   - Audit or log. The caller reports evictions and terminations.
package session
