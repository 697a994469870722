// Package middleware adapts goAccess.Engine to net/http.
//
// # Guards
//
//   - [ClientInfo] records the client IP and User-Agent on the request
//     context so sessions, audit entries and the login throttle see them.
//   - [Guard] authenticates the session cookie (or a Bearer header) and
//     attaches the resulting principal.
//   - [RequireGranted] asks the voters for an attribute and rejects the
//     request on anything but a grant.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Every decision
// is delegated to Engine.Authenticate and Engine.DenyAccessUnlessGranted.
//
// # What this package must NOT do
//
//   - Parse or create session tokens directly.
//   - Access Redis or the directory.
//   - Decide access beyond pass or reject from the engine.
package middleware
