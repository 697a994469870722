// Package rate provides the Redis-backed login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// {prefix}:u:{identifier} per account and {prefix}:ip:{address} per client.
// Only failed attempts are counted; a successful login clears the account
// counter.
//
// # What this package must NOT do
//
//   - Audit or log. The Engine reports login_rate_limited.
//   - Be imported outside the goAccess module.
package rate
