// Package sso adapts external identity providers to the goAccess engine.
//
// The package never creates sessions itself. OIDC and SAML providers turn a
// completed browser round trip into a goAccess.User profile carrying the
// verified email address, which the caller hands to Engine.LoginExternal.
// The engine then applies the same MFA and session cap rules as a password
// login.
//
// State and relay values issued by StateStore are single use and expire.
// A deep link captured before the redirect is returned with the state so
// the login can resume at the original target.
package sso
