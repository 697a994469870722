// Package httpapi exposes the goAccess engine over HTTP with gorilla/mux.
//
// Every JSON response uses one envelope:
//
//	{"success": false, "error": "invalid_code", "message": "The code is not valid."}
//
// error carries the [goAccess.Classify] code and message is safe to show to
// end users. Successful responses put their payload under data.
//
// Sessions travel in the cookie named by Config.Token.CookieName. A pending
// MFA challenge travels in Config.Token.ChallengeCookieName until the code is
// accepted. Browser flows (SSO callbacks) answer with redirects instead of
// JSON.
package httpapi
