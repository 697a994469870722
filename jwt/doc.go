// Package jwt signs and verifies the compact tokens carried in session and
// MFA challenge cookies.
//
// A token only names a session registry entry (sid, uid, tid) or a pending
// challenge. It grants nothing on its own: every request still checks the
// registry, so terminating a session revokes its cookie immediately.
package jwt
