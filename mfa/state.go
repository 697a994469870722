// Package mfa holds the second-factor primitives: the challenge state value,
// TOTP generation and verification, backup code generation and matching, and
// the Redis store that keeps pending challenges between requests.
//
// The package never decides policy. Whether a login needs a challenge,
// whether a failed TOTP falls back to backup codes, and what gets audited
// is the caller's business.
package mfa

import "time"

// Phase is the position of a login in the second-factor state machine.
type Phase uint8

const (
	// PhaseNone means no second factor is required (no active token).
	PhaseNone Phase = iota
	// PhasePending means the password step succeeded and a code is expected.
	PhasePending
	// PhaseVerified means the second factor was satisfied.
	PhaseVerified
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "mfa_pending"
	case PhaseVerified:
		return "mfa_verified"
	default:
		return "no_mfa_required"
	}
}

// State is the explicit challenge state carried through the request
// pipeline. The zero value is PhaseNone.
type State struct {
	Phase      Phase
	UserID     string
	TenantID   string
	TargetPath string
	IssuedAt   time.Time
	Attempts   uint16
}

// NoneRequired returns the state of a login that needs no second factor.
func NoneRequired() State {
	return State{Phase: PhaseNone}
}

// Pending returns a fresh pending state for userID. targetPath is the
// protected path the user originally asked for, if any.
func Pending(userID, tenantID, targetPath string, now time.Time) State {
	return State{
		Phase:      PhasePending,
		UserID:     userID,
		TenantID:   tenantID,
		TargetPath: targetPath,
		IssuedAt:   now,
	}
}

// Verified transitions s to PhaseVerified, keeping its identity fields.
func (s State) Verified() State {
	s.Phase = PhaseVerified
	return s
}

// IsPending reports whether a code is still expected.
func (s State) IsPending() bool {
	return s.Phase == PhasePending && s.UserID != ""
}

// Authenticated reports whether the login is complete.
func (s State) Authenticated() bool {
	return s.Phase == PhaseNone || s.Phase == PhaseVerified
}

// RedirectTarget returns the captured target path, or fallback when none was
// captured.
func (s State) RedirectTarget(fallback string) string {
	if s.TargetPath != "" {
		return s.TargetPath
	}
	return fallback
}
