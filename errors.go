package goAccess

import "errors"

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned when too many failed logins were seen
	// for the identifier or client IP.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrUserInactive is returned when the account is disabled.
	ErrUserInactive = errors.New("user inactive")
	// ErrInvalidToken is returned when an MFA token is unknown, belongs to
	// another user, or is inactive.
	ErrInvalidToken = errors.New("invalid mfa token")
	// ErrInvalidCode is returned when neither the TOTP code nor any backup
	// code matched. The challenge stays pending.
	ErrInvalidCode = errors.New("invalid mfa code")
	// ErrMFACodeRequired is returned when the submitted code is empty.
	ErrMFACodeRequired = errors.New("mfa code required")
	// ErrMFANotPending is returned by operations that need a pending challenge
	// when the challenge already completed.
	ErrMFANotPending = errors.New("mfa challenge not pending")
	// ErrMFANotEnrolled is returned when a challenge is started for a user
	// without active tokens.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrAccessDenied is the single authorization failure. It never says
	// whether the target exists.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound is returned by Directory implementations for missing records.
	ErrNotFound = errors.New("record not found")
	// ErrSystemRoleProtected is returned when deleting a system role or
	// clearing its system flag.
	ErrSystemRoleProtected = errors.New("system role is protected")
	// ErrSystemPermissionProtected is returned when changing or deleting a
	// system permission.
	ErrSystemPermissionProtected = errors.New("system permission is protected")
	// ErrRoleExists is returned when creating a role whose name is taken.
	ErrRoleExists = errors.New("role already exists")
	// ErrInvalidRole is returned when a role has no name or uses a built-in
	// role name.
	ErrInvalidRole = errors.New("invalid role")
	// ErrUnknownRole is returned when assigning a role that does not exist.
	ErrUnknownRole = errors.New("unknown role")
	// ErrUnknownPermission is returned when a role references a permission
	// outside the catalog.
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrTenantCycle is returned when a parent change would make a tenant its
	// own ancestor.
	ErrTenantCycle = errors.New("tenant hierarchy cycle")
	// ErrSessionBackend is returned when the session registry is unreachable.
	ErrSessionBackend = errors.New("session backend unavailable")
	// ErrSessionInvalid is returned when a session token is malformed, expired
	// or points at a terminated session.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrMFABackend is returned when the challenge store is unreachable.
	ErrMFABackend = errors.New("mfa backend unavailable")
	// ErrDirectory is returned when relational persistence fails.
	ErrDirectory = errors.New("directory unavailable")
	// ErrSSODisabled is returned when an SSO login arrives for a provider that
	// is not configured.
	ErrSSODisabled = errors.New("sso provider disabled")
	// ErrEngineNotReady is returned by a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorCode is the machine readable classification carried in JSON
// envelopes and audit entries.
type ErrorCode string

const (
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeUserInactive       ErrorCode = "user_inactive"
	CodeInvalidToken       ErrorCode = "invalid_token"
	CodeInvalidCode        ErrorCode = "invalid_code"
	CodeCodeRequired       ErrorCode = "code_required"
	CodeMFANotPending      ErrorCode = "mfa_not_pending"
	CodeMFANotEnrolled     ErrorCode = "mfa_not_enrolled"
	CodeAccessDenied       ErrorCode = "access_denied"
	CodeNotFound           ErrorCode = "not_found"
	CodeProtected          ErrorCode = "protected"
	CodeConflict           ErrorCode = "conflict"
	CodeInvalidInput       ErrorCode = "invalid_input"
	CodeTenantCycle        ErrorCode = "tenant_cycle"
	CodeSessionInvalid     ErrorCode = "session_invalid"
	CodeUnavailable        ErrorCode = "backend_unavailable"
	CodeInternal           ErrorCode = "internal_error"
)

// Classify maps err to its ErrorCode. A nil error yields "".
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUserInactive):
		return CodeUserInactive
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, ErrInvalidCode):
		return CodeInvalidCode
	case errors.Is(err, ErrMFACodeRequired):
		return CodeCodeRequired
	case errors.Is(err, ErrMFANotPending):
		return CodeMFANotPending
	case errors.Is(err, ErrMFANotEnrolled):
		return CodeMFANotEnrolled
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrSSODisabled):
		return CodeAccessDenied
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrSystemRoleProtected), errors.Is(err, ErrSystemPermissionProtected):
		return CodeProtected
	case errors.Is(err, ErrRoleExists):
		return CodeConflict
	case errors.Is(err, ErrUnknownRole),
		errors.Is(err, ErrUnknownPermission),
		errors.Is(err, ErrInvalidRole):
		return CodeInvalidInput
	case errors.Is(err, ErrTenantCycle):
		return CodeTenantCycle
	case errors.Is(err, ErrSessionInvalid):
		return CodeSessionInvalid
	case errors.Is(err, ErrSessionBackend),
		errors.Is(err, ErrMFABackend),
		errors.Is(err, ErrDirectory),
		errors.Is(err, ErrEngineNotReady):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
