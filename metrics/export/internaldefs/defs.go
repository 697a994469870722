package internaldefs

import (
	goAccess "github.com/MrEthical07/goAccess"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   goAccess.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   goAccess.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goAccess.MetricLoginSuccess, Name: "goaccess_login_success_total", Help: "Completed password and SSO logins."},
	{ID: goAccess.MetricLoginFailure, Name: "goaccess_login_failure_total", Help: "Rejected logins."},
	{ID: goAccess.MetricLoginRateLimited, Name: "goaccess_login_rate_limited_total", Help: "Logins refused by the throttle."},
	{ID: goAccess.MetricMFARequired, Name: "goaccess_mfa_required_total", Help: "Logins that entered the MFA challenge."},
	{ID: goAccess.MetricMFASuccess, Name: "goaccess_mfa_success_total", Help: "Verified MFA challenges."},
	{ID: goAccess.MetricMFAFailure, Name: "goaccess_mfa_failure_total", Help: "Rejected MFA codes and tokens."},
	{ID: goAccess.MetricMFAAutoResolved, Name: "goaccess_mfa_auto_resolved_total", Help: "Challenges resolved because no active token remained."},
	{ID: goAccess.MetricMFAFallback, Name: "goaccess_mfa_fallback_total", Help: "TOTP failures rescued by a backup code."},
	{ID: goAccess.MetricBackupCodeUsed, Name: "goaccess_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: goAccess.MetricBackupCodeRegenerated, Name: "goaccess_backup_code_regenerated_total", Help: "Backup code regenerations."},
	{ID: goAccess.MetricTOTPEnrolled, Name: "goaccess_totp_enrolled_total", Help: "TOTP tokens enrolled."},
	{ID: goAccess.MetricSessionCreated, Name: "goaccess_session_created_total", Help: "Created sessions."},
	{ID: goAccess.MetricSessionEvicted, Name: "goaccess_session_evicted_total", Help: "Sessions ended by the concurrency cap."},
	{ID: goAccess.MetricSessionTerminated, Name: "goaccess_session_terminated_total", Help: "Sessions terminated by an administrator."},
	{ID: goAccess.MetricSessionExpired, Name: "goaccess_session_expired_total", Help: "Sessions ended by the idle timeout or lifetime."},
	{ID: goAccess.MetricLogout, Name: "goaccess_logout_total", Help: "Logouts."},
	{ID: goAccess.MetricAccessGranted, Name: "goaccess_access_granted_total", Help: "Granted authorization decisions."},
	{ID: goAccess.MetricAccessDenied, Name: "goaccess_access_denied_total", Help: "Denied authorization decisions."},
	{ID: goAccess.MetricRoleChanged, Name: "goaccess_role_changed_total", Help: "Role definition and assignment changes."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAccess.MetricValidateLatency, Name: "goaccess_session_validate_latency_seconds", Help: "Session validation latency."},
}

const (
	AuditDroppedName  = "goaccess_audit_dropped_total"
	AuditDroppedHelp  = "Audit entries dropped by a full sink buffer."
	AuditFailuresName = "goaccess_audit_failures_total"
	AuditFailuresHelp = "Audit entries the audit store failed to persist."
)

// UpperBounds are the finite bucket bounds in seconds. The engine keeps
// one extra overflow bucket.
var UpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
