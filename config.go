package goAccess

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override what you need; [Builder.Build] validates it.
type Config struct {
	Session    SessionConfig
	Token      TokenConfig
	MFA        MFAConfig
	Password   PasswordConfig
	Security   SecurityConfig
	Audit      AuditConfig
	Tenant     TenantConfig
	Permission PermissionConfig
	Metrics    MetricsConfig
	SSO        SSOConfig
	// DefaultLanding is the redirect target after authentication when no
	// deep link was captured.
	DefaultLanding string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the active session registry.
type SessionConfig struct {
	RedisPrefix           string
	MaxConcurrentSessions int
	// IdleTimeout is the inactivity after which a session is treated as
	// expired on its next access.
	IdleTimeout time.Duration
	// AbsoluteLifetime caps a session regardless of activity. Zero disables
	// it.
	AbsoluteLifetime time.Duration
	// RetainTerminated keeps terminated records as evidence.
	RetainTerminated time.Duration
}

/*
====================================
SESSION TOKEN CONFIG
====================================
*/

// TokenConfig controls the signed session cookie that carries the session
// id between requests.
type TokenConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	CookieName    string
	// ChallengeCookieName carries the pending MFA challenge id.
	ChallengeCookieName string
	SecureCookies       bool
	SameSite            http.SameSite
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP enrollment, backup codes and the challenge flow.
type MFAConfig struct {
	Issuer           string
	Digits           int
	Period           uint
	Skew             uint
	BackupCodeCount  int
	BackupCodeLength int
	// LowBackupCodeThreshold triggers a warning when this many codes or
	// fewer remain.
	LowBackupCodeThreshold int
	ChallengePrefix        string
	ChallengeTTL           time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id parameters for local accounts.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls login throttling.
type SecurityConfig struct {
	ProductionMode        bool
	LoginRedisPrefix      string
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	EnableIPThrottle      bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the optional asynchronous sink fan-out. Durable
// writes to the AuditStore happen regardless.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// FilePath enables a size-rotated JSON lines file sink.
	FilePath       string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
	FileCompress   bool
	// Retention is the default age for PurgeAuditLog.
	Retention time.Duration
}

/*
====================================
TENANT CONFIG
====================================
*/

// TenantConfig controls tenant scoping defaults.
type TenantConfig struct {
	// DefaultView is "own", "inherited" or "subsidiaries".
	DefaultView string
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig controls effective permission resolution.
type PermissionConfig struct {
	CacheSize int
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SSO CONFIG
====================================
*/

// SSOConfig controls which external identity providers may create
// sessions.
type SSOConfig struct {
	OIDCEnabled bool
	SAMLEnabled bool
	// DefaultRoles are granted to accounts created on first SSO login.
	DefaultRoles []string
	// DefaultTenantID is assigned to accounts created on first SSO login.
	DefaultTenantID string
}

// DefaultConfig returns the stock configuration: five concurrent sessions
// per user, one hour idle timeout, six digit TOTP and ten backup codes.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:           "ags",
			MaxConcurrentSessions: 5,
			IdleTimeout:           time.Hour,
			AbsoluteLifetime:      12 * time.Hour,
			RetainTerminated:      30 * 24 * time.Hour,
		},
		Token: TokenConfig{
			SigningMethod:       "ed25519",
			Issuer:              "goaccess",
			Leeway:              30 * time.Second,
			CookieName:          "goaccess_session",
			ChallengeCookieName: "goaccess_mfa",
			SecureCookies:       true,
			SameSite:            http.SameSiteLaxMode,
		},
		MFA: MFAConfig{
			Issuer:                 "goAccess",
			Digits:                 6,
			Period:                 30,
			Skew:                   1,
			BackupCodeCount:        10,
			BackupCodeLength:       8,
			LowBackupCodeThreshold: 2,
			ChallengePrefix:        "amc",
			ChallengeTTL:           5 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		Security: SecurityConfig{
			LoginRedisPrefix:      "agl",
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			EnableIPThrottle:      true,
		},
		Audit: AuditConfig{
			Enabled:       false,
			BufferSize:    1024,
			DropIfFull:    true,
			FileMaxSizeMB: 100,
			Retention:     365 * 24 * time.Hour,
		},
		Tenant: TenantConfig{
			DefaultView: "inherited",
		},
		Permission: PermissionConfig{
			CacheSize: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		DefaultLanding: "/dashboard",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.SSO.DefaultRoles = append([]string(nil), cfg.SSO.DefaultRoles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.MaxConcurrentSessions <= 0 {
		return errors.New("Session MaxConcurrentSessions must be > 0")
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("Session IdleTimeout must be > 0")
	}
	if c.Session.AbsoluteLifetime < 0 {
		return errors.New("Session AbsoluteLifetime must be >= 0")
	}
	if c.Session.AbsoluteLifetime > 0 && c.Session.AbsoluteLifetime < c.Session.IdleTimeout {
		return errors.New("Session AbsoluteLifetime must be >= IdleTimeout")
	}
	if c.Session.RetainTerminated < 0 {
		return errors.New("Session RetainTerminated must be >= 0")
	}

	// Token
	switch c.Token.SigningMethod {
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported Token signing method")
	}
	if c.Token.CookieName == "" || c.Token.ChallengeCookieName == "" {
		return errors.New("Token cookie names must not be empty")
	}
	if c.Token.CookieName == c.Token.ChallengeCookieName {
		return errors.New("Token CookieName and ChallengeCookieName must differ")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 5*time.Minute {
		return errors.New("Token Leeway must be between 0 and 5m")
	}

	// MFA
	if c.MFA.Issuer == "" {
		return errors.New("MFA Issuer must not be empty")
	}
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return errors.New("MFA Digits must be 6 or 8")
	}
	if c.MFA.Period < 15 {
		return errors.New("MFA Period must be >= 15 seconds")
	}
	if c.MFA.Skew > 2 {
		return errors.New("MFA Skew must be <= 2")
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeCount > 32 {
		return errors.New("MFA BackupCodeCount must be between 1 and 32")
	}
	if c.MFA.BackupCodeLength < 8 || c.MFA.BackupCodeLength%2 != 0 {
		return errors.New("MFA BackupCodeLength must be an even number >= 8")
	}
	if c.MFA.LowBackupCodeThreshold < 0 {
		return errors.New("MFA LowBackupCodeThreshold must be >= 0")
	}
	if c.MFA.ChallengePrefix == "" {
		return errors.New("MFA ChallengePrefix must not be empty")
	}
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA ChallengeTTL must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security LoginCooldownDuration must be > 0 when throttling is enabled")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginRedisPrefix == "" {
		return errors.New("Security LoginRedisPrefix must not be empty")
	}
	if c.Security.LoginRedisPrefix != "" && c.Security.LoginRedisPrefix == c.Session.RedisPrefix {
		return errors.New("Security LoginRedisPrefix must differ from Session RedisPrefix")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit sinks are enabled")
	}
	if c.Audit.Retention < 0 {
		return errors.New("Audit Retention must be >= 0")
	}

	// Tenant
	switch strings.ToLower(c.Tenant.DefaultView) {
	case "", "own", "inherited", "subsidiaries":
	default:
		return errors.New("Tenant DefaultView must be own, inherited or subsidiaries")
	}

	// Permission
	if c.Permission.CacheSize < 0 {
		return errors.New("Permission CacheSize must be >= 0")
	}

	if c.DefaultLanding == "" || !strings.HasPrefix(c.DefaultLanding, "/") {
		return errors.New("DefaultLanding must be an absolute path")
	}

	if c.Security.ProductionMode {
		if !c.Token.SecureCookies {
			return errors.New("ProductionMode requires SecureCookies")
		}
		if c.Security.MaxLoginAttempts == 0 {
			return errors.New("ProductionMode requires login throttling")
		}
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a configuration that is valid but probably unintended.
type LintWarning struct {
	Code    string
	Message string
}

// LintResult is the list of warnings produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports settings that pass Validate but weaken the deployment.
func (c *Config) Lint() LintResult {
	var out LintResult
	add := func(code, msg string) {
		out = append(out, LintWarning{Code: code, Message: msg})
	}

	if c.Session.MaxConcurrentSessions > 20 {
		add("session_cap_high", "MaxConcurrentSessions above 20 makes the cap ineffective")
	}
	if c.Session.IdleTimeout > 8*time.Hour {
		add("idle_timeout_long", "IdleTimeout above 8h keeps abandoned sessions alive")
	}
	if c.Session.AbsoluteLifetime == 0 {
		add("absolute_lifetime_disabled", "sessions never expire while active")
	}
	if c.Session.RetainTerminated == 0 {
		add("no_session_evidence", "terminated sessions are dropped immediately")
	}
	if c.Security.MaxLoginAttempts == 0 {
		add("rate_limits_disabled", "login throttling is disabled")
	} else if !c.Security.EnableIPThrottle {
		add("ip_throttle_disabled", "login throttling ignores the client IP")
	}
	if c.Token.SigningMethod == "hs256" {
		add("hs256_signing", "hs256 shares the signing secret with every verifier")
	}
	if c.Token.Leeway > time.Minute {
		add("leeway_large", "token leeway above 1m")
	}
	if !c.Token.SecureCookies {
		add("insecure_cookies", "session cookies are sent over plain HTTP")
	}
	if c.MFA.Skew > 1 {
		add("totp_skew_wide", "TOTP accepts codes more than one step away")
	}
	if c.Audit.Retention == 0 {
		add("audit_retention_unbounded", "PurgeAuditLog has no default age")
	}
	return out
}
