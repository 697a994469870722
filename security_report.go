package goAccess

import "time"

// SecurityReport summarises the security posture of the running engine for
// the admin surface. It never contains secrets.
type SecurityReport struct {
	ProductionMode        bool                 `json:"production_mode"`
	SigningAlgorithm      string               `json:"signing_algorithm"`
	SecureCookies         bool                 `json:"secure_cookies"`
	Argon2                PasswordConfigReport `json:"argon2"`
	MaxConcurrentSessions int                  `json:"max_concurrent_sessions"`
	IdleTimeout           time.Duration        `json:"idle_timeout"`
	AbsoluteLifetime      time.Duration        `json:"absolute_lifetime"`
	RateLimitingActive    bool                 `json:"rate_limiting_active"`
	IPThrottleActive      bool                 `json:"ip_throttle_active"`
	TOTPDigits            int                  `json:"totp_digits"`
	BackupCodeCount       int                  `json:"backup_code_count"`
	ChallengeTTL          time.Duration        `json:"challenge_ttl"`
	OIDCEnabled           bool                 `json:"oidc_enabled"`
	SAMLEnabled           bool                 `json:"saml_enabled"`
	AuditSinksEnabled     bool                 `json:"audit_sinks_enabled"`
	AuditRetention        time.Duration        `json:"audit_retention"`
	LintWarnings          []string             `json:"lint_warnings"`
}

// PasswordConfigReport is the argon2id cost in effect.
type PasswordConfigReport struct {
	Memory      uint32 `json:"memory"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
	SaltLength  uint32 `json:"salt_length"`
	KeyLength   uint32 `json:"key_length"`
}

// SecurityReport describes the active configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	rateLimiting := cfg.Security.MaxLoginAttempts > 0 &&
		cfg.Security.LoginCooldownDuration > 0

	return SecurityReport{
		ProductionMode:   cfg.Security.ProductionMode,
		SigningAlgorithm: cfg.Token.SigningMethod,
		SecureCookies:    cfg.Token.SecureCookies,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
		IdleTimeout:           cfg.Session.IdleTimeout,
		AbsoluteLifetime:      cfg.Session.AbsoluteLifetime,
		RateLimitingActive:    rateLimiting,
		IPThrottleActive:      rateLimiting && cfg.Security.EnableIPThrottle,
		TOTPDigits:            cfg.MFA.Digits,
		BackupCodeCount:       cfg.MFA.BackupCodeCount,
		ChallengeTTL:          cfg.MFA.ChallengeTTL,
		OIDCEnabled:           cfg.SSO.OIDCEnabled,
		SAMLEnabled:           cfg.SSO.SAMLEnabled,
		AuditSinksEnabled:     cfg.Audit.Enabled,
		AuditRetention:        cfg.Audit.Retention,
		LintWarnings:          cfg.Lint().Codes(),
	}
}
