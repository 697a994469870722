package goAccess

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, for example
// GOACCESS_SESSION_MAX_CONCURRENT_SESSIONS=3.
const EnvPrefix = "GOACCESS"

type fileConfig struct {
	Session struct {
		RedisPrefix           string        `mapstructure:"redis_prefix"`
		MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
		IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
		AbsoluteLifetime      time.Duration `mapstructure:"absolute_lifetime"`
		RetainTerminated      time.Duration `mapstructure:"retain_terminated"`
	} `mapstructure:"session"`
	Token struct {
		SigningMethod       string        `mapstructure:"signing_method"`
		PrivateKeyFile      string        `mapstructure:"private_key_file"`
		PublicKeyFile       string        `mapstructure:"public_key_file"`
		Secret              string        `mapstructure:"secret"`
		Issuer              string        `mapstructure:"issuer"`
		Audience            string        `mapstructure:"audience"`
		Leeway              time.Duration `mapstructure:"leeway"`
		KeyID               string        `mapstructure:"key_id"`
		CookieName          string        `mapstructure:"cookie_name"`
		ChallengeCookieName string        `mapstructure:"challenge_cookie_name"`
		SecureCookies       bool          `mapstructure:"secure_cookies"`
		SameSite            string        `mapstructure:"same_site"`
	} `mapstructure:"token"`
	MFA struct {
		Issuer                 string        `mapstructure:"issuer"`
		Digits                 int           `mapstructure:"digits"`
		Period                 uint          `mapstructure:"period"`
		Skew                   uint          `mapstructure:"skew"`
		BackupCodeCount        int           `mapstructure:"backup_code_count"`
		BackupCodeLength       int           `mapstructure:"backup_code_length"`
		LowBackupCodeThreshold int           `mapstructure:"low_backup_code_threshold"`
		ChallengePrefix        string        `mapstructure:"challenge_prefix"`
		ChallengeTTL           time.Duration `mapstructure:"challenge_ttl"`
	} `mapstructure:"mfa"`
	Password struct {
		Memory           uint32 `mapstructure:"memory"`
		Time             uint32 `mapstructure:"time"`
		Parallelism      uint8  `mapstructure:"parallelism"`
		SaltLength       uint32 `mapstructure:"salt_length"`
		KeyLength        uint32 `mapstructure:"key_length"`
		MaxPasswordBytes int    `mapstructure:"max_password_bytes"`
		UpgradeOnLogin   bool   `mapstructure:"upgrade_on_login"`
	} `mapstructure:"password"`
	Security struct {
		ProductionMode        bool          `mapstructure:"production_mode"`
		LoginRedisPrefix      string        `mapstructure:"login_redis_prefix"`
		MaxLoginAttempts      int           `mapstructure:"max_login_attempts"`
		LoginCooldownDuration time.Duration `mapstructure:"login_cooldown"`
		EnableIPThrottle      bool          `mapstructure:"enable_ip_throttle"`
	} `mapstructure:"security"`
	Audit struct {
		Enabled        bool          `mapstructure:"enabled"`
		BufferSize     int           `mapstructure:"buffer_size"`
		DropIfFull     bool          `mapstructure:"drop_if_full"`
		FilePath       string        `mapstructure:"file_path"`
		FileMaxSizeMB  int           `mapstructure:"file_max_size_mb"`
		FileMaxBackups int           `mapstructure:"file_max_backups"`
		FileMaxAgeDays int           `mapstructure:"file_max_age_days"`
		FileCompress   bool          `mapstructure:"file_compress"`
		Retention      time.Duration `mapstructure:"retention"`
	} `mapstructure:"audit"`
	Tenant struct {
		DefaultView string `mapstructure:"default_view"`
	} `mapstructure:"tenant"`
	Permission struct {
		CacheSize int `mapstructure:"cache_size"`
	} `mapstructure:"permission"`
	Metrics struct {
		Enabled                 bool `mapstructure:"enabled"`
		EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
	} `mapstructure:"metrics"`
	SSO struct {
		OIDCEnabled     bool     `mapstructure:"oidc_enabled"`
		SAMLEnabled     bool     `mapstructure:"saml_enabled"`
		DefaultRoles    []string `mapstructure:"default_roles"`
		DefaultTenantID string   `mapstructure:"default_tenant_id"`
	} `mapstructure:"sso"`
	DefaultLanding string `mapstructure:"default_landing"`
}

// NewConfigViper returns a viper instance primed with every engine default,
// bound to GOACCESS_* environment variables and, when path is not empty,
// loaded from that YAML file. Callers may add their own keys before passing
// it to ConfigFromViper.
func NewConfigViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setConfigDefaults(v, defaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	return v, nil
}

// LoadConfig reads the engine configuration from path (optional) and the
// environment, then validates it.
func LoadConfig(path string) (Config, error) {
	v, err := NewConfigViper(path)
	if err != nil {
		return Config{}, err
	}
	return ConfigFromViper(v)
}

// ConfigFromViper decodes and validates the engine configuration held by v.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg := defaultConfig()
	cfg.Session = SessionConfig{
		RedisPrefix:           fc.Session.RedisPrefix,
		MaxConcurrentSessions: fc.Session.MaxConcurrentSessions,
		IdleTimeout:           fc.Session.IdleTimeout,
		AbsoluteLifetime:      fc.Session.AbsoluteLifetime,
		RetainTerminated:      fc.Session.RetainTerminated,
	}

	cfg.Token.SigningMethod = strings.ToLower(fc.Token.SigningMethod)
	cfg.Token.Issuer = fc.Token.Issuer
	cfg.Token.Audience = fc.Token.Audience
	cfg.Token.Leeway = fc.Token.Leeway
	cfg.Token.KeyID = fc.Token.KeyID
	cfg.Token.CookieName = fc.Token.CookieName
	cfg.Token.ChallengeCookieName = fc.Token.ChallengeCookieName
	cfg.Token.SecureCookies = fc.Token.SecureCookies
	sameSite, err := parseSameSite(fc.Token.SameSite)
	if err != nil {
		return Config{}, err
	}
	cfg.Token.SameSite = sameSite
	switch cfg.Token.SigningMethod {
	case "hs256":
		cfg.Token.PrivateKey = []byte(fc.Token.Secret)
	default:
		if cfg.Token.PrivateKey, err = readKeyFile(fc.Token.PrivateKeyFile); err != nil {
			return Config{}, err
		}
		if cfg.Token.PublicKey, err = readKeyFile(fc.Token.PublicKeyFile); err != nil {
			return Config{}, err
		}
	}

	cfg.MFA = MFAConfig{
		Issuer:                 fc.MFA.Issuer,
		Digits:                 fc.MFA.Digits,
		Period:                 fc.MFA.Period,
		Skew:                   fc.MFA.Skew,
		BackupCodeCount:        fc.MFA.BackupCodeCount,
		BackupCodeLength:       fc.MFA.BackupCodeLength,
		LowBackupCodeThreshold: fc.MFA.LowBackupCodeThreshold,
		ChallengePrefix:        fc.MFA.ChallengePrefix,
		ChallengeTTL:           fc.MFA.ChallengeTTL,
	}
	cfg.Password = PasswordConfig{
		Memory:           fc.Password.Memory,
		Time:             fc.Password.Time,
		Parallelism:      fc.Password.Parallelism,
		SaltLength:       fc.Password.SaltLength,
		KeyLength:        fc.Password.KeyLength,
		MaxPasswordBytes: fc.Password.MaxPasswordBytes,
		UpgradeOnLogin:   fc.Password.UpgradeOnLogin,
	}
	cfg.Security = SecurityConfig{
		ProductionMode:        fc.Security.ProductionMode,
		LoginRedisPrefix:      fc.Security.LoginRedisPrefix,
		MaxLoginAttempts:      fc.Security.MaxLoginAttempts,
		LoginCooldownDuration: fc.Security.LoginCooldownDuration,
		EnableIPThrottle:      fc.Security.EnableIPThrottle,
	}
	cfg.Audit = AuditConfig{
		Enabled:        fc.Audit.Enabled,
		BufferSize:     fc.Audit.BufferSize,
		DropIfFull:     fc.Audit.DropIfFull,
		FilePath:       fc.Audit.FilePath,
		FileMaxSizeMB:  fc.Audit.FileMaxSizeMB,
		FileMaxBackups: fc.Audit.FileMaxBackups,
		FileMaxAgeDays: fc.Audit.FileMaxAgeDays,
		FileCompress:   fc.Audit.FileCompress,
		Retention:      fc.Audit.Retention,
	}
	cfg.Tenant.DefaultView = fc.Tenant.DefaultView
	cfg.Permission.CacheSize = fc.Permission.CacheSize
	cfg.Metrics = MetricsConfig{
		Enabled:                 fc.Metrics.Enabled,
		EnableLatencyHistograms: fc.Metrics.EnableLatencyHistograms,
	}
	cfg.SSO = SSOConfig{
		OIDCEnabled:     fc.SSO.OIDCEnabled,
		SAMLEnabled:     fc.SSO.SAMLEnabled,
		DefaultRoles:    fc.SSO.DefaultRoles,
		DefaultTenantID: fc.SSO.DefaultTenantID,
	}
	cfg.DefaultLanding = fc.DefaultLanding

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setConfigDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("session.redis_prefix", cfg.Session.RedisPrefix)
	v.SetDefault("session.max_concurrent_sessions", cfg.Session.MaxConcurrentSessions)
	v.SetDefault("session.idle_timeout", cfg.Session.IdleTimeout)
	v.SetDefault("session.absolute_lifetime", cfg.Session.AbsoluteLifetime)
	v.SetDefault("session.retain_terminated", cfg.Session.RetainTerminated)

	v.SetDefault("token.signing_method", cfg.Token.SigningMethod)
	v.SetDefault("token.private_key_file", "")
	v.SetDefault("token.public_key_file", "")
	v.SetDefault("token.secret", "")
	v.SetDefault("token.issuer", cfg.Token.Issuer)
	v.SetDefault("token.audience", cfg.Token.Audience)
	v.SetDefault("token.leeway", cfg.Token.Leeway)
	v.SetDefault("token.key_id", cfg.Token.KeyID)
	v.SetDefault("token.cookie_name", cfg.Token.CookieName)
	v.SetDefault("token.challenge_cookie_name", cfg.Token.ChallengeCookieName)
	v.SetDefault("token.secure_cookies", cfg.Token.SecureCookies)
	v.SetDefault("token.same_site", "lax")

	v.SetDefault("mfa.issuer", cfg.MFA.Issuer)
	v.SetDefault("mfa.digits", cfg.MFA.Digits)
	v.SetDefault("mfa.period", cfg.MFA.Period)
	v.SetDefault("mfa.skew", cfg.MFA.Skew)
	v.SetDefault("mfa.backup_code_count", cfg.MFA.BackupCodeCount)
	v.SetDefault("mfa.backup_code_length", cfg.MFA.BackupCodeLength)
	v.SetDefault("mfa.low_backup_code_threshold", cfg.MFA.LowBackupCodeThreshold)
	v.SetDefault("mfa.challenge_prefix", cfg.MFA.ChallengePrefix)
	v.SetDefault("mfa.challenge_ttl", cfg.MFA.ChallengeTTL)

	v.SetDefault("password.memory", cfg.Password.Memory)
	v.SetDefault("password.time", cfg.Password.Time)
	v.SetDefault("password.parallelism", cfg.Password.Parallelism)
	v.SetDefault("password.salt_length", cfg.Password.SaltLength)
	v.SetDefault("password.key_length", cfg.Password.KeyLength)
	v.SetDefault("password.max_password_bytes", cfg.Password.MaxPasswordBytes)
	v.SetDefault("password.upgrade_on_login", cfg.Password.UpgradeOnLogin)

	v.SetDefault("security.production_mode", cfg.Security.ProductionMode)
	v.SetDefault("security.login_redis_prefix", cfg.Security.LoginRedisPrefix)
	v.SetDefault("security.max_login_attempts", cfg.Security.MaxLoginAttempts)
	v.SetDefault("security.login_cooldown", cfg.Security.LoginCooldownDuration)
	v.SetDefault("security.enable_ip_throttle", cfg.Security.EnableIPThrottle)

	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.buffer_size", cfg.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", cfg.Audit.DropIfFull)
	v.SetDefault("audit.file_path", cfg.Audit.FilePath)
	v.SetDefault("audit.file_max_size_mb", cfg.Audit.FileMaxSizeMB)
	v.SetDefault("audit.file_max_backups", cfg.Audit.FileMaxBackups)
	v.SetDefault("audit.file_max_age_days", cfg.Audit.FileMaxAgeDays)
	v.SetDefault("audit.file_compress", cfg.Audit.FileCompress)
	v.SetDefault("audit.retention", cfg.Audit.Retention)

	v.SetDefault("tenant.default_view", cfg.Tenant.DefaultView)
	v.SetDefault("permission.cache_size", cfg.Permission.CacheSize)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", cfg.Metrics.EnableLatencyHistograms)

	v.SetDefault("sso.oidc_enabled", cfg.SSO.OIDCEnabled)
	v.SetDefault("sso.saml_enabled", cfg.SSO.SAMLEnabled)
	v.SetDefault("sso.default_roles", cfg.SSO.DefaultRoles)
	v.SetDefault("sso.default_tenant_id", cfg.SSO.DefaultTenantID)

	v.SetDefault("default_landing", cfg.DefaultLanding)
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unsupported same_site value %q", s)
	}
}

func readKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return data, nil
}
