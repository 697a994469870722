package goAccess

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test config valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "token leeway invalid",
			mutate: func(c *Config) {
				c.Token.Leeway = 6 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "hs256 short secret invalid",
			mutate: func(c *Config) {
				c.Token.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "ed25519 without keys invalid",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "ed25519"
			},
			wantValid: false,
		},
		{
			name: "signing method invalid",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "cookie names must differ",
			mutate: func(c *Config) {
				c.Token.ChallengeCookieName = c.Token.CookieName
			},
			wantValid: false,
		},
		{
			name: "session cap zero invalid",
			mutate: func(c *Config) {
				c.Session.MaxConcurrentSessions = 0
			},
			wantValid: false,
		},
		{
			name: "absolute lifetime below idle invalid",
			mutate: func(c *Config) {
				c.Session.AbsoluteLifetime = 30 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "absolute lifetime disabled valid",
			mutate: func(c *Config) {
				c.Session.AbsoluteLifetime = 0
			},
			wantValid: true,
		},
		{
			name: "totp digits invalid",
			mutate: func(c *Config) {
				c.MFA.Digits = 7
			},
			wantValid: false,
		},
		{
			name: "odd backup code length invalid",
			mutate: func(c *Config) {
				c.MFA.BackupCodeLength = 9
			},
			wantValid: false,
		},
		{
			name: "argon2 memory too low invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 4096
			},
			wantValid: false,
		},
		{
			name: "login prefix equal to session prefix invalid",
			mutate: func(c *Config) {
				c.Security.LoginRedisPrefix = c.Session.RedisPrefix
			},
			wantValid: false,
		},
		{
			name: "tenant view invalid",
			mutate: func(c *Config) {
				c.Tenant.DefaultView = "everything"
			},
			wantValid: false,
		},
		{
			name: "relative landing invalid",
			mutate: func(c *Config) {
				c.DefaultLanding = "dashboard"
			},
			wantValid: false,
		},
		{
			name: "production mode requires secure cookies",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Token.SecureCookies = false
			},
			wantValid: false,
		},
		{
			name: "production mode requires throttling",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Security.MaxLoginAttempts = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestDefaultConfigNeedsSigningKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config must not validate without signing keys")
	}
}

func TestBuilderRequiresRedis(t *testing.T) {
	b := New().WithConfig(testConfig()).WithDirectory(newMemoryDirectory())
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error without redis client")
	}
}

func TestConfigCloneIsolatesKeys(t *testing.T) {
	cfg := testConfig()
	cfg.SSO.DefaultRoles = []string{"ROLE_USER"}
	clone := cloneConfig(cfg)
	clone.Token.PrivateKey[0] = 'X'
	clone.SSO.DefaultRoles[0] = "ROLE_ADMIN"

	if cfg.Token.PrivateKey[0] == 'X' || cfg.SSO.DefaultRoles[0] != "ROLE_USER" {
		t.Fatal("clone must not share backing arrays")
	}
}

func TestLoadConfigFromFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goaccess.yaml")
	yaml := `
session:
  max_concurrent_sessions: 3
  idle_timeout: 30m
  absolute_lifetime: 8h
token:
  signing_method: hs256
  secret: 0123456789abcdef0123456789abcdef
  same_site: strict
mfa:
  backup_code_count: 8
tenant:
  default_view: own
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GOACCESS_SESSION_MAX_CONCURRENT_SESSIONS", "4")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Session.MaxConcurrentSessions != 4 {
		t.Fatalf("expected env override 4, got %d", cfg.Session.MaxConcurrentSessions)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute || cfg.Session.AbsoluteLifetime != 8*time.Hour {
		t.Fatalf("unexpected session timeouts %+v", cfg.Session)
	}
	if cfg.MFA.BackupCodeCount != 8 || cfg.MFA.Digits != 6 {
		t.Fatalf("unexpected mfa config %+v", cfg.MFA)
	}
	if string(cfg.Token.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatal("hs256 secret not loaded")
	}
	if cfg.Tenant.DefaultView != "own" {
		t.Fatalf("expected own view, got %q", cfg.Tenant.DefaultView)
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("token:\n  signing_method: none\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}
