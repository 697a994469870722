package goAccess

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/goAccess/permission"
	"golang.org/x/crypto/bcrypt"
)

func TestLoginWithoutTokensStartsSessionImmediately(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addLocalUser(t, "u1", "alice@example.com", "")

	res := f.login(t, "Alice@Example.com ", "/reports")
	if res.MFARequired {
		t.Fatal("user without tokens must not be challenged")
	}
	if res.SessionID == "" || res.SessionToken == "" {
		t.Fatalf("expected session, got %+v", res)
	}
	if res.RedirectTo != "/reports" {
		t.Fatalf("expected deep link redirect, got %q", res.RedirectTo)
	}

	p, err := f.engine.Authenticate(context.Background(), res.SessionToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if p.User.ID != "u1" || p.SessionID != res.SessionID {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !p.HasRole(permission.RoleUser) {
		t.Fatal("every user implicitly holds ROLE_USER")
	}

	if f.dir.countAudit(auditEventLoginSuccess) != 1 || f.dir.countAudit(auditEventSessionCreated) != 1 {
		t.Fatalf("unexpected audit trail %v", f.dir.auditActions())
	}
	if f.dir.countAudit(auditEventMFARequired) != 0 {
		t.Fatal("mfa_required must not be recorded without tokens")
	}
}

func TestLoginDefaultsRedirectToLanding(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addLocalUser(t, "u1", "alice@example.com", "")

	res := f.login(t, "alice@example.com", "")
	if res.RedirectTo != "/dashboard" {
		t.Fatalf("expected default landing, got %q", res.RedirectTo)
	}
}

func TestLoginRejectsWrongPasswordAndUnknownUser(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addLocalUser(t, "u1", "alice@example.com", "")
	ctx := context.Background()

	if _, err := f.engine.Login(ctx, "alice@example.com", "wrong password!!", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.engine.Login(ctx, "nobody@example.com", testPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	entry, ok := f.dir.lastAudit(auditEventLoginFailure)
	if !ok {
		t.Fatal("expected login_failure audit entry")
	}
	if entry.Success || entry.Error != string(CodeInvalidCredentials) {
		t.Fatalf("unexpected failure entry %+v", entry)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addLocalUser(t, "u1", "alice@example.com", "")
	if err := f.dir.SetUserActive(context.Background(), "u1", false); err != nil {
		t.Fatalf("SetUserActive failed: %v", err)
	}

	if _, err := f.engine.Login(context.Background(), "alice@example.com", testPassword, ""); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestLoginThrottleAfterRepeatedFailures(t *testing.T) {
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.Security.MaxLoginAttempts = 3
	})
	f.addLocalUser(t, "u1", "alice@example.com", "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(ctx, "alice@example.com", "wrong password!!", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := f.engine.Login(ctx, "alice@example.com", testPassword, ""); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	if f.dir.countAudit(auditEventLoginRateLimited) != 1 {
		t.Fatalf("expected login_rate_limited audit, got %v", f.dir.auditActions())
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricLoginRateLimited]; got != 1 {
		t.Fatalf("expected rate limited metric 1, got %d", got)
	}
}

func TestLoginExternalRequiresEnabledProvider(t *testing.T) {
	f := newEngineFixture(t, nil)
	profile := User{Email: "sso@example.com"}

	if _, err := f.engine.LoginExternal(context.Background(), ProviderOAuth, profile, ""); !errors.Is(err, ErrSSODisabled) {
		t.Fatalf("expected ErrSSODisabled, got %v", err)
	}
}

func TestLoginExternalCreatesUserWithDefaults(t *testing.T) {
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.SSO.OIDCEnabled = true
		cfg.SSO.DefaultRoles = []string{permission.RoleAuditor}
		cfg.SSO.DefaultTenantID = "t-default"
	})
	ctx := context.Background()

	res, err := f.engine.LoginExternal(ctx, ProviderOAuth, User{Email: "SSO@example.com"}, "")
	if err != nil {
		t.Fatalf("LoginExternal failed: %v", err)
	}
	if res.MFARequired || res.SessionToken == "" {
		t.Fatalf("expected session, got %+v", res)
	}
	stored, err := f.dir.UserByEmail(ctx, "sso@example.com")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if stored.AuthProvider != ProviderOAuth || stored.TenantID != "t-default" {
		t.Fatalf("unexpected stored user %+v", stored)
	}
	if len(stored.Roles) != 1 || stored.Roles[0] != permission.RoleAuditor {
		t.Fatalf("expected default roles, got %v", stored.Roles)
	}

	// SSO accounts never log in with a password.
	if _, err := f.engine.Login(ctx, "sso@example.com", testPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for SSO account, got %v", err)
	}
}

func TestAuthenticateRejectsForeignAndChallengeTokens(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	f.enrollTOTP(t, user)
	ctx := context.Background()

	if _, err := f.engine.Authenticate(ctx, "not-a-token"); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}

	res := f.login(t, "alice@example.com", "")
	if !res.MFARequired {
		t.Fatal("expected challenge")
	}
	if _, err := f.engine.Authenticate(ctx, res.ChallengeToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("challenge token must not authenticate, got %v", err)
	}
	id, err := f.engine.ParseChallengeToken(res.ChallengeToken)
	if err != nil || id != res.ChallengeID {
		t.Fatalf("ParseChallengeToken = %q, %v", id, err)
	}
}

func TestAuditStoreFailureDoesNotFailLogin(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.addLocalUser(t, "u1", "alice@example.com", "")
	f.dir.auditErr = errors.New("disk full")

	res := f.login(t, "alice@example.com", "")
	if res.SessionID == "" {
		t.Fatal("login must succeed when the audit store fails")
	}
	if f.engine.AuditFailures() == 0 {
		t.Fatal("expected audit failures to be counted")
	}
}

func TestLoginUpgradesLegacyBcryptHash(t *testing.T) {
	f := newEngineFixture(t, nil)
	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	f.dir.addUser(User{
		ID:           "u-legacy",
		Email:        "legacy@example.com",
		PasswordHash: "$2y$" + string(legacy)[len("$2a$"):],
		Active:       true,
		Verified:     true,
		AuthProvider: ProviderLocal,
	})

	f.login(t, "legacy@example.com", "")

	stored, err := f.dir.UserByID(context.Background(), "u-legacy")
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("expected hash upgraded to argon2id, got %q", stored.PasswordHash[:7])
	}
	f.login(t, "legacy@example.com", "")
}
