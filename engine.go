package goAccess

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goAccess/internal/audit"
	"github.com/MrEthical07/goAccess/internal/rate"
	"github.com/MrEthical07/goAccess/jwt"
	"github.com/MrEthical07/goAccess/mfa"
	"github.com/MrEthical07/goAccess/password"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/MrEthical07/goAccess/session"
	"github.com/MrEthical07/goAccess/tenant"
	"github.com/MrEthical07/goAccess/voter"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the session and access-control core. Build one with [New].
//
// Engine is safe for concurrent use.
type Engine struct {
	config Config
	log    *zap.Logger
	now    func() time.Time

	directory  Directory
	auditStore AuditStore

	registry    *permission.Registry
	roleManager *permission.RoleManager
	resolver    *permission.Resolver
	voters      *voter.Manager
	tenants     *tenant.Resolver

	sessions     *session.Registry
	challenges   *mfa.ChallengeStore
	limiter      *rate.Limiter
	totp         *mfa.TOTP
	passwordHash password.Hasher
	tokens       *jwt.Manager

	audit     *internalaudit.Logger
	auditFile *internalaudit.FileSink
	metrics   *Metrics
}

// Close drains the audit sinks and closes the audit file.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	if err := e.auditFile.Close(); err != nil {
		e.log.Warn("closing audit file", zap.Error(err))
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

// AuditDropped returns the entries the sink dispatcher discarded.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailures returns the durable audit writes that failed.
func (e *Engine) AuditFailures() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Failures()
}

// MetricsSnapshot copies the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates a local account by email and password.
//
// Users without an active MFA token receive a session immediately. Users
// with at least one active token get a pending challenge instead: the result
// carries MFARequired and a challenge token, and no session exists until
// [Engine.SubmitCode] succeeds. targetPath is the protected path the user
// originally asked for and becomes the redirect target after verification.
//
// Failed attempts are throttled per email and, when enabled, per client IP.
func (e *Engine) Login(ctx context.Context, email, secret, targetPath string) (*LoginResult, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.limiter.Check(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEvent{
				action: auditEventLoginRateLimited,
				actor:  email,
				err:    ErrLoginRateLimited,
			})
			return nil, ErrLoginRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	user, err := e.directory.UserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if user == nil || user.AuthProvider != ProviderLocal || user.PasswordHash == "" {
		return nil, e.loginFailed(ctx, email, ip, nil, ErrInvalidCredentials)
	}

	ok, err := e.passwordHash.Verify(secret, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.loginFailed(ctx, email, ip, user, ErrInvalidCredentials)
	}
	if !user.Active {
		return nil, e.loginFailed(ctx, email, ip, user, ErrUserInactive)
	}

	if err := e.limiter.Reset(ctx, email); err != nil {
		e.log.Warn("login throttle reset failed", zap.String("email", email), zap.Error(err))
	}
	e.upgradePasswordHash(ctx, user, secret)

	return e.completeLogin(ctx, user, targetPath)
}

// LoginExternal completes a login vouched for by an identity provider.
// provider is ProviderOAuth or ProviderSAML and must be enabled in
// Config.SSO. The profile is upserted by email; accounts created here get
// Config.SSO.DefaultRoles and DefaultTenantID. The MFA gate applies exactly
// as for local logins.
func (e *Engine) LoginExternal(ctx context.Context, provider string, profile User, targetPath string) (*LoginResult, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	switch provider {
	case ProviderOAuth:
		if !e.config.SSO.OIDCEnabled {
			return nil, ErrSSODisabled
		}
	case ProviderSAML:
		if !e.config.SSO.SAMLEnabled {
			return nil, ErrSSODisabled
		}
	default:
		return nil, ErrSSODisabled
	}

	profile.Email = normalizeEmail(profile.Email)
	if profile.Email == "" {
		return nil, e.loginFailed(ctx, "", clientIPFromContext(ctx), nil, ErrInvalidCredentials)
	}
	profile.AuthProvider = provider
	profile.PasswordHash = ""
	if profile.TenantID == "" {
		profile.TenantID = e.config.SSO.DefaultTenantID
	}
	if len(profile.Roles) == 0 {
		profile.Roles = append([]string(nil), e.config.SSO.DefaultRoles...)
	}
	profile.Active = true
	profile.Verified = true

	user, err := e.directory.UpsertExternalUser(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if !user.Active {
		return nil, e.loginFailed(ctx, user.Email, clientIPFromContext(ctx), user, ErrUserInactive)
	}
	return e.completeLogin(ctx, user, targetPath)
}

func (e *Engine) completeLogin(ctx context.Context, user *User, targetPath string) (*LoginResult, error) {
	tokens, err := e.directory.ActiveMfaTokens(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEvent{
		action:   auditEventLoginSuccess,
		success:  true,
		actor:    user.Email,
		userID:   user.ID,
		tenantID: user.TenantID,
		metadata: func() map[string]string {
			return map[string]string{
				"provider":     user.AuthProvider,
				"mfa_required": boolString(len(tokens) > 0),
			}
		},
	})

	if len(tokens) > 0 {
		challengeID := uuid.NewString()
		if err := e.BeginChallenge(ctx, challengeID, user, targetPath); err != nil {
			return nil, err
		}
		token, err := e.tokens.Issue(jwt.KindChallenge, user.ID, user.TenantID, challengeID, e.config.MFA.ChallengeTTL)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			User:           user,
			MFARequired:    true,
			ChallengeID:    challengeID,
			ChallengeToken: token,
		}, nil
	}

	sid, token, evicted, err := e.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:         user,
		SessionID:    sid,
		SessionToken: token,
		Evicted:      evicted,
		RedirectTo:   mfa.NoneRequired().RedirectTarget(e.landing(targetPath)),
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, email, ip string, user *User, cause error) error {
	e.metricInc(MetricLoginFailure)
	if email != "" {
		if _, err := e.limiter.RecordFailure(ctx, email, ip); err != nil {
			e.log.Warn("login throttle update failed", zap.String("email", email), zap.Error(err))
		}
	}
	e.emitAudit(ctx, auditEvent{
		action:   auditEventLoginFailure,
		actor:    email,
		userID:   user.SubjectID(),
		tenantID: user.TenantKey(),
		err:      cause,
	})
	return cause
}

func (e *Engine) upgradePasswordHash(ctx context.Context, user *User, secret string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	stale, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwordHash.Hash(secret)
	if err != nil {
		e.log.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := e.directory.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.log.Warn("password rehash not stored", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
}

// startSession registers a fresh session id for user and signs its token.
// Session ids are only ever minted after every authentication factor passed.
func (e *Engine) startSession(ctx context.Context, user *User) (string, string, []string, error) {
	sid := uuid.NewString()
	res, err := e.RegisterSession(ctx, user, sid)
	if err != nil {
		return "", "", nil, err
	}
	token, err := e.tokens.Issue(jwt.KindSession, user.ID, user.TenantID, sid, e.config.Session.AbsoluteLifetime)
	if err != nil {
		return "", "", nil, err
	}
	return sid, token, res.Evicted, nil
}

/*
====================================
AUTHENTICATE
====================================
*/

// Authenticate resolves a session token to a principal. The session must be
// active; its last-activity time is refreshed. Expired sessions are
// terminated on the way and reported as ErrSessionInvalid.
func (e *Engine) Authenticate(ctx context.Context, sessionToken string) (*Principal, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.Parse(sessionToken, jwt.KindSession)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	status, err := e.touch(ctx, claims.SID, claims.UID, claims.TID)
	if err != nil {
		return nil, err
	}
	if status != session.StatusActive {
		return nil, ErrSessionInvalid
	}

	user, err := e.directory.UserByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return e.principalFor(ctx, user, claims.SID)
}

// ParseChallengeToken returns the challenge id carried by a challenge token.
func (e *Engine) ParseChallengeToken(token string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	claims, err := e.tokens.Parse(token, jwt.KindChallenge)
	if err != nil {
		return "", ErrAccessDenied
	}
	return claims.SID, nil
}

func (e *Engine) principalFor(ctx context.Context, user *User, sessionID string) (*Principal, error) {
	set, err := e.EffectivePermissions(ctx, user)
	if err != nil {
		return nil, err
	}
	return &Principal{User: user, SessionID: sessionID, Permissions: set}, nil
}

func (e *Engine) landing(targetPath string) string {
	if targetPath != "" {
		return targetPath
	}
	return e.config.DefaultLanding
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func formatInt64(n int64) string {
	return strconv.FormatInt(n, 10)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
