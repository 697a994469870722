package goAccess

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goAccess/session"
	"go.uber.org/zap"
)

// RegisterSession records sessionID as an active session of user. The client
// IP and user agent are taken from ctx.
//
// When the user is already at Config.Session.MaxConcurrentSessions the
// oldest sessions are terminated with reason policy_exceeded in the same
// atomic step; their ids are returned in Evicted.
func (e *Engine) RegisterSession(ctx context.Context, user *User, sessionID string) (*session.RegisterResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if user == nil || user.ID == "" {
		return nil, ErrSessionInvalid
	}
	res, err := e.sessions.Register(ctx, session.Registration{
		SessionID: sessionID,
		UserID:    user.ID,
		Email:     user.Email,
		TenantID:  user.TenantID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionConflict) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if res.Existing {
		return res, nil
	}

	for _, sid := range res.Expired {
		e.sessionEnded(ctx, sid, user.ID, user.TenantID, session.ReasonExpired)
	}
	for _, sid := range res.Evicted {
		e.metricInc(MetricSessionEvicted)
		e.log.Info("session evicted by concurrency cap",
			zap.String("session_id", sid),
			zap.String("user_id", user.ID),
			zap.Int("max_concurrent", e.sessions.MaxConcurrent()),
		)
		evicted := sid
		e.emitAudit(ctx, auditEvent{
			action:    auditEventSessionTerminated,
			success:   true,
			userID:    user.ID,
			tenantID:  user.TenantID,
			sessionID: evicted,
			metadata: func() map[string]string {
				return map[string]string{
					"reason":      string(session.ReasonPolicyExceeded),
					"replaced_by": sessionID,
				}
			},
		})
	}

	e.metricInc(MetricSessionCreated)
	e.log.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("user_id", user.ID),
		zap.String("ip", res.Record.IP),
	)
	e.emitAudit(ctx, auditEvent{
		action:    auditEventSessionCreated,
		success:   true,
		actor:     user.Email,
		userID:    user.ID,
		tenantID:  user.TenantID,
		sessionID: sessionID,
	})
	return res, nil
}

// TouchSession refreshes the last-activity time of sessionID. It is
// idempotent. It reports whether the session is still active; an expired
// session is terminated with reason expired and reported as inactive.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) (bool, error) {
	if e == nil || e.sessions == nil {
		return false, ErrEngineNotReady
	}
	status, err := e.touch(ctx, sessionID, "", "")
	return status == session.StatusActive, err
}

// ValidateSession reports whether sessionID is active and within its idle
// and absolute limits, without refreshing it.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if e == nil || e.sessions == nil {
		return false, ErrEngineNotReady
	}
	start := time.Now()
	status, err := e.sessions.Validate(ctx, sessionID)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if status == session.StatusExpired {
		e.sessionEnded(ctx, sessionID, "", "", session.ReasonExpired)
	}
	return status == session.StatusActive, nil
}

func (e *Engine) touch(ctx context.Context, sessionID, userID, tenantID string) (session.Status, error) {
	start := time.Now()
	status, err := e.sessions.TouchOwned(ctx, sessionID, userID)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		return session.StatusInactive, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if status == session.StatusExpired {
		e.sessionEnded(ctx, sessionID, userID, tenantID, session.ReasonExpired)
	}
	return status, nil
}

// TerminateSession ends sessionID. It returns false, not an error, when the
// session does not exist or is already inactive, so repeated calls are safe.
// actor names who ended it; it is recorded on the session and in the audit
// entry.
func (e *Engine) TerminateSession(ctx context.Context, sessionID string, reason session.Reason, actor string) (bool, error) {
	if e == nil || e.sessions == nil {
		return false, ErrEngineNotReady
	}
	if reason == "" {
		reason = session.ReasonForced
	}
	rec, _, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	ok, err := e.sessions.TerminateOwned(ctx, sessionID, ownerOf(rec), reason, actor)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if !ok {
		return false, nil
	}

	e.metricInc(MetricSessionTerminated)
	var userID, tenantID string
	if rec != nil {
		userID, tenantID = rec.UserID, rec.TenantID
	}
	if reason == session.ReasonForced {
		e.log.Warn("session terminated by administrator",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.String("actor", actor),
		)
	}
	e.emitAudit(ctx, auditEvent{
		action:    auditEventSessionTerminated,
		success:   true,
		userID:    userID,
		tenantID:  tenantID,
		sessionID: sessionID,
		metadata: func() map[string]string {
			return map[string]string{
				"reason":        string(reason),
				"terminated_by": actor,
			}
		},
	})
	return true, nil
}

// TerminateUserSessions force-ends every active session of userID and
// returns how many were ended.
func (e *Engine) TerminateUserSessions(ctx context.Context, userID, actor string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	ids, err := e.sessions.TerminateUser(ctx, userID, session.ReasonForced, actor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	e.metrics.Add(MetricSessionTerminated, len(ids))
	e.log.Warn("all sessions of user terminated",
		zap.String("user_id", userID),
		zap.Int("count", len(ids)),
		zap.String("actor", actor),
	)
	e.emitAudit(ctx, auditEvent{
		action:  auditEventAllSessionsTerminated,
		success: true,
		userID:  userID,
		metadata: func() map[string]string {
			return map[string]string{
				"count":         strconv.Itoa(len(ids)),
				"terminated_by": actor,
			}
		},
	})
	return len(ids), nil
}

// Logout ends sessionID at the user's request. It returns false when the
// session was already gone.
func (e *Engine) Logout(ctx context.Context, sessionID string) (bool, error) {
	if e == nil || e.sessions == nil {
		return false, ErrEngineNotReady
	}
	rec, _, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	ok, err := e.sessions.TerminateOwned(ctx, sessionID, ownerOf(rec), session.ReasonLogout, "")
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if !ok {
		return false, nil
	}
	e.metricInc(MetricLogout)
	var userID, tenantID string
	if rec != nil {
		userID, tenantID = rec.UserID, rec.TenantID
	}
	e.sessionEnded(ctx, sessionID, userID, tenantID, session.ReasonLogout)
	return true, nil
}

func (e *Engine) sessionEnded(ctx context.Context, sessionID, userID, tenantID string, reason session.Reason) {
	if reason == session.ReasonExpired {
		e.metricInc(MetricSessionExpired)
	}
	e.log.Info("session ended",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.String("reason", string(reason)),
	)
	e.emitAudit(ctx, auditEvent{
		action:    auditEventSessionEnded,
		success:   true,
		userID:    userID,
		tenantID:  tenantID,
		sessionID: sessionID,
		metadata: func() map[string]string {
			return map[string]string{"reason": string(reason)}
		},
	})
}

// ActiveSessions lists active sessions, most recent activity first.
// emailFilter is a case-insensitive substring; limit <= 0 returns all.
func (e *Engine) ActiveSessions(ctx context.Context, emailFilter string, limit int) ([]*SessionRecord, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessions.List(ctx, emailFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return records, nil
}

// UserActiveSessions lists the active sessions of userID.
func (e *Engine) UserActiveSessions(ctx context.Context, userID string) ([]*SessionRecord, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessions.UserSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return records, nil
}

// Session returns the record of sessionID, active or retained as evidence.
func (e *Engine) Session(ctx context.Context, sessionID string) (*SessionRecord, bool, error) {
	if e == nil || e.sessions == nil {
		return nil, false, ErrEngineNotReady
	}
	rec, ok, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return rec, ok, nil
}

// SessionStatistics aggregates the registry.
func (e *Engine) SessionStatistics(ctx context.Context) (*SessionStatistics, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	stats, err := e.sessions.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return &SessionStatistics{
		Statistics:            *stats,
		MaxConcurrentSessions: e.MaxConcurrentSessions(),
		SessionLifetime:       e.SessionLifetime(),
	}, nil
}

// MaxConcurrentSessions returns the per-user cap.
func (e *Engine) MaxConcurrentSessions() int {
	if e == nil {
		return 0
	}
	return e.config.Session.MaxConcurrentSessions
}

// SessionLifetime returns the idle timeout.
func (e *Engine) SessionLifetime() time.Duration {
	if e == nil {
		return 0
	}
	return e.config.Session.IdleTimeout
}

// CleanupExpiredSessions terminates every session past its idle or absolute
// limit and returns how many it ended.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	ids, err := e.sessions.Sweep(ctx)
	for _, sid := range ids {
		e.sessionEnded(ctx, sid, "", "", session.ReasonExpired)
	}
	if err != nil {
		return len(ids), fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return len(ids), nil
}

// SessionBackendLatency pings the registry backend.
func (e *Engine) SessionBackendLatency(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}

func ownerOf(rec *SessionRecord) string {
	if rec == nil {
		return ""
	}
	return rec.UserID
}
