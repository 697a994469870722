package goAccess

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/goAccess/internal/audit"
	"go.uber.org/zap"
)

const (
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventLoginRateLimited          = "login_rate_limited"
	auditEventMFARequired               = "mfa_required"
	auditEventMFAVerificationSuccess    = "mfa_verification_success"
	auditEventMFAVerificationFailed     = "mfa_verification_failed"
	auditEventMFAAutoResolved           = "mfa_auto_resolved"
	auditEventMFATOTPEnabled            = "mfa_totp_enabled"
	auditEventMFABackupCodeUsed         = "mfa_backup_code_used"
	auditEventMFABackupCodesRegenerated = "mfa_backup_codes_regenerated"
	auditEventMFATokenDisabled          = "mfa_token_disabled"
	auditEventMFATokenDeleted           = "mfa_token_deleted"
	auditEventSessionCreated            = "session_created"
	auditEventSessionEnded              = "session_ended"
	auditEventSessionTerminated         = "session_terminated"
	auditEventAllSessionsTerminated     = "all_sessions_terminated"
	auditEventAccessDenied              = "access_denied"
	auditEventRoleCreated               = "role_created"
	auditEventRoleUpdated               = "role_updated"
	auditEventRoleDeleted               = "role_deleted"
	auditEventRoleAssigned              = "role_assigned"
	auditEventRoleRevoked               = "role_revoked"
	auditEventPermissionDeleted         = "permission_deleted"
	auditEventPermissionsSeeded         = "permissions_seeded"
	auditEventUserDeactivated           = "user_deactivated"
	auditEventTenantParentChanged       = "tenant_parent_changed"
	auditEventAuditPurged               = "audit_purged"
)

// Entity types recorded on audit entries.
const (
	EntityUser       = "User"
	EntitySession    = "Session"
	EntityMfaToken   = "MfaToken"
	EntityRole       = "Role"
	EntityPermission = "Permission"
	EntityTenant     = "Tenant"
	EntityAuditLog   = "AuditLog"
)

var auditEntityTypes = map[string]string{
	auditEventLoginSuccess:              EntityUser,
	auditEventLoginFailure:              EntityUser,
	auditEventLoginRateLimited:          EntityUser,
	auditEventMFARequired:               EntityUser,
	auditEventMFAVerificationSuccess:    EntityMfaToken,
	auditEventMFAVerificationFailed:     EntityMfaToken,
	auditEventMFAAutoResolved:           EntityUser,
	auditEventMFATOTPEnabled:            EntityMfaToken,
	auditEventMFABackupCodeUsed:         EntityMfaToken,
	auditEventMFABackupCodesRegenerated: EntityMfaToken,
	auditEventMFATokenDisabled:          EntityMfaToken,
	auditEventMFATokenDeleted:           EntityMfaToken,
	auditEventSessionCreated:            EntitySession,
	auditEventSessionEnded:              EntitySession,
	auditEventSessionTerminated:         EntitySession,
	auditEventAllSessionsTerminated:     EntityUser,
	auditEventRoleCreated:               EntityRole,
	auditEventRoleUpdated:               EntityRole,
	auditEventRoleDeleted:               EntityRole,
	auditEventRoleAssigned:              EntityUser,
	auditEventRoleRevoked:               EntityUser,
	auditEventPermissionDeleted:         EntityPermission,
	auditEventPermissionsSeeded:         EntityPermission,
	auditEventUserDeactivated:           EntityUser,
	auditEventTenantParentChanged:       EntityTenant,
	auditEventAuditPurged:               EntityAuditLog,
}

// auditEvent is the engine-side description of one audit entry. actor
// overrides the principal found in the context; entityID defaults to the
// session id for session events and to userID for user events.
type auditEvent struct {
	action      string
	success     bool
	actor       string
	userID      string
	tenantID    string
	sessionID   string
	entityType  string
	entityID    string
	description string
	err         error
	metadata    func() map[string]string
	oldValues   map[string]any
	newValues   map[string]any
}

func (e *Engine) emitAudit(ctx context.Context, ev auditEvent) AuditEntry {
	if e == nil || e.audit == nil {
		return AuditEntry{}
	}

	actorName, actorID := actorFromContext(ctx)
	if ev.actor != "" {
		actorName = ev.actor
	}
	if ev.entityType == "" {
		ev.entityType = auditEntityTypes[ev.action]
	}
	if ev.entityID == "" {
		if ev.entityType == EntitySession {
			ev.entityID = ev.sessionID
		} else if ev.entityType == EntityUser {
			ev.entityID = ev.userID
		}
	}

	var metadata map[string]string
	if ev.metadata != nil {
		metadata = ev.metadata()
	}
	if actorID != "" && actorID != ev.userID {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["actor_id"] = actorID
	}

	return e.audit.Log(ctx, internalaudit.Entry{
		Timestamp:   e.now().UTC(),
		UserName:    actorName,
		UserID:      ev.userID,
		TenantID:    ev.tenantID,
		SessionID:   ev.sessionID,
		Action:      ev.action,
		EntityType:  ev.entityType,
		EntityID:    ev.entityID,
		Description: ev.description,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Success:     ev.success,
		Error:       string(Classify(ev.err)),
		Metadata:    metadata,
		OldValues:   ev.oldValues,
		NewValues:   ev.newValues,
	})
}

/*
====================================
AUDIT LOG MAINTENANCE
====================================
*/

// ListAuditLog returns entries matching filter, newest first.
func (e *Engine) ListAuditLog(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.auditStore == nil {
		return []AuditEntry{}, nil
	}
	entries, err := e.auditStore.ListAudit(ctx, filter)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PurgeAuditLog deletes entries older than olderThan and records the purge
// itself. A non-positive olderThan uses Config.Audit.Retention.
func (e *Engine) PurgeAuditLog(ctx context.Context, olderThan time.Duration) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.auditStore == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		olderThan = e.config.Audit.Retention
	}
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := e.now().Add(-olderThan)
	n, err := e.auditStore.PurgeAudit(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	e.log.Info("audit log purged", zap.Int64("deleted", n), zap.Time("before", cutoff))
	e.emitAudit(ctx, auditEvent{
		action:  auditEventAuditPurged,
		success: true,
		metadata: func() map[string]string {
			return map[string]string{
				"deleted": formatInt64(n),
				"before":  cutoff.UTC().Format(time.RFC3339),
			}
		},
	})
	return n, nil
}
