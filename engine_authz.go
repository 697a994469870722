package goAccess

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goAccess/permission"
	"github.com/MrEthical07/goAccess/voter"
)

// EffectivePermissions merges the user's built-in roles, their implied
// roles, and the permissions of the user's custom roles into one set.
// Results are cached per user id and version.
func (e *Engine) EffectivePermissions(ctx context.Context, user *User) (permission.Set, error) {
	if e == nil || e.resolver == nil {
		return permission.Set{}, ErrEngineNotReady
	}
	if user == nil {
		return permission.Set{}, ErrAccessDenied
	}

	var names, perms []string
	if len(user.CustomRoleIDs) > 0 {
		roles, err := e.directory.Roles(ctx, user.CustomRoleIDs)
		if err != nil {
			return permission.Set{}, fmt.Errorf("%w: %v", ErrDirectory, err)
		}
		for _, r := range roles {
			names = append(names, r.Name)
			perms = append(perms, r.Permissions...)
		}
	}

	return e.resolver.Resolve(permission.Subject{
		UserID:            user.ID,
		Version:           user.Version,
		Roles:             user.Roles,
		CustomRoles:       names,
		CustomPermissions: perms,
	}), nil
}

// IsGranted asks the voters whether p may perform attribute on target. The
// answer is deterministic and a nil principal is always denied. target may
// be nil for attributes that do not concern one object.
func (e *Engine) IsGranted(ctx context.Context, p *Principal, attribute string, target any) bool {
	if e == nil || e.voters == nil || p == nil || p.User == nil {
		return false
	}
	granted := e.voters.Granted(p, attribute, target)
	if granted {
		e.metricInc(MetricAccessGranted)
	} else {
		e.metricInc(MetricAccessDenied)
	}
	return granted
}

// DenyAccessUnlessGranted returns ErrAccessDenied and records access_denied
// when p may not perform attribute on target. The error never says whether
// target exists.
func (e *Engine) DenyAccessUnlessGranted(ctx context.Context, p *Principal, attribute string, target any) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.IsGranted(ctx, p, attribute, target) {
		return nil
	}

	ev := auditEvent{
		action: auditEventAccessDenied,
		err:    ErrAccessDenied,
		metadata: func() map[string]string {
			md := map[string]string{"attribute": attribute}
			if target != nil {
				md["target"] = fmt.Sprintf("%T", target)
			}
			return md
		},
	}
	if p != nil && p.User != nil {
		ev.actor = p.User.Email
		ev.userID = p.User.ID
		ev.tenantID = p.User.TenantID
		ev.sessionID = p.SessionID
	}
	ev.entityID = targetID(target)
	e.emitAudit(ctx, ev)
	return ErrAccessDenied
}

// Decide exposes the raw voter decision, mainly for diagnostics.
func (e *Engine) Decide(p *Principal, attribute string, target any) voter.Decision {
	if e == nil || e.voters == nil || p == nil || p.User == nil {
		return voter.Deny
	}
	return e.voters.Decide(p, attribute, target)
}

func targetID(target any) string {
	switch t := target.(type) {
	case voter.Identified:
		return t.SubjectID()
	case *MfaToken:
		return t.ID
	case *Role:
		return t.ID
	case *SessionRecord:
		return t.SessionID
	case *Tenant:
		return t.ID
	default:
		return ""
	}
}
