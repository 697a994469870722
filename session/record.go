package session

import (
	"strconv"
	"time"
)

// Reason records why a session stopped being active.
type Reason string

const (
	// ReasonLogout is a user initiated logout.
	ReasonLogout Reason = "logout"
	// ReasonForced is an administrator termination.
	ReasonForced Reason = "forced"
	// ReasonExpired is an idle or absolute timeout detected lazily.
	ReasonExpired Reason = "expired"
	// ReasonPolicyExceeded is an eviction by the concurrent session cap.
	ReasonPolicyExceeded Reason = "policy_exceeded"
)

// Record is one registry entry. Terminated records are retained for the
// configured period as evidence and are never reactivated.
type Record struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	TenantID       string    `json:"tenant_id,omitempty"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Active         bool      `json:"active"`
	Reason         Reason    `json:"reason,omitempty"`
	TerminatedBy   string    `json:"terminated_by,omitempty"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
}

// OwnerID returns the user the session belongs to.
func (r *Record) OwnerID() string {
	return r.UserID
}

// Expired reports whether r passed its idle or absolute limit at now. A zero
// limit disables that check.
func (r *Record) Expired(now time.Time, idle, absolute time.Duration) bool {
	if idle > 0 && now.Sub(r.LastActivityAt) > idle {
		return true
	}
	if absolute > 0 && now.Sub(r.CreatedAt) > absolute {
		return true
	}
	return false
}

// Statistics summarizes the registry for administrators.
type Statistics struct {
	TotalActive    int            `json:"total_active"`
	UniqueUsers    int            `json:"unique_users"`
	PerUser        map[string]int `json:"per_user"`
	CreatedLast24h int            `json:"created_last_24h"`
	MaxConcurrent  int            `json:"max_concurrent"`
}

// RegisterResult is the outcome of [Registry.Register].
type RegisterResult struct {
	Record *Record
	// Evicted holds the ids terminated with ReasonPolicyExceeded, oldest first.
	Evicted []string
	// Expired holds the ids of the user terminated lazily with ReasonExpired.
	Expired []string
	// Existing is true when the id was already registered and active.
	Existing bool
}

func decodeRecord(sessionID string, fields map[string]string) (*Record, bool) {
	if len(fields) == 0 || fields["uid"] == "" {
		return nil, false
	}
	return &Record{
		SessionID:      sessionID,
		UserID:         fields["uid"],
		Email:          fields["email"],
		TenantID:       fields["tid"],
		IP:             fields["ip"],
		UserAgent:      fields["ua"],
		CreatedAt:      parseMillis(fields["created"]),
		LastActivityAt: parseMillis(fields["last"]),
		Active:         fields["active"] == "1",
		Reason:         Reason(fields["reason"]),
		TerminatedBy:   fields["by"],
		EndedAt:        parseMillis(fields["ended"]),
	}, true
}

func parseMillis(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func millis(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}
