package goAccess

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/goAccess/internal/audit"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/MrEthical07/goAccess/session"
	"github.com/MrEthical07/goAccess/tenant"
)

// Auth providers a user account can originate from.
const (
	ProviderLocal = "local"
	ProviderOAuth = "oauth"
	ProviderSAML  = "saml"
)

// MFA token types.
const (
	MfaTypeTOTP   = "totp"
	MfaTypeBackup = "backup"
)

// User is an identity as the engine sees it.
type User struct {
	ID           string   `db:"id" json:"id"`
	Email        string   `db:"email" json:"email"`
	PasswordHash string   `db:"password_hash" json:"-"`
	Roles        []string `db:"-" json:"roles"`
	// CustomRoleIDs references Role records.
	CustomRoleIDs []string `db:"-" json:"custom_role_ids,omitempty"`
	Active        bool     `db:"is_active" json:"active"`
	Verified      bool     `db:"is_verified" json:"verified"`
	TenantID      string   `db:"tenant_id" json:"tenant_id,omitempty"`
	AuthProvider  string   `db:"auth_provider" json:"auth_provider"`
	// Version is bumped on every role assignment change. It keys the
	// effective permission cache.
	Version uint64 `db:"version" json:"version"`
}

// SubjectID returns the user id.
func (u *User) SubjectID() string {
	if u == nil {
		return ""
	}
	return u.ID
}

// TenantKey returns the user's tenant id.
func (u *User) TenantKey() string {
	if u == nil {
		return ""
	}
	return u.TenantID
}

// Role is a custom role: a named set of permissions.
type Role struct {
	ID          string   `db:"id" json:"id"`
	Name        string   `db:"name" json:"name"`
	Description string   `db:"description" json:"description"`
	Permissions []string `db:"-" json:"permissions"`
	// System roles cannot be deleted and keep the flag once set.
	System bool `db:"is_system" json:"system"`
}

// IsSystem reports whether the role is protected.
func (r *Role) IsSystem() bool {
	return r != nil && r.System
}

// Permission is an atomic capability.
type Permission = permission.Definition

// RoleTemplate is a predefined permission set for a new custom role.
type RoleTemplate = permission.Template

// MfaToken is one second factor registered by a user.
type MfaToken struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Type       string    `db:"token_type" json:"type"`
	DeviceName string    `db:"device_name" json:"device_name"`
	Secret     string    `db:"secret" json:"-"`
	Active     bool      `db:"is_active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	LastUsedAt time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	UsageCount int64     `db:"usage_count" json:"usage_count"`
}

// OwnerID returns the user the token belongs to.
func (t *MfaToken) OwnerID() string {
	if t == nil {
		return ""
	}
	return t.UserID
}

// BackupCode is one stored single-use code. Only the hash is persisted.
type BackupCode struct {
	ID      int64  `db:"id"`
	TokenID string `db:"token_id"`
	UserID  string `db:"user_id"`
	Hash    []byte `db:"code_hash"`
}

// SessionRecord is a session registry entry.
type SessionRecord = session.Record

// SessionStatistics aggregates the session registry for dashboards.
type SessionStatistics struct {
	session.Statistics
	MaxConcurrentSessions int           `json:"max_concurrent_sessions"`
	SessionLifetime       time.Duration `json:"session_lifetime"`
}

// Tenant is an organisational unit.
type Tenant = tenant.Tenant

// TenantScope is the set of tenants a listing may include.
type TenantScope = tenant.Scope

// AuditEntry is one append-only audit record.
type AuditEntry = internalaudit.Entry

// AuditSink receives audit entries after they are persisted.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit entries.
type NoOpSink = internalaudit.NoOpSink

// AuditFilter narrows ListAuditLog results. Zero fields match everything.
type AuditFilter struct {
	UserName   string
	Action     string
	EntityType string
	EntityID   string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Principal is a fully authenticated actor with its effective permissions.
type Principal struct {
	User        *User
	SessionID   string
	Permissions permission.Set
}

// SubjectID returns the user id.
func (p *Principal) SubjectID() string {
	if p == nil {
		return ""
	}
	return p.User.SubjectID()
}

// TenantKey returns the principal's tenant id.
func (p *Principal) TenantKey() string {
	if p == nil {
		return ""
	}
	return p.User.TenantKey()
}

// HasRole reports whether the role is held directly, through the hierarchy,
// or as a custom role.
func (p *Principal) HasRole(role string) bool {
	return p != nil && p.Permissions.HasRole(role)
}

// HasPermission reports whether the permission is granted by any role.
func (p *Principal) HasPermission(name string) bool {
	return p != nil && p.Permissions.Has(name)
}

// LoginResult is returned by the login operations.
//
// When MFARequired is set the caller must keep ChallengeToken (usually in a
// short-lived cookie) and drive the challenge with [Engine.SubmitCode].
// Otherwise SessionID and SessionToken identify the new session.
type LoginResult struct {
	User           *User
	MFARequired    bool
	ChallengeID    string
	ChallengeToken string
	SessionID      string
	SessionToken   string
	Evicted        []string
	RedirectTo     string
}

// MFAResult is returned by [Engine.SubmitCode] on success.
type MFAResult struct {
	User         *User
	TokenType    string
	Fallback     bool
	AutoResolved bool
	RedirectTo   string
	SessionID    string
	SessionToken string
	Evicted      []string
}

// TOTPEnrollment carries a new TOTP token and its backup codes. Secret,
// ProvisioningURI and BackupCodes are only ever shown once.
type TOTPEnrollment struct {
	Token           *MfaToken
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// UserDirectory is the user persistence the engine needs.
type UserDirectory interface {
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
	UpsertExternalUser(ctx context.Context, user User) (*User, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	AddUserRole(ctx context.Context, userID, role string) error
	RemoveUserRole(ctx context.Context, userID, role string) (bool, error)
	AddUserCustomRole(ctx context.Context, userID, roleID string) error
	RemoveUserCustomRole(ctx context.Context, userID, roleID string) (bool, error)
}

// RoleDirectory persists custom roles and the permission catalog.
type RoleDirectory interface {
	Role(ctx context.Context, id string) (*Role, error)
	RoleByName(ctx context.Context, name string) (*Role, error)
	Roles(ctx context.Context, ids []string) ([]Role, error)
	CreateRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, id string) error
	Permissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, p Permission) (bool, error)
	DeletePermission(ctx context.Context, name string) error
}

// MfaDirectory persists MFA tokens and backup codes.
type MfaDirectory interface {
	MfaToken(ctx context.Context, id string) (*MfaToken, error)
	MfaTokens(ctx context.Context, userID string) ([]MfaToken, error)
	ActiveMfaTokens(ctx context.Context, userID string) ([]MfaToken, error)
	CreateMfaToken(ctx context.Context, token MfaToken, codeHashes [][]byte) error
	SetMfaTokenActive(ctx context.Context, id string, active bool) error
	RecordMfaTokenUse(ctx context.Context, id string, at time.Time) error
	DeleteMfaToken(ctx context.Context, id string) error
	// UnusedBackupCodes returns unused codes of the user's active tokens.
	UnusedBackupCodes(ctx context.Context, userID string) ([]BackupCode, error)
	// ConsumeBackupCode marks the code used. It returns false when the code
	// was already used, so two concurrent consumers never both succeed.
	ConsumeBackupCode(ctx context.Context, id int64) (bool, error)
	ReplaceBackupCodes(ctx context.Context, tokenID string, codeHashes [][]byte) error
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
}

// TenantDirectory lists tenants in addition to the lookups the tenant
// resolver needs.
type TenantDirectory interface {
	tenant.Store
	// Tenants returns tenants ordered by name, only active ones when
	// activeOnly is set.
	Tenants(ctx context.Context, activeOnly bool) ([]Tenant, error)
}

// Directory is the complete relational persistence of the engine.
type Directory interface {
	UserDirectory
	RoleDirectory
	MfaDirectory
	TenantDirectory
}

// AuditStore is the durable audit log.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
	PurgeAudit(ctx context.Context, before time.Time) (int64, error)
}
