package permission

// Built-in permission names.
const (
	AdminAccess   = "ADMIN_ACCESS"
	AdminSettings = "ADMIN_SETTINGS"

	UserView        = "USER_VIEW"
	UserCreate      = "USER_CREATE"
	UserEdit        = "USER_EDIT"
	UserDelete      = "USER_DELETE"
	UserManageRoles = "USER_MANAGE_ROLES"

	TenantView   = "TENANT_VIEW"
	TenantCreate = "TENANT_CREATE"
	TenantEdit   = "TENANT_EDIT"
	TenantDelete = "TENANT_DELETE"

	SessionView      = "SESSION_VIEW"
	SessionTerminate = "SESSION_TERMINATE"

	MfaView   = "MFA_VIEW"
	MfaManage = "MFA_MANAGE"
	MfaSetup  = "MFA_SETUP"
	MfaDelete = "MFA_DELETE"

	ModuleView      = "MODULE_VIEW"
	ModuleConfigure = "MODULE_CONFIGURE"

	RoleView   = "ROLE_VIEW"
	RoleCreate = "ROLE_CREATE"
	RoleEdit   = "ROLE_EDIT"
	RoleDelete = "ROLE_DELETE"

	AuditView   = "AUDIT_VIEW"
	AuditExport = "AUDIT_EXPORT"

	MonitoringView   = "MONITORING_VIEW"
	MonitoringExport = "MONITORING_EXPORT"

	BackupCreate  = "BACKUP_CREATE"
	BackupRestore = "BACKUP_RESTORE"
)

// Permission categories.
const (
	CategoryAdmin      = "admin"
	CategoryUser       = "user"
	CategoryTenant     = "tenant"
	CategorySession    = "session"
	CategoryMfa        = "mfa"
	CategoryModule     = "module"
	CategoryRole       = "role"
	CategoryAudit      = "audit"
	CategoryMonitoring = "monitoring"
	CategoryBackup     = "backup"
)

// Definition describes one permission.
//
// System definitions are seeded by the application and may be neither
// modified nor deleted.
type Definition struct {
	Name        string
	Category    string
	Description string
	System      bool
}

var catalog = []Definition{
	{AdminAccess, CategoryAdmin, "Access the administration area", true},
	{AdminSettings, CategoryAdmin, "Change system settings", true},

	{UserView, CategoryUser, "View users", true},
	{UserCreate, CategoryUser, "Create users", true},
	{UserEdit, CategoryUser, "Edit users", true},
	{UserDelete, CategoryUser, "Delete users", true},
	{UserManageRoles, CategoryUser, "Assign and revoke user roles", true},

	{TenantView, CategoryTenant, "View tenants", true},
	{TenantCreate, CategoryTenant, "Create tenants", true},
	{TenantEdit, CategoryTenant, "Edit tenants", true},
	{TenantDelete, CategoryTenant, "Delete tenants", true},

	{SessionView, CategorySession, "View active sessions", true},
	{SessionTerminate, CategorySession, "Terminate sessions of other users", true},

	{MfaView, CategoryMfa, "View MFA tokens of other users", true},
	{MfaManage, CategoryMfa, "Manage MFA tokens of other users", true},
	{MfaSetup, CategoryMfa, "Enroll MFA tokens", true},
	{MfaDelete, CategoryMfa, "Delete MFA tokens", true},

	{ModuleView, CategoryModule, "View modules", true},
	{ModuleConfigure, CategoryModule, "Enable and configure modules", true},

	{RoleView, CategoryRole, "View roles", true},
	{RoleCreate, CategoryRole, "Create roles", true},
	{RoleEdit, CategoryRole, "Edit roles", true},
	{RoleDelete, CategoryRole, "Delete roles", true},

	{AuditView, CategoryAudit, "View the audit log", true},
	{AuditExport, CategoryAudit, "Export the audit log", true},

	{MonitoringView, CategoryMonitoring, "View monitoring data", true},
	{MonitoringExport, CategoryMonitoring, "Export monitoring data", true},

	{BackupCreate, CategoryBackup, "Create backups", true},
	{BackupRestore, CategoryBackup, "Restore backups", true},
}

// Catalog returns a copy of the built-in permission definitions in
// registration order.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Categories returns the category names in catalog order.
func Categories() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 10)
	for _, def := range catalog {
		if _, ok := seen[def.Category]; ok {
			continue
		}
		seen[def.Category] = struct{}{}
		out = append(out, def.Category)
	}
	return out
}

// GroupByCategory buckets definitions by category, preserving order within
// each bucket.
func GroupByCategory(defs []Definition) map[string][]Definition {
	out := make(map[string][]Definition)
	for _, def := range defs {
		out[def.Category] = append(out[def.Category], def)
	}
	return out
}
