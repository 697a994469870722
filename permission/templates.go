package permission

// Template is a named starting point for a custom role.
type Template struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

var templates = []Template{
	{
		Key:         "auditor",
		Name:        "Auditor",
		Description: "Read-only access to users, sessions, roles and the audit log",
		Permissions: []string{UserView, TenantView, SessionView, MfaView, RoleView, AuditView, MonitoringView},
	},
	{
		Key:         "security_officer",
		Name:        "Security Officer",
		Description: "Supervise sessions and second factors, export audit data",
		Permissions: []string{
			UserView, SessionView, SessionTerminate, MfaView, MfaManage,
			AuditView, AuditExport, MonitoringView, MonitoringExport,
		},
	},
	{
		Key:         "user_manager",
		Name:        "User Manager",
		Description: "Create and maintain accounts and their role assignments",
		Permissions: []string{UserView, UserCreate, UserEdit, UserManageRoles, RoleView, TenantView, SessionView},
	},
	{
		Key:         "tenant_manager",
		Name:        "Tenant Manager",
		Description: "Maintain the tenant hierarchy",
		Permissions: []string{TenantView, TenantCreate, TenantEdit, TenantDelete, UserView},
	},
	{
		Key:         "readonly",
		Name:        "Read-Only User",
		Description: "View-only access to basic features",
		Permissions: []string{UserView, TenantView, ModuleView},
	},
}

// Templates returns the role templates in display order.
func Templates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		t.Permissions = append([]string(nil), t.Permissions...)
		out[i] = t
	}
	return out
}

// TemplateByKey looks up a template.
func TemplateByKey(key string) (Template, bool) {
	for _, t := range Templates() {
		if t.Key == key {
			return t, true
		}
	}
	return Template{}, false
}
