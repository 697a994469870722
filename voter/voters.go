package voter

import "github.com/MrEthical07/goAccess/permission"

// RoleVoter grants built-in role attributes the principal holds directly or
// through the hierarchy.
type RoleVoter struct {
	isRole func(string) bool
}

// NewRoleVoter returns a RoleVoter for the roles isRole recognises.
func NewRoleVoter(isRole func(string) bool) *RoleVoter {
	return &RoleVoter{isRole: isRole}
}

func (v *RoleVoter) Supports(attribute string, _ any) bool {
	return v.isRole != nil && v.isRole(attribute)
}

func (v *RoleVoter) Vote(p Principal, attribute string, _ any) Decision {
	if p.HasRole(attribute) {
		return Grant
	}
	return Abstain
}

// PermissionVoter grants catalog permissions held through any role, built-in
// or custom.
type PermissionVoter struct {
	isPermission func(string) bool
}

// NewPermissionVoter returns a PermissionVoter for the names isPermission
// recognises.
func NewPermissionVoter(isPermission func(string) bool) *PermissionVoter {
	return &PermissionVoter{isPermission: isPermission}
}

func (v *PermissionVoter) Supports(attribute string, _ any) bool {
	return v.isPermission != nil && v.isPermission(attribute)
}

func (v *PermissionVoter) Vote(p Principal, attribute string, _ any) Decision {
	if p.HasPermission(attribute) {
		return Grant
	}
	return Abstain
}

// UserVoter lets a user view and edit their own record whatever their
// grants.
type UserVoter struct{}

func (UserVoter) Supports(attribute string, target any) bool {
	if attribute != permission.UserView && attribute != permission.UserEdit {
		return false
	}
	_, ok := target.(Identified)
	return ok
}

func (UserVoter) Vote(p Principal, _ string, target any) Decision {
	user := target.(Identified)
	if id := p.SubjectID(); id != "" && id == user.SubjectID() {
		return Grant
	}
	return Abstain
}

// OwnerVoter grants a fixed set of attributes on targets the principal owns.
type OwnerVoter struct {
	attributes map[string]struct{}
}

// NewOwnerVoter returns an OwnerVoter for attributes.
func NewOwnerVoter(attributes ...string) *OwnerVoter {
	set := make(map[string]struct{}, len(attributes))
	for _, a := range attributes {
		set[a] = struct{}{}
	}
	return &OwnerVoter{attributes: set}
}

// SessionVoter lets users view and end their own sessions.
func SessionVoter() *OwnerVoter {
	return NewOwnerVoter(permission.SessionView, permission.SessionTerminate)
}

// MfaTokenVoter lets users view and manage their own MFA tokens.
func MfaTokenVoter() *OwnerVoter {
	return NewOwnerVoter(permission.MfaView, permission.MfaManage, permission.MfaSetup, permission.MfaDelete)
}

func (v *OwnerVoter) Supports(attribute string, target any) bool {
	if _, ok := v.attributes[attribute]; !ok {
		return false
	}
	_, ok := target.(Owned)
	return ok
}

func (v *OwnerVoter) Vote(p Principal, _ string, target any) Decision {
	owned := target.(Owned)
	if id := p.SubjectID(); id != "" && id == owned.OwnerID() {
		return Grant
	}
	return Abstain
}

// TenantVoter lets members view their own tenant.
type TenantVoter struct{}

func (TenantVoter) Supports(attribute string, target any) bool {
	if attribute != permission.TenantView {
		return false
	}
	_, ok := target.(TenantOwned)
	return ok
}

func (TenantVoter) Vote(p Principal, _ string, target any) Decision {
	t := target.(TenantOwned)
	if key := p.TenantKey(); key != "" && key == t.TenantKey() {
		return Grant
	}
	return Abstain
}

// SystemRoleVoter vetoes deletion of system roles, even for super admins.
type SystemRoleVoter struct{}

func (SystemRoleVoter) Supports(attribute string, target any) bool {
	if attribute != permission.RoleDelete {
		return false
	}
	_, ok := target.(Protected)
	return ok
}

func (SystemRoleVoter) Vote(_ Principal, _ string, target any) Decision {
	if target.(Protected).IsSystem() {
		return Deny
	}
	return Abstain
}

// Default returns the stock voter set. isRole and isPermission usually come
// from permission.RoleManager.Known and permission.Registry.
func Default(isRole, isPermission func(string) bool) *Manager {
	return NewManager(
		SystemRoleVoter{},
		NewRoleVoter(isRole),
		NewPermissionVoter(isPermission),
		UserVoter{},
		SessionVoter(),
		MfaTokenVoter(),
		TenantVoter{},
	)
}
