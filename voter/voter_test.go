package voter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goAccess/permission"
)

type principal struct {
	id     string
	tenant string
	set    permission.Set
}

func (p principal) SubjectID() string { return p.id }
func (p principal) TenantKey() string { return p.tenant }
func (p principal) HasRole(role string) bool { return p.set.HasRole(role) }
func (p principal) HasPermission(name string) bool { return p.set.Has(name) }

type userTarget string

func (u userTarget) SubjectID() string { return string(u) }

type ownedTarget string

func (o ownedTarget) OwnerID() string { return string(o) }

type tenantTarget string

func (t tenantTarget) TenantKey() string { return string(t) }

type roleTarget bool

func (r roleTarget) IsSystem() bool { return bool(r) }

func newFixture(t *testing.T) (*Manager, *permission.Resolver) {
	t.Helper()
	reg := permission.NewCatalogRegistry()
	rm, err := permission.DefaultRoleManager(reg)
	require.NoError(t, err)
	resolver, err := permission.NewResolver(reg, rm, 16)
	require.NoError(t, err)
	isPermission := func(name string) bool {
		_, ok := reg.Bit(name)
		return ok
	}
	return Default(rm.Known, isPermission), resolver
}

func actor(r *permission.Resolver, id, tenant string, roles []string, customPerms ...string) principal {
	return principal{
		id:     id,
		tenant: tenant,
		set: r.Resolve(permission.Subject{
			UserID:            id,
			Roles:             roles,
			CustomRoles:       []string{"Custom"},
			CustomPermissions: customPerms,
		}),
	}
}

func TestRoleHierarchyGrantsImpliedRoles(t *testing.T) {
	m, r := newFixture(t)
	admin := actor(r, "a", "", []string{permission.RoleAdmin})
	user := actor(r, "u", "", nil)

	assert.True(t, m.Granted(admin, permission.RoleUser, nil))
	assert.True(t, m.Granted(admin, permission.RoleManagerName, nil))
	assert.False(t, m.Granted(admin, permission.RoleSuperAdmin, nil))
	assert.True(t, m.Granted(user, permission.RoleUser, nil))
	assert.False(t, m.Granted(user, permission.RoleAdmin, nil))
}

func TestPermissionsFromBuiltInAndCustomRoles(t *testing.T) {
	m, r := newFixture(t)
	admin := actor(r, "a", "", []string{permission.RoleAdmin})
	root := actor(r, "s", "", []string{permission.RoleSuperAdmin})
	custom := actor(r, "c", "", nil, permission.AuditView)

	assert.True(t, m.Granted(admin, permission.UserDelete, nil))
	assert.False(t, m.Granted(admin, permission.BackupRestore, nil))
	assert.True(t, m.Granted(root, permission.BackupRestore, nil))
	assert.True(t, m.Granted(custom, permission.AuditView, nil))
	assert.False(t, m.Granted(custom, permission.AuditExport, nil))
}

func TestSelfAccessRules(t *testing.T) {
	m, r := newFixture(t)
	alice := actor(r, "alice", "t1", nil)

	assert.True(t, m.Granted(alice, permission.UserView, userTarget("alice")))
	assert.True(t, m.Granted(alice, permission.UserEdit, userTarget("alice")))
	assert.False(t, m.Granted(alice, permission.UserDelete, userTarget("alice")))
	assert.False(t, m.Granted(alice, permission.UserEdit, userTarget("bob")))

	assert.True(t, m.Granted(alice, permission.SessionTerminate, ownedTarget("alice")))
	assert.False(t, m.Granted(alice, permission.SessionTerminate, ownedTarget("bob")))
	assert.True(t, m.Granted(alice, permission.MfaManage, ownedTarget("alice")))

	assert.True(t, m.Granted(alice, permission.TenantView, tenantTarget("t1")))
	assert.False(t, m.Granted(alice, permission.TenantView, tenantTarget("t2")))
	assert.False(t, m.Granted(alice, permission.TenantEdit, tenantTarget("t1")))
}

func TestSystemRoleDeletionIsVetoed(t *testing.T) {
	m, r := newFixture(t)
	root := actor(r, "s", "", []string{permission.RoleSuperAdmin})

	assert.Equal(t, Deny, m.Decide(root, permission.RoleDelete, roleTarget(true)))
	assert.Equal(t, Grant, m.Decide(root, permission.RoleDelete, roleTarget(false)))
}

func TestDecisionsAreTotal(t *testing.T) {
	m, r := newFixture(t)
	users := []principal{
		actor(r, "u", "t", nil),
		actor(r, "a", "t", []string{permission.RoleAdmin}),
		actor(r, "s", "t", []string{permission.RoleSuperAdmin}),
	}
	attributes := append([]string{"", "NOT_A_THING", Attribute("risk", ActionViewAll), permission.RoleCISO}, reservedNames()...)
	targets := []any{nil, userTarget("u"), ownedTarget("u"), tenantTarget("t"), roleTarget(true), 42}

	for _, p := range users {
		for _, attr := range attributes {
			for _, target := range targets {
				first := m.Decide(p, attr, target)
				require.Contains(t, []Decision{Grant, Deny}, first)
				require.Equal(t, first, m.Decide(p, attr, target))
			}
		}
	}

	assert.Equal(t, Deny, m.Decide(nil, permission.UserView, nil))
	assert.Equal(t, Deny, NewManager().Decide(users[2], permission.UserView, nil))
	assert.Equal(t, Deny, m.Decide(users[2], "NOT_A_THING", nil))
}

func TestAttribute(t *testing.T) {
	assert.Equal(t, "USER_EDIT", Attribute("user", ActionEdit))
	assert.Equal(t, "RISK_VIEW_ALL", Attribute("Risk", ActionViewAll))
}

func reservedNames() []string {
	out := make([]string, 0, len(permission.Catalog()))
	for _, def := range permission.Catalog() {
		out = append(out, def.Name)
	}
	return out
}
