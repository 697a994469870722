package goAccess

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAccess/tenant"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct horse battery staple"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storedBackupCode struct {
	BackupCode
	used bool
}

// memoryDirectory is an in-process Directory and AuditStore.
type memoryDirectory struct {
	mu sync.Mutex

	users       map[string]*User
	roles       map[string]*Role
	permissions map[string]Permission
	tokens      map[string]*MfaToken
	codes       []*storedBackupCode
	nextCodeID  int64
	tenants     map[string]*Tenant
	audit       []AuditEntry
	auditErr    error
	nextUserID  int
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		users:       map[string]*User{},
		roles:       map[string]*Role{},
		permissions: map[string]Permission{},
		tokens:      map[string]*MfaToken{},
		tenants:     map[string]*Tenant{},
	}
}

func copyUser(u *User) *User {
	out := *u
	out.Roles = append([]string(nil), u.Roles...)
	out.CustomRoleIDs = append([]string(nil), u.CustomRoleIDs...)
	return &out
}

func (d *memoryDirectory) addUser(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = copyUser(&u)
}

func (d *memoryDirectory) addTenant(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = &t
}

func (d *memoryDirectory) UserByEmail(_ context.Context, email string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (d *memoryDirectory) UserByID(_ context.Context, id string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (d *memoryDirectory) UpsertExternalUser(_ context.Context, user User) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, user.Email) {
			return copyUser(u), nil
		}
	}
	d.nextUserID++
	user.ID = "ext-" + strconv.Itoa(d.nextUserID)
	d.users[user.ID] = copyUser(&user)
	return copyUser(&user), nil
}

func (d *memoryDirectory) SetUserActive(_ context.Context, id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

func (d *memoryDirectory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (d *memoryDirectory) AddUserRole(_ context.Context, userID, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return ErrNotFound
	}
	for _, r := range u.Roles {
		if r == role {
			return nil
		}
	}
	u.Roles = append(u.Roles, role)
	u.Version++
	return nil
}

func (d *memoryDirectory) RemoveUserRole(_ context.Context, userID, role string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	var removed bool
	u.Roles, removed = without(u.Roles, role)
	if removed {
		u.Version++
	}
	return removed, nil
}

func (d *memoryDirectory) AddUserCustomRole(_ context.Context, userID, roleID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range u.CustomRoleIDs {
		if id == roleID {
			return nil
		}
	}
	u.CustomRoleIDs = append(u.CustomRoleIDs, roleID)
	u.Version++
	return nil
}

func (d *memoryDirectory) RemoveUserCustomRole(_ context.Context, userID, roleID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	var removed bool
	u.CustomRoleIDs, removed = without(u.CustomRoleIDs, roleID)
	if removed {
		u.Version++
	}
	return removed, nil
}

func without(list []string, v string) ([]string, bool) {
	out := list[:0]
	removed := false
	for _, item := range list {
		if item == v {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}

func copyRole(r *Role) *Role {
	out := *r
	out.Permissions = append([]string(nil), r.Permissions...)
	return &out
}

func (d *memoryDirectory) Role(_ context.Context, id string) (*Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRole(r), nil
}

func (d *memoryDirectory) RoleByName(_ context.Context, name string) (*Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.roles {
		if r.Name == name {
			return copyRole(r), nil
		}
	}
	return nil, ErrNotFound
}

func (d *memoryDirectory) Roles(_ context.Context, ids []string) ([]Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := d.roles[id]; ok {
			out = append(out, *copyRole(r))
		}
	}
	return out, nil
}

func (d *memoryDirectory) CreateRole(_ context.Context, role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[role.ID] = copyRole(&role)
	return nil
}

func (d *memoryDirectory) UpdateRole(_ context.Context, role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.roles[role.ID]; !ok {
		return ErrNotFound
	}
	d.roles[role.ID] = copyRole(&role)
	for _, u := range d.users {
		for _, id := range u.CustomRoleIDs {
			if id == role.ID {
				u.Version++
			}
		}
	}
	return nil
}

func (d *memoryDirectory) DeleteRole(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.roles[id]; !ok {
		return ErrNotFound
	}
	delete(d.roles, id)
	for _, u := range d.users {
		var removed bool
		u.CustomRoleIDs, removed = without(u.CustomRoleIDs, id)
		if removed {
			u.Version++
		}
	}
	return nil
}

func (d *memoryDirectory) Permissions(_ context.Context) ([]Permission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Permission, 0, len(d.permissions))
	for _, p := range d.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *memoryDirectory) UpsertPermission(_ context.Context, p Permission) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.permissions[p.Name]; ok {
		return false, nil
	}
	d.permissions[p.Name] = p
	return true, nil
}

func (d *memoryDirectory) DeletePermission(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.permissions[name]; !ok {
		return ErrNotFound
	}
	delete(d.permissions, name)
	return nil
}

func (d *memoryDirectory) MfaToken(_ context.Context, id string) (*MfaToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *t
	return &out, nil
}

func (d *memoryDirectory) MfaTokens(_ context.Context, userID string) ([]MfaToken, error) {
	return d.tokensOf(userID, false), nil
}

func (d *memoryDirectory) ActiveMfaTokens(_ context.Context, userID string) ([]MfaToken, error) {
	return d.tokensOf(userID, true), nil
}

func (d *memoryDirectory) tokensOf(userID string, activeOnly bool) []MfaToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []MfaToken{}
	for _, t := range d.tokens {
		if t.UserID != userID || (activeOnly && !t.Active) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (d *memoryDirectory) CreateMfaToken(_ context.Context, token MfaToken, codeHashes [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[token.ID] = &token
	d.appendCodes(token.ID, token.UserID, codeHashes)
	return nil
}

func (d *memoryDirectory) appendCodes(tokenID, userID string, hashes [][]byte) {
	for _, h := range hashes {
		d.nextCodeID++
		d.codes = append(d.codes, &storedBackupCode{BackupCode: BackupCode{
			ID:      d.nextCodeID,
			TokenID: tokenID,
			UserID:  userID,
			Hash:    append([]byte(nil), h...),
		}})
	}
}

func (d *memoryDirectory) SetMfaTokenActive(_ context.Context, id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.Active = active
	return nil
}

func (d *memoryDirectory) RecordMfaTokenUse(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.LastUsedAt = at
	t.UsageCount++
	return nil
}

func (d *memoryDirectory) DeleteMfaToken(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tokens[id]; !ok {
		return ErrNotFound
	}
	delete(d.tokens, id)
	kept := d.codes[:0]
	for _, c := range d.codes {
		if c.TokenID != id {
			kept = append(kept, c)
		}
	}
	d.codes = kept
	return nil
}

func (d *memoryDirectory) UnusedBackupCodes(_ context.Context, userID string) ([]BackupCode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []BackupCode{}
	for _, c := range d.codes {
		t, ok := d.tokens[c.TokenID]
		if c.used || c.UserID != userID || !ok || !t.Active {
			continue
		}
		out = append(out, c.BackupCode)
	}
	return out, nil
}

func (d *memoryDirectory) ConsumeBackupCode(_ context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.codes {
		if c.ID == id {
			if c.used {
				return false, nil
			}
			c.used = true
			return true, nil
		}
	}
	return false, nil
}

func (d *memoryDirectory) ReplaceBackupCodes(_ context.Context, tokenID string, codeHashes [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	kept := d.codes[:0]
	for _, c := range d.codes {
		if c.TokenID != tokenID {
			kept = append(kept, c)
		}
	}
	d.codes = kept
	d.appendCodes(tokenID, t.UserID, codeHashes)
	return nil
}

func (d *memoryDirectory) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	codes, err := d.UnusedBackupCodes(ctx, userID)
	return len(codes), err
}

func (d *memoryDirectory) Tenant(_ context.Context, id string) (*Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (d *memoryDirectory) Children(_ context.Context, parentID string) ([]Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []Tenant{}
	for _, t := range d.tenants {
		if t.ParentID == parentID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *memoryDirectory) SetParent(_ context.Context, id, parentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return tenant.ErrNotFound
	}
	t.ParentID = parentID
	return nil
}

func (d *memoryDirectory) Tenants(_ context.Context, activeOnly bool) ([]Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []Tenant{}
	for _, t := range d.tenants {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *memoryDirectory) AppendAudit(_ context.Context, entry AuditEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.auditErr != nil {
		return d.auditErr
	}
	d.audit = append(d.audit, entry)
	return nil
}

func (d *memoryDirectory) ListAudit(_ context.Context, filter AuditFilter) ([]AuditEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []AuditEntry{}
	for i := len(d.audit) - 1; i >= 0; i-- {
		e := d.audit[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (d *memoryDirectory) PurgeAudit(_ context.Context, before time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.audit[:0]
	var n int64
	for _, e := range d.audit {
		if e.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	d.audit = kept
	return n, nil
}

// auditActions returns the recorded actions in order.
func (d *memoryDirectory) auditActions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.audit))
	for i, e := range d.audit {
		out[i] = e.Action
	}
	return out
}

func (d *memoryDirectory) lastAudit(action string) (AuditEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.audit) - 1; i >= 0; i-- {
		if d.audit[i].Action == action {
			return d.audit[i], true
		}
	}
	return AuditEntry{}, false
}

func (d *memoryDirectory) countAudit(action string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.audit {
		if e.Action == action {
			n++
		}
	}
	return n
}

type engineFixture struct {
	engine *Engine
	dir    *memoryDirectory
	redis  *miniredis.Miniredis
	clock  *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newEngineFixture(t testing.TB, mutate func(*Config)) *engineFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	dir := newMemoryDirectory()
	clock := newTestClock()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithAuditStore(dir).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &engineFixture{engine: engine, dir: dir, redis: mr, clock: clock}
}

// addLocalUser stores an active local account with testPassword.
func (f *engineFixture) addLocalUser(t testing.TB, id, email, tenantID string, roles ...string) *User {
	t.Helper()
	hash, err := f.engine.passwordHash.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	u := User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		Active:       true,
		Verified:     true,
		TenantID:     tenantID,
		AuthProvider: ProviderLocal,
	}
	f.dir.addUser(u)
	return copyUser(&u)
}

// enrollTOTP enrolls and activates a TOTP token for user.
func (f *engineFixture) enrollTOTP(t *testing.T, user *User) *TOTPEnrollment {
	t.Helper()
	ctx := context.Background()
	enrollment, err := f.engine.EnrollTOTP(ctx, user, "phone")
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	if err := f.engine.ActivateTOTP(ctx, user.ID, enrollment.Token.ID, f.totpCode(t, enrollment.Secret)); err != nil {
		t.Fatalf("ActivateTOTP failed: %v", err)
	}
	return enrollment
}

func (f *engineFixture) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := f.engine.totp.Code(secret, f.clock.Now())
	if err != nil {
		t.Fatalf("totp code failed: %v", err)
	}
	return code
}

func (f *engineFixture) login(t *testing.T, email, target string) *LoginResult {
	t.Helper()
	res, err := f.engine.Login(context.Background(), email, testPassword, target)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	return res
}
