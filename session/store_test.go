package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

func newRegistryTest(t *testing.T, opts Options) (*Registry, *testClock, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	opts.Now = clock.Now
	return NewRegistry(rdb, opts), clock, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func register(t *testing.T, r *Registry, sid, uid string) *RegisterResult {
	t.Helper()
	res, err := r.Register(context.Background(), Registration{
		SessionID: sid,
		UserID:    uid,
		Email:     uid + "@example.com",
		IP:        "10.0.0.1",
		UserAgent: "test",
	})
	if err != nil {
		t.Fatalf("register %s: %v", sid, err)
	}
	return res
}

func TestRegisterEvictsOldestAtCap(t *testing.T) {
	reg, clock, _, done := newRegistryTest(t, Options{MaxConcurrent: 3, IdleTimeout: time.Hour, RetainTerminated: time.Hour})
	defer done()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := register(t, reg, fmt.Sprintf("s%d", i), "u-1")
		if len(res.Evicted) != 0 {
			t.Fatalf("unexpected eviction at login %d: %v", i, res.Evicted)
		}
		clock.Advance(time.Second)
	}

	res := register(t, reg, "s4", "u-1")
	if len(res.Evicted) != 1 || res.Evicted[0] != "s1" {
		t.Fatalf("expected s1 evicted, got %v", res.Evicted)
	}

	rec, ok, err := reg.Get(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("expected retained record for s1, got %v %v", ok, err)
	}
	if rec.Active || rec.Reason != ReasonPolicyExceeded {
		t.Fatalf("expected inactive policy_exceeded, got %+v", rec)
	}

	sessions, err := reg.UserSessions(ctx, "u-1")
	if err != nil {
		t.Fatalf("user sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 active sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "s4" {
		t.Fatalf("expected most recent first, got %s", sessions[0].SessionID)
	}
}

func TestEvictionWithoutRetentionDeletesRecord(t *testing.T) {
	reg, clock, rdb, done := newRegistryTest(t, Options{MaxConcurrent: 1})
	defer done()
	ctx := context.Background()

	register(t, reg, "s1", "u-1")
	clock.Advance(time.Second)
	res := register(t, reg, "s2", "u-1")
	if len(res.Evicted) != 1 || res.Evicted[0] != "s1" {
		t.Fatalf("expected s1 evicted, got %v", res.Evicted)
	}

	if _, ok, err := reg.Get(ctx, "s1"); err != nil || ok {
		t.Fatalf("expected s1 deleted, got %v %v", ok, err)
	}
	if n, err := rdb.Exists(ctx, reg.sessionKey("s1")).Result(); err != nil || n != 0 {
		t.Fatalf("expected no hash for s1, got %d %v", n, err)
	}
}

func TestRegisterConcurrentNeverExceedsCap(t *testing.T) {
	reg, _, _, done := newRegistryTest(t, Options{MaxConcurrent: 2})
	defer done()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = reg.Register(ctx, Registration{SessionID: fmt.Sprintf("c%d", i), UserID: "u-1"})
		}(i)
	}
	wg.Wait()

	sessions, err := reg.UserSessions(ctx, "u-1")
	if err != nil {
		t.Fatalf("user sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected exactly 2 active sessions, got %d", len(sessions))
	}
}

func TestTerminateTwiceReturnsFalse(t *testing.T) {
	reg, _, _, done := newRegistryTest(t, Options{MaxConcurrent: 5, RetainTerminated: time.Hour})
	defer done()
	ctx := context.Background()

	register(t, reg, "s1", "u-1")

	ok, err := reg.Terminate(ctx, "s1", ReasonForced, "admin-1")
	if err != nil || !ok {
		t.Fatalf("first terminate: %v %v", ok, err)
	}
	ok, err = reg.Terminate(ctx, "s1", ReasonForced, "admin-1")
	if err != nil || ok {
		t.Fatalf("second terminate must return false, got %v %v", ok, err)
	}
	ok, err = reg.Terminate(ctx, "missing", ReasonForced, "admin-1")
	if err != nil || ok {
		t.Fatalf("unknown session must return false, got %v %v", ok, err)
	}

	rec, found, err := reg.Get(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("expected retained record: %v %v", found, err)
	}
	if rec.TerminatedBy != "admin-1" || rec.Reason != ReasonForced || rec.EndedAt.IsZero() {
		t.Fatalf("unexpected terminated record %+v", rec)
	}
}

func TestTouchIdempotentAndIdleExpiry(t *testing.T) {
	reg, clock, _, done := newRegistryTest(t, Options{MaxConcurrent: 5, IdleTimeout: time.Hour, RetainTerminated: time.Hour})
	defer done()
	ctx := context.Background()

	register(t, reg, "s1", "u-1")
	clock.Advance(30 * time.Minute)
	for i := 0; i < 2; i++ {
		status, err := reg.Touch(ctx, "s1")
		if err != nil || status != StatusActive {
			t.Fatalf("touch %d: %v %v", i, status, err)
		}
	}

	clock.Advance(61 * time.Minute)
	status, err := reg.Validate(ctx, "s1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if status != StatusExpired {
		t.Fatalf("expected expired, got %v", status)
	}
	status, err = reg.Touch(ctx, "s1")
	if err != nil || status != StatusInactive {
		t.Fatalf("touch after expiry: %v %v", status, err)
	}

	rec, _, err := reg.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Reason != ReasonExpired {
		t.Fatalf("expected expired reason, got %q", rec.Reason)
	}
}

func TestListOrderFilterAndStatistics(t *testing.T) {
	reg, clock, _, done := newRegistryTest(t, Options{MaxConcurrent: 5, IdleTimeout: time.Hour})
	defer done()
	ctx := context.Background()

	register(t, reg, "a1", "alice")
	clock.Advance(time.Second)
	register(t, reg, "b1", "bob")
	clock.Advance(time.Second)
	register(t, reg, "a2", "alice")
	clock.Advance(time.Second)
	if _, err := reg.Touch(ctx, "a1"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	all, err := reg.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a1", "a2", "b1"}
	if len(all) != len(want) {
		t.Fatalf("expected %d sessions, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].SessionID != id {
			t.Fatalf("position %d: want %s got %s", i, id, all[i].SessionID)
		}
	}

	filtered, err := reg.List(ctx, "BOB", 0)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].UserID != "bob" {
		t.Fatalf("unexpected filter result %+v", filtered)
	}
	limited, err := reg.List(ctx, "", 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected 2 limited results, got %d %v", len(limited), err)
	}

	stats, err := reg.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalActive != 3 || stats.UniqueUsers != 2 || stats.PerUser["alice"] != 2 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
	if stats.CreatedLast24h != 3 || stats.MaxConcurrent != 5 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
}

func TestTerminateUserAndConflict(t *testing.T) {
	reg, _, _, done := newRegistryTest(t, Options{MaxConcurrent: 5})
	defer done()
	ctx := context.Background()

	register(t, reg, "s1", "u-1")
	register(t, reg, "s2", "u-1")
	register(t, reg, "s3", "u-2")

	again := register(t, reg, "s1", "u-1")
	if !again.Existing {
		t.Fatal("re-registering an active id must be reported as existing")
	}
	if _, err := reg.Register(ctx, Registration{SessionID: "s1", UserID: "u-2"}); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	ids, err := reg.TerminateUser(ctx, "u-1", ReasonForced, "admin")
	if err != nil {
		t.Fatalf("terminate user: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 terminated, got %v", ids)
	}
	ids, err = reg.TerminateUser(ctx, "u-1", ReasonForced, "admin")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected nothing left, got %v %v", ids, err)
	}

	remaining, err := reg.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].SessionID != "s3" {
		t.Fatalf("unexpected remaining %+v", remaining)
	}
}

func TestSweepTerminatesOnlyExpired(t *testing.T) {
	reg, clock, _, done := newRegistryTest(t, Options{MaxConcurrent: 5, IdleTimeout: time.Hour})
	defer done()
	ctx := context.Background()

	register(t, reg, "old", "u-1")
	clock.Advance(50 * time.Minute)
	register(t, reg, "fresh", "u-2")
	clock.Advance(20 * time.Minute)

	expired, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(expired) != 1 || expired[0] != "old" {
		t.Fatalf("expected only old to expire, got %v", expired)
	}
	status, err := reg.Validate(ctx, "fresh")
	if err != nil || status != StatusActive {
		t.Fatalf("fresh should stay active: %v %v", status, err)
	}
}

// keyRecorder collects the KEYS declared by every script call.
type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (h *keyRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *keyRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		args := cmd.Args()
		if name := cmd.Name(); (name == "evalsha" || name == "eval") && len(args) > 2 {
			n, _ := args[2].(int)
			h.mu.Lock()
			for _, k := range args[3 : 3+n] {
				h.keys = append(h.keys, fmt.Sprint(k))
			}
			h.mu.Unlock()
		}
		return next(ctx, cmd)
	}
}

func (h *keyRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestScriptKeysShareHashTag(t *testing.T) {
	reg, clock, rdb, done := newRegistryTest(t, Options{MaxConcurrent: 2, IdleTimeout: time.Minute, RetainTerminated: time.Hour})
	defer done()
	rec := &keyRecorder{}
	rdb.AddHook(rec)
	ctx := context.Background()

	register(t, reg, "s1", "u-1")
	register(t, reg, "s2", "u-1")
	register(t, reg, "s3", "u-1")
	clock.Advance(2 * time.Minute)
	if status, err := reg.TouchOwned(ctx, "s2", "u-1"); err != nil || status != StatusExpired {
		t.Fatalf("touch: %v %v", status, err)
	}
	if _, err := reg.Terminate(ctx, "s3", ReasonLogout, ""); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	register(t, reg, "s4", "u-2")
	if _, err := reg.TerminateUser(ctx, "u-2", ReasonForced, "admin"); err != nil {
		t.Fatalf("terminate user: %v", err)
	}

	if len(rec.keys) == 0 {
		t.Fatal("no script keys recorded")
	}
	for _, k := range rec.keys {
		if !strings.HasPrefix(k, "{ags}:") {
			t.Fatalf("script key %q outside the registry hash tag", k)
		}
	}
	stored, err := rdb.Keys(ctx, "*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	for _, k := range stored {
		if !strings.HasPrefix(k, "{ags}:") {
			t.Fatalf("stored key %q outside the registry hash tag", k)
		}
	}
}

func TestRegisterScriptRejectsStaleIndexRead(t *testing.T) {
	reg, _, rdb, done := newRegistryTest(t, Options{MaxConcurrent: 1})
	defer done()
	ctx := context.Background()

	register(t, reg, "s1", "u-1")

	// The caller claims an empty index while it holds s1.
	keys := []string{reg.activeKey(), reg.userKey("u-1"), reg.sessionKey("s2")}
	args := append(reg.preludeArgs(reg.opts.Now()), "s2", "u-1", "", "", "", "", 1, "0")
	raw, err := registerLua.Run(ctx, rdb, keys, args...).Result()
	if err != nil {
		t.Fatalf("register script: %v", err)
	}
	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 3 {
		t.Fatalf("unexpected reply %#v", raw)
	}
	if status, _ := parts[0].(int64); status != statusIndexChanged {
		t.Fatalf("expected index changed status, got %v", parts[0])
	}

	if n, err := rdb.Exists(ctx, reg.sessionKey("s2")).Result(); err != nil || n != 0 {
		t.Fatalf("stale read must not write s2: %d %v", n, err)
	}
	if status, err := reg.Validate(ctx, "s1"); err != nil || status != StatusActive {
		t.Fatalf("s1 must stay active: %v %v", status, err)
	}
}

func TestTerminateOwnedClearsUserIndex(t *testing.T) {
	reg, _, rdb, done := newRegistryTest(t, Options{MaxConcurrent: 5})
	defer done()
	ctx := context.Background()

	register(t, reg, "s1", "u-1")
	register(t, reg, "s2", "u-1")

	if ok, err := reg.TerminateOwned(ctx, "s1", "u-1", ReasonLogout, ""); err != nil || !ok {
		t.Fatalf("terminate owned: %v %v", ok, err)
	}
	if n, _ := rdb.ZCard(ctx, reg.userKey("u-1")).Result(); n != 1 {
		t.Fatalf("expected 1 indexed session, got %d", n)
	}

	// Without the owner the index entry lingers until the next listing.
	if ok, err := reg.Terminate(ctx, "s2", ReasonLogout, ""); err != nil || !ok {
		t.Fatalf("terminate: %v %v", ok, err)
	}
	if n, _ := rdb.ZCard(ctx, reg.userKey("u-1")).Result(); n != 1 {
		t.Fatalf("expected stale entry, got %d", n)
	}
	sessions, err := reg.UserSessions(ctx, "u-1")
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %v %v", sessions, err)
	}
	if n, _ := rdb.ZCard(ctx, reg.userKey("u-1")).Result(); n != 0 {
		t.Fatalf("expected pruned index, got %d", n)
	}
}
