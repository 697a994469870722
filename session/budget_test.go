package session

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis hook counting commands sent to the server.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

// measure returns how many commands fn issued.
func (h *cmdCounter) measure(fn func()) int64 {
	h.commands.Store(0)
	fn()
	return h.commands.Load()
}

func TestRegistryRoundTripBudget(t *testing.T) {
	r, _, rdb, cleanup := newRegistryTest(t, Options{MaxConcurrent: 2})
	defer cleanup()
	counter := &cmdCounter{}
	rdb.AddHook(counter)
	ctx := context.Background()

	// The first call of each script loads it.
	register(t, r, "warm", "u0")
	if _, err := r.Touch(ctx, "warm"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if _, err := r.Terminate(ctx, "warm", ReasonLogout, ""); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	// Register reads the user index, then runs its script.
	if n := counter.measure(func() { register(t, r, "s1", "u1") }); n != 2 {
		t.Fatalf("Register used %d commands, want 2", n)
	}
	register(t, r, "s2", "u1")
	if n := counter.measure(func() { register(t, r, "s3", "u1") }); n != 2 {
		t.Fatalf("Register with eviction used %d commands, want 2", n)
	}
	if n := counter.measure(func() {
		if _, err := r.Touch(ctx, "s3"); err != nil {
			t.Fatalf("Touch failed: %v", err)
		}
	}); n != 1 {
		t.Fatalf("Touch used %d commands, want 1", n)
	}
	if n := counter.measure(func() {
		if _, err := r.Terminate(ctx, "s3", ReasonLogout, ""); err != nil {
			t.Fatalf("Terminate failed: %v", err)
		}
	}); n != 1 {
		t.Fatalf("Terminate used %d commands, want 1", n)
	}
}
