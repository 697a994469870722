// Command goaccess-loadtest drives the Redis session registry with
// concurrent logins and activity, then checks that no user ever holds more
// sessions than the configured cap.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAccess/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		users       = flag.Int("users", 1000, "number of distinct users")
		logins      = flag.Int("logins", 20000, "session registrations across all users")
		ops         = flag.Int("ops", 100000, "activity checks in the touch phase")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		maxSessions = flag.Int("max-sessions", 5, "per-user concurrent session cap")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ags-loadtest", "registry key prefix")
	)
	flag.Parse()

	if *users <= 0 || *logins <= 0 || *ops <= 0 || *concurrency <= 0 || *maxSessions <= 0 {
		fmt.Fprintln(os.Stderr, "users, logins, ops, concurrency and max-sessions must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	registry := session.NewRegistry(client, session.Options{
		Prefix:           *prefix,
		MaxConcurrent:    *maxSessions,
		IdleTimeout:      time.Hour,
		AbsoluteLifetime: 12 * time.Hour,
		RetainTerminated: time.Hour,
	})

	userIDs := make([]string, *users)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("user-%d", i)
	}

	live := newSessionPool()
	register := runPhase(*logins, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		uid := userIDs[r.Intn(len(userIDs))]
		sid := uuid.NewString()
		_, err := registry.Register(ctx, session.Registration{
			SessionID: sid,
			UserID:    uid,
			Email:     uid + "@loadtest.invalid",
			IP:        "127.0.0.1",
			UserAgent: "goaccess-loadtest",
		})
		if err != nil {
			return err
		}
		live.add(sid)
		return nil
	})

	touch := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		_, err := registry.Touch(ctx, live.pick(r))
		return err
	})

	violations, err := checkCap(ctx, registry, userIDs, *maxSessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cap check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("register", register)
	printStats("touch", touch)
	fmt.Printf("cap violations: %d\n", violations)
	if violations > 0 || register.failures > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// checkCap counts users holding more active sessions than limit.
func checkCap(ctx context.Context, registry *session.Registry, userIDs []string, limit int) (int, error) {
	violations := 0
	for _, uid := range userIDs {
		sessions, err := registry.UserSessions(ctx, uid)
		if err != nil {
			return 0, err
		}
		if len(sessions) > limit {
			violations++
			fmt.Fprintf(os.Stderr, "user %s holds %d sessions\n", uid, len(sessions))
		}
	}
	return violations, nil
}

// sessionPool collects registered ids for the touch phase. Evicted ids stay
// in the pool, so some touches observe terminated sessions.
type sessionPool struct {
	mu  sync.Mutex
	ids []string
}

func newSessionPool() *sessionPool {
	return &sessionPool{}
}

func (p *sessionPool) add(id string) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *sessionPool) pick(r *rand.Rand) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return ""
	}
	return p.ids[r.Intn(len(p.ids))]
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
