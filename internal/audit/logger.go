package audit

import (
	"context"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Store is the durable append-only audit log.
type Store interface {
	AppendAudit(ctx context.Context, entry Entry) error
}

// Logger completes entries, writes them to the store synchronously and then
// hands them to the relay. A store failure is logged and counted but
// never returned: the audited action has already happened.
type Logger struct {
	store Store
	relay *Relay
	log   *zap.Logger
	now   func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	written  atomic.Uint64
	failures atomic.Uint64
}

// NewLogger returns a Logger. store and relay may be nil.
func NewLogger(store Store, relay *Relay, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		store:   store,
		relay:   relay,
		log:     logger,
		now:     time.Now,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Log records entry and returns the completed form.
func (l *Logger) Log(ctx context.Context, entry Entry) Entry {
	if l == nil {
		return entry
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = l.newID(entry.Timestamp)
	}
	if entry.UserName == "" {
		entry.UserName = SystemActor
	}
	entry.Description = truncate(entry.Description)
	entry.OldValues = SanitizeValues(entry.OldValues)
	entry.NewValues = SanitizeValues(entry.NewValues)

	if l.store != nil {
		if err := l.store.AppendAudit(ctx, entry); err != nil {
			l.failures.Add(1)
			l.log.Error("audit write failed",
				zap.Error(err),
				zap.String("audit_id", entry.ID),
				zap.String("action", entry.Action),
				zap.String("entity_type", entry.EntityType),
			)
		} else {
			l.written.Add(1)
		}
	}

	l.relay.Emit(ctx, entry)
	return entry
}

// Written returns the number of entries persisted to the store.
func (l *Logger) Written() uint64 {
	if l == nil {
		return 0
	}
	return l.written.Load()
}

// Failures returns the number of store writes that failed.
func (l *Logger) Failures() uint64 {
	if l == nil {
		return 0
	}
	return l.failures.Load()
}

// Dropped returns entries the relay could not hand to its sink.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.relay.Dropped()
}

// Close drains the relay.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.relay.Close()
}

func (l *Logger) newID(ts time.Time) string {
	l.entropyMu.Lock()
	defer l.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), l.entropy).String()
}
