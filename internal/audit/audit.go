package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// SystemActor is recorded when no authenticated user performed the action.
const SystemActor = "system"

// Entry is one append-only audit log record.
type Entry struct {
	ID          string            `json:"id" db:"id"`
	Timestamp   time.Time         `json:"timestamp" db:"created_at"`
	UserName    string            `json:"user_name" db:"user_name"`
	UserID      string            `json:"user_id,omitempty" db:"user_id"`
	TenantID    string            `json:"tenant_id,omitempty" db:"tenant_id"`
	SessionID   string            `json:"session_id,omitempty" db:"session_id"`
	Action      string            `json:"action" db:"action"`
	EntityType  string            `json:"entity_type" db:"entity_type"`
	EntityID    string            `json:"entity_id,omitempty" db:"entity_id"`
	Description string            `json:"description,omitempty" db:"description"`
	IP          string            `json:"ip,omitempty" db:"ip_address"`
	UserAgent   string            `json:"user_agent,omitempty" db:"user_agent"`
	Success     bool              `json:"success" db:"success"`
	Error       string            `json:"error,omitempty" db:"error_code"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"-"`
	OldValues   map[string]any    `json:"old_values,omitempty" db:"-"`
	NewValues   map[string]any    `json:"new_values,omitempty" db:"-"`
}

// Sink receives entries after they were handed to the store.
type Sink interface {
	Emit(ctx context.Context, entry Entry)
}

// NoOpSink drops entries.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Entry) {}

// ChannelSink writes entries into a buffered channel.
type ChannelSink struct {
	entries chan Entry
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		entries: make(chan Entry, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, entry Entry) {
	select {
	case s.entries <- entry:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Entries() <-chan Entry {
	return s.entries
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, entry Entry) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// MultiSink fans an entry out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, entry Entry) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, entry)
		}
	}
}
