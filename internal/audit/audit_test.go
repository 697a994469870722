package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memoryStore) AppendAudit(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func TestLoggerCompletesEntries(t *testing.T) {
	store := &memoryStore{}
	logger := NewLogger(store, nil, nil)

	first := logger.Log(context.Background(), Entry{Action: "login_success", EntityType: "User", Success: true})
	second := logger.Log(context.Background(), Entry{Action: "login_success", EntityType: "User", UserName: "alice@example.com"})

	require.Len(t, store.entries, 2)
	assert.Equal(t, SystemActor, first.UserName)
	assert.Equal(t, "alice@example.com", second.UserName)
	assert.Len(t, first.ID, 26)
	assert.Less(t, first.ID, second.ID, "ids must sort in emission order")
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, uint64(2), logger.Written())
}

func TestLoggerStoreFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &memoryStore{err: errors.New("disk full")}
	sink := NewChannelSink(4)
	logger := NewLogger(store, NewRelay(sink, 4, OverflowBlock), zap.New(core))

	entry := logger.Log(context.Background(), Entry{Action: "session_terminated", EntityType: "Session"})
	logger.Close()

	assert.Equal(t, uint64(1), logger.Failures())
	assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())

	select {
	case got := <-sink.Entries():
		assert.Equal(t, entry.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("sink did not receive the entry")
	}
}

func TestSanitizeValues(t *testing.T) {
	long := strings.Repeat("x", 1200)
	when := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	got := SanitizeValues(map[string]any{
		"Password":     "hunter2",
		"api_token":    "abc",
		"description":  long,
		"updated_at":   when,
		"roles":        []string{"ROLE_USER"},
		"active":       true,
		"login_count":  3,
		"nothing_here": nil,
	})

	assert.Equal(t, "***", got["Password"])
	assert.Equal(t, "***", got["api_token"])
	assert.Equal(t, strings.Repeat("x", 1000)+"... (truncated)", got["description"])
	assert.Equal(t, "2025-03-04 05:06:07", got["updated_at"])
	assert.Equal(t, `["ROLE_USER"]`, got["roles"])
	assert.Equal(t, true, got["active"])
	assert.Equal(t, 3, got["login_count"])
	assert.Nil(t, got["nothing_here"])
	assert.Nil(t, SanitizeValues(nil))
}

func TestChangesKeepsOnlyDifferences(t *testing.T) {
	oldValues, newValues := Changes(
		map[string]any{"name": "Ops", "system": false},
		map[string]any{"name": "Operations", "system": false},
	)
	assert.Equal(t, map[string]any{"name": "Ops"}, oldValues)
	assert.Equal(t, map[string]any{"name": "Operations"}, newValues)

	oldValues, newValues = Changes(map[string]any{"a": 1}, map[string]any{"a": 1})
	assert.Empty(t, oldValues)
	assert.Empty(t, newValues)
}

func TestRelayDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := sinkFunc(func(context.Context, Entry) { <-block })
	r := NewRelay(sink, 1, OverflowDrop)

	for i := 0; i < 10; i++ {
		r.Emit(context.Background(), Entry{Action: "login_failure"})
	}
	close(block)
	r.Close()

	assert.Greater(t, r.Dropped(), uint64(0))
	assert.Equal(t, uint64(10), r.Dropped()+r.Forwarded())
}

func TestRelayCloseDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	var got []string
	sink := sinkFunc(func(_ context.Context, e Entry) {
		mu.Lock()
		got = append(got, e.ID)
		mu.Unlock()
	})
	r := NewRelay(sink, 8, OverflowBlock)
	for _, id := range []string{"a", "b", "c"} {
		r.Emit(context.Background(), Entry{ID: id})
	}
	r.Close()
	r.Close()

	assert.Equal(t, []string{"a", "b", "c"}, got)
	r.Emit(context.Background(), Entry{ID: "late"})
	assert.Equal(t, uint64(1), r.Dropped())
}

func TestRelayBlockHonoursContext(t *testing.T) {
	block := make(chan struct{})
	r := NewRelay(sinkFunc(func(context.Context, Entry) { <-block }), 1, OverflowBlock)

	// One entry is held by the sink, one fills the queue.
	r.Emit(context.Background(), Entry{ID: "1"})
	r.Emit(context.Background(), Entry{ID: "2"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r.Emit(ctx, Entry{ID: "3"})

	assert.GreaterOrEqual(t, r.Dropped(), uint64(1))
	close(block)
	r.Close()
}

func TestNilRelay(t *testing.T) {
	var r *Relay
	assert.Nil(t, NewRelay(nil, 4, OverflowDrop))
	r.Emit(context.Background(), Entry{})
	r.Close()
	assert.Zero(t, r.Dropped())
}

func TestJSONWriterAndFileSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Entry{ID: "01", Action: "mfa_required"})
	var decoded Entry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	assert.Equal(t, "mfa_required", decoded.Action)

	path := filepath.Join(t.TempDir(), "audit.log")
	fileSink, err := NewFileSink(FileConfig{Path: path})
	require.NoError(t, err)
	fileSink.Emit(context.Background(), Entry{ID: "02", Action: "session_created", Success: true})
	require.NoError(t, fileSink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"session_created"`)

	_, err = NewFileSink(FileConfig{})
	assert.Error(t, err)
}

type sinkFunc func(context.Context, Entry)

func (f sinkFunc) Emit(ctx context.Context, e Entry) { f(ctx, e) }
