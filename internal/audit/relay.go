package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Overflow selects what [Relay.Emit] does when the queue is full.
type Overflow int

const (
	// OverflowBlock waits for room, the caller's context or Close.
	OverflowBlock Overflow = iota
	// OverflowDrop discards the entry and counts it.
	OverflowDrop
)

// Relay forwards entries to a sink on its own goroutine so slow sinks
// never hold up the audited request. The durable store never goes
// through a Relay.
type Relay struct {
	sink     Sink
	overflow Overflow
	queue    chan Entry

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// NewRelay starts a relay with room for buffer queued entries. A nil sink
// yields a nil *Relay, which accepts and ignores everything.
func NewRelay(sink Sink, buffer int, overflow Overflow) *Relay {
	if sink == nil {
		return nil
	}
	if buffer < 1 {
		buffer = 1
	}
	r := &Relay{
		sink:     sink,
		overflow: overflow,
		queue:    make(chan Entry, buffer),
		done:     make(chan struct{}),
	}
	go r.forward()
	return r
}

func (r *Relay) forward() {
	defer close(r.done)
	for entry := range r.queue {
		r.sink.Emit(context.Background(), entry)
		r.forwarded.Add(1)
	}
}

// Emit queues entry for the sink. Entries emitted after Close are counted
// as dropped.
func (r *Relay) Emit(ctx context.Context, entry Entry) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		r.dropped.Add(1)
		return
	}

	if r.overflow == OverflowDrop {
		select {
		case r.queue <- entry:
		default:
			r.dropped.Add(1)
		}
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case r.queue <- entry:
	case <-ctx.Done():
		r.dropped.Add(1)
	}
}

// Close stops accepting entries and waits until everything already queued
// reached the sink.
func (r *Relay) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

// Forwarded returns how many entries reached the sink.
func (r *Relay) Forwarded() uint64 {
	if r == nil {
		return 0
	}
	return r.forwarded.Load()
}

// Dropped returns how many entries never reached the sink.
func (r *Relay) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}
