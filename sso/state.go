package sso

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goAccess"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultStateTTL bounds the time between redirect and callback.
	DefaultStateTTL = 10 * time.Minute
	// DefaultStateCapacity bounds the number of outstanding round trips.
	DefaultStateCapacity = 4096

	stateBytes = 32
)

// ErrInvalidState is returned when a callback presents an unknown, expired
// or already used state value. It classifies as invalid credentials.
var ErrInvalidState = fmt.Errorf("%w: sso state unknown or expired", goAccess.ErrInvalidCredentials)

// Pending is what a state value resolves to on callback.
type Pending struct {
	// Target is the deep link captured before the redirect.
	Target string
	// RequestID is the SAML AuthnRequest id, empty for OIDC.
	RequestID string
}

// StateStore issues single use state values for redirect round trips.
type StateStore struct {
	mu      sync.Mutex
	pending *expirable.LRU[string, Pending]
}

// NewStateStore creates a store holding at most capacity states for ttl.
// Non-positive arguments fall back to the package defaults.
func NewStateStore(capacity int, ttl time.Duration) *StateStore {
	if capacity <= 0 {
		capacity = DefaultStateCapacity
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{pending: expirable.NewLRU[string, Pending](capacity, nil, ttl)}
}

// Issue stores p under a fresh random state value and returns the value.
func (s *StateStore) Issue(p Pending) (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.pending.Add(state, p)
	s.mu.Unlock()
	return state, nil
}

// Consume resolves and removes state. A state resolves at most once.
func (s *StateStore) Consume(state string) (Pending, error) {
	if state == "" {
		return Pending{}, ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending.Get(state)
	if !ok {
		return Pending{}, ErrInvalidState
	}
	s.pending.Remove(state)
	return p, nil
}

// Len reports the number of outstanding states.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}
