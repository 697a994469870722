package mfa

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	// ErrChallengeNotFound is returned when no pending challenge exists for
	// the key, including after expiry.
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	// ErrChallengeBackend wraps Redis failures.
	ErrChallengeBackend = errors.New("mfa challenge backend unavailable")
	// ErrChallengeConsumed is returned by MarkVerified when the challenge
	// left the pending phase first.
	ErrChallengeConsumed = errors.New("mfa challenge already consumed")
)

// ChallengeStore keeps challenge state per pre-authentication session key.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewChallengeStore returns a store writing under prefix with the given
// challenge lifetime.
func NewChallengeStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *ChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *ChallengeStore) key(sessionKey string) string {
	return s.prefix + ":" + sessionKey
}

// Save stores state under sessionKey for the configured lifetime.
func (s *ChallengeStore) Save(ctx context.Context, sessionKey string, state State) error {
	encoded, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionKey), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get loads the state stored under sessionKey.
func (s *ChallengeStore) Get(ctx context.Context, sessionKey string) (State, error) {
	data, err := s.redis.Get(ctx, s.key(sessionKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrChallengeNotFound
		}
		return State{}, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return decodeState(data)
}

// Delete removes the state. It reports whether a record existed.
func (s *ChallengeStore) Delete(ctx context.Context, sessionKey string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionKey)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter of a pending challenge and
// returns the new count. The remaining lifetime is preserved.
func (s *ChallengeStore) RecordFailure(ctx context.Context, sessionKey string) (int, error) {
	const maxRetries = 4
	key := s.key(sessionKey)

	for i := 0; i < maxRetries; i++ {
		var attempts int
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			state, err := decodeState(data)
			if err != nil {
				return err
			}
			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return redis.Nil
			}

			state.Attempts++
			attempts = int(state.Attempts)
			updated, err := encodeState(state)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return 0, ErrChallengeNotFound
			}
			return 0, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return attempts, nil
	}

	return 0, fmt.Errorf("%w: too much contention", ErrChallengeBackend)
}

// MarkVerified replaces a pending challenge with verified. Exactly one of
// several concurrent callers succeeds; the others get ErrChallengeConsumed.
func (s *ChallengeStore) MarkVerified(ctx context.Context, sessionKey string, verified State) error {
	const maxRetries = 4
	key := s.key(sessionKey)
	encoded, err := encodeState(verified)
	if err != nil {
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			current, err := decodeState(data)
			if err != nil {
				return err
			}
			if !current.IsPending() {
				return ErrChallengeConsumed
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrChallengeConsumed):
			return err
		case errors.Is(err, redis.Nil):
			return ErrChallengeNotFound
		default:
			return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
	}

	return fmt.Errorf("%w: too much contention", ErrChallengeBackend)
}

func encodeState(state State) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(byte(state.Phase))

	if err := binary.Write(&buf, binary.BigEndian, state.Attempts); err != nil {
		return nil, err
	}
	var issued int64
	if !state.IssuedAt.IsZero() {
		issued = state.IssuedAt.UnixNano()
	}
	if err := binary.Write(&buf, binary.BigEndian, issued); err != nil {
		return nil, err
	}

	for _, field := range []string{state.UserID, state.TenantID, state.TargetPath} {
		if len(field) > 65535 {
			return nil, errors.New("mfa challenge field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeState(data []byte) (State, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return State{}, err
	}
	if version != challengeRecordVersion1 {
		return State{}, errors.New("invalid mfa challenge version")
	}

	phase, err := reader.ReadByte()
	if err != nil {
		return State{}, err
	}
	state := State{Phase: Phase(phase)}
	if err := binary.Read(reader, binary.BigEndian, &state.Attempts); err != nil {
		return State{}, err
	}
	var issued int64
	if err := binary.Read(reader, binary.BigEndian, &issued); err != nil {
		return State{}, err
	}
	if issued != 0 {
		state.IssuedAt = time.Unix(0, issued)
	}

	fields := []*string{&state.UserID, &state.TenantID, &state.TargetPath}
	for _, field := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return State{}, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return State{}, err
		}
		*field = string(raw)
	}

	return state, nil
}
