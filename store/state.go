package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStateNotFound is returned for unknown, expired or already taken handshake state.
	ErrStateNotFound = errors.New("handshake state not found")
	// ErrStateBackend wraps storage failures.
	ErrStateBackend = errors.New("handshake state backend unavailable")
)

// HandshakeState is the pre-authentication state of one in-flight OAuth
// handshake. ReturnHint is already validated when it is stored.
type HandshakeState struct {
	State        string    `json:"state"`
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce"`
	ReturnHint   string    `json:"return_hint,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// StateStore keeps handshake state until the callback takes it. Take is
// single use: a second Take for the same state returns ErrStateNotFound.
type StateStore interface {
	Put(ctx context.Context, st *HandshakeState) error
	Take(ctx context.Context, state string, now time.Time) (*HandshakeState, error)
}

// RedisStateStore is a Redis-backed [StateStore].
type RedisStateStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStateStore returns a [StateStore] keyed under prefix.
func NewRedisStateStore(redisClient redis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "hss"
	}
	return &RedisStateStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStateStore) key(state string) string {
	return s.prefix + ":" + state
}

// Put implements [StateStore].
func (s *RedisStateStore) Put(ctx context.Context, st *HandshakeState) error {
	if st == nil || st.State == "" {
		return errors.New("handshake state incomplete")
	}
	ttl := st.ExpiresAt.Sub(st.CreatedAt)
	if ttl <= 0 {
		return errors.New("handshake state lifetime must be positive")
	}

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(st.State), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateBackend, err)
	}
	return nil
}

// Take implements [StateStore] with GETDEL.
func (s *RedisStateStore) Take(ctx context.Context, state string, now time.Time) (*HandshakeState, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}

	data, err := s.redis.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStateBackend, err)
	}

	var st HandshakeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, ErrStateNotFound
	}
	if now.After(st.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &st, nil
}

// MemoryStateStore is an in-process [StateStore].
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]HandshakeState
}

// NewMemoryStateStore returns an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]HandshakeState)}
}

// Put implements [StateStore]. Expired entries are pruned on write.
func (s *MemoryStateStore) Put(_ context.Context, st *HandshakeState) error {
	if st == nil || st.State == "" {
		return errors.New("handshake state incomplete")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.states {
		if st.CreatedAt.After(existing.ExpiresAt) {
			delete(s.states, key)
		}
	}
	s.states[st.State] = *st
	return nil
}

// Take implements [StateStore].
func (s *MemoryStateStore) Take(_ context.Context, state string, now time.Time) (*HandshakeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.states, state)
	if now.After(st.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &st, nil
}
