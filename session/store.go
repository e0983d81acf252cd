package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned for unknown, expired or revoked sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Store persists durable sessions.
type Store interface {
	Save(ctx context.Context, sess *Session, ttl time.Duration) error
	Get(ctx context.Context, tenantID, sessionID string) (*Session, error)
	Delete(ctx context.Context, tenantID, sessionID string) error
	DeleteAllForUser(ctx context.Context, tenantID, userID string) error
}

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisStore keeps sessions as binary records with a per-user index set.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. prefix defaults to "hs".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hs"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) key(tenantID, sessionID string) string {
	return s.prefix + ":s:" + normalizeTenantID(tenantID) + ":" + sessionID
}

func (s *RedisStore) userKey(tenantID, userID string) string {
	return s.prefix + ":u:" + normalizeTenantID(tenantID) + ":" + userID
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Save persists sess for ttl and adds it to the user index.
func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	sessionKey := s.key(sess.TenantID, sess.SessionID)
	userKey := s.userKey(sess.TenantID, sess.UserID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session. Undecodable records count as missing.
func (s *RedisStore) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	sess.SessionID = sessionID
	return sess, nil
}

// Delete removes one session. Deleting a missing session is not an error.
func (s *RedisStore) Delete(ctx context.Context, tenantID, sessionID string) error {
	sess, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return s.deleteKey(ctx, tenantID, sessionID)
		}
		return err
	}

	err = deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(tenantID, sessionID), s.userKey(tenantID, sess.UserID)},
		sessionID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) deleteKey(ctx context.Context, tenantID, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(tenantID, sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session in the user index. A session saved
// concurrently with this call may survive it.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, tenantID, userID string) error {
	userKey := s.userKey(tenantID, userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(tenantID, id))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// MemoryStore implements [Store] in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	sess     Session
	deadline time.Time
}

// NewMemoryStore creates a [MemoryStore]. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		sessions: make(map[string]memoryEntry),
	}
}

func memoryKey(tenantID, sessionID string) string {
	return normalizeTenantID(tenantID) + ":" + sessionID
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, sess *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[memoryKey(sess.TenantID, sess.SessionID)] = memoryEntry{
		sess:     *sess,
		deadline: s.now().Add(ttl),
	}
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, tenantID, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(tenantID, sessionID)
	entry, ok := s.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !s.now().Before(entry.deadline) {
		delete(s.sessions, key)
		return nil, ErrSessionNotFound
	}
	out := entry.sess
	return &out, nil
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, memoryKey(tenantID, sessionID))
	return nil
}

// DeleteAllForUser implements [Store].
func (s *MemoryStore) DeleteAllForUser(_ context.Context, tenantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID = normalizeTenantID(tenantID)
	for key, entry := range s.sessions {
		if normalizeTenantID(entry.sess.TenantID) == tenantID && entry.sess.UserID == userID {
			delete(s.sessions, key)
		}
	}
	return nil
}
