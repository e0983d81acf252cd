package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// createChallengeLua atomically replaces the user's active challenge.
// KEYS[1] = user index key
// KEYS[2] = new challenge key
// ARGV[1] = encoded record
// ARGV[2] = record ttl in milliseconds
// ARGV[3] = challenge key prefix
// ARGV[4] = new challenge id
//
// Returns the encoded record it replaced, or nil when there was none.
var createChallengeLua = redis.NewScript(`
local prior = redis.call('GET', KEYS[1])
local replaced = false
if prior then
  replaced = redis.call('GET', ARGV[3] .. prior)
  redis.call('DEL', ARGV[3] .. prior)
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[1], ARGV[4], 'PX', ARGV[2])
return replaced
`)

// invalidateChallengeLua removes a challenge and clears the user index only
// if it still points at that challenge.
// KEYS[1] = user index key
// KEYS[2] = challenge key
// ARGV[1] = challenge id
var invalidateChallengeLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
end
return redis.call('DEL', KEYS[2])
`)

// RedisChallengeStore keeps challenges in a single Redis primary. The create
// script derives the prior challenge key at runtime, so the store is not
// Cluster-safe.
type RedisChallengeStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisChallengeStore returns a Redis-backed [ChallengeStore]. Records
// are kept for retention after expiry so late attempts can still be told
// apart from replays.
func NewRedisChallengeStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *RedisChallengeStore {
	if prefix == "" {
		prefix = "hsc"
	}
	return &RedisChallengeStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *RedisChallengeStore) challengePrefix() string {
	return s.prefix + ":c:"
}

func (s *RedisChallengeStore) key(challengeID string) string {
	return s.challengePrefix() + challengeID
}

func (s *RedisChallengeStore) userKey(tenantID, userID string) string {
	return s.prefix + ":u:" + normalizeTenantID(tenantID) + ":" + userID
}

// Create implements [ChallengeStore].
func (s *RedisChallengeStore) Create(ctx context.Context, rec *Challenge) (bool, error) {
	if rec == nil || rec.ChallengeID == "" || rec.UserID == "" {
		return false, errors.New("challenge record incomplete")
	}

	ttl := rec.ExpiresAt.Sub(rec.CreatedAt) + s.retention
	if ttl <= 0 {
		return false, errors.New("challenge lifetime must be positive")
	}

	encoded, err := encodeChallenge(rec)
	if err != nil {
		return false, err
	}

	res, err := createChallengeLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(rec.TenantID, rec.UserID), s.key(rec.ChallengeID)},
		encoded,
		ttl.Milliseconds(),
		s.challengePrefix(),
		rec.ChallengeID,
	).Text()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	prior, err := decodeChallenge([]byte(res))
	if err != nil {
		// The new record is stored; an unreadable predecessor was never
		// redeemable.
		return false, nil
	}
	return supersedes(prior, rec.CreatedAt), nil
}

// Attempt implements [ChallengeStore] with an optimistic WATCH/MULTI loop.
func (s *RedisChallengeStore) Attempt(
	ctx context.Context,
	challengeID string,
	now time.Time,
	match MatchFunc,
) (*Challenge, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var (
			result  *Challenge
			verdict error
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				verdict = ErrChallengeNotFound
				return nil
			}
			record.ChallengeID = challengeID

			next, v := transition(record, now, match)
			verdict = v
			if next == nil {
				return nil
			}

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				verdict = ErrChallengeExpired
				return nil
			}

			encoded, err := encodeChallenge(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			result = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrChallengeNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		if verdict != nil {
			return nil, verdict
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: too much contention", ErrChallengeBackend)
}

// Invalidate implements [ChallengeStore].
func (s *RedisChallengeStore) Invalidate(ctx context.Context, tenantID, userID, challengeID string) error {
	err := invalidateChallengeLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(tenantID, userID), s.key(challengeID)},
		challengeID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}
