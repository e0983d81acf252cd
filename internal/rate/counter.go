package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments fixed-window counters. The first increment of a key
// opens its window; the count resets once the window has elapsed.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements [Counter] with INCR and EXPIRE.
type RedisCounter struct {
	redis redis.UniversalClient
}

// NewRedisCounter creates a [RedisCounter] backed by the given Redis client.
func NewRedisCounter(redisClient redis.UniversalClient) *RedisCounter {
	return &RedisCounter{redis: redisClient}
}

// Incr implements [Counter].
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := c.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter implements [Counter] in process memory.
type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*memoryWindow
}

// NewMemoryCounter creates a [MemoryCounter]. now defaults to time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{
		now:     now,
		windows: make(map[string]*memoryWindow),
	}
}

// Incr implements [Counter].
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}
