package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/handshake/internal/rate"
)

func testConfig() ChallengeConfig {
	return ChallengeConfig{
		EnableIPThrottle: true,
		IssueWindow:      time.Minute,
		MaxIssuesPerUser: 2,
		MaxIssuesPerIP:   3,
		VerifyWindow:     time.Minute,
		MaxVerifiesPerIP: 2,
	}
}

func TestChallengeLimiterIssuePerUser(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewChallengeLimiter(rate.NewRedisCounter(rdb), testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckIssue(ctx, "", "u1", ""); err != nil {
			t.Fatalf("issue %d: %v", i+1, err)
		}
	}
	if err := l.CheckIssue(ctx, "", "u1", ""); !errors.Is(err, ErrChallengeRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if err := l.CheckIssue(ctx, "", "u2", ""); err != nil {
		t.Fatalf("other user must not be limited: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckIssue(ctx, "", "u1", ""); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestChallengeLimiterIssuePerIP(t *testing.T) {
	l := NewChallengeLimiter(rate.NewMemoryCounter(nil), testConfig())
	ctx := context.Background()

	for i, user := range []string{"a", "b", "c"} {
		if err := l.CheckIssue(ctx, "", user, "10.0.0.1"); err != nil {
			t.Fatalf("issue %d: %v", i+1, err)
		}
	}
	if err := l.CheckIssue(ctx, "", "d", "10.0.0.1"); !errors.Is(err, ErrChallengeRateLimited) {
		t.Fatalf("expected ip rate limit, got %v", err)
	}
}

func TestChallengeLimiterVerifyPerIP(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewChallengeLimiter(rate.NewMemoryCounter(func() time.Time { return now }), testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckVerify(ctx, "", "10.0.0.1"); err != nil {
			t.Fatalf("verify %d: %v", i+1, err)
		}
	}
	if err := l.CheckVerify(ctx, "", "10.0.0.1"); !errors.Is(err, ErrChallengeRateLimited) {
		t.Fatalf("expected verify rate limit, got %v", err)
	}
	if err := l.CheckVerify(ctx, "", ""); err != nil {
		t.Fatalf("missing ip must not be limited: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := l.CheckVerify(ctx, "", "10.0.0.1"); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestChallengeLimiterNilSafeAndUnavailable(t *testing.T) {
	var l *ChallengeLimiter
	if err := l.CheckIssue(context.Background(), "", "u1", "ip"); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	l = NewChallengeLimiter(rate.NewRedisCounter(rdb), testConfig())
	if err := l.CheckIssue(context.Background(), "", "u1", ""); !errors.Is(err, ErrChallengeLimiterUnavailable) {
		t.Fatalf("expected limiter unavailable, got %v", err)
	}
}
