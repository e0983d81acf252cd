package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/handshake/internal/rate"
)

var (
	ErrChallengeRateLimited        = errors.New("challenge rate limited")
	ErrChallengeLimiterUnavailable = errors.New("challenge limiter unavailable")
)

type ChallengeConfig struct {
	EnableIPThrottle bool
	IssueWindow      time.Duration
	MaxIssuesPerUser int
	MaxIssuesPerIP   int
	VerifyWindow     time.Duration
	MaxVerifiesPerIP int
}

type ChallengeLimiter struct {
	counter rate.Counter
	config  ChallengeConfig
}

func NewChallengeLimiter(counter rate.Counter, cfg ChallengeConfig) *ChallengeLimiter {
	return &ChallengeLimiter{
		counter: counter,
		config:  cfg,
	}
}

func (l *ChallengeLimiter) CheckIssue(ctx context.Context, tenantID, userID, ip string) error {
	if l == nil || l.counter == nil {
		return nil
	}

	if err := l.enforceFixedWindow(ctx, issueUserKey(tenantID, userID), l.config.IssueWindow, l.config.MaxIssuesPerUser); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, issueIPKey(tenantID, ip), l.config.IssueWindow, l.config.MaxIssuesPerIP); err != nil {
			return err
		}
	}
	return nil
}

func (l *ChallengeLimiter) CheckVerify(ctx context.Context, tenantID, ip string) error {
	if l == nil || l.counter == nil {
		return nil
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, verifyIPKey(tenantID, ip), l.config.VerifyWindow, l.config.MaxVerifiesPerIP); err != nil {
			return err
		}
	}
	return nil
}

func (l *ChallengeLimiter) enforceFixedWindow(ctx context.Context, key string, window time.Duration, limit int) error {
	if limit <= 0 || window <= 0 {
		return nil
	}

	count, err := l.counter.Incr(ctx, key, window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeLimiterUnavailable, err)
	}
	if count > int64(limit) {
		return ErrChallengeRateLimited
	}
	return nil
}

func issueUserKey(tenantID, userID string) string {
	return "hci:" + normalizeTenantID(tenantID) + ":" + userID
}

func issueIPKey(tenantID, ip string) string {
	return "hcip:" + normalizeTenantID(tenantID) + ":" + ip
}

func verifyIPKey(tenantID, ip string) string {
	return "hcvip:" + normalizeTenantID(tenantID) + ":" + ip
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}
