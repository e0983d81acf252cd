package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/handshake/internal"
	"github.com/MrEthical07/handshake/store"
	"go.uber.org/zap"
)

// Unknown tokens still pay for one hash so response time does not tell
// them apart from real challenges.
var (
	dummySalt [internal.SaltSize]byte
	dummyHash = internal.HashCode(dummySalt, "000000")
)

// VerifyChallenge checks code against the challenge behind token and, on
// success, issues the durable session exactly once.
//
// Expired, used and exhausted challenges each have their own error, but
// [PublicCode] folds them and [ErrChallengeNotFound] into one value. A
// wrong code costs one attempt; the last wrong code exhausts the challenge.
func (e *Engine) VerifyChallenge(ctx context.Context, token, code string) (*SessionGrant, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	started := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricVerifyLatency, time.Since(started))
		}
	}()

	if err := e.limiter.CheckVerify(ctx, tenantIDFromContext(ctx), clientIPFromContext(ctx)); err != nil {
		mapped := mapLimiterError(err, ErrVerifyRateLimited, ErrVerifyUnavailable)
		if errors.Is(mapped, ErrVerifyRateLimited) {
			e.metricInc(MetricVerifyRateLimited)
		}
		return nil, mapped
	}

	challengeID, err := internal.DecodeChallengeToken(token, e.config.Challenge.TokenSigningKey)
	if err != nil {
		_ = internal.CodeMatches(dummySalt, code, dummyHash)
		e.metricInc(MetricVerifyNotFound)
		e.emitAudit(ctx, auditEventChallengeFailed, false, auditSubject{}, ErrChallengeNotFound, nil)
		return nil, ErrChallengeNotFound
	}

	found := false
	rec, err := e.challenges.Attempt(ctx, challengeID, e.now(), func(rec *store.Challenge) bool {
		found = true
		return internal.CodeMatches(rec.Salt, code, rec.CodeHash)
	})
	if err != nil {
		if !found {
			_ = internal.CodeMatches(dummySalt, code, dummyHash)
		}
		mapped := e.mapAttemptError(err)
		e.emitAudit(ctx, auditEventChallengeFailed, false, auditSubject{ChallengeID: challengeID}, mapped, nil)
		if errors.Is(mapped, ErrVerifyUnavailable) {
			e.logger.Error("challenge attempt", zap.Error(err))
		}
		return nil, mapped
	}

	e.metricInc(MetricVerifySuccess)
	e.emitAudit(WithTenantID(ctx, rec.TenantID), auditEventChallengeVerified, true, auditSubject{
		UserID:      rec.UserID,
		ChallengeID: rec.ChallengeID,
	}, nil, nil)

	return e.finalize(WithTenantID(ctx, rec.TenantID), rec)
}

// finalize turns a verified challenge into a session. The challenge stays
// consumed even if this fails; the user has to log in again.
func (e *Engine) finalize(ctx context.Context, rec *store.Challenge) (*SessionGrant, error) {
	subject := auditSubject{UserID: rec.UserID, ChallengeID: rec.ChallengeID}

	fail := func(err error) (*SessionGrant, error) {
		e.metricInc(MetricSessionIssueFailure)
		e.emitAudit(ctx, auditEventSessionIssued, false, subject, ErrSessionIssuanceFailed, nil)
		e.logger.Error("session issuance failed", zap.String("user_id", rec.UserID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionIssuanceFailed, err)
	}

	profile, err := e.directory.GetUser(ctx, rec.UserID)
	if err != nil {
		return fail(err)
	}

	grant, err := e.sessions.IssueSession(ctx, profile)
	if err != nil {
		return fail(err)
	}

	if grant.UserID == "" {
		grant.UserID = profile.UserID
	}
	if grant.TenantID == "" {
		grant.TenantID = tenantIDFromContext(ctx)
	}
	grant.RedirectPath = e.config.Redirect.ResolveLandingPath(profile, rec.RedirectHint)
	if u, ok := e.config.Redirect.FrontendURLFor(grant.RedirectPath, nil); ok {
		grant.RedirectURL = u
	}

	subject.SessionID = grant.SessionID
	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, subject, nil, func() map[string]string {
		return map[string]string{"redirect": grant.RedirectPath}
	})

	return &grant, nil
}

func (e *Engine) mapAttemptError(err error) error {
	switch {
	case errors.Is(err, store.ErrChallengeNotFound):
		e.metricInc(MetricVerifyNotFound)
		return ErrChallengeNotFound
	case errors.Is(err, store.ErrChallengeExpired):
		e.metricInc(MetricVerifyExpired)
		return ErrChallengeExpired
	case errors.Is(err, store.ErrChallengeConsumed):
		e.metricInc(MetricVerifyReplay)
		return ErrChallengeAlreadyUsed
	case errors.Is(err, store.ErrChallengeMismatch):
		e.metricInc(MetricVerifyInvalidCode)
		return ErrChallengeInvalidCode
	case errors.Is(err, store.ErrChallengeExhausted):
		e.metricInc(MetricVerifyExhausted)
		return ErrChallengeExhausted
	default:
		return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
}
