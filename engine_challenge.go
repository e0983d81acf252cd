package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/MrEthical07/handshake/internal"
	"github.com/MrEthical07/handshake/internal/limiters"
	"github.com/MrEthical07/handshake/store"
	"go.uber.org/zap"
)

const compensationTimeout = 5 * time.Second

type issueRequest struct {
	UserID      string
	Email       string
	DisplayName string
	Hint        string
}

// IssueChallenge creates a fresh one-time code for userID, supersedes any
// active challenge of that user and mails the code to email. redirectHint
// is kept only if it is a same-origin path.
//
// If delivery fails the new challenge is invalidated before
// [ErrIssuanceDeliveryFailed] is returned, so no challenge the user cannot
// satisfy is left behind.
func (e *Engine) IssueChallenge(ctx context.Context, userID, email, redirectHint string) (*ChallengeTicket, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.issueChallenge(ctx, issueRequest{
		UserID: userID,
		Email:  email,
		Hint:   redirectHint,
	})
}

// Login completes the provider callback, clears any session on the
// inbound request and issues the challenge for the resolved user. The
// return hint captured by [Engine.BeginHandshake] travels with the
// challenge.
//
// boundary may be nil when the request carries no session. It is invoked
// after the handshake and again on every failure that follows redemption
// of the browser-bound state.
func (e *Engine) Login(ctx context.Context, params CallbackParams, boundary SessionBoundary) (*ChallengeTicket, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	result, redeemed, err := e.redeemCallback(ctx, params)
	if err != nil {
		// A callback that never redeemed a bound state is not part of a
		// login in progress, so the session it arrived with is left alone.
		if !redeemed {
			return nil, err
		}
		if terr := e.teardownBoundary(ctx, boundary, "handshake_failed"); terr != nil {
			return nil, errors.Join(err, terr)
		}
		return nil, err
	}

	if err := e.teardownBoundary(ctx, boundary, "handshake_complete"); err != nil {
		return nil, err
	}

	ctx = WithTenantID(ctx, result.TenantID)
	ticket, err := e.issueChallenge(ctx, issueRequest{
		UserID:      result.Profile.UserID,
		Email:       result.Profile.Email,
		DisplayName: result.Profile.DisplayName,
		Hint:        result.ReturnHint,
	})
	if err != nil {
		if terr := e.teardownBoundary(ctx, boundary, "issuance_failed"); terr != nil {
			return nil, errors.Join(err, terr)
		}
		return nil, err
	}

	return ticket, nil
}

func (e *Engine) issueChallenge(ctx context.Context, req issueRequest) (*ChallengeTicket, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRecipient)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}

	tenantID := tenantIDFromContext(ctx)
	subject := auditSubject{UserID: req.UserID}

	if err := e.limiter.CheckIssue(ctx, tenantID, req.UserID, clientIPFromContext(ctx)); err != nil {
		mapped := mapLimiterError(err, ErrIssuanceRateLimited, ErrIssuanceUnavailable)
		if errors.Is(mapped, ErrIssuanceRateLimited) {
			e.metricInc(MetricChallengeRateLimited)
			e.emitAudit(ctx, auditEventChallengeRateLimited, false, subject, mapped, nil)
		}
		return nil, mapped
	}

	code, err := internal.NewCode(e.config.Challenge.CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceUnavailable, err)
	}
	salt, err := internal.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceUnavailable, err)
	}
	challengeID, err := internal.NewOpaqueID(internal.ChallengeIDSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceUnavailable, err)
	}
	subject.ChallengeID = challengeID

	hint, _ := SanitizeReturnHint(req.Hint, e.config.Redirect.MaxHintLength)

	now := e.now()
	rec := &store.Challenge{
		ChallengeID:       challengeID,
		UserID:            req.UserID,
		TenantID:          tenantID,
		Email:             req.Email,
		RedirectHint:      hint,
		Salt:              salt,
		CodeHash:          internal.HashCode(salt, code),
		CreatedAt:         now,
		ExpiresAt:         now.Add(e.config.Challenge.TTL),
		AttemptsRemaining: uint16(e.config.Challenge.MaxAttempts),
		Status:            store.StatusIssued,
	}

	superseded, err := e.challenges.Create(ctx, rec)
	if err != nil {
		e.logger.Error("create challenge", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrIssuanceUnavailable, err)
	}
	if superseded {
		e.metricInc(MetricChallengeSuperseded)
		e.emitAudit(ctx, auditEventChallengeSuperseded, true, auditSubject{UserID: req.UserID}, nil, nil)
	}

	// The store is no longer involved past this point; delivery may block
	// for up to DeliveryTimeout without holding anything.
	if err := e.deliverCode(ctx, req, code); err != nil {
		e.compensateDelivery(ctx, rec)
		e.metricInc(MetricChallengeDeliveryFailed)
		e.emitAudit(ctx, auditEventChallengeDelivery, false, subject, ErrIssuanceDeliveryFailed, nil)
		e.logger.Warn("challenge delivery failed", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrIssuanceDeliveryFailed, err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventChallengeIssued, true, subject, nil, func() map[string]string {
		return map[string]string{"expires_at": rec.ExpiresAt.UTC().Format(time.RFC3339)}
	})

	return &ChallengeTicket{
		Token:     internal.EncodeChallengeToken(challengeID, e.config.Challenge.TokenSigningKey),
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (e *Engine) deliverCode(ctx context.Context, req issueRequest, code string) error {
	if e.config.Challenge.DebugLogCodes {
		e.logger.Warn("challenge code delivered to log",
			zap.String("user_id", req.UserID),
			zap.String("email", req.Email),
			zap.String("code", code),
		)
		return nil
	}

	msg, err := e.renderer.Render(CodeEmail{
		To:          req.Email,
		DisplayName: req.DisplayName,
		Code:        code,
		ExpiresIn:   e.config.Challenge.TTL,
		Subject:     e.config.Challenge.EmailSubject,
	})
	if err != nil {
		return fmt.Errorf("render code email: %w", err)
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, e.config.Challenge.DeliveryTimeout)
	defer cancel()

	return e.notifier.Send(deliveryCtx, msg)
}

// compensateDelivery removes a challenge whose code never reached the user.
// It runs detached from the request so a client disconnect cannot skip it.
func (e *Engine) compensateDelivery(ctx context.Context, rec *store.Challenge) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := e.challenges.Invalidate(cctx, rec.TenantID, rec.UserID, rec.ChallengeID); err != nil {
		e.logger.Error("invalidate undelivered challenge",
			zap.String("user_id", rec.UserID),
			zap.Error(err),
		)
	}
}

func mapLimiterError(err error, limited, unavailable error) error {
	switch {
	case errors.Is(err, limiters.ErrChallengeRateLimited):
		return limited
	default:
		return fmt.Errorf("%w: %v", unavailable, err)
	}
}
