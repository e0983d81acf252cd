package handshake

import (
	"context"
	"errors"
)

const (
	auditEventHandshakeBegin       = "handshake_begin"
	auditEventHandshakeSuccess     = "handshake_success"
	auditEventHandshakeFailure     = "handshake_failure"
	auditEventChallengeIssued      = "challenge_issued"
	auditEventChallengeSuperseded  = "challenge_superseded"
	auditEventChallengeDelivery    = "challenge_delivery_failed"
	auditEventChallengeRateLimited = "challenge_rate_limited"
	auditEventChallengeVerified    = "challenge_verified"
	auditEventChallengeFailed      = "challenge_failed"
	auditEventSessionIssued        = "session_issued"
	auditEventSessionTeardown      = "session_teardown"
)

// AuditErrorCode is the error vocabulary recorded in audit events. It is
// finer grained than [PublicCode] because audit records stay server side.
type AuditErrorCode string

const (
	auditErrDenied          AuditErrorCode = "denied"
	auditErrMalformed       AuditErrorCode = "malformed"
	auditErrProviderDown    AuditErrorCode = "provider_unavailable"
	auditErrUnknownProvider AuditErrorCode = "unknown_provider"
	auditErrResolution      AuditErrorCode = "identity_resolution"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrDelivery        AuditErrorCode = "delivery_failed"
	auditErrNotFound        AuditErrorCode = "not_found"
	auditErrExpired         AuditErrorCode = "expired"
	auditErrAlreadyUsed     AuditErrorCode = "already_used"
	auditErrInvalidCode     AuditErrorCode = "invalid_code"
	auditErrExhausted       AuditErrorCode = "exhausted"
	auditErrSessionIssuance AuditErrorCode = "session_issuance_failed"
	auditErrSessionTeardown AuditErrorCode = "session_teardown_failed"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

type auditSubject struct {
	UserID      string
	SessionID   string
	ChallengeID string
	Provider    string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		UserID:      subject.UserID,
		TenantID:    tenantIDFromContext(ctx),
		SessionID:   subject.SessionID,
		ChallengeID: subject.ChallengeID,
		Provider:    subject.Provider,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrHandshakeDenied):
		return auditErrDenied
	case errors.Is(err, ErrHandshakeMalformed):
		return auditErrMalformed
	case errors.Is(err, ErrHandshakeProviderUnavailable):
		return auditErrProviderDown
	case errors.Is(err, ErrUnknownProvider):
		return auditErrUnknownProvider
	case errors.Is(err, ErrIdentityResolution):
		return auditErrResolution
	case errors.Is(err, ErrIssuanceRateLimited),
		errors.Is(err, ErrVerifyRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrIssuanceDeliveryFailed):
		return auditErrDelivery
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrChallengeExpired):
		return auditErrExpired
	case errors.Is(err, ErrChallengeAlreadyUsed):
		return auditErrAlreadyUsed
	case errors.Is(err, ErrChallengeInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrChallengeExhausted):
		return auditErrExhausted
	case errors.Is(err, ErrSessionIssuanceFailed):
		return auditErrSessionIssuance
	case errors.Is(err, ErrSessionTeardownFailed):
		return auditErrSessionTeardown
	case errors.Is(err, ErrIssuanceUnavailable),
		errors.Is(err, ErrVerifyUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
