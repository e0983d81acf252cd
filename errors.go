package handshake

import (
	"errors"
)

var (
	// ErrHandshakeDenied is returned when the user or the provider refused consent.
	ErrHandshakeDenied = errors.New("identity handshake denied")
	// ErrHandshakeMalformed is returned for callbacks with missing, forged or replayed parameters.
	ErrHandshakeMalformed = errors.New("identity handshake malformed")
	// ErrHandshakeProviderUnavailable is returned when the provider failed or timed out.
	ErrHandshakeProviderUnavailable = errors.New("identity provider unavailable")
	// ErrUnknownProvider is returned when no provider is registered under the requested name.
	ErrUnknownProvider = errors.New("unknown identity provider")
	// ErrIdentityResolution is returned when the directory cannot resolve or provision the user.
	ErrIdentityResolution = errors.New("identity resolution failed")

	// ErrIssuanceDeliveryFailed is returned when the code could not be delivered.
	// The challenge has been invalidated by the time the caller sees it.
	ErrIssuanceDeliveryFailed = errors.New("challenge delivery failed")
	// ErrIssuanceRateLimited is returned when the issuance budget is spent.
	ErrIssuanceRateLimited = errors.New("challenge issuance rate limited")
	// ErrInvalidRecipient is returned when a challenge is requested without a user or address.
	ErrInvalidRecipient = errors.New("challenge recipient invalid")
	// ErrIssuanceUnavailable is returned when the challenge store is unreachable.
	ErrIssuanceUnavailable = errors.New("challenge issuance unavailable")

	// ErrChallengeNotFound is returned for unknown, malformed or superseded challenge tokens.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired is returned after the challenge TTL has passed.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeAlreadyUsed is returned for any attempt after a successful verification.
	ErrChallengeAlreadyUsed = errors.New("challenge already used")
	// ErrChallengeInvalidCode is returned for a wrong code while attempts remain.
	ErrChallengeInvalidCode = errors.New("invalid challenge code")
	// ErrChallengeExhausted is returned once every attempt has been spent.
	ErrChallengeExhausted = errors.New("challenge attempts exhausted")
	// ErrVerifyRateLimited is returned when the caller submits codes too quickly.
	ErrVerifyRateLimited = errors.New("challenge verification rate limited")
	// ErrVerifyUnavailable is returned when the challenge store is unreachable.
	ErrVerifyUnavailable = errors.New("challenge verification unavailable")

	// ErrSessionIssuanceFailed is returned when the code was accepted but no session could be issued.
	ErrSessionIssuanceFailed = errors.New("session issuance failed")
	// ErrSessionTeardownFailed is returned when a provisional session could not be removed.
	ErrSessionTeardownFailed = errors.New("provisional session teardown failed")

	// ErrEngineNotReady is returned by methods called on a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Public error codes. They are the only failure vocabulary that leaves the
// process.
const (
	CodeHandshakeDenied  = "handshake_denied"
	CodeHandshakeFailed  = "handshake_failed"
	CodeRateLimited      = "rate_limited"
	CodeDeliveryFailed   = "delivery_failed"
	CodeInvalidCode      = "invalid_code"
	CodeChallengeInvalid = "challenge_invalid"
	CodeUnavailable      = "unavailable"
)

// PublicCode collapses err into the minimal vocabulary a client needs to
// prompt the user. Unknown, expired, used and exhausted challenges share
// one code so callers cannot probe which of them applies.
func PublicCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrHandshakeDenied):
		return CodeHandshakeDenied
	case errors.Is(err, ErrHandshakeMalformed),
		errors.Is(err, ErrHandshakeProviderUnavailable),
		errors.Is(err, ErrUnknownProvider),
		errors.Is(err, ErrIdentityResolution),
		errors.Is(err, ErrSessionTeardownFailed):
		return CodeHandshakeFailed
	case errors.Is(err, ErrIssuanceRateLimited), errors.Is(err, ErrVerifyRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrIssuanceDeliveryFailed):
		return CodeDeliveryFailed
	case errors.Is(err, ErrChallengeInvalidCode):
		return CodeInvalidCode
	case errors.Is(err, ErrChallengeNotFound),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrChallengeAlreadyUsed),
		errors.Is(err, ErrChallengeExhausted):
		return CodeChallengeInvalid
	default:
		return CodeUnavailable
	}
}
