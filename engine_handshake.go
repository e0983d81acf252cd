package handshake

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/handshake/internal"
	"github.com/MrEthical07/handshake/store"
	"go.uber.org/zap"
)

const (
	pkceVerifierSize = 32
	nonceSize        = 16
)

// BeginHandshake starts an authorization-code handshake with providerName.
// returnHint is kept only if it is a same-origin path; an unusable hint is
// dropped without error. The returned state must be bound to the browser
// and handed back in [CallbackParams.BoundState].
func (e *Engine) BeginHandshake(ctx context.Context, providerName, returnHint string) (*HandshakeStart, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	provider, ok := e.providers.Lookup(providerName)
	if !ok {
		return nil, ErrUnknownProvider
	}

	state, err := internal.NewOpaqueID(internal.StateSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeProviderUnavailable, err)
	}
	verifier, err := internal.NewOpaqueID(pkceVerifierSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeProviderUnavailable, err)
	}
	nonce, err := internal.NewOpaqueID(nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeProviderUnavailable, err)
	}

	hint, _ := SanitizeReturnHint(returnHint, e.config.Redirect.MaxHintLength)

	now := e.now()
	st := &store.HandshakeState{
		State:        state,
		Provider:     provider.Name(),
		CodeVerifier: verifier,
		Nonce:        nonce,
		ReturnHint:   hint,
		TenantID:     tenantIDFromContext(ctx),
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.config.Handshake.StateTTL),
	}
	if err := e.states.Put(ctx, st); err != nil {
		e.logger.Error("persist handshake state", zap.String("provider", provider.Name()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrHandshakeProviderUnavailable, err)
	}

	e.metricInc(MetricHandshakeStarted)
	e.emitAudit(ctx, auditEventHandshakeBegin, true, auditSubject{Provider: provider.Name()}, nil, nil)

	return &HandshakeStart{
		AuthURL: provider.AuthCodeURL(AuthRequest{
			State:        state,
			CodeVerifier: verifier,
			Nonce:        nonce,
		}),
		State:     state,
		ExpiresAt: st.ExpiresAt,
	}, nil
}

// CompleteHandshake redeems a provider callback and resolves the external
// identity to a local user. It never issues a session.
func (e *Engine) CompleteHandshake(ctx context.Context, params CallbackParams) (*HandshakeResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	result, _, err := e.redeemCallback(ctx, params)
	return result, err
}

// redeemCallback runs CompleteHandshake and also reports whether the
// callback redeemed a state bound to this browser. Only a redeemed callback
// belongs to a login in progress; anything else may be a forged request.
func (e *Engine) redeemCallback(ctx context.Context, params CallbackParams) (*HandshakeResult, bool, error) {
	result, redeemed, err := e.completeHandshake(ctx, params)
	if err != nil {
		e.metricInc(MetricHandshakeFailure)
		e.emitAudit(ctx, auditEventHandshakeFailure, false, auditSubject{Provider: params.Provider}, err, nil)
		if errors.Is(err, ErrHandshakeDenied) {
			e.logger.Info("handshake denied", zap.String("provider", params.Provider), zap.Error(err))
		} else {
			e.logger.Warn("handshake failed", zap.String("provider", params.Provider), zap.Error(err))
		}
		return nil, redeemed, err
	}

	e.metricInc(MetricHandshakeSuccess)
	e.emitAudit(WithTenantID(ctx, result.TenantID), auditEventHandshakeSuccess, true, auditSubject{
		UserID:   result.Profile.UserID,
		Provider: params.Provider,
	}, nil, nil)
	return result, true, nil
}

func stateBound(params CallbackParams) bool {
	return params.State != "" && params.BoundState != "" &&
		subtle.ConstantTimeCompare([]byte(params.State), []byte(params.BoundState)) == 1
}

// completeHandshake reports redeemed once a state bound to this browser has
// been taken from the store, whatever the outcome afterwards.
func (e *Engine) completeHandshake(ctx context.Context, params CallbackParams) (*HandshakeResult, bool, error) {
	if params.Error != "" {
		// Consume the state so an error callback cannot be followed by a
		// second callback for the same handshake.
		redeemed := false
		if stateBound(params) {
			_, err := e.states.Take(ctx, params.State, e.now())
			redeemed = err == nil
		}
		return nil, redeemed, classifyCallbackError(params.Error)
	}

	if params.Code == "" || params.State == "" {
		return nil, false, fmt.Errorf("%w: missing code or state", ErrHandshakeMalformed)
	}
	if !stateBound(params) {
		return nil, false, fmt.Errorf("%w: state not bound to this browser", ErrHandshakeMalformed)
	}

	st, err := e.states.Take(ctx, params.State, e.now())
	if err != nil {
		if errors.Is(err, store.ErrStateNotFound) {
			return nil, false, fmt.Errorf("%w: %v", ErrHandshakeMalformed, err)
		}
		return nil, false, fmt.Errorf("%w: %v", ErrHandshakeProviderUnavailable, err)
	}
	if st.Provider != params.Provider {
		return nil, true, fmt.Errorf("%w: state issued for another provider", ErrHandshakeMalformed)
	}

	provider, ok := e.providers.Lookup(st.Provider)
	if !ok {
		return nil, true, ErrUnknownProvider
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, e.config.Handshake.ExchangeTimeout)
	defer cancel()

	identity, err := provider.Exchange(exchangeCtx, ExchangeRequest{
		Code:         params.Code,
		CodeVerifier: st.CodeVerifier,
		Nonce:        st.Nonce,
	})
	if err != nil {
		if errors.Is(exchangeCtx.Err(), context.DeadlineExceeded) {
			return nil, true, fmt.Errorf("%w: exchange timed out", ErrHandshakeProviderUnavailable)
		}
		return nil, true, classifyExchangeError(err)
	}

	if identity.Provider == "" {
		identity.Provider = provider.Name()
	}
	identity.Email = strings.TrimSpace(identity.Email)
	if identity.ProviderSubjectID == "" || identity.Email == "" {
		return nil, true, fmt.Errorf("%w: identity without subject or email", ErrHandshakeMalformed)
	}

	tenantCtx := WithTenantID(ctx, st.TenantID)
	profile, err := e.directory.ResolveOrCreate(tenantCtx, identity)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrIdentityResolution, err)
	}
	if profile.UserID == "" {
		return nil, true, fmt.Errorf("%w: directory returned no user id", ErrIdentityResolution)
	}
	if profile.Email == "" {
		profile.Email = identity.Email
	}

	return &HandshakeResult{
		Identity:   identity,
		Profile:    profile,
		TenantID:   tenantIDFromContext(tenantCtx),
		ReturnHint: st.ReturnHint,
	}, true, nil
}
