package handshake

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// AuthRequest carries the per-handshake secrets bound into the provider
// authorization URL.
type AuthRequest struct {
	State        string
	CodeVerifier string
	Nonce        string
}

// ExchangeRequest carries what a provider needs to redeem a callback.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string
	Nonce        string
}

// IdentityProvider is one external OAuth authorization-code provider.
//
// Exchange should wrap its failures in [ErrHandshakeMalformed] when the
// provider answered but the answer cannot be trusted, and in
// [ErrHandshakeDenied] when the provider refused the grant. Anything else is
// treated as [ErrHandshakeProviderUnavailable].
type IdentityProvider interface {
	Name() string
	AuthCodeURL(req AuthRequest) string
	Exchange(ctx context.Context, req ExchangeRequest) (ExternalIdentity, error)
}

// ProviderRegistry is an immutable set of providers keyed by name.
type ProviderRegistry struct {
	providers map[string]IdentityProvider
}

// NewProviderRegistry rejects unnamed and duplicate providers.
func NewProviderRegistry(providers ...IdentityProvider) (*ProviderRegistry, error) {
	r := &ProviderRegistry{providers: make(map[string]IdentityProvider, len(providers))}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("identity provider must not be nil")
		}
		name := p.Name()
		if name == "" {
			return nil, errors.New("identity provider name must not be empty")
		}
		if _, dup := r.providers[name]; dup {
			return nil, fmt.Errorf("identity provider %q registered twice", name)
		}
		r.providers[name] = p
	}
	return r, nil
}

// Lookup returns the provider registered under name.
func (r *ProviderRegistry) Lookup(name string) (IdentityProvider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (r *ProviderRegistry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// classifyExchangeError maps a provider failure onto the handshake taxonomy.
func classifyExchangeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrHandshakeDenied),
		errors.Is(err, ErrHandshakeMalformed),
		errors.Is(err, ErrHandshakeProviderUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrHandshakeProviderUnavailable, err)
	}
}

// classifyCallbackError maps the OAuth error parameter of a callback.
// Consent style errors mean the user said no; everything else is the
// provider's problem.
func classifyCallbackError(code string) error {
	switch code {
	case "access_denied", "consent_required", "login_required", "interaction_required":
		return ErrHandshakeDenied
	default:
		return fmt.Errorf("%w: provider returned %q", ErrHandshakeProviderUnavailable, code)
	}
}
