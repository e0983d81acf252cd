package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/handshake"
)

// GoogleIssuer is the discovery root of Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// Config describes one OpenID Connect relying party registration.
type Config struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// HTTPClient is used for discovery, token exchange and key fetches.
	HTTPClient *http.Client
}

// Provider implements handshake.IdentityProvider with the authorization
// code flow, PKCE S256 and a nonce bound ID token.
type Provider struct {
	name       string
	oauth      *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	httpClient *http.Client
}

var _ handshake.IdentityProvider = (*Provider)(nil)

// New discovers the issuer and builds a provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.IssuerURL == "" {
		return nil, errors.New("oidc issuer url required")
	}

	if cfg.HTTPClient != nil {
		ctx = gooidc.ClientContext(ctx, cfg.HTTPClient)
	}
	discovered, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.IssuerURL, err)
	}

	verifier := discovered.Verifier(&gooidc.Config{ClientID: cfg.ClientID})
	return NewWithEndpoint(cfg, discovered.Endpoint(), verifier)
}

// NewGoogle is New for Google accounts.
func NewGoogle(ctx context.Context, clientID, clientSecret, redirectURL string) (*Provider, error) {
	return New(ctx, Config{
		Name:         "google",
		IssuerURL:    GoogleIssuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	})
}

// NewWithEndpoint builds a provider for an issuer without discovery.
func NewWithEndpoint(cfg Config, endpoint oauth2.Endpoint, verifier *gooidc.IDTokenVerifier) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, errors.New("oidc id token verifier required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		name: cfg.Name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier:   verifier,
		httpClient: cfg.HTTPClient,
	}, nil
}

func (c Config) validate() error {
	if c.Name == "" || c.ClientID == "" || c.ClientSecret == "" || c.RedirectURL == "" {
		return errors.New("oidc provider config missing required fields")
	}
	return nil
}

// Name implements handshake.IdentityProvider.
func (p *Provider) Name() string {
	return p.name
}

// AuthCodeURL implements handshake.IdentityProvider.
func (p *Provider) AuthCodeURL(req handshake.AuthRequest) string {
	return p.oauth.AuthCodeURL(
		req.State,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(req.CodeVerifier),
		gooidc.Nonce(req.Nonce),
	)
}

// Exchange implements handshake.IdentityProvider.
func (p *Provider) Exchange(ctx context.Context, req handshake.ExchangeRequest) (handshake.ExternalIdentity, error) {
	if p.httpClient != nil {
		ctx = gooidc.ClientContext(ctx, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, req.Code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return handshake.ExternalIdentity{}, classifyTokenError(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return handshake.ExternalIdentity{}, fmt.Errorf("%w: %s returned no id_token", handshake.ErrHandshakeMalformed, p.name)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return handshake.ExternalIdentity{}, fmt.Errorf("%w: id_token verification: %v", handshake.ErrHandshakeMalformed, err)
	}
	if idToken.Nonce != req.Nonce {
		return handshake.ExternalIdentity{}, fmt.Errorf("%w: id_token nonce mismatch", handshake.ErrHandshakeMalformed)
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return handshake.ExternalIdentity{}, fmt.Errorf("%w: id_token claims: %v", handshake.ErrHandshakeMalformed, err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return handshake.ExternalIdentity{}, fmt.Errorf("%w: id_token missing sub or email", handshake.ErrHandshakeMalformed)
	}

	return handshake.ExternalIdentity{
		Provider:          p.name,
		ProviderSubjectID: claims.Subject,
		Email:             claims.Email,
		EmailVerified:     claims.EmailVerified,
		DisplayName:       claims.Name,
	}, nil
}

// classifyTokenError separates grants the provider rejected from transport
// trouble. A rejected grant is usually a replayed or expired code.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "access_denied", "unauthorized_client":
			return fmt.Errorf("%w: token endpoint: %s", handshake.ErrHandshakeDenied, re.ErrorCode)
		case "invalid_grant", "invalid_request":
			return fmt.Errorf("%w: token endpoint: %s", handshake.ErrHandshakeMalformed, re.ErrorCode)
		}
	}
	return fmt.Errorf("%w: token exchange: %v", handshake.ErrHandshakeProviderUnavailable, err)
}
