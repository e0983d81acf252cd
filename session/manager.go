package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/jwt"
	"github.com/google/uuid"
)

// ManagerConfig controls session lifetime.
type ManagerConfig struct {
	TTL time.Duration
	Now func() time.Time
}

// Manager issues, authenticates and revokes durable sessions. It is the
// [handshake.SessionIssuer] of a deployment.
type Manager struct {
	store  Store
	tokens *jwt.Manager
	ttl    time.Duration
	now    func() time.Time
}

var _ handshake.SessionIssuer = (*Manager)(nil)

// NewManager wires a store and an access token manager.
func NewManager(store Store, tokens *jwt.Manager, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	if tokens == nil {
		return nil, errors.New("access token manager required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session TTL must be > 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:  store,
		tokens: tokens,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}, nil
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// IssueSession implements [handshake.SessionIssuer].
func (m *Manager) IssueSession(ctx context.Context, profile handshake.UserProfile) (handshake.SessionGrant, error) {
	if profile.UserID == "" {
		return handshake.SessionGrant{}, errors.New("profile without user id")
	}

	now := m.now()
	sess := &Session{
		SessionID: uuid.NewString(),
		UserID:    profile.UserID,
		TenantID:  handshake.TenantIDFromContext(ctx),
		Role:      profile.Role,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(m.ttl).Unix(),
	}

	token, _, err := m.tokens.CreateAccess(jwt.AccessRequest{
		UserID:    sess.UserID,
		TenantID:  sess.TenantID,
		SessionID: sess.SessionID,
		Role:      sess.Role,
	}, time.Unix(sess.ExpiresAt, 0))
	if err != nil {
		return handshake.SessionGrant{}, fmt.Errorf("sign access token: %w", err)
	}

	if err := m.store.Save(ctx, sess, m.ttl); err != nil {
		return handshake.SessionGrant{}, err
	}

	return handshake.SessionGrant{
		UserID:      sess.UserID,
		TenantID:    sess.TenantID,
		SessionID:   sess.SessionID,
		AccessToken: token,
		ExpiresAt:   time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// Authenticate loads a live session by id.
func (m *Manager) Authenticate(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := m.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// AuthenticateAccessToken verifies token and checks that its session is
// still live, so a revoked session invalidates outstanding tokens.
func (m *Manager) AuthenticateAccessToken(ctx context.Context, token string) (*Session, error) {
	claims, err := m.tokens.ParseAccess(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	sess, err := m.Authenticate(ctx, claims.TID, claims.SID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Revoke ends one session. Revoking an unknown session succeeds.
func (m *Manager) Revoke(ctx context.Context, tenantID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.store.Delete(ctx, tenantID, sessionID)
}

// RevokeAll ends every session of a user.
func (m *Manager) RevokeAll(ctx context.Context, tenantID, userID string) error {
	return m.store.DeleteAllForUser(ctx, tenantID, userID)
}
