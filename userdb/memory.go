package userdb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/handshake"
)

type identityKey struct {
	provider string
	subject  string
}

// MemoryDirectory is an in-process handshake.IdentityDirectory for tests
// and single-node development.
type MemoryDirectory struct {
	mu         sync.Mutex
	users      map[string]handshake.UserProfile
	byEmail    map[string]string
	identities map[identityKey]string
}

var _ handshake.IdentityDirectory = (*MemoryDirectory)(nil)

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:      make(map[string]handshake.UserProfile),
		byEmail:    make(map[string]string),
		identities: make(map[identityKey]string),
	}
}

// ResolveOrCreate implements handshake.IdentityDirectory with the same
// linking rules as [PostgresDirectory].
func (d *MemoryDirectory) ResolveOrCreate(ctx context.Context, identity handshake.ExternalIdentity) (handshake.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return handshake.UserProfile{}, err
	}
	if err := checkIdentity(identity); err != nil {
		return handshake.UserProfile{}, err
	}
	email := normalizeEmail(identity.Email)
	key := identityKey{provider: identity.Provider, subject: identity.ProviderSubjectID}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.identities[key]; ok {
		return cloneProfile(d.users[id]), nil
	}

	id, exists := d.byEmail[email]
	if exists && !identity.EmailVerified {
		return handshake.UserProfile{}, ErrEmailTaken
	}
	if !exists {
		id = uuid.NewString()
		d.users[id] = handshake.UserProfile{
			UserID:      id,
			Email:       email,
			DisplayName: identity.DisplayName,
			Role:        handshake.RoleUser,
		}
		d.byEmail[email] = id
	}

	d.identities[key] = id
	return cloneProfile(d.users[id]), nil
}

// GetUser implements handshake.IdentityDirectory.
func (d *MemoryDirectory) GetUser(ctx context.Context, userID string) (handshake.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return handshake.UserProfile{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.users[userID]
	if !ok {
		return handshake.UserProfile{}, ErrUserNotFound
	}
	return cloneProfile(p), nil
}

// CompleteOnboarding stamps the onboarding time of userID once.
func (d *MemoryDirectory) CompleteOnboarding(_ context.Context, userID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if p.OnboardingCompletedAt == nil {
		at := at.UTC()
		p.OnboardingCompletedAt = &at
		d.users[userID] = p
	}
	return nil
}

// SetRole changes the role of userID.
func (d *MemoryDirectory) SetRole(_ context.Context, userID, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	p.Role = role
	d.users[userID] = p
	return nil
}

func cloneProfile(p handshake.UserProfile) handshake.UserProfile {
	if p.OnboardingCompletedAt != nil {
		t := *p.OnboardingCompletedAt
		p.OnboardingCompletedAt = &t
	}
	return p
}
