package userdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/handshake"
)

func googleIdentity(subject, email string, verified bool) handshake.ExternalIdentity {
	return handshake.ExternalIdentity{
		Provider:          "google",
		ProviderSubjectID: subject,
		Email:             email,
		EmailVerified:     verified,
		DisplayName:       "Ada",
	}
}

func TestMemoryResolveIsIdempotentPerSubject(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	first, err := d.ResolveOrCreate(ctx, googleIdentity("sub-1", "Ada@Example.com", true))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Role != handshake.RoleUser || first.Email != "ada@example.com" || first.Onboarded() {
		t.Fatalf("unexpected new profile %+v", first)
	}

	second, err := d.ResolveOrCreate(ctx, googleIdentity("sub-1", "changed@example.com", true))
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if second.UserID != first.UserID {
		t.Fatalf("expected same user, got %s and %s", first.UserID, second.UserID)
	}
}

func TestMemoryLinksOnlyVerifiedEmail(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	owner, err := d.ResolveOrCreate(ctx, googleIdentity("sub-1", "ada@example.com", true))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	other := googleIdentity("sub-2", "ada@example.com", false)
	other.Provider = "github"
	if _, err := d.ResolveOrCreate(ctx, other); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken for unverified collision, got %v", err)
	}

	other.EmailVerified = true
	linked, err := d.ResolveOrCreate(ctx, other)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if linked.UserID != owner.UserID {
		t.Fatalf("expected verified identity to link to %s, got %s", owner.UserID, linked.UserID)
	}
}

func TestMemoryConcurrentFirstLoginProvisionsOnce(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := d.ResolveOrCreate(ctx, googleIdentity("sub-1", "ada@example.com", false))
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = p.UserID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected a single user, got %v", ids)
		}
	}
}

func TestMemoryRejectsIncompleteIdentity(t *testing.T) {
	d := NewMemoryDirectory()
	if _, err := d.ResolveOrCreate(context.Background(), googleIdentity("", "ada@example.com", true)); !errors.Is(err, ErrIncompleteIdentity) {
		t.Fatalf("expected ErrIncompleteIdentity, got %v", err)
	}
	if _, err := d.ResolveOrCreate(context.Background(), googleIdentity("sub", " ", true)); !errors.Is(err, ErrIncompleteIdentity) {
		t.Fatalf("expected ErrIncompleteIdentity, got %v", err)
	}
}

func TestMemoryOnboardingAndRole(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	p, err := d.ResolveOrCreate(ctx, googleIdentity("sub-1", "ada@example.com", true))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := d.CompleteOnboarding(ctx, p.UserID, at); err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if err := d.CompleteOnboarding(ctx, p.UserID, at.Add(time.Hour)); err != nil {
		t.Fatalf("onboard again: %v", err)
	}
	if err := d.SetRole(ctx, p.UserID, handshake.RoleAdmin); err != nil {
		t.Fatalf("set role: %v", err)
	}

	got, err := d.GetUser(ctx, p.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Onboarded() || !got.OnboardingCompletedAt.Equal(at) || got.Role != handshake.RoleAdmin {
		t.Fatalf("unexpected profile %+v", got)
	}

	if _, err := d.GetUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := d.SetRole(ctx, "missing", handshake.RoleAdmin); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
