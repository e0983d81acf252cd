package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStateStores(t *testing.T) map[string]StateStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]StateStore{
		"redis":  NewRedisStateStore(rdb, "hss"),
		"memory": NewMemoryStateStore(),
	}
}

func newState(state string) *HandshakeState {
	return &HandshakeState{
		State:        state,
		Provider:     "google",
		CodeVerifier: "verifier",
		Nonce:        "nonce",
		ReturnHint:   "/plans/42",
		CreatedAt:    baseTime,
		ExpiresAt:    baseTime.Add(5 * time.Minute),
	}
}

func TestStateTakeIsSingleUse(t *testing.T) {
	for name, s := range newStateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, newState("s1")); err != nil {
				t.Fatalf("put: %v", err)
			}

			got, err := s.Take(ctx, "s1", baseTime.Add(time.Minute))
			if err != nil {
				t.Fatalf("take: %v", err)
			}
			if got.ReturnHint != "/plans/42" || got.CodeVerifier != "verifier" || got.Provider != "google" {
				t.Fatalf("unexpected state: %+v", got)
			}

			if _, err := s.Take(ctx, "s1", baseTime.Add(time.Minute)); !errors.Is(err, ErrStateNotFound) {
				t.Fatalf("expected replayed state to be rejected, got %v", err)
			}
		})
	}
}

func TestStateTakeRejectsExpiredAndUnknown(t *testing.T) {
	for name, s := range newStateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, newState("s1")); err != nil {
				t.Fatalf("put: %v", err)
			}

			if _, err := s.Take(ctx, "s1", baseTime.Add(6*time.Minute)); !errors.Is(err, ErrStateNotFound) {
				t.Fatalf("expected expired state to be rejected, got %v", err)
			}
			if _, err := s.Take(ctx, "missing", baseTime); !errors.Is(err, ErrStateNotFound) {
				t.Fatalf("expected unknown state to be rejected, got %v", err)
			}
			if _, err := s.Take(ctx, "", baseTime); !errors.Is(err, ErrStateNotFound) {
				t.Fatalf("expected empty state to be rejected, got %v", err)
			}
		})
	}
}

func TestStatePutRejectsIncomplete(t *testing.T) {
	for name, s := range newStateStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(context.Background(), &HandshakeState{}); err == nil {
				t.Fatal("expected error for state without value")
			}
		})
	}
}
