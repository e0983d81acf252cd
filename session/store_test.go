package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStores(t *testing.T) (map[string]Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"redis":  NewRedisStore(rdb, "hs"),
		"memory": NewMemoryStore(nil),
	}, mr
}

func testSession(id string) *Session {
	now := time.Now()
	return &Session{
		SessionID: id,
		UserID:    "u-1",
		TenantID:  "t-1",
		Role:      "USER",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestStoreSaveGetDelete(t *testing.T) {
	stores, _ := newStores(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := testSession("sid-1")

			if err := store.Save(ctx, sess, time.Hour); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := store.Get(ctx, "t-1", "sid-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if *got != *sess {
				t.Fatalf("expected %+v, got %+v", sess, got)
			}
			if _, err := store.Get(ctx, "t-2", "sid-1"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected other tenant to miss, got %v", err)
			}

			if err := store.Delete(ctx, "t-1", "sid-1"); err != nil {
				t.Fatalf("first delete: %v", err)
			}
			if err := store.Delete(ctx, "t-1", "sid-1"); err != nil {
				t.Fatalf("second delete: %v", err)
			}
			if _, err := store.Get(ctx, "t-1", "sid-1"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected deleted session to miss, got %v", err)
			}
		})
	}
}

func TestStoreDeleteAllForUser(t *testing.T) {
	stores, _ := newStores(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				if err := store.Save(ctx, testSession(id), time.Hour); err != nil {
					t.Fatalf("save %s: %v", id, err)
				}
			}
			other := testSession("d")
			other.UserID = "u-2"
			if err := store.Save(ctx, other, time.Hour); err != nil {
				t.Fatalf("save other: %v", err)
			}

			if err := store.DeleteAllForUser(ctx, "t-1", "u-1"); err != nil {
				t.Fatalf("delete all: %v", err)
			}
			for _, id := range []string{"a", "b", "c"} {
				if _, err := store.Get(ctx, "t-1", id); !errors.Is(err, ErrSessionNotFound) {
					t.Fatalf("expected %s to be gone, got %v", id, err)
				}
			}
			if _, err := store.Get(ctx, "t-1", "d"); err != nil {
				t.Fatalf("other user's session must survive: %v", err)
			}
		})
	}
}

func TestRedisStoreExpiresWithTTL(t *testing.T) {
	stores, mr := newStores(t)
	store := stores["redis"]
	ctx := context.Background()

	if err := store.Save(ctx, testSession("sid-ttl"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "t-1", "sid-ttl"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to miss, got %v", err)
	}
}

func TestRedisStoreCorruptRecordIsMissing(t *testing.T) {
	stores, mr := newStores(t)
	if err := mr.Set("hs:s:t-1:bad", "\x09junk"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := stores["redis"].Get(context.Background(), "t-1", "bad"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected corrupt record to miss, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	stores, mr := newStores(t)
	mr.Close()
	err := stores["redis"].Save(context.Background(), testSession("x"), time.Minute)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := NewMemoryStore(clock)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("sid"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := store.Get(ctx, "t-1", "sid"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to miss, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	sess := testSession("ignored")
	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got.SessionID = sess.SessionID
	if *got != *sess {
		t.Fatalf("expected %+v, got %+v", sess, got)
	}

	if _, err := Decode([]byte{99}); err == nil || !strings.Contains(err.Error(), "unsupported session schema version") {
		t.Fatalf("expected unsupported schema version error, got %v", err)
	}
	if _, err := Decode(append(data, 0)); err == nil {
		t.Fatal("expected trailing bytes to be rejected")
	}
	if _, err := Decode(data[:len(data)-3]); err == nil {
		t.Fatal("expected truncated record to be rejected")
	}

	sess.Role = strings.Repeat("r", 256)
	if _, err := Encode(sess); err == nil {
		t.Fatal("expected oversized role to be rejected")
	}
}
