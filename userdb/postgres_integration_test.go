//go:build integration

package userdb_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/userdb"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "handshake_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/handshake_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestPostgresDirectory(t *testing.T) {
	ctx := context.Background()
	pool, err := userdb.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// A second run of the migrations is a no-op.
	require.NoError(t, userdb.Migrate(ctx, pool))

	d := userdb.NewPostgresDirectory(pool)

	t.Run("resolve_idempotent", func(t *testing.T) {
		id := handshake.ExternalIdentity{Provider: "google", ProviderSubjectID: "sub-1", Email: "Ada@Example.com", EmailVerified: true, DisplayName: "Ada"}
		first, err := d.ResolveOrCreate(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "ada@example.com", first.Email)
		require.Equal(t, handshake.RoleUser, first.Role)
		require.False(t, first.Onboarded())

		second, err := d.ResolveOrCreate(ctx, id)
		require.NoError(t, err)
		require.Equal(t, first.UserID, second.UserID)

		got, err := d.GetUser(ctx, first.UserID)
		require.NoError(t, err)
		require.Equal(t, first, got)
	})

	t.Run("verified_email_links", func(t *testing.T) {
		unverified := handshake.ExternalIdentity{Provider: "github", ProviderSubjectID: "gh-1", Email: "ada@example.com"}
		_, err := d.ResolveOrCreate(ctx, unverified)
		require.ErrorIs(t, err, userdb.ErrEmailTaken)

		unverified.EmailVerified = true
		linked, err := d.ResolveOrCreate(ctx, unverified)
		require.NoError(t, err)

		owner, err := d.ResolveOrCreate(ctx, handshake.ExternalIdentity{Provider: "google", ProviderSubjectID: "sub-1", Email: "ada@example.com", EmailVerified: true})
		require.NoError(t, err)
		require.Equal(t, owner.UserID, linked.UserID)
	})

	t.Run("concurrent_first_login", func(t *testing.T) {
		id := handshake.ExternalIdentity{Provider: "google", ProviderSubjectID: "sub-race", Email: "race@example.com", EmailVerified: true}

		const workers = 8
		ids := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p, err := d.ResolveOrCreate(ctx, id)
				if err == nil {
					ids[i] = p.UserID
				}
			}(i)
		}
		wg.Wait()

		for _, got := range ids {
			require.Equal(t, ids[0], got)
		}
		require.NotEmpty(t, ids[0])
	})

	t.Run("onboarding_and_role", func(t *testing.T) {
		p, err := d.ResolveOrCreate(ctx, handshake.ExternalIdentity{Provider: "google", ProviderSubjectID: "sub-2", Email: "grace@example.com", EmailVerified: true})
		require.NoError(t, err)

		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, d.CompleteOnboarding(ctx, p.UserID, at))
		require.NoError(t, d.SetRole(ctx, p.UserID, handshake.RoleAdmin))

		got, err := d.GetUser(ctx, p.UserID)
		require.NoError(t, err)
		require.True(t, got.Onboarded())
		require.True(t, got.OnboardingCompletedAt.Equal(at))
		require.Equal(t, handshake.RoleAdmin, got.Role)
	})

	t.Run("unknown_user", func(t *testing.T) {
		_, err := d.GetUser(ctx, "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, userdb.ErrUserNotFound)
		_, err = d.GetUser(ctx, "not-a-uuid")
		require.ErrorIs(t, err, userdb.ErrUserNotFound)
	})
}
