package userdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/handshake"
)

// PostgresDirectory is a handshake.IdentityDirectory backed by Postgres.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

var _ handshake.IdentityDirectory = (*PostgresDirectory)(nil)

// NewPostgresDirectory returns a directory on a migrated pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

const userColumns = `u.id::text, u.email, u.display_name, u.role, u.onboarding_completed_at`

// ResolveOrCreate implements handshake.IdentityDirectory. Calls for the same
// (provider, subject) are serialized with a transaction-scoped advisory lock
// so concurrent first logins provision one user.
func (d *PostgresDirectory) ResolveOrCreate(ctx context.Context, identity handshake.ExternalIdentity) (handshake.UserProfile, error) {
	if err := checkIdentity(identity); err != nil {
		return handshake.UserProfile{}, err
	}
	email := normalizeEmail(identity.Email)

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return handshake.UserProfile{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
		identity.Provider, identity.ProviderSubjectID); err != nil {
		return handshake.UserProfile{}, fmt.Errorf("failed to lock identity: %w", err)
	}

	profile, err := scanProfile(tx.QueryRow(ctx, `SELECT `+userColumns+`
		FROM identities i JOIN users u ON u.id = i.user_id
		WHERE i.provider = $1 AND i.provider_subject_id = $2`,
		identity.Provider, identity.ProviderSubjectID))
	switch {
	case err == nil:
		return profile, tx.Commit(ctx)
	case !errors.Is(err, ErrUserNotFound):
		return handshake.UserProfile{}, fmt.Errorf("failed to resolve identity: %w", err)
	}

	profile, err = scanProfile(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = $1`, email))
	switch {
	case err == nil:
		if !identity.EmailVerified {
			return handshake.UserProfile{}, ErrEmailTaken
		}
	case errors.Is(err, ErrUserNotFound):
		profile, err = scanProfile(tx.QueryRow(ctx, `INSERT INTO users AS u (id, email, display_name, role)
			VALUES ($1, $2, $3, $4)
			RETURNING `+userColumns,
			uuid.NewString(), email, identity.DisplayName, handshake.RoleUser))
		if err != nil {
			return handshake.UserProfile{}, fmt.Errorf("failed to create user: %w", err)
		}
	default:
		return handshake.UserProfile{}, fmt.Errorf("failed to look up email: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO identities (provider, provider_subject_id, user_id, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_subject_id) DO NOTHING`,
		identity.Provider, identity.ProviderSubjectID, profile.UserID, email); err != nil {
		return handshake.UserProfile{}, fmt.Errorf("failed to link identity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return handshake.UserProfile{}, fmt.Errorf("failed to commit identity: %w", err)
	}
	return profile, nil
}

// GetUser implements handshake.IdentityDirectory.
func (d *PostgresDirectory) GetUser(ctx context.Context, userID string) (handshake.UserProfile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return handshake.UserProfile{}, ErrUserNotFound
	}
	profile, err := scanProfile(d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, userID))
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return handshake.UserProfile{}, fmt.Errorf("failed to get user by id: %w", err)
	}
	return profile, err
}

// CompleteOnboarding stamps the onboarding time of userID.
func (d *PostgresDirectory) CompleteOnboarding(ctx context.Context, userID string, at time.Time) error {
	tag, err := d.pool.Exec(ctx, `UPDATE users SET onboarding_completed_at = $2, updated_at = now()
		WHERE id = $1 AND onboarding_completed_at IS NULL`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to complete onboarding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := d.GetUser(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// SetRole changes the role of userID.
func (d *PostgresDirectory) SetRole(ctx context.Context, userID, role string) error {
	tag, err := d.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, userID, role)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (handshake.UserProfile, error) {
	var (
		p         handshake.UserProfile
		onboarded *time.Time
	)
	if err := row.Scan(&p.UserID, &p.Email, &p.DisplayName, &p.Role, &onboarded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return handshake.UserProfile{}, ErrUserNotFound
		}
		return handshake.UserProfile{}, err
	}
	p.OnboardingCompletedAt = onboarded
	return p, nil
}
