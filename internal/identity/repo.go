package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mowesport/mowe/internal/platform/db"
)

// Repository defines the account reads and writes behind sign-in, profile
// fetches and password changes.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	// RecordFailedSignIn bumps the consecutive failure counter and returns it.
	RecordFailedSignIn(ctx context.Context, id string) (int, error)
	LockAccount(ctx context.Context, id string, until time.Time) error
	// RecordSignIn clears the failure counter and any lock.
	RecordSignIn(ctx context.Context, id string) error
	// UpdatePassword stores hash as a permanent password and audits the change.
	UpdatePassword(ctx context.Context, id, hash string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `user_id::text, email, first_name, last_name, password_hash,
	primary_role, account_status, is_active, temp_password_expires_at,
	failed_login_attempts, locked_until, created_at`

// FindByEmail fetches an account by its case-folded email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM user_profiles WHERE email = $1`, email)
	return scanAccount(row)
}

// FindByID fetches an account by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM user_profiles WHERE user_id = $1::uuid`, id)
	return scanAccount(row)
}

// RecordFailedSignIn increments atomically so concurrent attempts all count.
func (r *PGRepository) RecordFailedSignIn(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `UPDATE user_profiles
		SET failed_login_attempts = failed_login_attempts + 1
		WHERE user_id = $1::uuid
		RETURNING failed_login_attempts`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("identity: record failed sign-in: %w", err)
	}
	return attempts, nil
}

// LockAccount refuses sign-in until the given time.
func (r *PGRepository) LockAccount(ctx context.Context, id string, until time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE user_profiles SET locked_until = $2 WHERE user_id = $1::uuid`, id, until)
	if err != nil {
		return fmt.Errorf("identity: lock account: %w", err)
	}
	return nil
}

// RecordSignIn also stamps last_login_at.
func (r *PGRepository) RecordSignIn(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE user_profiles
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = NOW()
		WHERE user_id = $1::uuid`, id)
	if err != nil {
		return fmt.Errorf("identity: record sign-in: %w", err)
	}
	return nil
}

// UpdatePassword clears the temporary password expiry in the same
// transaction as the audit row.
func (r *PGRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE user_profiles
			SET password_hash = $2, temp_password_expires_at = NULL,
			    failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
			WHERE user_id = $1::uuid`, id, hash)
		if err != nil {
			return fmt.Errorf("identity: update password: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, table_name, record_id, created_at)
			VALUES ($1::uuid, 'PASSWORD_CHANGED', 'user_profiles', $2, NOW())`, id, id)
		if err != nil {
			return fmt.Errorf("identity: insert audit: %w", err)
		}
		return nil
	})
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash,
		&a.Role, &a.Status, &a.IsActive, &a.TempPasswordExpiresAt,
		&a.FailedLoginAttempts, &a.LockedUntil, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

var _ Repository = (*PGRepository)(nil)
