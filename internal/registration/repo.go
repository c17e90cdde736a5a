package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mowesport/mowe/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository persists newly registered accounts.
type Repository interface {
	CreateAccount(ctx context.Context, account NewAccount) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateAccount inserts the profile and its audit row in one transaction.
func (r *PGRepository) CreateAccount(ctx context.Context, account NewAccount) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO user_profiles (
			user_id, email, password_hash, first_name, last_name, phone, identification,
			primary_role, account_status, is_active, temp_password_expires_at, created_by, created_at, updated_at
		) VALUES ($1::uuid, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, true, $10, NULLIF($11, '')::uuid, NOW(), NOW())`,
			account.ID, account.Email, account.PasswordHash, account.FirstName, account.LastName,
			account.Phone, account.Identification, string(account.Role), string(account.Status),
			account.TempPasswordExpiresAt, account.CreatedBy)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("registration: insert profile: %w", err)
		}

		details, err := json.Marshal(map[string]any{
			"role":                     account.Role,
			"account_status":           account.Status,
			"temp_password_expires_at": account.TempPasswordExpiresAt,
		})
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, table_name, record_id, new_values, created_at)
			VALUES (NULLIF($1, '')::uuid, 'USER_REGISTERED', 'user_profiles', $2, $3, NOW())`,
			account.CreatedBy, account.ID, details)
		if err != nil {
			return fmt.Errorf("registration: insert audit: %w", err)
		}
		return nil
	})
}

var _ Repository = (*PGRepository)(nil)
