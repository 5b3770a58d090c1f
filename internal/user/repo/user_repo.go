package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lumonote/service-auth-go/internal/user/entity"
)

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
// The UNIQUE constraint on email is the authoritative duplicate guard:
// the pre-insert existence check in the service is advisory only.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id BIGINT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  reset_token TEXT,
  reset_expires TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_token) WHERE reset_token IS NOT NULL;
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row with an app-assigned ID. A duplicate
// email surfaces as a pq unique-violation for the caller to translate.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, q, u.ID, u.Email, u.PasswordHash)
	return err
}

// GetByEmail returns the user matched by email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	const q = `SELECT id, email, password_hash, reset_token, reset_expires, created_at
	  FROM users WHERE email=$1`
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, email); err != nil {
		return nil, err
	}
	return &row, nil
}

// SetResetToken stores a reset token and its expiry in one statement so
// no reader can observe a token without an expiry. Returns false when
// no row matched the email.
func (r *UserRepo) SetResetToken(ctx context.Context, email, token string, expiresAt time.Time) (bool, error) {
	const q = `UPDATE users SET reset_token=$2, reset_expires=$3 WHERE email=$1`
	res, err := r.db.ExecContext(ctx, q, email, token, expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByValidResetToken looks up the user holding the token. A token
// past its expiry is treated as absent; the stale row is cleared on
// discovery so later reads don't keep tripping over it. Returns nil
// without error when the token matches nothing usable.
func (r *UserRepo) GetByValidResetToken(ctx context.Context, token string, now time.Time) (*entity.User, error) {
	const q = `SELECT id, email, password_hash, reset_token, reset_expires, created_at
	  FROM users WHERE reset_token=$1`
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if row.ResetExpires == nil || now.After(*row.ResetExpires) {
		// lazy cleanup of the expired token, best-effort
		const clear = `UPDATE users SET reset_token=NULL, reset_expires=NULL WHERE id=$1 AND reset_token=$2`
		if _, err := r.db.ExecContext(ctx, clear, row.ID, token); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &row, nil
}

// UpdatePasswordAndClearReset replaces the password hash and clears the
// reset fields in a single statement keyed on both id and token, so a
// concurrent reset that already consumed the token affects zero rows.
func (r *UserRepo) UpdatePasswordAndClearReset(ctx context.Context, id int64, token, newHash string) (bool, error) {
	const q = `UPDATE users SET password_hash=$3, reset_token=NULL, reset_expires=NULL
	  WHERE id=$1 AND reset_token=$2`
	res, err := r.db.ExecContext(ctx, q, id, token, newHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
