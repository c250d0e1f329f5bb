package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (external_id, display_name, pwd_hash, salt)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`
	err := r.db.Pool.QueryRow(ctx, q, a.ExternalID, a.DisplayName, a.PwdHash, a.Salt).Scan(&a.ID, &a.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an account by external id.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `
SELECT id, external_id, display_name, pwd_hash, salt, created_at, last_login
FROM accounts WHERE external_id=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByName selects an account by display name.
func (r *AccountRepo) GetByName(ctx context.Context, name string) (*model.Account, error) {
	const q = `
SELECT id, external_id, display_name, pwd_hash, salt, created_at, last_login
FROM accounts WHERE display_name=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, name))
}

// TouchLastLogin records a successful login.
func (r *AccountRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE accounts SET last_login=$2 WHERE external_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	if err := row.Scan(&a.ID, &a.ExternalID, &a.DisplayName, &a.PwdHash, &a.Salt, &a.CreatedAt, &a.LastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
