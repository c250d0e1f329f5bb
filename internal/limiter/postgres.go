package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of a pgx pool used by PG.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG is a PostgreSQL-backed limiter with a sliding window and lockout,
// stored in the auth_limiter table.
type PG struct {
	pool   Querier
	policy Policy
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, p Policy) *PG {
	return &PG{pool: q, policy: p}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, name string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, name, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if blockedUntil.After(time.Now()) {
			return false, time.Until(blockedUntil), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (name, ip).
func (l *PG) Success(ctx context.Context, name string, ipHash []byte) error {
	const q = `
INSERT INTO auth_limiter (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (username, ip_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, name, ipHash)
	return err
}

// Failure records a failed attempt; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, name string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_limiter (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (username, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - auth_limiter.updated_at > $3::interval THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, name, ipHash, l.policy.Window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.policy.MaxFails {
		return false, 0, nil
	}
	const upd = `UPDATE auth_limiter SET blocked_until=$3 WHERE username=$1 AND ip_hash=$2`
	if _, err := l.pool.Exec(ctx, upd, name, ipHash, time.Now().Add(l.policy.BlockFor)); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
