package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

const groupCols = `g.id, g.external_id, g.name, g.pwd_hash, g.salt, o.external_id, g.created_at`

// Create inserts the group row and the owner's membership atomically.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group) error {
	const ins = `
INSERT INTO chat_groups (external_id, name, pwd_hash, salt, owner_id)
SELECT $1, $2, $3, $4, a.id FROM accounts a WHERE a.external_id=$5
RETURNING id, created_at`
	const member = `
INSERT INTO group_members (group_id, account_id)
SELECT $1, a.id FROM accounts a WHERE a.external_id=$2`

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, ins, g.ExternalID, g.Name, g.PwdHash, g.Salt, g.OwnerID).Scan(&g.ID, &g.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, member, g.ID, g.OwnerID)
		return err
	})
	switch {
	case err == nil:
		g.Members = []uuid.UUID{g.OwnerID}
		return nil
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isCheckViolation(err):
		return fmt.Errorf("%w: group name", errs.ErrInvalidInput)
	case errors.Is(err, pgx.ErrNoRows):
		return errs.ErrNotFound
	default:
		return err
	}
}

// GetByID selects a group by external id.
func (r *GroupRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	q := `SELECT ` + groupCols + `
FROM chat_groups g JOIN accounts o ON o.id = g.owner_id
WHERE g.external_id=$1`
	return scanGroup(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByName selects a group by unique name.
func (r *GroupRepo) GetByName(ctx context.Context, name string) (*model.Group, error) {
	q := `SELECT ` + groupCols + `
FROM chat_groups g JOIN accounts o ON o.id = g.owner_id
WHERE g.name=$1`
	return scanGroup(r.db.Pool.QueryRow(ctx, q, name))
}

// Delete removes a group owned by ownerID together with its membership rows.
func (r *GroupRepo) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	const sel = `
SELECT g.id, o.external_id
FROM chat_groups g JOIN accounts o ON o.id = g.owner_id
WHERE g.external_id=$1 FOR UPDATE OF g`
	const delMembers = `DELETE FROM group_members WHERE group_id=$1`
	const delGroup = `DELETE FROM chat_groups WHERE id=$1`

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			gid   int64
			owner uuid.UUID
		)
		if err := tx.QueryRow(ctx, sel, id).Scan(&gid, &owner); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}
		if owner != ownerID {
			return errs.ErrForbidden
		}
		if _, err := tx.Exec(ctx, delMembers, gid); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, delGroup, gid)
		return err
	})
}

// AddMember inserts membership. It reports added=false when the account is already a member.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, accountID uuid.UUID) (bool, error) {
	const q = `
WITH ids AS (
  SELECT g.id AS gid, a.id AS aid
  FROM chat_groups g, accounts a
  WHERE g.external_id=$1 AND a.external_id=$2
), ins AS (
  INSERT INTO group_members (group_id, account_id)
  SELECT gid, aid FROM ids
  ON CONFLICT DO NOTHING
  RETURNING 1
)
SELECT (SELECT count(*) FROM ids), (SELECT count(*) FROM ins)`
	var found, inserted int64
	if err := r.db.Pool.QueryRow(ctx, q, groupID, accountID).Scan(&found, &inserted); err != nil {
		return false, err
	}
	if found == 0 {
		return false, errs.ErrNotFound
	}
	return inserted > 0, nil
}

// RemoveMember deletes a membership row.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, accountID uuid.UUID) error {
	const q = `
DELETE FROM group_members m
USING chat_groups g, accounts a
WHERE m.group_id = g.id AND m.account_id = a.id
  AND g.external_id=$1 AND a.external_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, groupID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotMember
	}
	return nil
}

// IsMember reports whether the account durably belongs to the group.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, accountID uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM group_members m
  JOIN chat_groups g ON g.id = m.group_id
  JOIN accounts a ON a.id = m.account_id
  WHERE g.external_id=$1 AND a.external_id=$2
)`
	var ok bool
	err := r.db.Pool.QueryRow(ctx, q, groupID, accountID).Scan(&ok)
	return ok, err
}

// Members lists the group's member account ids in join order.
func (r *GroupRepo) Members(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	const q = `
SELECT a.external_id
FROM group_members m
JOIN chat_groups g ON g.id = m.group_id
JOIN accounts a ON a.id = m.account_id
WHERE g.external_id=$1
ORDER BY m.joined_at, a.id`
	rows, err := r.db.Pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListByMember lists the account's groups ordered by name.
func (r *GroupRepo) ListByMember(ctx context.Context, accountID uuid.UUID) ([]model.Group, error) {
	q := `SELECT ` + groupCols + `
FROM chat_groups g
JOIN accounts o ON o.id = g.owner_id
JOIN group_members m ON m.group_id = g.id
JOIN accounts a ON a.id = m.account_id
WHERE a.external_id=$1
ORDER BY g.name`
	rows, err := r.db.Pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGroup(row pgx.Row) (*model.Group, error) {
	var g model.Group
	if err := row.Scan(&g.ID, &g.ExternalID, &g.Name, &g.PwdHash, &g.Salt, &g.OwnerID, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}
