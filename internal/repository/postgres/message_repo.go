package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

const messageSelect = `
SELECT m.id, m.external_id, g.external_id, a.external_id, m.sender_name, m.content, m.kind, m.created_at
FROM messages m
JOIN chat_groups g ON g.id = m.group_id
LEFT JOIN accounts a ON a.id = m.sender_id`

// Create persists a message. A nil SenderID stores a system message.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	const q = `
INSERT INTO messages (external_id, group_id, sender_id, sender_name, content, kind, created_at)
SELECT $1, g.id, (SELECT a.id FROM accounts a WHERE a.external_id=$3), $4, $5, $6, $7
FROM chat_groups g WHERE g.external_id=$2
RETURNING id`
	err := r.db.Pool.QueryRow(ctx, q,
		m.ExternalID, m.GroupID, m.SenderID, m.SenderName, m.Content, string(m.Kind), m.CreatedAt,
	).Scan(&m.ID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errs.ErrNotFound
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	default:
		return err
	}
}

// GetByID selects a message by external id.
func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	q := messageSelect + `
WHERE m.external_id=$1`
	m, err := scanMessage(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return m, err
}

// ListRange returns messages of the group created within [from, to], oldest first.
func (r *MessageRepo) ListRange(ctx context.Context, groupID uuid.UUID, from, to time.Time, limit int) ([]model.Message, error) {
	q := messageSelect + `
WHERE g.external_id=$1 AND m.created_at >= $2 AND m.created_at <= $3
ORDER BY m.created_at ASC, m.id ASC
LIMIT $4`
	return r.list(ctx, q, groupID, from, to, limit)
}

// ListRecent returns the newest limit messages, oldest first.
func (r *MessageRepo) ListRecent(ctx context.Context, groupID uuid.UUID, limit int) ([]model.Message, error) {
	q := messageSelect + `
WHERE g.external_id=$1
ORDER BY m.created_at DESC, m.id DESC
LIMIT $2`
	out, err := r.list(ctx, q, groupID, limit)
	if err != nil {
		return nil, err
	}
	return lo.Reverse(out), nil
}

// Delete removes a single message.
func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM messages WHERE external_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) list(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m    model.Message
		kind string
	)
	if err := row.Scan(&m.ID, &m.ExternalID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Content, &kind, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Kind = model.MessageKind(kind)
	return &m, nil
}
