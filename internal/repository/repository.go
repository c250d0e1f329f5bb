// Package repository defines storage interfaces implemented by concrete backends.
//
// All implementations report a duplicate unique key as errs.ErrAlreadyExists and
// a missing referenced entity as errs.ErrNotFound; in both cases nothing is written.
package repository

import (
	"context"
	"time"

	"github.com/and161185/grouptalk/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository provides access to registered accounts.
type AccountRepository interface {
	// Create inserts a new account and fills its surrogate id and creation time.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by external id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByName loads an account by display name.
	GetByName(ctx context.Context, name string) (*model.Account, error)
	// TouchLastLogin sets last_login to at.
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// GroupRepository provides access to groups and their membership.
type GroupRepository interface {
	// Create inserts the group and its owner membership in one transaction.
	Create(ctx context.Context, g *model.Group) error
	// GetByID loads a group by external id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Group, error)
	// GetByName loads a group by name.
	GetByName(ctx context.Context, name string) (*model.Group, error)
	// Delete removes the group if ownerID owns it; membership and messages cascade.
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
	// AddMember inserts membership; added is false when already a member.
	AddMember(ctx context.Context, groupID, accountID uuid.UUID) (added bool, err error)
	// RemoveMember deletes membership; errs.ErrNotMember when absent.
	RemoveMember(ctx context.Context, groupID, accountID uuid.UUID) error
	// IsMember reports durable membership.
	IsMember(ctx context.Context, groupID, accountID uuid.UUID) (bool, error)
	// Members lists account ids of the group.
	Members(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	// ListByMember lists groups the account belongs to, ordered by name.
	ListByMember(ctx context.Context, accountID uuid.UUID) ([]model.Group, error)
}

// MessageRepository provides access to persisted chat messages.
type MessageRepository interface {
	// Create persists a message and fills its surrogate id.
	Create(ctx context.Context, m *model.Message) error
	// GetByID loads a message by external id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error)
	// ListRange returns up to limit messages with from <= created_at <= to, ascending.
	ListRange(ctx context.Context, groupID uuid.UUID, from, to time.Time, limit int) ([]model.Message, error)
	// ListRecent returns the newest limit messages, ascending.
	ListRecent(ctx context.Context, groupID uuid.UUID, limit int) ([]model.Message, error)
	// Delete removes a message (administrative).
	Delete(ctx context.Context, id uuid.UUID) error
}
