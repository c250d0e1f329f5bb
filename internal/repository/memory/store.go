// Package memory is an in-process implementation of the repository interfaces.
// It follows the same error contract as the postgres package and is used for
// development runs and tests.
package memory

import (
	"sync"

	"github.com/and161185/grouptalk/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Store holds all tables behind one lock so multi-table writes are atomic.
type Store struct {
	mu sync.RWMutex

	seq int64

	accounts     map[uuid.UUID]*model.Account
	accountNames map[string]uuid.UUID

	groups     map[uuid.UUID]*model.Group
	groupNames map[string]uuid.UUID
	members    map[uuid.UUID][]uuid.UUID // group -> accounts, join order

	messages map[uuid.UUID]*model.Message
	byGroup  map[uuid.UUID][]uuid.UUID // group -> messages, insertion order
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		accounts:     map[uuid.UUID]*model.Account{},
		accountNames: map[string]uuid.UUID{},
		groups:       map[uuid.UUID]*model.Group{},
		groupNames:   map[string]uuid.UUID{},
		members:      map[uuid.UUID][]uuid.UUID{},
		messages:     map[uuid.UUID]*model.Message{},
		byGroup:      map[uuid.UUID][]uuid.UUID{},
	}
}

// Accounts returns the account repository view.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s: s} }

// Groups returns the group repository view.
func (s *Store) Groups() *GroupRepo { return &GroupRepo{s: s} }

// Messages returns the message repository view.
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func cloneBytes(b []byte) []byte { return append([]byte(nil), b...) }
