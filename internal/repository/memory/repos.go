package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
)

// AccountRepo implements repository.AccountRepository.
type AccountRepo struct{ s *Store }

// Create inserts a new account.
func (r *AccountRepo) Create(_ context.Context, a *model.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.accountNames[a.DisplayName]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := r.s.accounts[a.ExternalID]; ok {
		return errs.ErrAlreadyExists
	}
	a.ID = r.s.nextID()
	a.CreatedAt = time.Now()
	cpy := *a
	cpy.PwdHash = cloneBytes(a.PwdHash)
	cpy.Salt = cloneBytes(a.Salt)
	r.s.accounts[a.ExternalID] = &cpy
	r.s.accountNames[a.DisplayName] = a.ExternalID
	return nil
}

// GetByID loads an account by external id.
func (r *AccountRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *a
	return &cpy, nil
}

// GetByName loads an account by display name.
func (r *AccountRepo) GetByName(ctx context.Context, name string) (*model.Account, error) {
	r.s.mu.RLock()
	id, ok := r.s.accountNames[name]
	r.s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// TouchLastLogin records a successful login.
func (r *AccountRepo) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return errs.ErrNotFound
	}
	a.LastLogin = lo.ToPtr(at)
	return nil
}

// GroupRepo implements repository.GroupRepository.
type GroupRepo struct{ s *Store }

// Create inserts the group with its owner as first member.
func (r *GroupRepo) Create(_ context.Context, g *model.Group) error {
	if strings.ContainsFunc(g.Name, unicode.IsSpace) || g.Name == "" {
		return errs.ErrInvalidInput
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.accounts[g.OwnerID]; !ok {
		return errs.ErrNotFound
	}
	if _, ok := r.s.groupNames[g.Name]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := r.s.groups[g.ExternalID]; ok {
		return errs.ErrAlreadyExists
	}
	g.ID = r.s.nextID()
	g.CreatedAt = time.Now()
	g.Members = []uuid.UUID{g.OwnerID}

	cpy := *g
	cpy.PwdHash = cloneBytes(g.PwdHash)
	cpy.Salt = cloneBytes(g.Salt)
	cpy.Members = nil
	r.s.groups[g.ExternalID] = &cpy
	r.s.groupNames[g.Name] = g.ExternalID
	r.s.members[g.ExternalID] = []uuid.UUID{g.OwnerID}
	return nil
}

// GetByID loads a group by external id.
func (r *GroupRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.get(id)
}

// GetByName loads a group by name.
func (r *GroupRepo) GetByName(_ context.Context, name string) (*model.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.groupNames[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.get(id)
}

func (r *GroupRepo) get(id uuid.UUID) (*model.Group, error) {
	g, ok := r.s.groups[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *g
	return &cpy, nil
}

// Delete removes a group owned by ownerID with its membership and messages.
func (r *GroupRepo) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.groups[id]
	if !ok {
		return errs.ErrNotFound
	}
	if g.OwnerID != ownerID {
		return errs.ErrForbidden
	}
	for _, mid := range r.s.byGroup[id] {
		delete(r.s.messages, mid)
	}
	delete(r.s.byGroup, id)
	delete(r.s.members, id)
	delete(r.s.groupNames, g.Name)
	delete(r.s.groups, id)
	return nil
}

// AddMember inserts membership; added is false when already present.
func (r *GroupRepo) AddMember(_ context.Context, groupID, accountID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.groups[groupID]; !ok {
		return false, errs.ErrNotFound
	}
	if _, ok := r.s.accounts[accountID]; !ok {
		return false, errs.ErrNotFound
	}
	if slices.Contains(r.s.members[groupID], accountID) {
		return false, nil
	}
	r.s.members[groupID] = append(r.s.members[groupID], accountID)
	return true, nil
}

// RemoveMember deletes membership.
func (r *GroupRepo) RemoveMember(_ context.Context, groupID, accountID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ms := r.s.members[groupID]
	i := slices.Index(ms, accountID)
	if i < 0 {
		return errs.ErrNotMember
	}
	r.s.members[groupID] = slices.Delete(slices.Clone(ms), i, i+1)
	return nil
}

// IsMember reports durable membership.
func (r *GroupRepo) IsMember(_ context.Context, groupID, accountID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return slices.Contains(r.s.members[groupID], accountID), nil
}

// Members lists member ids in join order.
func (r *GroupRepo) Members(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return slices.Clone(r.s.members[groupID]), nil
}

// ListByMember lists the account's groups ordered by name.
func (r *GroupRepo) ListByMember(_ context.Context, accountID uuid.UUID) ([]model.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []model.Group
	for gid, ms := range r.s.members {
		if slices.Contains(ms, accountID) {
			out = append(out, *r.s.groups[gid])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MessageRepo implements repository.MessageRepository.
type MessageRepo struct{ s *Store }

// Create persists a message.
func (r *MessageRepo) Create(_ context.Context, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.groups[m.GroupID]; !ok {
		return errs.ErrNotFound
	}
	if _, ok := r.s.messages[m.ExternalID]; ok {
		return errs.ErrAlreadyExists
	}
	m.ID = r.s.nextID()
	cpy := *m
	if m.SenderID != nil {
		if _, ok := r.s.accounts[*m.SenderID]; !ok {
			cpy.SenderID = nil
		}
	}
	r.s.messages[m.ExternalID] = &cpy
	r.s.byGroup[m.GroupID] = append(r.s.byGroup[m.GroupID], m.ExternalID)
	return nil
}

// GetByID loads a message by external id.
func (r *MessageRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *m
	return &cpy, nil
}

// ListRange returns up to limit messages in [from, to], oldest first.
func (r *MessageRepo) ListRange(_ context.Context, groupID uuid.UUID, from, to time.Time, limit int) ([]model.Message, error) {
	all := r.sorted(groupID)
	out := lo.Filter(all, func(m model.Message, _ int) bool {
		return !m.CreatedAt.Before(from) && !m.CreatedAt.After(to)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRecent returns the newest limit messages, oldest first.
func (r *MessageRepo) ListRecent(_ context.Context, groupID uuid.UUID, limit int) ([]model.Message, error) {
	all := r.sorted(groupID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Delete removes a message.
func (r *MessageRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return errs.ErrNotFound
	}
	delete(r.s.messages, id)
	r.s.byGroup[m.GroupID] = lo.Without(r.s.byGroup[m.GroupID], id)
	return nil
}

func (r *MessageRepo) sorted(groupID uuid.UUID) []model.Message {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.Message, 0, len(r.s.byGroup[groupID]))
	for _, id := range r.s.byGroup[groupID] {
		out = append(out, *r.s.messages[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
