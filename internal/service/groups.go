package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/grouptalk/internal/cache"
	pkgcrypto "github.com/and161185/grouptalk/internal/crypto"
	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// GroupService manages groups and durable membership.
// Presence is not handled here; callers update it after a successful call.
type GroupService interface {
	Create(ctx context.Context, ownerID uuid.UUID, name, password string) (*model.Group, error)
	Resolve(ctx context.Context, ref string) (*model.Group, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Group, error)
	Join(ctx context.Context, name, password string, accountID uuid.UUID) (g *model.Group, joined bool, err error)
	Leave(ctx context.Context, groupID, accountID uuid.UUID) (*model.Group, error)
	Delete(ctx context.Context, groupID, ownerID uuid.UUID) (*model.Group, error)
	ListFor(ctx context.Context, accountID uuid.UUID) ([]model.Group, error)
	Members(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, groupID, accountID uuid.UUID) (bool, error)
}

type GroupServiceImpl struct {
	groups repository.GroupRepository
	cache  *cache.Cache
}

// NewGroupService constructs GroupService. c may be nil.
func NewGroupService(groups repository.GroupRepository, c *cache.Cache) *GroupServiceImpl {
	return &GroupServiceImpl{groups: groups, cache: c}
}

// Create validates and persists a new group owned by ownerID.
func (s *GroupServiceImpl) Create(ctx context.Context, ownerID uuid.UUID, name, password string) (*model.Group, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty group name", errs.ErrInvalidInput)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, salt, err := pkgcrypto.NewOptionalSecret(password)
	if err != nil {
		return nil, err
	}
	g := &model.Group{
		ExternalID: id,
		Name:       name,
		PwdHash:    hash,
		Salt:       salt,
		OwnerID:    ownerID,
	}
	if err := s.groups.Create(ctx, g); err != nil {
		return nil, err
	}
	s.cache.PutGroup(g)
	s.cache.SetMembers(g.ExternalID, g.Members)
	return g, nil
}

// Resolve finds a group by name, falling back to its external id.
func (s *GroupServiceImpl) Resolve(ctx context.Context, ref string) (*model.Group, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty group", errs.ErrInvalidInput)
	}
	g, err := s.groups.GetByName(ctx, ref)
	if err == nil || !errors.Is(err, errs.ErrNotFound) {
		return g, err
	}
	id, perr := uuid.FromString(ref)
	if perr != nil {
		return nil, err
	}
	return s.groups.GetByID(ctx, id)
}

// Get loads group metadata, preferring the cache. Password material may be absent.
func (s *GroupServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	if g, ok := s.cache.Group(id); ok {
		return g, nil
	}
	g, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.PutGroup(g)
	return g, nil
}

// Join checks the group password and records membership.
// joined is false when the account was already a member.
func (s *GroupServiceImpl) Join(ctx context.Context, name, password string, accountID uuid.UUID) (*model.Group, bool, error) {
	g, err := s.Resolve(ctx, name)
	if err != nil {
		return nil, false, err
	}
	hash, salt := g.PwdHash, g.Salt
	if h, sl, ok := s.cache.GroupPassword(g.ExternalID); ok {
		hash, salt = h, sl
	}
	if !pkgcrypto.VerifyOptional(password, salt, hash) {
		return nil, false, fmt.Errorf("%w: wrong group password", errs.ErrUnauthorized)
	}

	added, err := s.groups.AddMember(ctx, g.ExternalID, accountID)
	if err != nil {
		return nil, false, err
	}
	s.cache.PutGroup(g)
	if added {
		s.cache.AddMember(g.ExternalID, accountID)
	}
	return g, added, nil
}

// Leave removes a non-owner member from the group.
func (s *GroupServiceImpl) Leave(ctx context.Context, groupID, accountID uuid.UUID) (*model.Group, error) {
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.OwnerID == accountID {
		return nil, fmt.Errorf("%w: owner cannot leave, delete the group instead", errs.ErrForbidden)
	}
	if err := s.groups.RemoveMember(ctx, groupID, accountID); err != nil {
		return nil, err
	}
	s.cache.RemoveMember(groupID, accountID)
	s.cache.RemoveOnline(groupID, accountID)
	return g, nil
}

// Delete removes the group if ownerID owns it and drops its cached state.
func (s *GroupServiceImpl) Delete(ctx context.Context, groupID, ownerID uuid.UUID) (*model.Group, error) {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != ownerID {
		return nil, errs.ErrForbidden
	}
	if err := s.groups.Delete(ctx, groupID, ownerID); err != nil {
		return nil, err
	}
	s.cache.ClearGroup(groupID)
	return g, nil
}

// ListFor returns groups the account belongs to.
func (s *GroupServiceImpl) ListFor(ctx context.Context, accountID uuid.UUID) ([]model.Group, error) {
	return s.groups.ListByMember(ctx, accountID)
}

// Members returns member ids, preferring the cache.
func (s *GroupServiceImpl) Members(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	if ids, ok := s.cache.Members(groupID); ok {
		return ids, nil
	}
	ids, err := s.groups.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.cache.SetMembers(groupID, ids)
	return ids, nil
}

// IsMember checks membership against the durable store.
func (s *GroupServiceImpl) IsMember(ctx context.Context, groupID, accountID uuid.UUID) (bool, error) {
	return s.groups.IsMember(ctx, groupID, accountID)
}
