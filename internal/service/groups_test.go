package service

import (
	"context"
	"testing"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func memAccount(t *testing.T, st *memory.Store, name string) *model.Account {
	t.Helper()
	a := &model.Account{ExternalID: uuid.Must(uuid.NewV4()), DisplayName: name, PwdHash: []byte("h"), Salt: []byte("s")}
	require.NoError(t, st.Accounts().Create(context.Background(), a))
	return a
}

func TestGroups_CreateJoinLeave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.NewStore()
	c := newTestCache(t)
	s := NewGroupService(st.Groups(), c)

	alice := memAccount(t, st, "alice")
	bob := memAccount(t, st, "bob")

	_, err := s.Create(ctx, alice.ExternalID, "", "")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = s.Create(ctx, alice.ExternalID, "has space", "")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	g, err := s.Create(ctx, alice.ExternalID, "room", "secret")
	require.NoError(t, err)
	require.True(t, g.HasPassword())
	require.Equal(t, []uuid.UUID{alice.ExternalID}, g.Members)

	_, err = s.Create(ctx, bob.ExternalID, "room", "")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	members, ok := c.Members(g.ExternalID)
	require.True(t, ok)
	require.Equal(t, []uuid.UUID{alice.ExternalID}, members)

	_, _, err = s.Join(ctx, "room", "wrong", bob.ExternalID)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, _, err = s.Join(ctx, "missing", "", bob.ExternalID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	joined, added, err := s.Join(ctx, "room", "secret", bob.ExternalID)
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, g.ExternalID, joined.ExternalID)

	_, added, err = s.Join(ctx, "room", "secret", bob.ExternalID)
	require.NoError(t, err)
	require.False(t, added)

	ids, err := s.Members(ctx, g.ExternalID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{alice.ExternalID, bob.ExternalID}, ids)

	ok, err = s.IsMember(ctx, g.ExternalID, bob.ExternalID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Leave(ctx, g.ExternalID, alice.ExternalID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = s.Leave(ctx, g.ExternalID, bob.ExternalID)
	require.NoError(t, err)
	_, err = s.Leave(ctx, g.ExternalID, bob.ExternalID)
	require.ErrorIs(t, err, errs.ErrNotMember)

	ids, err = s.Members(ctx, g.ExternalID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{alice.ExternalID}, ids)
}

func TestGroups_OpenGroupAcceptsAnyPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.NewStore()
	s := NewGroupService(st.Groups(), nil)

	alice := memAccount(t, st, "alice")
	bob := memAccount(t, st, "bob")

	g, err := s.Create(ctx, alice.ExternalID, "lobby", "")
	require.NoError(t, err)
	require.False(t, g.HasPassword())

	_, added, err := s.Join(ctx, "lobby", "whatever", bob.ExternalID)
	require.NoError(t, err)
	require.True(t, added)
}

func TestGroups_ResolveByNameOrID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.NewStore()
	s := NewGroupService(st.Groups(), nil)
	alice := memAccount(t, st, "alice")

	g, err := s.Create(ctx, alice.ExternalID, "lobby", "")
	require.NoError(t, err)

	byName, err := s.Resolve(ctx, "lobby")
	require.NoError(t, err)
	byID, err := s.Resolve(ctx, g.ExternalID.String())
	require.NoError(t, err)
	require.Equal(t, byName.ExternalID, byID.ExternalID)

	_, err = s.Resolve(ctx, "")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = s.Resolve(ctx, uuid.Must(uuid.NewV4()).String())
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGroups_DeleteOwnerOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.NewStore()
	c := newTestCache(t)
	s := NewGroupService(st.Groups(), c)

	alice := memAccount(t, st, "alice")
	bob := memAccount(t, st, "bob")
	g, err := s.Create(ctx, alice.ExternalID, "vault", "pw")
	require.NoError(t, err)
	_, _, err = s.Join(ctx, "vault", "pw", bob.ExternalID)
	require.NoError(t, err)

	_, err = s.Delete(ctx, g.ExternalID, bob.ExternalID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	deleted, err := s.Delete(ctx, g.ExternalID, alice.ExternalID)
	require.NoError(t, err)
	require.Equal(t, "vault", deleted.Name)

	_, ok := c.Group(g.ExternalID)
	require.False(t, ok)
	_, _, ok = c.GroupPassword(g.ExternalID)
	require.False(t, ok)
	_, ok = c.Members(g.ExternalID)
	require.False(t, ok)

	_, err = s.Get(ctx, g.ExternalID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	list, err := s.ListFor(ctx, bob.ExternalID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestGroups_JoinAfterMembersCacheMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.NewStore()
	c := newTestCache(t)
	s := NewGroupService(st.Groups(), c)

	alice := memAccount(t, st, "alice")
	bob := memAccount(t, st, "bob")
	g, err := s.Create(ctx, alice.ExternalID, "room", "")
	require.NoError(t, err)

	c.ClearGroup(g.ExternalID)
	_, added, err := s.Join(ctx, "room", "", bob.ExternalID)
	require.NoError(t, err)
	require.True(t, added)

	_, ok := c.Members(g.ExternalID)
	require.False(t, ok, "a join must not seed a partial member set")

	ids, err := s.Members(ctx, g.ExternalID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{alice.ExternalID, bob.ExternalID}, ids)

	// once loaded, later joins extend the full set
	carol := memAccount(t, st, "carol")
	_, _, err = s.Join(ctx, "room", "", carol.ExternalID)
	require.NoError(t, err)
	cached, ok := c.Members(g.ExternalID)
	require.True(t, ok)
	require.ElementsMatch(t, []uuid.UUID{alice.ExternalID, bob.ExternalID, carol.ExternalID}, cached)
}
