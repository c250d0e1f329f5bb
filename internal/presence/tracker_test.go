package presence

import (
	"sync"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.Must(uuid.NewV4())
	}
	return out
}

func members(tr *Tracker, id uuid.UUID) []uuid.UUID {
	g, ok := tr.existing(id)
	if !ok {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(g.members))
	for m := range g.members {
		out = append(out, m)
	}
	return out
}

func TestActivate_ImpliesMembership(t *testing.T) {
	tr := NewTracker()
	g := uuid.Must(uuid.NewV4())
	a := uuid.Must(uuid.NewV4())

	tr.Activate(g, a)
	require.True(t, tr.IsActive(g, a))
	require.Equal(t, []uuid.UUID{a}, members(tr, g))

	tr.Deactivate(g, a)
	require.False(t, tr.IsActive(g, a))
	require.Equal(t, []uuid.UUID{a}, members(tr, g), "deactivation keeps membership")

	tr.RemoveMember(g, a)
	require.Empty(t, members(tr, g))
}

func TestSetMembers_PrunesActive(t *testing.T) {
	tr := NewTracker()
	g := uuid.Must(uuid.NewV4())
	acc := ids(3)

	for _, a := range acc {
		tr.Activate(g, a)
	}
	tr.SetMembers(g, acc[:2])

	require.ElementsMatch(t, acc[:2], tr.Active(g))
	require.ElementsMatch(t, acc[:2], members(tr, g))
}

func TestDeactivateAll(t *testing.T) {
	tr := NewTracker()
	groups := ids(3)
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	tr.Activate(groups[0], a)
	tr.Activate(groups[1], a)
	tr.Activate(groups[1], b)
	tr.AddMember(groups[2], a)

	left := tr.DeactivateAll(a)
	require.ElementsMatch(t, groups[:2], left)
	require.Empty(t, tr.Active(groups[0]))
	require.Equal(t, []uuid.UUID{b}, tr.Active(groups[1]))
	require.Contains(t, members(tr, groups[2]), a)
}

func TestDropGroup(t *testing.T) {
	tr := NewTracker()
	g := uuid.Must(uuid.NewV4())
	tr.Activate(g, uuid.Must(uuid.NewV4()))

	tr.DropGroup(g)
	require.Nil(t, tr.Active(g))
	require.Nil(t, members(tr, g))

	// operations on unknown groups are no-ops
	tr.Deactivate(g, uuid.Must(uuid.NewV4()))
	tr.RemoveMember(g, uuid.Must(uuid.NewV4()))
}

func TestConcurrentActivity(t *testing.T) {
	tr := NewTracker()
	groups := ids(4)
	accounts := ids(16)

	var wg sync.WaitGroup
	for _, a := range accounts {
		for _, g := range groups {
			wg.Add(1)
			go func(g, a uuid.UUID) {
				defer wg.Done()
				tr.Activate(g, a)
				_ = tr.Active(g)
				tr.Deactivate(g, a)
				tr.Activate(g, a)
			}(g, a)
		}
	}
	wg.Wait()

	for _, g := range groups {
		require.ElementsMatch(t, accounts, tr.Active(g))
		require.Subset(t, members(tr, g), tr.Active(g))
	}
}
