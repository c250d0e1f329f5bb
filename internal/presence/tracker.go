// Package presence tracks, per group, which members are known and which of
// them are currently eligible for message fan-out.
//
// The active set is always a subset of the member set. State is in memory
// only and is rebuilt from joins and chat activity after a restart.
package presence

import (
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
)

type groupState struct {
	mu      sync.RWMutex
	members map[uuid.UUID]struct{}
	active  map[uuid.UUID]struct{}
}

func newGroupState() *groupState {
	return &groupState{members: map[uuid.UUID]struct{}{}, active: map[uuid.UUID]struct{}{}}
}

// Tracker holds per-group state. Each group has its own lock; there is no
// tracker-wide lock on the hot path.
type Tracker struct {
	groups sync.Map // uuid.UUID -> *groupState
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker { return &Tracker{} }

func (t *Tracker) group(id uuid.UUID) *groupState {
	if g, ok := t.groups.Load(id); ok {
		return g.(*groupState)
	}
	g, _ := t.groups.LoadOrStore(id, newGroupState())
	return g.(*groupState)
}

func (t *Tracker) existing(id uuid.UUID) (*groupState, bool) {
	g, ok := t.groups.Load(id)
	if !ok {
		return nil, false
	}
	return g.(*groupState), true
}

// SetMembers replaces the member set. Active entries that are no longer
// members are dropped.
func (t *Tracker) SetMembers(groupID uuid.UUID, ids []uuid.UUID) {
	g := t.group(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()

	g.members = make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		g.members[id] = struct{}{}
	}
	for id := range g.active {
		if _, ok := g.members[id]; !ok {
			delete(g.active, id)
		}
	}
}

// AddMember records membership without activating.
func (t *Tracker) AddMember(groupID, accountID uuid.UUID) {
	g := t.group(groupID)
	g.mu.Lock()
	g.members[accountID] = struct{}{}
	g.mu.Unlock()
}

// RemoveMember drops membership and activity.
func (t *Tracker) RemoveMember(groupID, accountID uuid.UUID) {
	g, ok := t.existing(groupID)
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.members, accountID)
	delete(g.active, accountID)
	g.mu.Unlock()
}

// Activate marks the account active in the group, recording membership too.
func (t *Tracker) Activate(groupID, accountID uuid.UUID) {
	g := t.group(groupID)
	g.mu.Lock()
	g.members[accountID] = struct{}{}
	g.active[accountID] = struct{}{}
	g.mu.Unlock()
}

// Deactivate removes the account from the active set only.
func (t *Tracker) Deactivate(groupID, accountID uuid.UUID) {
	g, ok := t.existing(groupID)
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.active, accountID)
	g.mu.Unlock()
}

// DeactivateAll removes the account from every active set and returns the
// groups it was active in.
func (t *Tracker) DeactivateAll(accountID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	t.groups.Range(func(k, v any) bool {
		g := v.(*groupState)
		g.mu.Lock()
		if _, ok := g.active[accountID]; ok {
			delete(g.active, accountID)
			out = append(out, k.(uuid.UUID))
		}
		g.mu.Unlock()
		return true
	})
	return out
}

// IsActive reports whether the account is in the group's active set.
func (t *Tracker) IsActive(groupID, accountID uuid.UUID) bool {
	g, ok := t.existing(groupID)
	if !ok {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok = g.active[accountID]
	return ok
}

// Active returns a snapshot of the group's active set.
func (t *Tracker) Active(groupID uuid.UUID) []uuid.UUID {
	g, ok := t.existing(groupID)
	if !ok {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return lo.Keys(g.active)
}

// DropGroup forgets all state of the group.
func (t *Tracker) DropGroup(groupID uuid.UUID) {
	t.groups.Delete(groupID)
}
