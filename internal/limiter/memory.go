package limiter

import (
	"context"
	"sync"
	"time"
)

type attempts struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is an in-process Limiter with the same policy semantics as PG.
type Memory struct {
	mu     sync.Mutex
	policy Policy
	now    func() time.Time
	state  map[string]*attempts
}

// NewMemory constructs an in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, state: map[string]*attempts{}}
}

func key(name string, ipHash []byte) string { return name + "\x00" + string(ipHash) }

// Allow reports whether login is currently allowed and a retry-after duration.
func (m *Memory) Allow(_ context.Context, name string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.state[key(name, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); a.blockedUntil.After(now) {
		return false, a.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for (name, ip).
func (m *Memory) Success(_ context.Context, name string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key(name, ipHash))
	return nil
}

// Failure records a failed attempt; may set a block until a future time.
func (m *Memory) Failure(_ context.Context, name string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key(name, ipHash)
	a, ok := m.state[k]
	if !ok || now.Sub(a.updatedAt) > m.policy.Window {
		a = &attempts{}
		m.state[k] = a
	}
	a.fails++
	a.updatedAt = now
	if a.fails < m.policy.MaxFails {
		return false, 0, nil
	}
	a.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}
