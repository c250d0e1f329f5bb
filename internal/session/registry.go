// Package session pairs live connections with authenticated accounts and
// enforces a single live connection per account.
package session

import (
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/grouptalk/internal/protocol"
)

// Conn is a live client connection as seen by the dispatcher.
type Conn interface {
	// ID is unique per connection for the lifetime of the process.
	ID() string
	// RemoteAddr is the peer address, host:port.
	RemoteAddr() string
	// Send queues an envelope for delivery. It must not block.
	Send(e protocol.Envelope) error
	// Close terminates the connection.
	Close() error
}

type binding struct {
	conn    Conn
	account uuid.UUID
}

// Registry is a bidirectional connection <-> account map. Both directions are
// guarded by one mutex so a swap is never observed half-done.
type Registry struct {
	mu        sync.Mutex
	byConn    map[string]binding
	byAccount map[uuid.UUID]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byConn: map[string]binding{}, byAccount: map[uuid.UUID]Conn{}}
}

// Register pairs conn with account. If the account was bound to another
// connection, that connection is unbound and returned; the caller notifies
// and closes it. If conn was bound to a different account, that binding is
// dropped first.
func (r *Registry) Register(conn Conn, account uuid.UUID) (evicted Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.byConn[conn.ID()]; ok && b.account != account {
		if cur, ok := r.byAccount[b.account]; ok && cur.ID() == conn.ID() {
			delete(r.byAccount, b.account)
		}
	}
	if old, ok := r.byAccount[account]; ok && old.ID() != conn.ID() {
		delete(r.byConn, old.ID())
		evicted = old
	}
	r.byConn[conn.ID()] = binding{conn: conn, account: account}
	r.byAccount[account] = conn
	return evicted
}

// Unregister removes conn's binding. ok is false when conn was not bound,
// which is the case for a connection that has already been evicted.
func (r *Registry) Unregister(conn Conn) (account uuid.UUID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byConn[conn.ID()]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.byConn, conn.ID())
	if cur, ok := r.byAccount[b.account]; ok && cur.ID() == conn.ID() {
		delete(r.byAccount, b.account)
	}
	return b.account, true
}

// AccountOf returns the account bound to conn.
func (r *Registry) AccountOf(conn Conn) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byConn[conn.ID()]
	return b.account, ok
}

// ConnOf returns the live connection of account.
func (r *Registry) ConnOf(account uuid.UUID) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byAccount[account]
	return c, ok
}

// Len returns the number of bound accounts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAccount)
}
