// Package relay implements the live-chat relay: the connection registry,
// conversation broadcaster and per-connection frame dispatcher.
package relay

import (
	"errors"
	"sync"

	"github.com/capitalize-ai/livechat-relay/pkg/metrics"
)

var (
	// ErrConnClosed is returned when sending to a connection that is no longer open.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a connection cannot keep up with outbound frames.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is a live client socket as seen by the registry and broadcaster.
type Conn interface {
	// ID is unique per physical connection.
	ID() string
	// Send queues one serialized frame. It must not block.
	Send(frame []byte) error
	// Open reports whether the socket is still open for writes.
	Open() bool
	Close() error
}

// Registry maps user ids to their current connection.
// At most one connection is routable per user; the latest bind wins.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// Bind routes userID to conn. A connection previously bound to userID is
// superseded but not closed; its own close handler unbinds it later, which
// is a no-op by then. Binding conn to a new user drops its old binding; the
// dispatcher refuses that case, but direct callers may re-key a connection.
func (r *Registry) Bind(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.byConn[conn.ID()]; ok && prevUser != userID {
		if cur, ok := r.byUser[prevUser]; ok && cur.ID() == conn.ID() {
			delete(r.byUser, prevUser)
		}
	}

	if prev, ok := r.byUser[userID]; ok && prev.ID() != conn.ID() {
		delete(r.byConn, prev.ID())
	}

	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
	metrics.BoundUsers.Set(float64(len(r.byUser)))
}

// Unbind removes conn from the registry, whichever user it was bound to.
// It returns the user id it was routed for, if any. Calling it again is a no-op.
func (r *Registry) Unbind(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())

	if cur, ok := r.byUser[userID]; ok && cur.ID() == conn.ID() {
		delete(r.byUser, userID)
	}
	metrics.BoundUsers.Set(float64(len(r.byUser)))
	return userID, true
}

// Snapshot returns the bound connections that are open right now.
// The slice is a copy; connections may close while the caller iterates it.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		if c.Open() {
			conns = append(conns, c)
		}
	}
	return conns
}

// Lookup returns the connection currently routed for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byUser[userID]
	return c, ok
}

// UserOf returns the user id conn is bound to.
func (r *Registry) UserOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[conn.ID()]
	return userID, ok
}

// Len returns the number of bound users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// CloseAll closes every bound connection without draining. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
