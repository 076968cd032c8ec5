// Package presence tracks which users have live signaling connections.
package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Conn is one live transport channel. Emit must not block.
type Conn interface {
	ConnID() string
	Emit(event string, payload any) error
}

// Observer receives the full online user list after a registry mutation
type Observer func(online []uuid.UUID)

// Registry maps a user id to its open connections, oldest first.
// A user is present if and only if it has at least one connection.
type Registry struct {
	mu    sync.RWMutex
	users map[uuid.UUID][]Conn

	// notifyMu serializes observer rounds. Each round snapshots after taking
	// it, so the last round always reflects the latest state.
	notifyMu  sync.Mutex
	observers []Observer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[uuid.UUID][]Conn),
	}
}

// Subscribe adds an observer. Observers run outside the registry lock.
func (r *Registry) Subscribe(o Observer) {
	r.notifyMu.Lock()
	r.observers = append(r.observers, o)
	r.notifyMu.Unlock()
}

// Register adds conn to userID's set. Registering the same connection id
// twice keeps a single entry but moves it to the most-recent position.
func (r *Registry) Register(userID uuid.UUID, conn Conn) {
	r.mu.Lock()
	conns := withoutConn(r.users[userID], conn.ConnID())
	r.users[userID] = append(conns, conn)
	r.mu.Unlock()

	r.notify()
}

// Unregister removes exactly conn from userID's set and reports whether the
// user has no connections left. Unknown connections are ignored.
func (r *Registry) Unregister(userID uuid.UUID, conn Conn) (offline bool) {
	r.mu.Lock()
	conns, ok := r.users[userID]
	if ok {
		conns = withoutConn(conns, conn.ConnID())
		if len(conns) == 0 {
			delete(r.users, userID)
		} else {
			r.users[userID] = conns
		}
	}
	_, online := r.users[userID]
	r.mu.Unlock()

	r.notify()
	return !online
}

// DeliveryHandle returns the most recently registered connection for userID
func (r *Registry) DeliveryHandle(userID uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	if len(conns) == 0 {
		return nil, false
	}
	return conns[len(conns)-1], true
}

// Handles returns every connection for userID, oldest first
func (r *Registry) Handles(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Conn(nil), r.users[userID]...)
}

// IsOnline reports whether userID has at least one connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[userID]
	return ok
}

// OnlineUserIDs lists every present user, sorted for stable output
func (r *Registry) OnlineUserIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.onlineLocked()
}

// Conns returns every open connection across all users
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Conn
	for _, conns := range r.users {
		all = append(all, conns...)
	}
	return all
}

// ConnectionCount returns the number of open connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.users {
		n += len(conns)
	}
	return n
}

func (r *Registry) onlineLocked() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (r *Registry) notify() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	if len(r.observers) == 0 {
		return
	}
	online := r.OnlineUserIDs()
	for _, o := range r.observers {
		o(online)
	}
}

func withoutConn(conns []Conn, connID string) []Conn {
	out := make([]Conn, 0, len(conns)+1)
	for _, c := range conns {
		if c.ConnID() != connID {
			out = append(out, c)
		}
	}
	return out
}
