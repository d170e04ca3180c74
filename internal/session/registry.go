// Package session tracks which user each live connection acts for.
package session

import (
	"errors"
	"sync"
)

// ErrNotConnected is returned when a connection has no bound user.
var ErrNotConnected = errors.New("connection not bound to a user")

// Registry maps connection ids to user ids. It is never persisted.
type Registry struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]string)}
}

// Bind associates conn with user, replacing any previous binding.
func (r *Registry) Bind(conn, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[conn] = user
}

// Resolve returns the user bound to conn.
func (r *Registry) Resolve(conn string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[conn]
	if !ok {
		return "", ErrNotConnected
	}
	return user, nil
}

// Unbind removes conn. Unknown ids are ignored.
func (r *Registry) Unbind(conn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, conn)
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Connections returns the ids bound to user.
func (r *Registry) Connections(user string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []string
	for c, u := range r.users {
		if u == user {
			conns = append(conns, c)
		}
	}
	return conns
}
