// Package session implements spec.md §4.8: the per-connection session
// registry, password/PAT authentication, and idle-timeout eviction.
package session

import (
	"sync"
	"time"

	"github.com/driftline/driftline/internal/ierr"
)

// Session is one connection's identity and authentication state
// (spec.md §3).
type Session struct {
	ClientID      uint32
	UserID        uint32 // 0 means unauthenticated
	Authenticated bool
	RemoteAddress string
	CreatedAt     time.Time
	LastHeartbeat time.Time
}

// Registry tracks client_id -> Session, created on connection accept and
// destroyed on disconnect or idle timeout.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	nextID   uint32
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint32]*Session), nextID: 1}
}

// Create allocates a new client_id and registers its Session.
func (r *Registry) Create(remoteAddress string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	now := time.Now()
	s := &Session{ClientID: id, RemoteAddress: remoteAddress, CreatedAt: now, LastHeartbeat: now}
	r.sessions[id] = s
	return s
}

// Get looks up a session by client ID.
func (r *Registry) Get(clientID uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Touch refreshes a session's last-heartbeat timestamp.
func (r *Registry) Touch(clientID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[clientID]; ok {
		s.LastHeartbeat = time.Now()
	}
}

// Authenticate mutates a session's user_id after successful credential
// verification (spec.md §4.8: "Authentication commands ... mutate
// user_id").
func (r *Registry) Authenticate(clientID, userID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	if !ok {
		return ierr.NotFound(ierr.CodeUserNotFound, "session not found")
	}
	s.UserID = userID
	s.Authenticated = true
	return nil
}

// Remove destroys a session, e.g. on disconnect.
func (r *Registry) Remove(clientID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, clientID)
}

// EvictIdle removes and returns every session whose last heartbeat is
// older than timeout, as of now.
func (r *Registry) EvictIdle(now time.Time, timeout time.Duration) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []uint32
	for id, s := range r.sessions {
		if now.Sub(s.LastHeartbeat) >= timeout {
			evicted = append(evicted, id)
			delete(r.sessions, id)
		}
	}
	return evicted
}

// Count reports how many sessions are currently registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns every currently registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Deauthenticate clears a session's user_id and authenticated flag
// (spec.md §6 LogoutUser), leaving the session itself registered.
func (r *Registry) Deauthenticate(clientID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	if !ok {
		return ierr.NotFound(ierr.CodeUserNotFound, "session not found")
	}
	s.UserID = 0
	s.Authenticated = false
	return nil
}
