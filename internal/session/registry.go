package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateSession is returned when a key is already registered
	ErrDuplicateSession = errors.New("session already registered")
	// ErrNotFound is returned when no session is registered under a key
	ErrNotFound = errors.New("session not found")
	// ErrDraining is returned for creates after shutdown started
	ErrDraining = errors.New("registry is draining")
)

// Registry maps call identifiers to live sessions
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers s under key. It never overwrites a live session.
func (r *Registry) Create(key string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return ErrDraining
	}
	if _, exists := r.sessions[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, key)
	}
	r.sessions[key] = s
	return nil
}

// Lookup returns the session registered under key
func (r *Registry) Lookup(key string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return s, nil
}

// Remove unregisters key and returns the session that was registered, if
// any. Removing an unknown key is a no-op.
func (r *Registry) Remove(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[key]
	delete(r.sessions, key)
	return s
}

// Release removes key only while it still maps to s
func (r *Registry) Release(key string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

// StartDraining rejects further creates
func (r *Registry) StartDraining() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
}

// IsDraining reports whether StartDraining was called
func (r *Registry) IsDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// CloseAll unregisters and closes every session
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for key, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
