// Package session implements the TCP side of DoIP: per-connection routing
// activation, the diagnostic-message exchange, and the acknowledgement
// ordering rules described in spec.md §4.5 and §5.
package session

import (
	"fmt"
	"sync"
)

// Registry is the mutex-guarded table of live TCP sessions and the set of
// currently-registered client source addresses. It is the only state
// shared across connection goroutines, mirroring the teacher's
// mutex-guarded busManager subscriber table.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	bySource map[uint16]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: map[*Session]struct{}{},
		bySource: map[uint16]*Session{},
	}
}

// Count returns the number of live TCP sessions. It satisfies
// discovery.LiveCounter.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// add records a newly-accepted connection before it has activated.
func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

// remove drops a session and frees its source-address registration, if any.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
	if s.sourceAddress != nil {
		if current, ok := r.bySource[*s.sourceAddress]; ok && current == s {
			delete(r.bySource, *s.sourceAddress)
		}
	}
}

// registerSource binds sourceAddress to s, rejecting the bind if another
// live session already owns it.
func (r *Registry) registerSource(sourceAddress uint16, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bySource[sourceAddress]; ok && existing != s {
		return fmt.Errorf("session: source address x%04x already registered on another connection", sourceAddress)
	}
	r.bySource[sourceAddress] = s
	return nil
}
