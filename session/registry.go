// Package session supervises bot sessions: one per room, tracked in an
// in-process registry, each running its own pipeline until the
// participant leaves, the room ends, or the server shuts down.
package session

import (
	"sync"
	"time"

	"github.com/BaSui01/voiceflow/pipeline"
)

// Session is one live bot session.
type Session struct {
	RoomName  string
	RoomURL   string
	Persona   string
	StartedAt time.Time

	task *pipeline.Task
}

// State returns the session's pipeline state.
func (s *Session) State() pipeline.State {
	return s.task.State()
}

// Done is closed when the session's pipeline has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.task.Done()
}

// Registry tracks live sessions by room name.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert registers a session. Returns false if the room already has one.
func (r *Registry) Insert(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.RoomName]; exists {
		return false
	}
	r.sessions[s.RoomName] = s
	return true
}

// Remove unregisters the room's session. Idempotent.
func (r *Registry) Remove(roomName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, roomName)
}

// Get returns the room's session, if any.
func (r *Registry) Get(roomName string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[roomName]
	return s, ok
}

// Names returns the registered room names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	return names
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of the live sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
