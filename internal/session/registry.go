package session

import "sync"

// Registry maps stream identifiers to live sessions, enforcing at most one
// active session per identifier. Streams are independent; there is no
// cross-session locking beyond the map itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*StreamSession
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*StreamSession),
	}
}

// Create registers the session under its stream ID. When a session already
// exists for the ID, the existing session is kept and returned with
// created=false; the duplicate is discarded.
func (r *Registry) Create(s *StreamSession) (*StreamSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.StreamID]; ok {
		return existing, false
	}
	r.sessions[s.StreamID] = s
	return s, true
}

// Get returns the session for a stream ID, if present
func (r *Registry) Get(streamID string) (*StreamSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[streamID]
	return s, ok
}

// IsActive reports whether a registered session for the stream ID is in the
// Active state. Used by the protocol codec to flag out-of-sequence media.
func (r *Registry) IsActive(streamID string) bool {
	r.mu.RLock()
	s, ok := r.sessions[streamID]
	r.mu.RUnlock()
	return ok && s.State() == StateActive
}

// Remove deletes the session for a stream ID. Removing an absent ID is a
// safe no-op; returns whether a session was actually removed.
func (r *Registry) Remove(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[streamID]; !ok {
		return false
	}
	delete(r.sessions, streamID)
	return true
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
