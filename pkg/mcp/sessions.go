package mcp

import "sync"

// SessionRegistry remembers the MCP session each actor last called from.
// Actors are the people named in tool calls (completed_by, actor), which are
// the same addresses used as notification recipients.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // actor -> session id
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register records actor's current session, replacing any earlier one.
func (r *SessionRegistry) Register(actor, sessionID string) {
	if actor == "" || sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[actor] = sessionID
}

// SessionFor returns the session for actor, if one is known.
func (r *SessionRegistry) SessionFor(actor string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[actor]
	return sid, ok
}

// Remove forgets every actor bound to sessionID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for actor, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, actor)
		}
	}
}

// Len reports how many actors have a known session.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
