package mcp

import "sync"

// SessionRegistry remembers which MCP session queued each execution so that
// completions go back to that client only. Entries are added by
// autoflow.queue_execution and dropped on terminal completion or when the
// session goes away.
type SessionRegistry struct {
	mu    sync.RWMutex
	owner map[string]string              // execution -> session
	owned map[string]map[string]struct{} // session -> executions
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		owner: make(map[string]string),
		owned: make(map[string]map[string]struct{}),
	}
}

// Register records sessionID as the owner of executionID, replacing any
// previous owner.
func (r *SessionRegistry) Register(executionID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(executionID)
	r.owner[executionID] = sessionID
	set, ok := r.owned[sessionID]
	if !ok {
		set = make(map[string]struct{})
		r.owned[sessionID] = set
	}
	set[executionID] = struct{}{}
}

// SessionFor returns the session that owns executionID.
func (r *SessionRegistry) SessionFor(executionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.owner[executionID]
	return sid, ok
}

// Forget drops the owner of a single execution.
func (r *SessionRegistry) Forget(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(executionID)
}

// Remove drops every execution owned by sessionID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for executionID := range r.owned[sessionID] {
		delete(r.owner, executionID)
	}
	delete(r.owned, sessionID)
}

// Len returns the number of executions with a known owner.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// release must be called with mu held.
func (r *SessionRegistry) release(executionID string) {
	sid, ok := r.owner[executionID]
	if !ok {
		return
	}
	delete(r.owner, executionID)
	if set := r.owned[sid]; set != nil {
		delete(set, executionID)
		if len(set) == 0 {
			delete(r.owned, sid)
		}
	}
}
