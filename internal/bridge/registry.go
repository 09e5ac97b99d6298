package bridge

import (
	"fmt"
	"sync"
)

// Registry maps active call SIDs to their controllers. It is constructed once
// in main and injected wherever call lookup is needed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Controller)}
}

// Add registers a controller under its call SID. A second registration for
// the same SID is rejected.
func (r *Registry) Add(callSid string, c *Controller) error {
	if callSid == "" {
		return fmt.Errorf("call sid cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[callSid]; exists {
		return fmt.Errorf("call %s already registered", callSid)
	}
	r.sessions[callSid] = c
	return nil
}

// Get returns the controller for a call SID.
func (r *Registry) Get(callSid string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[callSid]
	return c, ok
}

// Remove drops the registry entry. Removing an absent SID is a no-op.
func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callSid)
}

// Count returns the number of active calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveCallSids lists the SIDs of all active calls.
func (r *Registry) ActiveCallSids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sids := make([]string, 0, len(r.sessions))
	for sid := range r.sessions {
		sids = append(sids, sid)
	}
	return sids
}
