package handler

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw/rtcp"
)

// Task identifies one armed RTCP timer.
type Task struct {
	SessionID  string
	PacketType rtcp.PacketType
	Generation uint64
}

func (t Task) String() string {
	return fmt.Sprintf("%s/%s#%d", t.SessionID, t.PacketType, t.Generation)
}

// Registry maps session ids to handlers so scheduled tasks can find their
// session without holding a reference to it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*RTCPHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*RTCPHandler)}
}

// Register adds h under its id.
func (r *Registry) Register(h *RTCPHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[h.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, h.ID())
	}
	r.sessions[h.ID()] = h
	return nil
}

// Unregister removes the session; pending tasks for it become no-ops.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Lookup returns the handler registered under id.
func (r *Registry) Lookup(id string) (*RTCPHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[id]
	return h, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Run delivers an expired timer task to its session.
func (r *Registry) Run(task Task) {
	h, ok := r.Lookup(task.SessionID)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Run",
			"task":     task.String(),
		}).Debug("Dropping timer task for unknown session")
		return
	}
	h.onExpire(task)
}

// Sweep runs the sender timeout sweep of a session.
func (r *Registry) Sweep(id string) {
	if h, ok := r.Lookup(id); ok {
		h.sweep()
	}
}
