// Package execreg implements the exec process registry: the external
// collaborator tracking background shell processes the agent started, and
// the hook that turns their completion into a system event.
package execreg

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// CompletionFunc is called when a tracked process exits, so the caller can
// enqueue a system event (type "exec") for the next heartbeat.
type CompletionFunc func(sessionID string, session domain.ProcessSession)

// Registry tracks background exec sessions by session id. Safe for
// concurrent use.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]domain.ProcessSession
	onComplete CompletionFunc
}

func NewRegistry(onComplete CompletionFunc) *Registry {
	return &Registry{sessions: make(map[string]domain.ProcessSession), onComplete: onComplete}
}

// Register records a newly started process under sessionID.
func (r *Registry) Register(sessionID string, pid int, command string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = domain.ProcessSession{
		PID:       pid,
		Command:   command,
		StartedAt: time.Now().UTC(),
	}
}

// AppendOutput accumulates combined stdout/stderr for a tracked session.
func (r *Registry) AppendOutput(sessionID, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.Output += chunk
	r.sessions[sessionID] = s
}

// Complete marks a process as exited and fires the completion hook, if set.
func (r *Registry) Complete(sessionID string, exitCode int) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	s.ExitCode = &exitCode
	s.ExitedAt = &now
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if r.onComplete != nil {
		r.onComplete(sessionID, s)
	}
}

// Get returns the tracked session, if any.
func (r *Registry) Get(sessionID string) (domain.ProcessSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// List returns every tracked session, running and exited.
func (r *Registry) List() map[string]domain.ProcessSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.ProcessSession, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// Remove drops a session from the registry, e.g. once its completion has
// been consumed.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}
