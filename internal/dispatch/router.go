// Package dispatch implements the bounded message queue, the strictly
// single-consumer processing loop, the processing-message accumulator, and
// the name-keyed response router.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/assistantd/internal/transport"
)

// Router maps a transport name to its registered Transport and routes
// outbound replies to the transport named by a message's source.
type Router struct {
	mu         sync.RWMutex
	transports map[string]transport.Transport
}

func NewRouter() *Router {
	return &Router{transports: make(map[string]transport.Transport)}
}

// Register adds a transport. Transports must register before the process
// loop starts.
func (r *Router) Register(t transport.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
}

// Unregister removes a transport by name.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, name)
}

// Get returns the transport registered under name.
func (r *Router) Get(name string) (transport.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// Route sends text to the transport named by source, dropping with a
// warning if source names no registered transport.
func (r *Router) Route(source, sourceID, text string) {
	t, ok := r.Get(source)
	if !ok {
		slog.Warn("dispatch: dropping reply for unregistered transport", "source", source)
		return
	}
	if err := t.SendResponse(sourceID, text); err != nil {
		slog.Warn("dispatch: send response failed", "source", source, "error", err)
	}
}

// ValidateDeliverTo checks a heartbeat.deliverTo configuration value at
// load time: it must be the literal "last" or the name of a transport
// registered with router.
func ValidateDeliverTo(router *Router, deliverTo string) error {
	if deliverTo == "last" {
		return nil
	}
	if _, ok := router.Get(deliverTo); ok {
		return nil
	}
	return fmt.Errorf(`dispatch: heartbeat.deliverTo must be "last" or a registered transport name, got %q`, deliverTo)
}
