// Package heartbeat implements the system-event buffer, the heartbeat
// prompt resolver, and the interval/active-hours heartbeat scheduler.
package heartbeat

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

const eventBufferCap = 20

// EventBuffer is a process-wide bounded FIFO of SystemEvent, evicting the
// oldest entry on overflow. Safe for concurrent use.
type EventBuffer struct {
	mu     sync.Mutex
	events []domain.SystemEvent
}

func NewEventBuffer() *EventBuffer {
	return &EventBuffer{}
}

// Enqueue appends an event, evicting the oldest if the buffer is full.
func (b *EventBuffer) Enqueue(event domain.SystemEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) >= eventBufferCap {
		b.events = b.events[1:]
	}
	b.events = append(b.events, event)
}

// Drain atomically snapshots and clears the buffer.
func (b *EventBuffer) Drain() []domain.SystemEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	out := make([]domain.SystemEvent, len(b.events))
	copy(out, b.events)
	b.events = nil
	return out
}

// Clear empties the buffer without returning its contents.
func (b *EventBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// NewEvent builds a SystemEvent stamped with the current time.
func NewEvent(eventType, text string) domain.SystemEvent {
	return domain.SystemEvent{Type: eventType, Text: text, Timestamp: time.Now().UTC()}
}
