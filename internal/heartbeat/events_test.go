package heartbeat

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

func TestEventBuffer_EvictsOldestOnOverflow(t *testing.T) {
	b := NewEventBuffer()
	for i := 0; i < eventBufferCap+5; i++ {
		b.Enqueue(domain.SystemEvent{Type: domain.EventSystem, Text: string(rune('a' + i%26)), Timestamp: time.Now()})
	}
	events := b.Drain()
	if len(events) != eventBufferCap {
		t.Fatalf("expected buffer capped at %d, got %d", eventBufferCap, len(events))
	}
}

// Draining twice: first call returns the full snapshot, second call (with
// no intervening enqueues) returns empty.
func TestEventBuffer_DrainTwiceProperty(t *testing.T) {
	b := NewEventBuffer()
	b.Enqueue(NewEvent(domain.EventCron, "reminder"))
	b.Enqueue(NewEvent(domain.EventExec, "done"))

	first := b.Drain()
	if len(first) != 2 {
		t.Fatalf("expected 2 events on first drain, got %d", len(first))
	}
	second := b.Drain()
	if len(second) != 0 {
		t.Fatalf("expected empty second drain, got %d", len(second))
	}
}

func TestEventBuffer_Clear(t *testing.T) {
	b := NewEventBuffer()
	b.Enqueue(NewEvent(domain.EventSystem, "x"))
	b.Clear()
	if events := b.Drain(); len(events) != 0 {
		t.Fatalf("expected empty after Clear, got %d", len(events))
	}
}
