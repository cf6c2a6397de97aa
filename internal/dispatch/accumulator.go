package dispatch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

const (
	accumulatorMaxChars  = 4000
	truncatedHeadMarker  = "[...earlier output truncated...]"
)

// ProcessingAccumulator consumes a turn's StreamEvent sequence into a
// human-readable, append-only buffer, periodically flushed to a transport's
// processing-message hooks. The first flush that has seen tool activity
// creates the processing message; later flushes update it. Text-only turns
// never flush — the reply is delivered once the turn completes.
type ProcessingAccumulator struct {
	interval time.Duration
	create   func(text string) (messageID string, err error)
	update   func(messageID, text string) error

	mu           sync.Mutex
	lines        []string
	tentativeIdx int // index of the last tool_start line, -1 if none pending replacement
	sawToolUse   bool
	messageID    string
	lastFlush    time.Time
	flushing     bool
}

func NewProcessingAccumulator(interval time.Duration, create func(string) (string, error), update func(string, string) error) *ProcessingAccumulator {
	return &ProcessingAccumulator{interval: interval, create: create, update: update, tentativeIdx: -1}
}

// Consume applies one StreamEvent to the buffer and flushes if the flush
// interval has elapsed since the last flush. A zero interval turns this
// automatic flushing off, leaving every flush to explicit Flush calls.
func (a *ProcessingAccumulator) Consume(ev domain.StreamEvent) {
	a.mu.Lock()
	switch ev.Kind {
	case domain.StreamToolStart:
		a.lines = append(a.lines, fmt.Sprintf("using %s...", ev.ToolName))
		a.tentativeIdx = len(a.lines) - 1
		a.sawToolUse = true
	case domain.StreamToolInput:
		if a.tentativeIdx >= 0 {
			a.lines[a.tentativeIdx] = fmt.Sprintf("using %s: %s", ev.ToolName, ev.ToolInput)
			a.tentativeIdx = -1
		} else {
			a.lines = append(a.lines, fmt.Sprintf("using %s: %s", ev.ToolName, ev.ToolInput))
		}
		a.sawToolUse = true
	case domain.StreamToolProgress:
		if len(a.lines) > 0 {
			a.lines[len(a.lines)-1] = fmt.Sprintf("%s (elapsed %ds)", a.lines[len(a.lines)-1], ev.ElapsedMs/1000)
		}
	case domain.StreamResult, domain.StreamError, domain.StreamTextDelta:
		// text deltas and terminal events do not themselves drive the
		// processing-message buffer; the final reply is sent separately.
	}
	due := a.interval > 0 && a.sawToolUse && time.Since(a.lastFlush) >= a.interval
	a.mu.Unlock()

	if due {
		a.Flush()
	}
}

// Flush sends the current buffer to the transport, creating the processing
// message on first flush and updating it thereafter. Re-entrant flushes
// while one is already in progress are a no-op. Never flushes a buffer with
// no tool activity (text-only turns).
func (a *ProcessingAccumulator) Flush() {
	a.mu.Lock()
	if a.flushing || !a.sawToolUse || len(a.lines) == 0 {
		a.mu.Unlock()
		return
	}
	a.flushing = true
	text := truncateHead(strings.Join(a.lines, "\n"), accumulatorMaxChars)
	messageID := a.messageID
	a.mu.Unlock()

	var err error
	var newID string
	if messageID == "" {
		newID, err = a.create(text)
	} else {
		err = a.update(messageID, text)
	}

	a.mu.Lock()
	if err == nil {
		if messageID == "" {
			a.messageID = newID
		}
		a.lastFlush = time.Now()
	}
	a.flushing = false
	a.mu.Unlock()
}

func truncateHead(s string, max int) string {
	if len(s) <= max {
		return s
	}
	keep := max - len(truncatedHeadMarker) - 1
	if keep < 0 {
		keep = 0
	}
	return truncatedHeadMarker + "\n" + s[len(s)-keep:]
}
