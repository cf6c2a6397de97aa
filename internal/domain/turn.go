package domain

import (
	"context"
	"errors"
)

// ErrTransportNotReady is the sentinel a TurnExecutor returns (via errors.Is)
// when its underlying transport dropped mid-stream. The agent runner treats
// this as a recoverable partial result rather than a hard failure, provided
// some text was already collected.
var ErrTransportNotReady = errors.New("turn executor: transport not ready")

// StreamEventKind enumerates the kinds of events a TurnExecutor's stream
// may emit, consumed by the processing-message accumulator.
type StreamEventKind string

const (
	StreamTextDelta    StreamEventKind = "text_delta"
	StreamToolStart    StreamEventKind = "tool_start"
	StreamToolInput    StreamEventKind = "tool_input"
	StreamToolProgress StreamEventKind = "tool_progress"
	StreamResult       StreamEventKind = "result"
	StreamError        StreamEventKind = "error"
)

// StreamEvent is one item in a turn's streaming event sequence.
type StreamEvent struct {
	Kind      StreamEventKind
	TextDelta string
	ToolName  string
	ToolInput string
	ElapsedMs int64
	Result    string
	Err       error

	// ProviderSessionID, when non-empty, is captured by the agent runner
	// on the first event that carries it and cached for session resume.
	ProviderSessionID string
}

// Usage records token accounting for one turn, for audit/trace enrichment.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// TurnOptions is the immutable options bag built by buildAgentOptions.
type TurnOptions struct {
	WorkspaceDir      string
	MemoryContent     string
	MCPServers        []string
	ResumeSessionID   string // set when a provider session is cached
	AllowedTools      []string
}

// TurnRequest is passed to the external turn executor for one agent turn.
type TurnRequest struct {
	SessionKey SessionKey
	Message    string
	Options    TurnOptions
}

// TurnResult is the outcome of one non-streaming agent turn.
type TurnResult struct {
	Response string
	Messages []SessionMessage
	Partial  bool // defaults to false; see Design Notes Open Question
	Usage    Usage

	// ProviderSessionID, when non-empty, is the first such id seen across
	// the turn's events, for the runner to cache and resume on the next
	// turn — the same session-resume step StreamAgentTurn performs.
	ProviderSessionID string
}

// ToolDecision is a PreToolUse gate's verdict for one tool call: a zero
// value allows it, Blocked=true carries the refusal reason back to the
// executor so it can surface a tool-denied result to the model instead of
// running the tool.
type ToolDecision struct {
	Blocked bool
	Reason  string
}

// ToolGate is invoked by a TurnExecutor before running a tool, with the
// tool's name and its raw JSON input. The executor must not run the tool
// when the returned ToolDecision is blocked.
type ToolGate func(toolName, toolInputJSON string) ToolDecision

// TurnExecutor is the opaque, external language-model turn executor the
// agent runner wraps. Its internals are out of scope; the core only calls
// it through this interface.
type TurnExecutor interface {
	// RunTurn executes one non-streaming turn, consulting gate before
	// running each tool the model invokes.
	RunTurn(ctx context.Context, req TurnRequest, gate ToolGate) (TurnResult, error)
	// StreamTurn executes one turn, delivering StreamEvent values to sink
	// until the stream is exhausted or ctx is cancelled, consulting gate
	// before running each tool the model invokes. The returned error, if
	// any, is the terminal stream error (e.g. a transport-reset
	// condition); text already sent to sink before the error remains valid.
	StreamTurn(ctx context.Context, req TurnRequest, sink func(StreamEvent), gate ToolGate) error
}
