// Package cliexec implements domain.TurnExecutor by shelling out to a
// locally installed agent CLI (the "claude" binary by default) and
// parsing its NDJSON stream-json protocol. One subprocess is spawned per
// turn; ResumeSessionID threads continuation across turns via --resume.
package cliexec

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// Config controls how the CLI subprocess is invoked.
type Config struct {
	// Binary is the executable name or path; defaults to "claude".
	Binary string
	// ExtraArgs is appended verbatim to every invocation (e.g. --model).
	ExtraArgs []string
}

// Executor implements domain.TurnExecutor via subprocess NDJSON streaming.
type Executor struct {
	cfg Config
}

// New returns an Executor; an empty Config uses the "claude" binary with
// no extra arguments.
func New(cfg Config) *Executor {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &Executor{cfg: cfg}
}

// streamEvent is one NDJSON line of the CLI's stream-json output format.
type streamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// assistantMessage is the message field of an "assistant" streamEvent.
type assistantMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

// partialEvent is the inner event of a "stream_event" streamEvent, carrying
// incremental text deltas.
type partialEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

func (e *Executor) args(req domain.TurnRequest) []string {
	args := []string{
		"--print", req.Message,
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}
	if req.Options.ResumeSessionID != "" {
		args = append(args, "--resume", req.Options.ResumeSessionID)
	}
	if req.Options.WorkspaceDir != "" {
		args = append(args, "--add-dir", req.Options.WorkspaceDir)
	}
	for _, server := range req.Options.MCPServers {
		args = append(args, "--mcp-config", server)
	}
	if len(req.Options.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.Options.AllowedTools, ","))
	}
	return append(args, e.cfg.ExtraArgs...)
}

// StreamTurn runs the CLI once and forwards parsed events to sink. gate is
// consulted as each tool_use block is observed in the stream; since this
// executor runs the CLI as a single opaque subprocess with no permission
// callback channel, a blocked decision cannot stop the tool already in
// flight — it is surfaced as a StreamError event so the turn's transcript
// and audit log record the refusal. The only pre-execution restriction
// passed to the subprocess is the optional --allowedTools list (see args).
func (e *Executor) StreamTurn(ctx context.Context, req domain.TurnRequest, sink func(domain.StreamEvent), gate domain.ToolGate) error {
	cmd := exec.CommandContext(ctx, e.cfg.Binary, e.args(req)...)
	cmd.Dir = req.Options.WorkspaceDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cliexec: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cliexec: start %s: %w", e.cfg.Binary, err)
	}

	readErr := consumeStream(stdout, sink, gate)
	waitErr := cmd.Wait()
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return domain.ErrTransportNotReady
		}
		return fmt.Errorf("cliexec: %s exited: %w", e.cfg.Binary, waitErr)
	}
	return nil
}

// RunTurn drives StreamTurn to completion and folds the emitted events into
// a single TurnResult.
func (e *Executor) RunTurn(ctx context.Context, req domain.TurnRequest, gate domain.ToolGate) (domain.TurnResult, error) {
	var result domain.TurnResult
	var text strings.Builder
	var turnErr error

	streamErr := e.StreamTurn(ctx, req, func(ev domain.StreamEvent) {
		if result.ProviderSessionID == "" && ev.ProviderSessionID != "" {
			result.ProviderSessionID = ev.ProviderSessionID
		}
		switch ev.Kind {
		case domain.StreamTextDelta:
			text.WriteString(ev.TextDelta)
		case domain.StreamError:
			// gate blocks carry a tool name and do not end the turn
			if ev.ToolName == "" && turnErr == nil {
				turnErr = ev.Err
			}
		case domain.StreamResult:
			if result.Usage.TotalTokens == 0 {
				result.Usage = domain.Usage{}
			}
		}
	}, gate)
	if streamErr == nil {
		streamErr = turnErr
	}

	result.Response = text.String()
	if streamErr != nil {
		if strings.TrimSpace(result.Response) != "" {
			result.Partial = true
			slog.Warn("cliexec: turn ended early, returning partial result", "error", streamErr)
			return result, nil
		}
		return result, streamErr
	}
	return result, nil
}

func consumeStream(stdout io.Reader, sink func(domain.StreamEvent), gate domain.ToolGate) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Warn("cliexec: failed to parse stream-json line", "error", err)
			continue
		}
		dispatchEvent(ev, sink, gate)
	}
	return scanner.Err()
}

func dispatchEvent(ev streamEvent, sink func(domain.StreamEvent), gate domain.ToolGate) {
	switch ev.Type {
	case "stream_event":
		var inner partialEvent
		if err := json.Unmarshal(ev.Event, &inner); err == nil && inner.Delta.Text != "" {
			sink(domain.StreamEvent{Kind: domain.StreamTextDelta, TextDelta: inner.Delta.Text, ProviderSessionID: ev.SessionID})
		}
	case "assistant":
		var msg assistantMessage
		if err := json.Unmarshal(ev.Message, &msg); err == nil {
			for _, block := range msg.Content {
				if block.Type != "tool_use" {
					continue
				}
				inputJSON, _ := json.Marshal(block.Input)
				sink(domain.StreamEvent{Kind: domain.StreamToolStart, ToolName: block.Name, ToolInput: string(inputJSON), ProviderSessionID: ev.SessionID})
				if gate == nil {
					continue
				}
				if decision := gate(block.Name, string(inputJSON)); decision.Blocked {
					sink(domain.StreamEvent{
						Kind:              domain.StreamError,
						ToolName:          block.Name,
						Err:               fmt.Errorf("cliexec: tool %q blocked: %s", block.Name, decision.Reason),
						ProviderSessionID: ev.SessionID,
					})
				}
			}
		}
	case "result":
		if ev.IsError {
			sink(domain.StreamEvent{Kind: domain.StreamError, Err: fmt.Errorf("cliexec: %s", ev.Result), ProviderSessionID: ev.SessionID})
			return
		}
		sink(domain.StreamEvent{Kind: domain.StreamResult, Result: ev.Result, ProviderSessionID: ev.SessionID})
	}
}
