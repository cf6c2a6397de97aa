// Package agent builds turn options, drives one agent turn (streaming or
// not) against the opaque TurnExecutor, and maintains the provider-session
// cache that lets a turn resume the underlying conversation.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
	"github.com/nextlevelbuilder/assistantd/internal/execreg"
	"github.com/nextlevelbuilder/assistantd/internal/security"
	"github.com/nextlevelbuilder/assistantd/internal/session"
	"github.com/nextlevelbuilder/assistantd/internal/tracing"
	"github.com/nextlevelbuilder/assistantd/internal/transcript"
)

// BuildAgentOptions assembles the immutable options bag passed with every
// turn for a given workspace.
func BuildAgentOptions(workspaceDir, memoryContent string, mcpServers, allowedTools []string, resumeSessionID string) domain.TurnOptions {
	return domain.TurnOptions{
		WorkspaceDir:    workspaceDir,
		MemoryContent:   memoryContent,
		MCPServers:      mcpServers,
		ResumeSessionID: resumeSessionID,
		AllowedTools:    allowedTools,
	}
}

// SessionCache is a process-wide, concurrency-safe map from session key to
// the last-seen provider session id, enabling turn resumption.
type SessionCache struct {
	mu    sync.RWMutex
	byKey map[domain.SessionKey]string
}

func NewSessionCache() *SessionCache {
	return &SessionCache{byKey: make(map[domain.SessionKey]string)}
}

func (c *SessionCache) Get(key domain.SessionKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byKey[key]
	return id, ok
}

func (c *SessionCache) Set(key domain.SessionKey, providerSessionID string) {
	if providerSessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key] = providerSessionID
}

// Clear removes the cached provider session id for key, e.g. on /clear or
// daemon restart.
func (c *SessionCache) Clear(key domain.SessionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, key)
}

// Runner drives agent turns against a TurnExecutor, persisting the
// resulting transcript messages and audit entries.
type Runner struct {
	executor            domain.TurnExecutor
	sessions            *SessionCache
	workspaceDir        string
	dataDir             string
	memoryContent       func() string
	mcpServers          []string
	allowedTools        []string
	compactionThreshold int // 0 disables post-turn compaction
	sandboxCfg          security.SandboxConfig
	execRegistry        *execreg.Registry // nil disables background-exec tracking
	execCounter         uint64
}

func NewRunner(executor domain.TurnExecutor, sessions *SessionCache, workspaceDir, dataDir string, memoryContent func() string, mcpServers, allowedTools []string) *Runner {
	return &Runner{
		executor:      executor,
		sessions:      sessions,
		workspaceDir:  workspaceDir,
		dataDir:       dataDir,
		memoryContent: memoryContent,
		mcpServers:    mcpServers,
		allowedTools:  allowedTools,
		sandboxCfg:    security.SandboxConfig{WorkspaceDir: workspaceDir, DataDir: dataDir},
	}
}

// SetSandboxConfig replaces the PreToolUse gate configuration (allowed
// commands, extra read/write dirs) consulted by the tool gate every turn
// builds for the executor.
func (r *Runner) SetSandboxConfig(cfg security.SandboxConfig) {
	r.sandboxCfg = cfg
}

// SetExecRegistry wires a background-exec registry into the runner: any
// Bash tool call whose input requests run_in_background is recorded under
// a synthesized session id and completed when the turn ends, so the
// registry's completion hook can surface it as a system event for the next
// heartbeat. A nil registry (the default) disables tracking.
func (r *Runner) SetExecRegistry(registry *execreg.Registry) {
	r.execRegistry = registry
}

// fileToolKinds maps a tool's exact name, as a TurnExecutor reports it, to
// the FileToolKind the file-tool gate expects.
var fileToolKinds = map[string]security.FileToolKind{
	"Read":  security.ToolRead,
	"Glob":  security.ToolGlob,
	"Grep":  security.ToolGrep,
	"Write": security.ToolWrite,
	"Edit":  security.ToolEdit,
}

// toolGate builds the PreToolUse gate passed to the executor for one turn:
// Bash commands go through the command sandbox, the five file tools go
// through the path sandbox, everything else is allowed unconditionally.
func (r *Runner) toolGate() domain.ToolGate {
	return func(toolName, toolInputJSON string) domain.ToolDecision {
		if toolName == "Bash" {
			command, _ := jsonStringField(toolInputJSON, "command")
			d := security.BashGate(command, r.sandboxCfg)
			return domain.ToolDecision{Blocked: d.Blocked, Reason: d.Reason}
		}
		if kind, known := fileToolKinds[toolName]; known {
			path, ok := jsonStringField(toolInputJSON, "file_path")
			if !ok {
				path, ok = jsonStringField(toolInputJSON, "path")
			}
			d := security.FileToolGate(kind, path, ok, r.sandboxCfg)
			return domain.ToolDecision{Blocked: d.Blocked, Reason: d.Reason}
		}
		return domain.ToolDecision{}
	}
}

// jsonStringField extracts a single top-level string field from a raw JSON
// tool-input object without requiring its full shape.
func jsonStringField(rawJSON, field string) (string, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(rawJSON), &m); err != nil {
		return "", false
	}
	v, ok := m[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// backgroundExecRequest recognizes a Bash tool_start event whose input sets
// run_in_background, and assigns it a registry session id. The underlying
// process itself runs inside the opaque executor subprocess; this only
// tracks its lifecycle for the heartbeat's exec-completion signal.
func (r *Runner) backgroundExecRequest(ev domain.StreamEvent) (sessionID, command string, ok bool) {
	if r.execRegistry == nil || ev.ToolName != "Bash" {
		return "", "", false
	}
	var input struct {
		Command         string `json:"command"`
		RunInBackground bool   `json:"run_in_background"`
	}
	if err := json.Unmarshal([]byte(ev.ToolInput), &input); err != nil || !input.RunInBackground {
		return "", "", false
	}
	r.execCounter++
	return fmt.Sprintf("%s-bg-%d", ev.ProviderSessionID, r.execCounter), input.Command, true
}

// completePendingExecs marks every session id started during the just-ended
// turn as complete, firing the registry's completion hook. The opaque
// executor gives no real exit code once the turn stream ends, so these are
// recorded as succeeding; a future streaming protocol that reports
// background tool_result events directly would replace this with the
// actual exit code.
func (r *Runner) completePendingExecs(sessionIDs []string) {
	if r.execRegistry == nil {
		return
	}
	for _, id := range sessionIDs {
		r.execRegistry.Complete(id, 0)
	}
}

// SetCompactionThreshold enables post-turn compaction at the given
// message-count threshold (session.compactionEnabled + maxHistoryMessages
// in configuration); 0 leaves compaction disabled.
func (r *Runner) SetCompactionThreshold(threshold int) {
	r.compactionThreshold = threshold
}

func (r *Runner) options(key domain.SessionKey) domain.TurnOptions {
	resume, _ := r.sessions.Get(key)
	mem := ""
	if r.memoryContent != nil {
		mem = r.memoryContent()
	}
	return BuildAgentOptions(r.workspaceDir, mem, r.mcpServers, r.allowedTools, resume)
}

// RunAgentTurn executes one non-streaming turn, persists the interaction,
// and returns the assistant's response text.
func (r *Runner) RunAgentTurn(ctx context.Context, key domain.SessionKey, userMessage string) (domain.TurnResult, error) {
	ctx, span := tracing.StartTurn(ctx, key)

	req := domain.TurnRequest{SessionKey: key, Message: userMessage, Options: r.options(key)}
	result, err := r.executor.RunTurn(ctx, req, r.toolGate())
	tracing.EndTurn(span, result.Usage, result.Partial, err)
	if err != nil {
		return domain.TurnResult{}, err
	}

	if result.ProviderSessionID != "" {
		r.sessions.Set(key, result.ProviderSessionID)
	}

	if err := r.persist(key, userMessage, result); err != nil {
		return result, err
	}
	return result, nil
}

// StreamAgentTurn executes one streaming turn, forwarding events to sink,
// capturing the first provider session id seen, and persisting the
// interaction once the stream ends. If the stream fails after some text
// was collected with a recognizable transport-not-ready error, the result
// is returned as partial rather than propagating the error; with no text
// collected the error is rethrown.
func (r *Runner) StreamAgentTurn(ctx context.Context, key domain.SessionKey, userMessage string, sink func(domain.StreamEvent)) (domain.TurnResult, error) {
	ctx, span := tracing.StartTurn(ctx, key)

	var (
		textBuilder  strings.Builder
		usage        domain.Usage
		capturedID   string
		pendingExecs []string
	)

	req := domain.TurnRequest{SessionKey: key, Message: userMessage, Options: r.options(key)}
	streamErr := r.executor.StreamTurn(ctx, req, func(ev domain.StreamEvent) {
		if capturedID == "" && ev.ProviderSessionID != "" {
			capturedID = ev.ProviderSessionID
		}
		switch ev.Kind {
		case domain.StreamTextDelta:
			textBuilder.WriteString(ev.TextDelta)
		case domain.StreamToolStart:
			if sessionID, command, ok := r.backgroundExecRequest(ev); ok {
				r.execRegistry.Register(sessionID, 0, command)
				pendingExecs = append(pendingExecs, sessionID)
			}
		case domain.StreamResult, domain.StreamError:
			r.completePendingExecs(pendingExecs)
			pendingExecs = nil
		}
		sink(ev)
	}, r.toolGate())

	collected := textBuilder.String()
	partial := false
	if streamErr != nil {
		if errors.Is(streamErr, domain.ErrTransportNotReady) && collected != "" {
			partial = true
			streamErr = nil
		} else {
			tracing.EndTurn(span, usage, false, streamErr)
			return domain.TurnResult{}, streamErr
		}
	}

	if capturedID != "" {
		r.sessions.Set(key, capturedID)
	}

	result := domain.TurnResult{Response: collected, Partial: partial, Usage: usage}
	tracing.EndTurn(span, usage, partial, nil)

	if err := r.persist(key, userMessage, result); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) persist(key domain.SessionKey, userMessage string, result domain.TurnResult) error {
	path := transcript.Path(r.dataDir, key)
	messages := []domain.SessionMessage{
		{Role: domain.RoleUser, Content: userMessage, Timestamp: time.Now().UTC()},
		{Role: domain.RoleAssistant, Content: result.Response, Timestamp: time.Now().UTC()},
	}
	if err := session.SaveInteraction(path, messages); err != nil {
		return err
	}
	if err := transcript.AppendAuditEntry(r.workspaceDir, domain.AuditEntry{
		Type:               domain.AuditInteraction,
		Timestamp:          time.Now().UTC(),
		Source:             key.Source(),
		SessionKey:         key.String(),
		UserMessage:        userMessage,
		AssistantResponse:  result.Response,
	}); err != nil {
		return err
	}
	if r.compactionThreshold > 0 {
		if _, err := session.CompactIfNeeded(path, r.compactionThreshold); err != nil {
			slog.Warn("agent: compaction failed", "session", key.String(), "error", err)
		}
	}
	return nil
}

// ClearSdkSession drops the cached provider session id for key, invoked by
// the /clear command or on daemon restart.
func (r *Runner) ClearSdkSession(key domain.SessionKey) {
	r.sessions.Clear(key)
}
