package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
	"github.com/nextlevelbuilder/assistantd/internal/execreg"
	"github.com/nextlevelbuilder/assistantd/internal/security"
	"github.com/nextlevelbuilder/assistantd/internal/session"
	"github.com/nextlevelbuilder/assistantd/internal/transcript"
)

type fakeExecutor struct {
	runResult    domain.TurnResult
	runErr       error
	streamEvents []domain.StreamEvent
	streamErr    error
}

func (f *fakeExecutor) RunTurn(ctx context.Context, req domain.TurnRequest, gate domain.ToolGate) (domain.TurnResult, error) {
	return f.runResult, f.runErr
}

func (f *fakeExecutor) StreamTurn(ctx context.Context, req domain.TurnRequest, sink func(domain.StreamEvent), gate domain.ToolGate) error {
	for _, ev := range f.streamEvents {
		sink(ev)
	}
	return f.streamErr
}

func newTestRunner(t *testing.T, executor domain.TurnExecutor) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	workspaceDir := filepath.Join(dir, "workspace")
	dataDir := filepath.Join(dir, "data")
	r := NewRunner(executor, NewSessionCache(), workspaceDir, dataDir, func() string { return "" }, nil, nil)
	return r, dataDir
}

func TestRunAgentTurn_PersistsInteraction(t *testing.T) {
	executor := &fakeExecutor{runResult: domain.TurnResult{Response: "hello there"}}
	r, dataDir := newTestRunner(t, executor)
	key := domain.NewSessionKey("telegram", "123", "")

	result, err := r.RunAgentTurn(context.Background(), key, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "hello there" {
		t.Fatalf("unexpected response %q", result.Response)
	}

	msgs, err := session.LoadHistory(transcript.Path(dataDir, key), session.HistoryConfig{MaxHistoryMessages: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Content != "hello there" {
		t.Fatalf("unexpected persisted history: %+v", msgs)
	}
}

func TestRunAgentTurn_CapturesProviderSessionID(t *testing.T) {
	executor := &fakeExecutor{runResult: domain.TurnResult{Response: "hello there", ProviderSessionID: "sdk-456"}}
	r, _ := newTestRunner(t, executor)
	key := domain.NewSessionKey("telegram", "222", "")

	if _, err := r.RunAgentTurn(context.Background(), key, "hi"); err != nil {
		t.Fatal(err)
	}
	if id, ok := r.sessions.Get(key); !ok || id != "sdk-456" {
		t.Fatalf("expected provider session id cached, got %q ok=%v", id, ok)
	}
}

func TestStreamAgentTurn_CapturesProviderSessionID(t *testing.T) {
	executor := &fakeExecutor{streamEvents: []domain.StreamEvent{
		{Kind: domain.StreamTextDelta, TextDelta: "partial ", ProviderSessionID: "sdk-123"},
		{Kind: domain.StreamTextDelta, TextDelta: "answer"},
	}}
	r, _ := newTestRunner(t, executor)
	key := domain.NewSessionKey("telegram", "456", "")

	var seen []domain.StreamEvent
	result, err := r.StreamAgentTurn(context.Background(), key, "hi", func(ev domain.StreamEvent) { seen = append(seen, ev) })
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "partial answer" {
		t.Fatalf("unexpected concatenated response %q", result.Response)
	}
	if len(seen) != 2 {
		t.Fatalf("expected sink called for each event, got %d", len(seen))
	}
	if id, ok := r.sessions.Get(key); !ok || id != "sdk-123" {
		t.Fatalf("expected provider session id cached, got %q ok=%v", id, ok)
	}
}

func TestStreamAgentTurn_PartialOnTransportNotReadyWithText(t *testing.T) {
	executor := &fakeExecutor{
		streamEvents: []domain.StreamEvent{{Kind: domain.StreamTextDelta, TextDelta: "some text"}},
		streamErr:    domain.ErrTransportNotReady,
	}
	r, _ := newTestRunner(t, executor)
	key := domain.NewSessionKey("telegram", "789", "")

	result, err := r.StreamAgentTurn(context.Background(), key, "hi", func(domain.StreamEvent) {})
	if err != nil {
		t.Fatalf("expected no error when text was collected, got %v", err)
	}
	if !result.Partial {
		t.Fatal("expected partial=true")
	}
	if result.Response != "some text" {
		t.Fatalf("unexpected response %q", result.Response)
	}
}

func TestStreamAgentTurn_RethrowsWhenNoTextCollected(t *testing.T) {
	executor := &fakeExecutor{streamErr: domain.ErrTransportNotReady}
	r, _ := newTestRunner(t, executor)
	key := domain.NewSessionKey("telegram", "999", "")

	_, err := r.StreamAgentTurn(context.Background(), key, "hi", func(domain.StreamEvent) {})
	if !errors.Is(err, domain.ErrTransportNotReady) {
		t.Fatalf("expected ErrTransportNotReady to propagate, got %v", err)
	}
}

func TestRunAgentTurn_CompactsWhenThresholdExceeded(t *testing.T) {
	executor := &fakeExecutor{runResult: domain.TurnResult{Response: "reply"}}
	r, dataDir := newTestRunner(t, executor)
	r.SetCompactionThreshold(2)
	key := domain.NewSessionKey("telegram", "321", "")

	for i := 0; i < 3; i++ {
		if _, err := r.RunAgentTurn(context.Background(), key, "hi"); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := session.LoadHistory(transcript.Path(dataDir, key), session.HistoryConfig{MaxHistoryMessages: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) > 2 {
		t.Fatalf("expected compaction to cap history at threshold, got %d messages", len(msgs))
	}
}

func TestClearSdkSession(t *testing.T) {
	r, _ := newTestRunner(t, &fakeExecutor{})
	key := domain.NewSessionKey("telegram", "1", "")
	r.sessions.Set(key, "sdk-1")
	r.ClearSdkSession(key)
	if _, ok := r.sessions.Get(key); ok {
		t.Fatal("expected session cleared")
	}
}

func TestToolGate_BashRejectsDisallowedCommand(t *testing.T) {
	r, _ := newTestRunner(t, &fakeExecutor{})
	r.SetSandboxConfig(security.SandboxConfig{
		AllowedCommands: map[string]bool{"ls": true},
		WorkspaceDir:    r.workspaceDir,
	})

	gate := r.toolGate()
	decision := gate("Bash", `{"command":"rm -rf /"}`)
	if !decision.Blocked {
		t.Fatal("expected rm to be blocked, command is not in the allowed list")
	}

	decision = gate("Bash", `{"command":"ls"}`)
	if decision.Blocked {
		t.Fatalf("expected ls to be allowed, got blocked: %s", decision.Reason)
	}
}

func TestToolGate_FileToolRejectsEscapingPath(t *testing.T) {
	r, _ := newTestRunner(t, &fakeExecutor{})
	r.SetSandboxConfig(security.SandboxConfig{WorkspaceDir: r.workspaceDir})

	gate := r.toolGate()
	decision := gate("Read", `{"file_path":"/etc/passwd"}`)
	if !decision.Blocked {
		t.Fatal("expected path outside workspace to be blocked")
	}
}

func TestStreamAgentTurn_TracksBackgroundExecToCompletion(t *testing.T) {
	executor := &fakeExecutor{streamEvents: []domain.StreamEvent{
		{Kind: domain.StreamToolStart, ToolName: "Bash", ToolInput: `{"command":"sleep 30","run_in_background":true}`, ProviderSessionID: "sdk-bg"},
		{Kind: domain.StreamResult, Result: "ok"},
	}}
	r, _ := newTestRunner(t, executor)

	var completedID string
	var completedSession domain.ProcessSession
	r.SetExecRegistry(execreg.NewRegistry(func(sessionID string, s domain.ProcessSession) {
		completedID = sessionID
		completedSession = s
	}))

	key := domain.NewSessionKey("telegram", "bg-1", "")
	if _, err := r.StreamAgentTurn(context.Background(), key, "run it in the background", func(domain.StreamEvent) {}); err != nil {
		t.Fatal(err)
	}

	if completedID == "" {
		t.Fatal("expected background exec to be completed")
	}
	if completedSession.Command != "sleep 30" {
		t.Fatalf("unexpected tracked command %q", completedSession.Command)
	}
	if completedSession.ExitCode == nil || *completedSession.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %+v", completedSession.ExitCode)
	}
}

func TestStreamAgentTurn_IgnoresForegroundBashCalls(t *testing.T) {
	executor := &fakeExecutor{streamEvents: []domain.StreamEvent{
		{Kind: domain.StreamToolStart, ToolName: "Bash", ToolInput: `{"command":"ls"}`},
		{Kind: domain.StreamResult, Result: "ok"},
	}}
	r, _ := newTestRunner(t, executor)

	called := false
	r.SetExecRegistry(execreg.NewRegistry(func(string, domain.ProcessSession) { called = true }))

	key := domain.NewSessionKey("telegram", "bg-2", "")
	if _, err := r.StreamAgentTurn(context.Background(), key, "ls", func(domain.StreamEvent) {}); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("expected foreground bash call not to be tracked as background exec")
	}
}

func TestToolGate_UnknownToolAllowedUnconditionally(t *testing.T) {
	r, _ := newTestRunner(t, &fakeExecutor{})
	gate := r.toolGate()
	decision := gate("WebFetch", `{"url":"https://example.com"}`)
	if decision.Blocked {
		t.Fatal("expected unrecognized tool to pass through the gate unconditionally")
	}
}
