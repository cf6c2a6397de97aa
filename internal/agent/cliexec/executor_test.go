package cliexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// fakeBinary writes an executable shell script that emits the given NDJSON
// lines on stdout, standing in for the real CLI in tests.
func fakeBinary(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude")
	script := "#!/bin/sh\n"
	for _, line := range lines {
		script += "cat <<'EOF'\n" + line + "\nEOF\n"
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecutor_RunTurn_CollectsTextDeltas(t *testing.T) {
	bin := fakeBinary(t,
		`{"type":"stream_event","session_id":"sid-1","event":{"type":"content_block_delta","delta":{"text":"Hel"}}}`,
		`{"type":"stream_event","session_id":"sid-1","event":{"type":"content_block_delta","delta":{"text":"lo"}}}`,
		`{"type":"result","session_id":"sid-1","result":"ok","is_error":false}`,
	)
	e := New(Config{Binary: bin})

	result, err := e.RunTurn(context.Background(), domain.TurnRequest{
		SessionKey: "local--1",
		Message:    "hi",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "Hello" {
		t.Errorf("expected %q, got %q", "Hello", result.Response)
	}
	if result.Partial {
		t.Error("expected non-partial result")
	}
	if result.ProviderSessionID != "sid-1" {
		t.Errorf("expected provider session id %q, got %q", "sid-1", result.ProviderSessionID)
	}
}

func TestExecutor_RunTurn_ErrorEventFailsTurn(t *testing.T) {
	bin := fakeBinary(t, `{"type":"result","is_error":true,"result":"boom"}`)
	e := New(Config{Binary: bin})

	result, err := e.RunTurn(context.Background(), domain.TurnRequest{
		SessionKey: "local--1",
		Message:    "hi",
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Response != "" {
		t.Errorf("expected empty response, got %q", result.Response)
	}
}

func TestExecutor_StreamTurn_ForwardsToolStart(t *testing.T) {
	bin := fakeBinary(t,
		`{"type":"assistant","session_id":"sid-2","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`,
		`{"type":"result","result":"done"}`,
	)
	e := New(Config{Binary: bin})

	var kinds []domain.StreamEventKind
	err := e.StreamTurn(context.Background(), domain.TurnRequest{SessionKey: "local--1", Message: "hi"}, func(ev domain.StreamEvent) {
		kinds = append(kinds, ev.Kind)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 2 || kinds[0] != domain.StreamToolStart || kinds[1] != domain.StreamResult {
		t.Errorf("unexpected event sequence: %v", kinds)
	}
}

func TestExecutor_StreamTurn_GateBlockSurfacesError(t *testing.T) {
	bin := fakeBinary(t,
		`{"type":"assistant","session_id":"sid-3","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"rm -rf /"}}]}}`,
		`{"type":"result","result":"done"}`,
	)
	e := New(Config{Binary: bin})

	var kinds []domain.StreamEventKind
	blocking := func(toolName, toolInputJSON string) domain.ToolDecision {
		if toolName == "Bash" {
			return domain.ToolDecision{Blocked: true, Reason: "not allowed"}
		}
		return domain.ToolDecision{}
	}
	err := e.StreamTurn(context.Background(), domain.TurnRequest{SessionKey: "local--1", Message: "hi"}, func(ev domain.StreamEvent) {
		kinds = append(kinds, ev.Kind)
	}, blocking)
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 3 || kinds[0] != domain.StreamToolStart || kinds[1] != domain.StreamError || kinds[2] != domain.StreamResult {
		t.Errorf("unexpected event sequence: %v", kinds)
	}
}
