package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// After CompactIfNeeded(path, T) on a transcript with N>T messages, the
// resulting file contains exactly T messages plus one new compaction
// entry, the .bak equals the pre-compaction file byte-for-byte, and no
// .tmp remains.
func TestCompactIfNeeded_Compacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	var msgs []domain.SessionMessage
	for i := 0; i < 5; i++ {
		msgs = append(msgs, domain.SessionMessage{Role: domain.RoleUser, Content: string(rune('a' + i))})
	}
	if err := SaveInteraction(path, msgs); err != nil {
		t.Fatal(err)
	}
	preBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	result, err := CompactIfNeeded(path, 2)
	if err != nil {
		t.Fatalf("CompactIfNeeded: %v", err)
	}
	if !result.Compacted || result.MessagesBefore != 5 || result.MessagesAfter != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	history, err := LoadHistory(path, HistoryConfig{MaxHistoryMessages: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 kept messages, got %d", len(history))
	}
	// order preserved: the last two of a,b,c,d,e are d,e
	if history[0].Content != "d" || history[1].Content != "e" {
		t.Errorf("unexpected kept order: %+v", history)
	}

	bakBytes, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("expected .bak: %v", err)
	}
	if string(bakBytes) != string(preBytes) {
		t.Error(".bak does not match pre-compaction content byte-for-byte")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("expected no leftover .tmp")
	}
}

func TestCompactIfNeeded_NoOpBelowThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	if err := SaveInteraction(path, []domain.SessionMessage{{Role: domain.RoleUser, Content: "only"}}); err != nil {
		t.Fatal(err)
	}
	result, err := CompactIfNeeded(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if result.Compacted {
		t.Fatal("expected no compaction below threshold")
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Fatal("expected no .bak when not compacted")
	}
}
