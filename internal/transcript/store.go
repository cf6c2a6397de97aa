// Package transcript implements the append-only JSONL session transcript
// store with atomic rewrite-for-compaction, and the day-indexed audit log.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// Path returns the transcript file path for a session key under dataDir.
func Path(dataDir string, key domain.SessionKey) string {
	return filepath.Join(dataDir, "sessions", key.String()+".jsonl")
}

// rawLine is the on-disk shape used to discriminate SessionMessage from
// CompactionEntry: a compaction line carries type="compaction", a message
// line carries no type field (or any other value).
type rawLine struct {
	Type string `json:"type,omitempty"`
}

// AppendMessage appends a single message line to the transcript.
func AppendMessage(path string, m domain.SessionMessage) error {
	return AppendMessages(path, []domain.SessionMessage{m})
}

// AppendMessages appends every message of one turn to the transcript in a
// single write, atomic from the caller's perspective.
func AppendMessages(path string, messages []domain.SessionMessage) error {
	if len(messages) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("transcript: create parent dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open: %w", err)
	}
	defer f.Close()

	var buf []byte
	for _, m := range messages {
		line, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("transcript: marshal message: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	return f.Sync()
}

// LoadTranscript returns the decoded sequence of lines. Empty lines are
// skipped silently; malformed JSON lines are skipped with a warning.
// A missing file returns an empty slice.
func LoadTranscript(path string) ([]domain.TranscriptLine, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	defer f.Close()

	var lines []domain.TranscriptLine
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(trimSpace(raw)) == 0 {
			continue
		}

		var disc rawLine
		if err := json.Unmarshal(raw, &disc); err != nil {
			slog.Warn("transcript: skipping malformed line", "path", path, "line", lineNo, "error", err)
			continue
		}

		if disc.Type == domain.CompactionType {
			var c domain.CompactionEntry
			if err := json.Unmarshal(raw, &c); err != nil {
				slog.Warn("transcript: skipping malformed compaction line", "path", path, "line", lineNo, "error", err)
				continue
			}
			lines = append(lines, domain.TranscriptLine{Compaction: &c})
			continue
		}

		var m domain.SessionMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			slog.Warn("transcript: skipping malformed line", "path", path, "line", lineNo, "error", err)
			continue
		}
		lines = append(lines, domain.TranscriptLine{Message: &m})
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("transcript: scan: %w", err)
	}
	return lines, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpaceByte(b[start]) {
		start++
	}
	for end > start && isSpaceByte(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpaceByte(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

// RewriteTranscript atomically replaces the transcript with lines. If the
// destination already exists, it is first copied to path+".bak"; the new
// content is written to path+".tmp" and renamed onto path. If the
// destination did not exist, no .bak is produced.
func RewriteTranscript(path string, lines []domain.TranscriptLine) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("transcript: create parent dir: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("transcript: backup: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("transcript: stat: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := writeLines(tmpPath, lines); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("transcript: rename: %w", err)
	}
	return nil
}

func writeLines(path string, lines []domain.TranscriptLine) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: create temp: %w", err)
	}
	defer f.Close()

	for _, l := range lines {
		var v any
		switch {
		case l.Message != nil:
			v = l.Message
		case l.Compaction != nil:
			l.Compaction.Type = domain.CompactionType
			v = l.Compaction
		default:
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("transcript: marshal line: %w", err)
		}
		if _, err := f.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("transcript: write: %w", err)
		}
	}
	return f.Sync()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
