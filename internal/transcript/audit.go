package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

func auditPath(workspaceDir, date string) string {
	return filepath.Join(workspaceDir, "daily", date+".jsonl")
}

// AppendAuditEntry derives the YYYY-MM-DD partition from the entry's
// timestamp (falling back to today) and appends one JSONL line.
func AppendAuditEntry(workspaceDir string, e domain.AuditEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
		e.Timestamp = ts
	}
	date := ts.UTC().Format("2006-01-02")
	path := auditPath(workspaceDir, date)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audit: create parent dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return f.Sync()
}

// ReadAuditEntries returns the entries for one UTC date, or an empty slice
// if the file is absent.
func ReadAuditEntries(workspaceDir, date string) ([]domain.AuditEntry, error) {
	path := auditPath(workspaceDir, date)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	var entries []domain.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := trimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e domain.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			slog.Warn("audit: skipping malformed line", "path", path, "line", lineNo, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, nil
}
