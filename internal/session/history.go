package session

import (
	"log/slog"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
	"github.com/nextlevelbuilder/assistantd/internal/transcript"
)

const toolResultTruncateLen = 500
const truncateSuffix = "... [truncated]"

// HistoryConfig bounds LoadHistory's behavior.
type HistoryConfig struct {
	MaxHistoryMessages int
}

// LoadHistory loads the transcript, drops compaction markers, sanitizes
// each message, and returns the last MaxHistoryMessages entries.
func LoadHistory(path string, cfg HistoryConfig) ([]domain.SessionMessage, error) {
	lines, err := transcript.LoadTranscript(path)
	if err != nil {
		return nil, err
	}

	messages := make([]domain.SessionMessage, 0, len(lines))
	for _, l := range lines {
		if l.Message == nil {
			continue
		}
		messages = append(messages, sanitizeMessage(*l.Message))
	}

	if cfg.MaxHistoryMessages > 0 && len(messages) > cfg.MaxHistoryMessages {
		messages = messages[len(messages)-cfg.MaxHistoryMessages:]
	}
	return messages, nil
}

// sanitizeMessage truncates an oversized tool_result message.
func sanitizeMessage(m domain.SessionMessage) domain.SessionMessage {
	if m.Role != domain.RoleToolResult || len(m.Content) <= toolResultTruncateLen {
		return m
	}
	original := len(m.Content)
	m.Content = m.Content[:toolResultTruncateLen] + truncateSuffix
	slog.Debug("session: truncated tool_result", "original_len", original, "truncated_len", len(m.Content))
	return m
}

// SaveInteraction appends every message of one turn to the transcript.
func SaveInteraction(path string, messages []domain.SessionMessage) error {
	return transcript.AppendMessages(path, messages)
}
