package session

import (
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
	"github.com/nextlevelbuilder/assistantd/internal/transcript"
)

// CompactResult reports whether CompactIfNeeded mutated the transcript.
type CompactResult struct {
	Compacted      bool
	MessagesBefore int
	MessagesAfter  int
}

// CompactIfNeeded trims a transcript to the last threshold messages when it
// holds more than threshold non-compaction messages, recording a
// CompactionEntry and rewriting atomically (with .bak backup).
func CompactIfNeeded(path string, threshold int) (CompactResult, error) {
	lines, err := transcript.LoadTranscript(path)
	if err != nil {
		return CompactResult{}, err
	}

	var messages []domain.SessionMessage
	for _, l := range lines {
		if l.Message != nil {
			messages = append(messages, *l.Message)
		}
	}

	n := len(messages)
	if n <= threshold {
		return CompactResult{Compacted: false}, nil
	}

	kept := messages[n-threshold:]
	newLines := make([]domain.TranscriptLine, 0, len(kept)+1)
	for i := range kept {
		m := kept[i]
		newLines = append(newLines, domain.TranscriptLine{Message: &m})
	}
	newLines = append(newLines, domain.TranscriptLine{Compaction: &domain.CompactionEntry{
		Type:           domain.CompactionType,
		Timestamp:      time.Now().UTC(),
		MessagesBefore: n,
		MessagesAfter:  threshold,
	}})

	if err := transcript.RewriteTranscript(path, newLines); err != nil {
		return CompactResult{}, err
	}

	return CompactResult{Compacted: true, MessagesBefore: n, MessagesAfter: threshold}, nil
}
