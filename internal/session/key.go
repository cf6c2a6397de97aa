// Package session implements session-key resolution, history loading with
// sanitize/truncate, and threshold-driven compaction.
package session

import "github.com/nextlevelbuilder/assistantd/internal/domain"

// ResolveSessionKey joins source, sourceId and the optional threadId with
// the fixed "--" separator.
func ResolveSessionKey(source, sourceID, threadID string) domain.SessionKey {
	return domain.NewSessionKey(source, sourceID, threadID)
}
