package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

const charsPerToken = 4 // heuristic: ~1 token per 4 characters

// ChunkText splits text into chunks of at most chunkTokens*charsPerToken
// characters, never splitting a line, each chunk overlapping the previous
// by up to overlapTokens*charsPerToken characters of trailing lines. Empty
// input yields no chunks.
func ChunkText(text string, chunkTokens, overlapTokens int) []domain.Chunk {
	if text == "" {
		return nil
	}
	budget := chunkTokens * charsPerToken
	overlap := overlapTokens * charsPerToken
	if budget <= 0 {
		budget = 1
	}

	lines := strings.Split(text, "\n")

	var chunks []domain.Chunk
	start := 0 // index into lines, first line of the current chunk
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			lineLen := len(lines[end]) + 1 // +1 for the newline
			if size > 0 && size+lineLen > budget {
				break
			}
			size += lineLen
			end++
		}
		if end == start {
			end = start + 1 // a single line exceeding budget still forms its own chunk
		}

		chunkLines := lines[start:end]
		chunks = append(chunks, domain.Chunk{
			Text:      strings.Join(chunkLines, "\n"),
			StartLine: start + 1,
			EndLine:   end,
		})

		if end >= len(lines) {
			break
		}

		// back up by overlap characters worth of trailing lines, but never
		// re-start at or before the current start (forward progress).
		back := end
		backSize := 0
		for back > start {
			lineLen := len(lines[back-1]) + 1
			if backSize+lineLen > overlap {
				break
			}
			backSize += lineLen
			back--
		}
		next := back
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// Indexer syncs workspace files into a Store, tracking per-file content
// hashes to skip unchanged files and dropping chunks for files no longer
// present.
type Indexer struct {
	store         Store
	embedder      Embedder
	chunkTokens   int
	overlapTokens int

	mu    sync.Mutex
	dirty bool
}

func NewIndexer(store Store, embedder Embedder, chunkTokens, overlapTokens int) *Indexer {
	return &Indexer{store: store, embedder: embedder, chunkTokens: chunkTokens, overlapTokens: overlapTokens}
}

// MarkDirty flags the index as needing a sync, typically from a filesystem
// watch callback.
func (ix *Indexer) MarkDirty() {
	ix.mu.Lock()
	ix.dirty = true
	ix.mu.Unlock()
}

// IsDirty reports whether a sync is pending.
func (ix *Indexer) IsDirty() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.dirty
}

// SyncIfDirty runs SyncFiles only if MarkDirty was called since the last
// sync, clearing the flag on success.
func (ix *Indexer) SyncIfDirty(paths []string) error {
	if !ix.IsDirty() {
		return nil
	}
	if err := ix.SyncFiles(paths); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.dirty = false
	ix.mu.Unlock()
	return nil
}

// SyncFiles reconciles the store with the given set of file paths: files no
// longer in paths are dropped, unchanged files (by content hash) are
// skipped, and changed or new files are re-chunked and re-embedded.
func (ix *Indexer) SyncFiles(paths []string) error {
	tracked, err := ix.store.GetTrackedFilePaths()
	if err != nil {
		return fmt.Errorf("memory: sync: list tracked files: %w", err)
	}

	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	for _, t := range tracked {
		if !want[t] {
			if err := ix.store.DeleteChunksForFile(t); err != nil {
				return fmt.Errorf("memory: sync: delete chunks for removed file %s: %w", t, err)
			}
			if err := ix.store.DeleteFileHash(t); err != nil {
				return fmt.Errorf("memory: sync: delete file record for removed file %s: %w", t, err)
			}
		}
	}

	for _, p := range paths {
		if err := ix.syncOne(p); err != nil {
			slog.Warn("memory: skipping file after sync error", "path", p, "error", err)
		}
	}
	return nil
}

func (ix *Indexer) syncOne(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	sum := sha256.Sum256(contents)
	hash := hex.EncodeToString(sum[:])

	if existing, ok, err := ix.store.GetFileHash(path); err != nil {
		return fmt.Errorf("get file hash: %w", err)
	} else if ok && existing.ContentHash == hash {
		return nil // unchanged
	}

	if err := ix.store.DeleteChunksForFile(path); err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}

	chunks := ChunkText(string(contents), ix.chunkTokens, ix.overlapTokens)
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		embeddings, err := ix.embedder.EmbedBatch(texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for i, c := range chunks {
			var emb []float32
			if i < len(embeddings) {
				emb = embeddings[i]
			}
			stored := domain.StoredChunk{
				ID:        fmt.Sprintf("%s:%d", path, i),
				Path:      path,
				Text:      c.Text,
				Embedding: emb,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
			}
			if err := ix.store.UpsertChunk(stored); err != nil {
				return fmt.Errorf("upsert chunk %d: %w", i, err)
			}
		}
	}

	if err := ix.store.SetFileHash(path, hash, info.ModTime().Unix(), info.Size()); err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}

// WalkWorkspaceFiles returns every regular file under root, used to build
// the path set passed to SyncFiles.
func WalkWorkspaceFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
