package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// Every line of the input must appear in at least one chunk, and chunking
// must terminate.
func TestChunkText_LineCoverageAndTermination(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line content that is moderately long for testing purposes\n")
	}
	text := strings.TrimSuffix(b.String(), "\n")

	chunks := ChunkText(text, 50, 10)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	totalLines := len(strings.Split(text, "\n"))
	covered := make([]bool, totalLines+1)
	for _, c := range chunks {
		for ln := c.StartLine; ln <= c.EndLine; ln++ {
			covered[ln] = true
		}
	}
	for ln := 1; ln <= totalLines; ln++ {
		if !covered[ln] {
			t.Errorf("line %d not covered by any chunk", ln)
		}
	}
}

func TestChunkText_EmptyInput(t *testing.T) {
	if chunks := ChunkText("", 50, 10); chunks != nil {
		t.Errorf("expected nil for empty input, got %v", chunks)
	}
}

func TestChunkText_NeverSplitsLineOrStalls(t *testing.T) {
	// a single line far exceeding budget must still form its own chunk and
	// the loop must make forward progress rather than looping forever.
	text := strings.Repeat("x", 5000) + "\nshort\n" + strings.Repeat("y", 5000)
	chunks := ChunkText(text, 10, 5)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if strings.Contains(c.Text, "\n") {
			lines := strings.Split(c.Text, "\n")
			if len(lines) > 1 && c.StartLine == c.EndLine {
				t.Errorf("chunk bounds inconsistent with content: %+v", c)
			}
		}
	}
}

// fakeStore is a minimal in-memory Store for indexer tests.
type fakeStore struct {
	chunks map[string]domain.StoredChunk
	files  map[string]domain.FileRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: map[string]domain.StoredChunk{}, files: map[string]domain.FileRecord{}}
}

func (s *fakeStore) UpsertChunk(c domain.StoredChunk) error { s.chunks[c.ID] = c; return nil }
func (s *fakeStore) DeleteChunksForFile(path string) error {
	for id, c := range s.chunks {
		if c.Path == path {
			delete(s.chunks, id)
		}
	}
	return nil
}
func (s *fakeStore) SearchVector(embedding []float32, k int) ([]domain.VectorHit, error) {
	return nil, nil
}
func (s *fakeStore) SearchKeyword(query string, k int) ([]domain.KeywordHit, error) {
	return nil, nil
}
func (s *fakeStore) GetFileHash(path string) (domain.FileRecord, bool, error) {
	r, ok := s.files[path]
	return r, ok, nil
}
func (s *fakeStore) SetFileHash(path, hash string, mtime, size int64) error {
	s.files[path] = domain.FileRecord{Path: path, ContentHash: hash, Mtime: mtime, Size: size}
	return nil
}
func (s *fakeStore) DeleteFileHash(path string) error { delete(s.files, path); return nil }
func (s *fakeStore) GetTrackedFilePaths() ([]string, error) {
	var paths []string
	for p := range s.files {
		paths = append(paths, p)
	}
	return paths, nil
}
func (s *fakeStore) Close() error { return nil }

type fakeEmbedder struct {
	calls      int
	embedCalls int
}

func (e *fakeEmbedder) Embed(text string) ([]float32, error) {
	e.embedCalls++
	return []float32{1, 0}, nil
}
func (e *fakeEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestIndexer_SyncFiles_SkipsUnchangedAndDropsRemoved(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.md")
	fileB := filepath.Join(dir, "b.md")
	if err := os.WriteFile(fileA, []byte("hello world\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fileB, []byte("second file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	embedder := &fakeEmbedder{}
	ix := NewIndexer(store, embedder, 50, 10)

	if err := ix.SyncFiles([]string{fileA, fileB}); err != nil {
		t.Fatal(err)
	}
	if embedder.calls != 2 {
		t.Fatalf("expected 2 embed calls for 2 new files, got %d", embedder.calls)
	}

	// second sync with unchanged content should not re-embed.
	if err := ix.SyncFiles([]string{fileA, fileB}); err != nil {
		t.Fatal(err)
	}
	if embedder.calls != 2 {
		t.Fatalf("expected no new embed calls for unchanged files, got %d total", embedder.calls)
	}

	// removing fileB from the path set must drop its chunks and record.
	if err := ix.SyncFiles([]string{fileA}); err != nil {
		t.Fatal(err)
	}
	for _, c := range store.chunks {
		if c.Path == fileB {
			t.Fatal("expected chunks for removed file to be dropped")
		}
	}
	if _, ok, _ := store.GetFileHash(fileB); ok {
		t.Fatal("expected file record for removed file to be dropped")
	}
}

func TestIndexer_DirtyBit(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.md")
	if err := os.WriteFile(file, []byte("content\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newFakeStore()
	ix := NewIndexer(store, &fakeEmbedder{}, 50, 10)

	if ix.IsDirty() {
		t.Fatal("expected not dirty initially")
	}
	if err := ix.SyncIfDirty([]string{file}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.GetFileHash(file); ok {
		t.Fatal("SyncIfDirty should be a no-op when not dirty")
	}

	ix.MarkDirty()
	if !ix.IsDirty() {
		t.Fatal("expected dirty after MarkDirty")
	}
	if err := ix.SyncIfDirty([]string{file}); err != nil {
		t.Fatal(err)
	}
	if ix.IsDirty() {
		t.Fatal("expected dirty flag cleared after sync")
	}
	if _, ok, _ := store.GetFileHash(file); !ok {
		t.Fatal("expected file synced")
	}
}
