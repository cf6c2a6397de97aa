package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// SQLiteStore is the concrete Store implementation: a pure-Go SQLite
// database with an FTS5 virtual table for BM25 keyword ranking and a
// chunks table storing embeddings as JSON-encoded float32 arrays, scanned
// in Go for cosine distance. There is no ANN index at this scale — see
// DESIGN.md for the tradeoff.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the vector store database at
// path, e.g. "{dataDir}/memory.db".
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer connection avoids SQLITE_BUSY

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			id UNINDEXED, path UNINDEXED, text, content='chunks', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, id, path, text) VALUES (new.rowid, new.id, new.path, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, id, path, text) VALUES('delete', old.rowid, old.id, old.path, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, id, path, text) VALUES('delete', old.rowid, old.id, old.path, old.text);
			INSERT INTO chunks_fts(rowid, id, path, text) VALUES (new.rowid, new.id, new.path, new.text);
		END`,
		`CREATE TABLE IF NOT EXISTS file_records (
			path TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			mtime INTEGER NOT NULL,
			size INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("memory: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) UpsertChunk(c domain.StoredChunk) error {
	emb, err := json.Marshal(c.Embedding)
	if err != nil {
		return fmt.Errorf("memory: marshal embedding: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO chunks (id, path, text, embedding, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path=excluded.path, text=excluded.text,
			embedding=excluded.embedding, start_line=excluded.start_line, end_line=excluded.end_line`,
		c.ID, c.Path, c.Text, string(emb), c.StartLine, c.EndLine)
	if err != nil {
		return fmt.Errorf("memory: upsert chunk: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunksForFile(path string) error {
	_, err := s.db.Exec(`DELETE FROM chunks WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("memory: delete chunks for file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SearchVector(embedding []float32, k int) ([]domain.VectorHit, error) {
	rows, err := s.db.Query(`SELECT id, path, text, embedding, start_line, end_line FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("memory: search vector query: %w", err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var id, path, text, embJSON string
		var start, end int
		if err := rows.Scan(&id, &path, &text, &embJSON, &start, &end); err != nil {
			return nil, fmt.Errorf("memory: scan chunk: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		hits = append(hits, domain.VectorHit{
			ID: id, Path: path, Text: text, StartLine: start, EndLine: end,
			Distance: cosineDistance(embedding, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortVectorHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *SQLiteStore) SearchKeyword(query string, k int) ([]domain.KeywordHit, error) {
	rows, err := s.db.Query(`
		SELECT chunks.id, chunks.path, chunks.text, chunks.start_line, chunks.end_line, bm25(chunks_fts) AS rank
		FROM chunks_fts JOIN chunks ON chunks.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, k)
	if err != nil {
		return nil, fmt.Errorf("memory: search keyword: %w", err)
	}
	defer rows.Close()

	var hits []domain.KeywordHit
	for rows.Next() {
		var h domain.KeywordHit
		if err := rows.Scan(&h.ID, &h.Path, &h.Text, &h.StartLine, &h.EndLine, &h.Rank); err != nil {
			return nil, fmt.Errorf("memory: scan keyword hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *SQLiteStore) GetFileHash(path string) (domain.FileRecord, bool, error) {
	var rec domain.FileRecord
	err := s.db.QueryRow(`SELECT path, content_hash, mtime, size FROM file_records WHERE path = ?`, path).
		Scan(&rec.Path, &rec.ContentHash, &rec.Mtime, &rec.Size)
	if err == sql.ErrNoRows {
		return domain.FileRecord{}, false, nil
	}
	if err != nil {
		return domain.FileRecord{}, false, fmt.Errorf("memory: get file hash: %w", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) SetFileHash(path, hash string, mtime, size int64) error {
	_, err := s.db.Exec(`
		INSERT INTO file_records (path, content_hash, mtime, size) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content_hash=excluded.content_hash, mtime=excluded.mtime, size=excluded.size`,
		path, hash, mtime, size)
	if err != nil {
		return fmt.Errorf("memory: set file hash: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFileHash(path string) error {
	_, err := s.db.Exec(`DELETE FROM file_records WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("memory: delete file hash: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTrackedFilePaths() ([]string, error) {
	rows, err := s.db.Query(`SELECT path FROM file_records`)
	if err != nil {
		return nil, fmt.Errorf("memory: get tracked paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// cosineDistance returns 1 - cosine_similarity, clamped to [0,2].
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	d := 1 - similarity
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

func sortVectorHits(hits []domain.VectorHit) {
	// insertion sort: result sets are small (bounded by chunk count per sync)
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Distance < hits[j-1].Distance; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
