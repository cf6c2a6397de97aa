// Package memory implements the vector store contract, the content
// chunker/indexer, and the hybrid vector+BM25 searcher.
package memory

import "github.com/nextlevelbuilder/assistantd/internal/domain"

// Store is the vector store contract. The concrete implementation (e.g. an
// embedded SQL engine with a BM25 full-text index and embeddings compared
// in Go) is opaque to callers; only this contract matters.
type Store interface {
	UpsertChunk(chunk domain.StoredChunk) error
	DeleteChunksForFile(path string) error

	SearchVector(embedding []float32, k int) ([]domain.VectorHit, error)
	SearchKeyword(query string, k int) ([]domain.KeywordHit, error)

	GetFileHash(path string) (domain.FileRecord, bool, error)
	SetFileHash(path, hash string, mtime, size int64) error
	DeleteFileHash(path string) error
	GetTrackedFilePaths() ([]string, error)

	Close() error
}

// Embedder computes a dense embedding vector for a string of text. Its
// internals (the embedding model) are out of scope; the core only calls
// it through this interface.
type Embedder interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
}
