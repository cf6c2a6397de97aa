package domain

// Chunk is a contiguous text window with 1-indexed inclusive line bounds.
type Chunk struct {
	Text      string `json:"text"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// StoredChunk is a Chunk as persisted in the vector store, with its id,
// owning file path, and dense embedding.
type StoredChunk struct {
	ID        string    `json:"id"` // "<path>:<index>"
	Path      string    `json:"path"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	StartLine int       `json:"startLine"`
	EndLine   int       `json:"endLine"`
}

// FileRecord tracks the last-synced state of one file in the vector store.
type FileRecord struct {
	Path        string `json:"path"`
	ContentHash string `json:"contentHash"`
	Mtime       int64  `json:"mtime"`
	Size        int64  `json:"size"`
}

// VectorHit is one result from a nearest-neighbor vector search.
type VectorHit struct {
	ID        string
	Path      string
	Text      string
	StartLine int
	EndLine   int
	Distance  float64 // in [0,2]
}

// KeywordHit is one result from a BM25 keyword search.
type KeywordHit struct {
	ID        string
	Path      string
	Text      string
	StartLine int
	EndLine   int
	Rank      float64 // more negative is better
}

// SearchResult is one hybrid-search hit, ready for display.
type SearchResult struct {
	Path      string  `json:"path"`
	Snippet   string  `json:"snippet"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Score     float64 `json:"score"`
}
