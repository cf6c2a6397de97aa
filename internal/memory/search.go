package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// SearchConfig controls hybrid-search scoring.
type SearchConfig struct {
	VectorWeight  float64
	KeywordWeight float64
	MinScore      float64
	MaxResults    int
	FetchK        int // per-side candidate count fetched before merge; 0 defaults to max(20, MaxResults)
}

// HybridSearch embeds the query once, fetches top candidates from both the
// vector and keyword sides, merges them by chunk id with normalized scores,
// drops anything below MinScore, and returns the top MaxResults by score
// descending.
func HybridSearch(store Store, embedder Embedder, query string, cfg SearchConfig) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	k := cfg.FetchK
	if k <= 0 {
		k = 20
		if cfg.MaxResults > k {
			k = cfg.MaxResults
		}
	}

	embedding, err := embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	vectorHits, err := store.SearchVector(embedding, k)
	if err != nil {
		return nil, fmt.Errorf("memory: search vector: %w", err)
	}
	keywordHits, err := store.SearchKeyword(query, k)
	if err != nil {
		return nil, fmt.Errorf("memory: search keyword: %w", err)
	}

	type merged struct {
		path      string
		text      string
		startLine int
		endLine   int
		vScore    float64
		kScore    float64
	}
	byID := make(map[string]*merged)
	order := make([]string, 0, len(vectorHits)+len(keywordHits))

	for _, h := range vectorHits {
		v := 1 - h.Distance
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		byID[h.ID] = &merged{path: h.Path, text: h.Text, startLine: h.StartLine, endLine: h.EndLine, vScore: v}
		order = append(order, h.ID)
	}

	maxAbsRank := 0.0
	for _, h := range keywordHits {
		if a := math.Abs(h.Rank); a > maxAbsRank {
			maxAbsRank = a
		}
	}
	for _, h := range keywordHits {
		m, ok := byID[h.ID]
		if !ok {
			m = &merged{path: h.Path, text: h.Text, startLine: h.StartLine, endLine: h.EndLine}
			byID[h.ID] = m
			order = append(order, h.ID)
		}
		if maxAbsRank > 0 {
			m.kScore = math.Abs(h.Rank) / maxAbsRank
		}
	}

	results := make([]domain.SearchResult, 0, len(order))
	for _, id := range order {
		m := byID[id]
		score := cfg.VectorWeight*m.vScore + cfg.KeywordWeight*m.kScore
		if score < cfg.MinScore {
			continue
		}
		results = append(results, domain.SearchResult{
			Path:      m.path,
			Snippet:   m.text,
			StartLine: m.startLine,
			EndLine:   m.endLine,
			Score:     score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if cfg.MaxResults > 0 && len(results) > cfg.MaxResults {
		results = results[:cfg.MaxResults]
	}
	return results, nil
}
