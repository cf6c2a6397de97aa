package memory

import (
	"testing"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

type scriptedStore struct {
	fakeStore
	vector  []domain.VectorHit
	keyword []domain.KeywordHit
}

func (s *scriptedStore) SearchVector(embedding []float32, k int) ([]domain.VectorHit, error) {
	return s.vector, nil
}
func (s *scriptedStore) SearchKeyword(query string, k int) ([]domain.KeywordHit, error) {
	return s.keyword, nil
}

func TestHybridSearch_MergesNormalizesAndSorts(t *testing.T) {
	store := &scriptedStore{
		fakeStore: *newFakeStore(),
		vector: []domain.VectorHit{
			{ID: "a", Path: "a.md", Text: "about apples", Distance: 0.1},  // vScore 0.9
			{ID: "b", Path: "b.md", Text: "about bananas", Distance: 0.8}, // vScore 0.2
		},
		keyword: []domain.KeywordHit{
			{ID: "a", Path: "a.md", Text: "about apples", Rank: -10}, // kScore 1.0
			{ID: "c", Path: "c.md", Text: "about cherries", Rank: -2},
		},
	}
	cfg := SearchConfig{VectorWeight: 0.6, KeywordWeight: 0.4, MinScore: 0, MaxResults: 10}
	results, err := HybridSearch(store, &fakeEmbedder{}, "fruit", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 merged results, got %d: %+v", len(results), results)
	}
	// "a" appears on both sides with the strongest scores and must rank first.
	if results[0].Path != "a.md" {
		t.Errorf("expected a.md to rank first, got %+v", results[0])
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending by score: %+v", results)
		}
	}
}

func TestHybridSearch_DropsBelowMinScoreAndCapsResults(t *testing.T) {
	store := &scriptedStore{
		fakeStore: *newFakeStore(),
		vector: []domain.VectorHit{
			{ID: "a", Path: "a.md", Distance: 0.0},  // vScore 1.0
			{ID: "b", Path: "b.md", Distance: 1.95}, // vScore clipped to 0, should drop below high MinScore
		},
	}
	cfg := SearchConfig{VectorWeight: 1, KeywordWeight: 0, MinScore: 0.5, MaxResults: 1}
	results, err := HybridSearch(store, &fakeEmbedder{}, "q", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result after MinScore filter and MaxResults cap, got %d", len(results))
	}
	if results[0].Path != "a.md" {
		t.Errorf("expected a.md to survive, got %+v", results[0])
	}
	for _, r := range results {
		if r.Score < cfg.MinScore {
			t.Errorf("result below MinScore leaked through: %+v", r)
		}
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score out of bounds: %+v", r)
		}
	}
}

func TestHybridSearch_EmptyResultsWhenNothingMatches(t *testing.T) {
	store := &scriptedStore{fakeStore: *newFakeStore()}
	cfg := SearchConfig{VectorWeight: 0.5, KeywordWeight: 0.5, MinScore: 0, MaxResults: 5}
	results, err := HybridSearch(store, &fakeEmbedder{}, "nothing", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestHybridSearch_EmptyQueryShortCircuits(t *testing.T) {
	store := &scriptedStore{fakeStore: *newFakeStore()}
	embedder := &fakeEmbedder{}
	cfg := SearchConfig{VectorWeight: 0.5, KeywordWeight: 0.5, MinScore: 0, MaxResults: 5}

	for _, query := range []string{"", "   ", "\t\n"} {
		results, err := HybridSearch(store, embedder, query, cfg)
		if err != nil {
			t.Fatalf("query %q: unexpected error: %v", query, err)
		}
		if results != nil {
			t.Errorf("query %q: expected nil results, got %+v", query, results)
		}
	}
	if embedder.embedCalls != 0 {
		t.Errorf("expected query never embedded, got %d embed calls", embedder.embedCalls)
	}
}
