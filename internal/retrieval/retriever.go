// Package retrieval turns a user query into a ranked, budgeted context
// block of crystal knowledge for grounded generation.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
)

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Searcher performs vector similarity search over the crystal index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]knowledge.Hit, error)
}

// Result is one retrieved crystal with its similarity score.
type Result struct {
	ID       string
	Metadata map[string]string
	Score    float32
}

// Retriever runs similarity search with score filtering and deduplication.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	embedder   QueryEmbedder
	searcher   Searcher
	topK       int
	scoreFloor float32
	logger     *slog.Logger
}

// NewRetriever creates a Retriever returning at most topK results with
// similarity of at least scoreFloor.
func NewRetriever(embedder QueryEmbedder, searcher Searcher, topK int, scoreFloor float32, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder:   embedder,
		searcher:   searcher,
		topK:       topK,
		scoreFloor: scoreFloor,
		logger:     logger,
	}
}

// Retrieve embeds the query and searches the index. An empty result set is
// a valid outcome, not an error; the caller produces an ungrounded answer.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Result, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return r.RetrieveVector(ctx, vector)
}

// RetrieveVector searches the index with an already-embedded query vector.
// Hits below the score floor are dropped, duplicate IDs keep only their
// highest score, and the result is ordered by descending similarity.
func (r *Retriever) RetrieveVector(ctx context.Context, vector []float32) ([]Result, error) {
	// Over-fetch so floor filtering and deduplication still leave topK.
	hits, err := r.searcher.Search(ctx, vector, r.topK*2)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	best := make(map[string]knowledge.Hit, len(hits))
	for _, hit := range hits {
		if hit.Score < r.scoreFloor {
			continue
		}
		if prev, ok := best[hit.ID]; !ok || hit.Score > prev.Score {
			best[hit.ID] = hit
		}
	}

	results := make([]Result, 0, len(best))
	for _, hit := range best {
		results = append(results, Result{ID: hit.ID, Metadata: hit.Metadata, Score: hit.Score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > r.topK {
		results = results[:r.topK]
	}

	r.logger.Debug("retrieved context", "hits", len(hits), "kept", len(results))
	return results, nil
}
