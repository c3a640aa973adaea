package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/zhiyin-ai/zhiyin/internal/retry"
)

// Embedder wraps a Genkit ai.Embedder with batching, retry, and rate
// limiting for the crystal index.
//
// Embedder is safe for concurrent use by multiple goroutines.
type Embedder struct {
	embedder  ai.Embedder
	model     string
	batchSize int
	retryCfg  retry.Config
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewEmbedder creates an Embedder.
//
// batchSize caps how many texts go into one provider request; limiter may
// be nil to disable rate limiting; logger nil falls back to slog.Default.
func NewEmbedder(embedder ai.Embedder, model string, batchSize int, limiter *rate.Limiter, logger *slog.Logger) *Embedder {
	if batchSize <= 0 {
		batchSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		embedder:  embedder,
		model:     model,
		batchSize: batchSize,
		retryCfg:  retry.DefaultConfig(),
		limiter:   limiter,
		logger:    logger,
	}
}

// Model returns the embedder model identifier, used to guard the index
// against cross-model queries.
func (e *Embedder) Model() string {
	return e.model
}

// EmbedTexts embeds texts in order, returning exactly one vector per input
// text at the same position. Inputs are sent to the provider in batches;
// transient provider failures are retried, and persistent failure returns
// an error wrapping ErrEmbeddingUnavailable.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := retry.Do(ctx, e.retryCfg, e.limiter, "embed batch",
		func(ctx context.Context) (*ai.EmbedResponse, error) {
			return e.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d embeddings for %d texts",
			ErrEmbeddingUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at position %d", ErrEmbeddingUnavailable, i)
		}
		vectors[i] = emb.Embedding
	}

	e.logger.Debug("embedded batch", "texts", len(texts), "dimension", len(vectors[0]))
	return vectors, nil
}
