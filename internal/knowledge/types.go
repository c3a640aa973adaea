// Package knowledge manages the crystal vector index: embedding text into
// vectors and storing/searching them in PostgreSQL with pgvector.
package knowledge

import (
	"errors"
	"fmt"
	"strings"
)

// VectorDimension is the embedding width the index schema is built for.
// Every stored and queried vector must have exactly this many components.
const VectorDimension = 3072

// ErrEmbeddingUnavailable indicates the embedding provider could not be
// reached or kept failing after retries.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// ErrModelMismatch indicates the index was built with a different embedder
// model than the one currently configured. Querying across models produces
// meaningless similarity scores, so operations fail fast instead.
var ErrModelMismatch = errors.New("index embedder model mismatch")

// ErrNoIndexModel indicates the index has never been populated, so there is
// no recorded embedder model to verify against.
var ErrNoIndexModel = errors.New("index has no recorded embedder model")

// Entry is one indexed crystal record: identity, embedding vector, and the
// flat metadata payload returned with search hits.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Hit is a single vector search result.
type Hit struct {
	ID       string
	Metadata map[string]string
	Score    float32 // Cosine similarity in [0, 1], higher is closer
}

// PartialUpsertError reports an upsert where some entries were written and
// others failed. FailedIDs identifies the retryable subset.
type PartialUpsertError struct {
	Written   int
	FailedIDs []string
	Cause     error
}

func (e *PartialUpsertError) Error() string {
	return fmt.Sprintf("partial upsert: %d written, %d failed (%s): %v",
		e.Written, len(e.FailedIDs), strings.Join(e.FailedIDs, ", "), e.Cause)
}

func (e *PartialUpsertError) Unwrap() error {
	return e.Cause
}
