package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Querier defines the database operations the Store needs.
// Following Go best practices: interfaces are defined by the consumer, not
// the provider, which keeps Store testable against a mock.
type Querier interface {
	// UpsertEntry inserts or replaces one index entry
	UpsertEntry(ctx context.Context, entry Entry) error

	// SearchEntries returns the closest entries to the query vector,
	// ordered by descending similarity
	SearchEntries(ctx context.Context, vector []float32, limit int) ([]Hit, error)

	// CountEntries counts all index entries
	CountEntries(ctx context.Context) (int64, error)

	// IndexModel returns the recorded embedder model and dimension,
	// or ErrNoIndexModel when the index has never been populated
	IndexModel(ctx context.Context) (model string, dimension int, err error)

	// SetIndexModel records the embedder model and dimension the index
	// was built with
	SetIndexModel(ctx context.Context, model string, dimension int) error
}

// Store manages the crystal vector index over a Querier.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries   Querier
	chunkSize int
	logger    *slog.Logger
}

// NewStore creates a Store. chunkSize caps how many entries one upsert
// round-trip carries; logger nil falls back to slog.Default.
func NewStore(querier Querier, chunkSize int, logger *slog.Logger) *Store {
	if chunkSize <= 0 {
		chunkSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:   querier,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Upsert writes entries to the index in chunks. Writing the same ID again
// replaces the stored vector and metadata. When some entries fail after
// others were written, Upsert returns a *PartialUpsertError identifying
// the failed IDs so the caller can retry just those.
func (s *Store) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, entry := range entries {
		if len(entry.Vector) != VectorDimension {
			return fmt.Errorf("entry %q has dimension %d, index requires %d",
				entry.ID, len(entry.Vector), VectorDimension)
		}
	}

	written := 0
	for start := 0; start < len(entries); start += s.chunkSize {
		end := min(start+s.chunkSize, len(entries))
		for i := start; i < end; i++ {
			if err := s.queries.UpsertEntry(ctx, entries[i]); err != nil {
				failed := make([]string, 0, len(entries)-i)
				for _, e := range entries[i:] {
					failed = append(failed, e.ID)
				}
				return &PartialUpsertError{Written: written, FailedIDs: failed, Cause: err}
			}
			written++
		}
		s.logger.Debug("upserted chunk", "written", written, "total", len(entries))
	}
	return nil
}

// Search returns up to limit entries closest to vector, ordered by
// descending similarity. An empty result is not an error.
func (s *Store) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if len(vector) != VectorDimension {
		return nil, fmt.Errorf("query vector has dimension %d, index requires %d",
			len(vector), VectorDimension)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("search limit must be positive, got %d", limit)
	}

	hits, err := s.queries.SearchEntries(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

// Count returns the number of indexed entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	count, err := s.queries.CountEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	if count > math.MaxInt {
		return 0, fmt.Errorf("entry count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// VerifyModel checks that the index was built with the given embedder
// model and dimension. It returns ErrModelMismatch on a mismatch and
// ErrNoIndexModel for an index that was never populated.
func (s *Store) VerifyModel(ctx context.Context, model string) error {
	recorded, dimension, err := s.queries.IndexModel(ctx)
	if err != nil {
		if errors.Is(err, ErrNoIndexModel) {
			return err
		}
		return fmt.Errorf("reading index model: %w", err)
	}
	if recorded != model {
		return fmt.Errorf("%w: index built with %q, configured %q", ErrModelMismatch, recorded, model)
	}
	if dimension != VectorDimension {
		return fmt.Errorf("%w: index dimension %d, expected %d", ErrModelMismatch, dimension, VectorDimension)
	}
	return nil
}

// RecordModel stores the embedder model the index is built with. Called
// at the start of ingestion so later queries can verify compatibility.
func (s *Store) RecordModel(ctx context.Context, model string) error {
	if err := s.queries.SetIndexModel(ctx, model, VectorDimension); err != nil {
		return fmt.Errorf("recording index model: %w", err)
	}
	return nil
}
