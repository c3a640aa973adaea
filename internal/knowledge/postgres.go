package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresQuerier implements Querier over a pgx connection pool and the
// pgvector extension.
//
// Similarity uses cosine distance: score = 1 - (embedding <=> query).
// The crystals table carries no ANN index because pgvector's hnsw and
// ivfflat indexes cap out below this embedding width, so searches are
// exact scans. The corpus is small enough that this stays fast.
type PostgresQuerier struct {
	pool *pgxpool.Pool
}

// NewPostgresQuerier wraps an existing connection pool. The pool's
// lifecycle is managed by the caller.
func NewPostgresQuerier(pool *pgxpool.Pool) *PostgresQuerier {
	return &PostgresQuerier{pool: pool}
}

const upsertEntrySQL = `
INSERT INTO crystals (id, embedding, metadata, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE
SET embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata,
    updated_at = now()`

func (q *PostgresQuerier) UpsertEntry(ctx context.Context, entry Entry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %q: %w", entry.ID, err)
	}

	vec := pgvector.NewVector(entry.Vector)
	if _, err := q.pool.Exec(ctx, upsertEntrySQL, entry.ID, vec, metadataJSON); err != nil {
		return fmt.Errorf("upserting entry %q: %w", entry.ID, err)
	}
	return nil
}

const searchEntriesSQL = `
SELECT id, metadata, 1 - (embedding <=> $1) AS similarity
FROM crystals
ORDER BY embedding <=> $1
LIMIT $2`

func (q *PostgresQuerier) SearchEntries(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	vec := pgvector.NewVector(vector)
	rows, err := q.pool.Query(ctx, searchEntriesSQL, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("searching entries: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit          Hit
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&hit.ID, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata for %q: %w", hit.ID, err)
		}
		hit.Score = float32(similarity)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return hits, nil
}

func (q *PostgresQuerier) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM crystals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

// index_meta is a single-row table; the singleton column keeps it that way.
const indexModelSQL = `SELECT model, dimension FROM index_meta WHERE singleton`

func (q *PostgresQuerier) IndexModel(ctx context.Context) (string, int, error) {
	var (
		model     string
		dimension int
	)
	err := q.pool.QueryRow(ctx, indexModelSQL).Scan(&model, &dimension)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, ErrNoIndexModel
	}
	if err != nil {
		return "", 0, fmt.Errorf("reading index model: %w", err)
	}
	return model, dimension, nil
}

const setIndexModelSQL = `
INSERT INTO index_meta (singleton, model, dimension, updated_at)
VALUES (true, $1, $2, now())
ON CONFLICT (singleton) DO UPDATE
SET model = EXCLUDED.model,
    dimension = EXCLUDED.dimension,
    updated_at = now()`

func (q *PostgresQuerier) SetIndexModel(ctx context.Context, model string, dimension int) error {
	if _, err := q.pool.Exec(ctx, setIndexModelSQL, model, dimension); err != nil {
		return fmt.Errorf("recording index model: %w", err)
	}
	return nil
}
