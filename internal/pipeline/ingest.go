package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhiyin-ai/zhiyin/internal/crystal"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
)

// Report summarizes one ingestion run.
type Report struct {
	Total     int      // Entries in the source
	Written   int      // Entries written to the index
	Skipped   int      // Malformed entries skipped during normalization
	FailedIDs []string // Entries that embedded but failed to write
}

// embedBatchSize caps how many record texts one ingestion worker embeds
// per provider call.
const embedBatchSize = 16

// Ingest normalizes raw entries, embeds them, and writes them to the index.
//
// Malformed entries are skipped and counted, never aborting the run.
// Embedding batches run concurrently; results keep source order. A partial
// index write returns the report alongside the error so the caller can
// retry just the failed IDs.
//
// The embedder model is stamped into the index only after every entry is
// written. A run that fails earlier leaves the previous stamp in place, so
// query-time verification keeps failing fast instead of trusting an index
// whose vectors come from a different model.
func (p *Pipeline) Ingest(ctx context.Context, raws []crystal.Raw) (Report, error) {
	report := Report{Total: len(raws)}
	start := time.Now()

	records := make([]crystal.Record, 0, len(raws))
	for _, raw := range raws {
		record, err := crystal.Normalize(raw)
		if err != nil {
			if errors.Is(err, crystal.ErrMalformedRecord) {
				report.Skipped++
				p.logger.Warn("skipping malformed entry", "error", err)
				continue
			}
			return report, fmt.Errorf("normalizing entries: %w", err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return report, fmt.Errorf("no ingestible entries among %d", len(raws))
	}

	vectors := make([][][]float32, (len(records)+embedBatchSize-1)/embedBatchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.IngestWorkers)
	for i := 0; i < len(records); i += embedBatchSize {
		batchIdx := i / embedBatchSize
		batch := records[i:min(i+embedBatchSize, len(records))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, record := range batch {
				texts[j] = record.Text
			}
			vecs, err := p.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch %d: %w", batchIdx, err)
			}
			vectors[batchIdx] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	entries := make([]knowledge.Entry, 0, len(records))
	for batchIdx, batch := range vectors {
		for j, vec := range batch {
			record := records[batchIdx*embedBatchSize+j]
			entries = append(entries, knowledge.Entry{
				ID:       record.ID,
				Vector:   vec,
				Metadata: record.Metadata,
			})
		}
	}

	if err := p.index.Upsert(ctx, entries); err != nil {
		var partial *knowledge.PartialUpsertError
		if errors.As(err, &partial) {
			report.Written = partial.Written
			report.FailedIDs = partial.FailedIDs
			return report, err
		}
		return report, fmt.Errorf("writing index: %w", err)
	}

	report.Written = len(entries)

	if err := p.index.RecordModel(ctx, p.embedder.Model()); err != nil {
		return report, fmt.Errorf("recording embedder model: %w", err)
	}

	p.logger.Info("ingestion complete",
		"total", report.Total,
		"written", report.Written,
		"skipped", report.Skipped,
		"elapsed", time.Since(start),
	)
	return report, nil
}
