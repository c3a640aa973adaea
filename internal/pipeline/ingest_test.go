package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/zhiyin-ai/zhiyin/internal/crystal"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
)

func rawCrystal(name string) crystal.Raw {
	return crystal.Raw{EnglishName: name, Color: "clear"}
}

func TestIngest_WritesAllEntries(t *testing.T) {
	idx := &mockIndex{}
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, idx)

	report, err := p.Ingest(context.Background(), []crystal.Raw{
		rawCrystal("Amethyst"),
		rawCrystal("Citrine"),
		rawCrystal("Rose Quartz"),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if report.Written != 3 || report.Skipped != 0 || report.Total != 3 {
		t.Errorf("report = %+v", report)
	}
	if len(idx.upserted) != 3 {
		t.Fatalf("expected 3 upserted entries, got %d", len(idx.upserted))
	}
	if idx.upserted[0].ID != "Amethyst" || idx.upserted[2].ID != "Rose_Quartz" {
		t.Errorf("entry order or IDs wrong: %v, %v", idx.upserted[0].ID, idx.upserted[2].ID)
	}
	if len(idx.recordedInto) != 1 || idx.recordedInto[0] != "test-model" {
		t.Errorf("embedder model not recorded: %v", idx.recordedInto)
	}
}

func TestIngest_SkipsMalformed(t *testing.T) {
	idx := &mockIndex{}
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, idx)

	report, err := p.Ingest(context.Background(), []crystal.Raw{
		rawCrystal("Amethyst"),
		{ChineseName: "無名"}, // no english_name
		rawCrystal("Citrine"),
	})
	if err != nil {
		t.Fatalf("malformed entries must not abort the run: %v", err)
	}

	if report.Written != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestIngest_AllMalformed(t *testing.T) {
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, &mockIndex{})

	_, err := p.Ingest(context.Background(), []crystal.Raw{{ChineseName: "無名"}})
	if err == nil {
		t.Fatal("expected error when nothing is ingestible")
	}
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	embedErr := errors.New("embedding service unavailable")
	idx := &mockIndex{}
	p := newTestPipeline(&mockEmbedder{textsErr: embedErr}, &mockRetriever{}, &mockGenerator{}, idx)

	_, err := p.Ingest(context.Background(), []crystal.Raw{rawCrystal("Amethyst")})
	if !errors.Is(err, embedErr) {
		t.Errorf("expected embedding error, got %v", err)
	}
	if len(idx.upserted) != 0 {
		t.Error("nothing should be written when embedding fails")
	}
	if len(idx.recordedInto) != 0 {
		t.Errorf("embedder model %v recorded although no vectors were written", idx.recordedInto)
	}
}

func TestIngest_PartialWriteSurfacesFailedIDs(t *testing.T) {
	partial := &knowledge.PartialUpsertError{
		Written:   1,
		FailedIDs: []string{"Citrine"},
		Cause:     errors.New("connection reset"),
	}
	idx := &mockIndex{upsertErr: partial}
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, idx)

	report, err := p.Ingest(context.Background(), []crystal.Raw{
		rawCrystal("Amethyst"),
		rawCrystal("Citrine"),
	})

	var got *knowledge.PartialUpsertError
	if !errors.As(err, &got) {
		t.Fatalf("expected PartialUpsertError, got %v", err)
	}
	if report.Written != 1 || len(report.FailedIDs) != 1 || report.FailedIDs[0] != "Citrine" {
		t.Errorf("report = %+v", report)
	}
	if len(idx.recordedInto) != 0 {
		t.Errorf("embedder model %v recorded although the write was partial", idx.recordedInto)
	}
}

func TestIngest_ModelRecordedOnlyAfterFullWrite(t *testing.T) {
	idx := &mockIndex{}
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, idx)

	if _, err := p.Ingest(context.Background(), []crystal.Raw{rawCrystal("Amethyst")}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if !idx.recordedAfterUpsert {
		t.Error("embedder model must be recorded after entries are written, not before")
	}
}

func TestIngest_RecordModelFailureSurfaces(t *testing.T) {
	recordErr := errors.New("database down")
	idx := &mockIndex{recordErr: recordErr}
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, idx)

	report, err := p.Ingest(context.Background(), []crystal.Raw{rawCrystal("Amethyst")})
	if !errors.Is(err, recordErr) {
		t.Errorf("expected record error, got %v", err)
	}
	// Entries were written; only the stamp failed. The report says so, and
	// query-time verification keeps rejecting the index until a re-run
	// stamps it.
	if report.Written != 1 {
		t.Errorf("written = %d, want 1", report.Written)
	}
}

func TestIngest_ManyEntriesKeepOrder(t *testing.T) {
	idx := &mockIndex{}
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, idx)

	// Spans multiple embedding batches so concurrent workers must still
	// produce source order.
	names := []string{
		"Agate", "Amber", "Amethyst", "Aquamarine", "Aventurine", "Azurite",
		"Bloodstone", "Calcite", "Carnelian", "Celestite", "Citrine", "Fluorite",
		"Garnet", "Hematite", "Jade", "Jasper", "Kunzite", "Kyanite",
		"Labradorite", "Lapis", "Larimar", "Malachite", "Moonstone", "Morganite",
		"Obsidian", "Onyx", "Opal", "Peridot", "Pyrite", "Rhodonite",
		"Selenite", "Sodalite", "Sunstone", "Topaz", "Tourmaline", "Turquoise",
	}
	raws := make([]crystal.Raw, len(names))
	for i, name := range names {
		raws[i] = rawCrystal(name)
	}

	report, err := p.Ingest(context.Background(), raws)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if report.Written != len(names) {
		t.Fatalf("written = %d, want %d", report.Written, len(names))
	}
	for i, entry := range idx.upserted {
		if entry.ID != names[i] {
			t.Fatalf("entry %d = %q, want %q", i, entry.ID, names[i])
		}
	}
}
