package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/zhiyin-ai/zhiyin/internal/answer"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
	"github.com/zhiyin-ai/zhiyin/internal/retrieval"
	"github.com/zhiyin-ai/zhiyin/internal/session"
)

// mockEmbedder implements Embedder for testing
type mockEmbedder struct {
	queryErr error
	textsErr error
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return []float32{0.1, 0.2}, nil
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if m.textsErr != nil {
		return nil, m.textsErr
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{float32(i)}
	}
	return vectors, nil
}

func (m *mockEmbedder) Model() string { return "test-model" }

// mockRetriever implements Retriever for testing
type mockRetriever struct {
	results []retrieval.Result
	err     error
}

func (m *mockRetriever) RetrieveVector(ctx context.Context, vector []float32) ([]retrieval.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

// mockGenerator implements Generator for testing
type mockGenerator struct {
	answer      answer.GroundedAnswer
	err         error
	lastHistory []session.Turn
	lastContext string
}

func (m *mockGenerator) Generate(ctx context.Context, query, contextBlock string, sources []answer.Source, history []session.Turn) (answer.GroundedAnswer, error) {
	m.lastHistory = history
	m.lastContext = contextBlock
	if m.err != nil {
		return answer.GroundedAnswer{}, m.err
	}
	if contextBlock == "" {
		return answer.GroundedAnswer{Text: "nothing found", Grounded: false}, nil
	}
	return m.answer, nil
}

// mockIndex implements Index for testing
type mockIndex struct {
	upsertErr           error
	verifyErr           error
	recordErr           error
	upserted            []knowledge.Entry
	recordedInto        []string
	recordedAfterUpsert bool
}

func (m *mockIndex) Upsert(ctx context.Context, entries []knowledge.Entry) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted = append(m.upserted, entries...)
	return nil
}

func (m *mockIndex) RecordModel(ctx context.Context, model string) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.recordedInto = append(m.recordedInto, model)
	m.recordedAfterUpsert = len(m.upserted) > 0
	return nil
}

func (m *mockIndex) VerifyModel(ctx context.Context, model string) error {
	return m.verifyErr
}

func retrievedResult(id string) retrieval.Result {
	return retrieval.Result{
		ID:       id,
		Metadata: map[string]string{"english_name": id},
		Score:    0.9,
	}
}

func newTestPipeline(e *mockEmbedder, r *mockRetriever, g *mockGenerator, idx *mockIndex) *Pipeline {
	return New(e, r, g, idx, DefaultOptions(), nil)
}

func TestRetrieveAndAnswer_Success(t *testing.T) {
	gen := &mockGenerator{answer: answer.GroundedAnswer{
		Text:      "Try amethyst (Amethyst).",
		Citations: []string{"Amethyst"},
		Grounded:  true,
	}}
	p := newTestPipeline(
		&mockEmbedder{},
		&mockRetriever{results: []retrieval.Result{retrievedResult("Amethyst")}},
		gen,
		&mockIndex{},
	)

	state := session.New()
	ans, err := p.RetrieveAndAnswer(context.Background(), state, "what helps with sleep?")
	if err != nil {
		t.Fatalf("RetrieveAndAnswer failed: %v", err)
	}

	if !ans.Grounded {
		t.Error("expected grounded answer")
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ID != "Amethyst" {
		t.Errorf("sources = %v", ans.Sources)
	}
	if state.Len() != 2 {
		t.Fatalf("expected query and reply in history, got %d turns", state.Len())
	}
	turns := state.Recent(state.Len())
	if turns[0].Role != session.RoleUser || turns[1].Role != session.RoleAssistant {
		t.Errorf("history roles wrong: %v", turns)
	}
}

func TestRetrieveAndAnswer_EmptyRetrievalIsUngrounded(t *testing.T) {
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{}, &mockIndex{})

	state := session.New()
	ans, err := p.RetrieveAndAnswer(context.Background(), state, "unrelated question")
	if err != nil {
		t.Fatalf("empty retrieval must not fail: %v", err)
	}
	if ans.Grounded {
		t.Error("expected ungrounded answer")
	}
	if state.Len() != 2 {
		t.Error("ungrounded answers still extend the conversation")
	}
}

func TestRetrieveAndAnswer_StageErrors(t *testing.T) {
	embedErr := errors.New("embedding down")
	searchErr := errors.New("index down")
	genErr := errors.New("model down")

	tests := []struct {
		name      string
		embedder  *mockEmbedder
		retriever *mockRetriever
		generator *mockGenerator
		wantStage Stage
		wantCause error
	}{
		{
			name:      "embedding failure",
			embedder:  &mockEmbedder{queryErr: embedErr},
			retriever: &mockRetriever{},
			generator: &mockGenerator{},
			wantStage: StageEmbedding,
			wantCause: embedErr,
		},
		{
			name:      "retrieval failure",
			embedder:  &mockEmbedder{},
			retriever: &mockRetriever{err: searchErr},
			generator: &mockGenerator{},
			wantStage: StageRetrieving,
			wantCause: searchErr,
		},
		{
			name:      "generation failure",
			embedder:  &mockEmbedder{},
			retriever: &mockRetriever{results: []retrieval.Result{retrievedResult("Amethyst")}},
			generator: &mockGenerator{err: genErr},
			wantStage: StageGenerating,
			wantCause: genErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(tt.embedder, tt.retriever, tt.generator, &mockIndex{})
			state := session.New()

			_, err := p.RetrieveAndAnswer(context.Background(), state, "query")

			var stageErr *StageError
			if !errors.As(err, &stageErr) {
				t.Fatalf("expected StageError, got %v", err)
			}
			if stageErr.Stage != tt.wantStage {
				t.Errorf("stage = %v, want %v", stageErr.Stage, tt.wantStage)
			}
			if !errors.Is(err, tt.wantCause) {
				t.Errorf("cause not wrapped: %v", err)
			}
			if state.Len() != 0 {
				t.Error("failed queries must not extend the conversation")
			}
		})
	}
}

func TestRetrieveAndAnswer_HistoryWindow(t *testing.T) {
	gen := &mockGenerator{answer: answer.GroundedAnswer{Text: "ok", Grounded: true}}
	opts := DefaultOptions()
	opts.MaxHistoryTurns = 2
	p := New(&mockEmbedder{},
		&mockRetriever{results: []retrieval.Result{retrievedResult("Amethyst")}},
		gen, &mockIndex{}, opts, nil)

	state := session.New()
	for range 3 {
		if _, err := p.RetrieveAndAnswer(context.Background(), state, "q"); err != nil {
			t.Fatalf("RetrieveAndAnswer failed: %v", err)
		}
	}

	if len(gen.lastHistory) != 2 {
		t.Errorf("generator should see at most 2 turns, got %d", len(gen.lastHistory))
	}
}

func TestRetrieveAndAnswer_ZeroHistoryTurns(t *testing.T) {
	gen := &mockGenerator{answer: answer.GroundedAnswer{Text: "ok", Grounded: true}}
	opts := DefaultOptions()
	opts.MaxHistoryTurns = 0
	p := New(&mockEmbedder{},
		&mockRetriever{results: []retrieval.Result{retrievedResult("Amethyst")}},
		gen, &mockIndex{}, opts, nil)

	state := session.New()
	for range 3 {
		if _, err := p.RetrieveAndAnswer(context.Background(), state, "q"); err != nil {
			t.Fatalf("RetrieveAndAnswer failed: %v", err)
		}
	}

	if len(gen.lastHistory) != 0 {
		t.Errorf("zero history turns should pass no history, generator saw %d turns", len(gen.lastHistory))
	}
	if state.Len() != 6 {
		t.Errorf("session should still record all turns, got %d", state.Len())
	}
}

func TestVerifyIndex(t *testing.T) {
	p := newTestPipeline(&mockEmbedder{}, &mockRetriever{}, &mockGenerator{},
		&mockIndex{verifyErr: knowledge.ErrModelMismatch})

	if err := p.VerifyIndex(context.Background()); !errors.Is(err, knowledge.ErrModelMismatch) {
		t.Errorf("expected model mismatch, got %v", err)
	}
}

func TestStageString(t *testing.T) {
	if StageEmbedding.String() != "embedding" || StageDone.String() != "done" {
		t.Error("stage names wrong")
	}
	if Stage(99).String() != "stage(99)" {
		t.Errorf("unknown stage = %q", Stage(99).String())
	}
}
