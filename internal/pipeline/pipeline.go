// Package pipeline wires the retrieval-augmented flow end to end: query
// embedding, vector retrieval, context assembly, and grounded generation
// on the query path; normalization, batch embedding, and index writing on
// the ingestion path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhiyin-ai/zhiyin/internal/answer"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
	"github.com/zhiyin-ai/zhiyin/internal/retrieval"
	"github.com/zhiyin-ai/zhiyin/internal/session"
)

// Stage identifies where in the query flow an answer attempt currently is.
// Errors surfaced to callers carry the stage they happened in.
type Stage int

const (
	StageIdle Stage = iota
	StageEmbedding
	StageRetrieving
	StageAssembling
	StageGenerating
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageEmbedding:
		return "embedding"
	case StageRetrieving:
		return "retrieving"
	case StageAssembling:
		return "assembling"
	case StageGenerating:
		return "generating"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Embedder produces vectors for queries and record texts.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Retriever searches the index with an embedded query vector.
type Retriever interface {
	RetrieveVector(ctx context.Context, vector []float32) ([]retrieval.Result, error)
}

// Generator produces a grounded answer from context and history.
type Generator interface {
	Generate(ctx context.Context, query, contextBlock string, sources []answer.Source, history []session.Turn) (answer.GroundedAnswer, error)
}

// Index receives ingested entries and tracks the embedder model.
type Index interface {
	Upsert(ctx context.Context, entries []knowledge.Entry) error
	RecordModel(ctx context.Context, model string) error
	VerifyModel(ctx context.Context, model string) error
}

// Options tune pipeline behavior. The zero value is unusable; use
// DefaultOptions as a base.
type Options struct {
	ContextBudget   int           // Character budget for the assembled context block
	MaxHistoryTurns int           // Conversation turns handed to the generator
	EmbedTimeout    time.Duration // Per-call budget for embedding
	SearchTimeout   time.Duration // Per-call budget for vector search
	GenerateTimeout time.Duration // Per-call budget for generation
	IngestWorkers   int           // Concurrent embedding batches during ingestion
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		ContextBudget:   4000,
		MaxHistoryTurns: 10,
		EmbedTimeout:    30 * time.Second,
		SearchTimeout:   10 * time.Second,
		GenerateTimeout: 60 * time.Second,
		IngestWorkers:   4,
	}
}

// Answer is the result of one query through the pipeline.
type Answer struct {
	Text      string
	Citations []string
	Sources   []answer.Source
	Grounded  bool
}

// Pipeline runs the query and ingestion flows.
//
// Pipeline is safe for concurrent use; per-conversation state is owned by
// the caller and passed in.
type Pipeline struct {
	embedder  Embedder
	retriever Retriever
	generator Generator
	index     Index
	opts      Options
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(embedder Embedder, retriever Retriever, generator Generator, index Index, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IngestWorkers <= 0 {
		opts.IngestWorkers = 1
	}
	return &Pipeline{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		index:     index,
		opts:      opts,
		logger:    logger,
	}
}

// RetrieveAndAnswer answers query within the given conversation.
//
// On success both the query and the reply are appended to state, so the
// next query sees them as history. On failure state is left untouched and
// the returned error is a *StageError naming the failed stage. Finding no
// relevant context is not a failure; it produces an ungrounded answer.
func (p *Pipeline) RetrieveAndAnswer(ctx context.Context, state *session.State, query string) (Answer, error) {
	start := time.Now()

	vector, err := p.embedQuery(ctx, query)
	if err != nil {
		return Answer{}, &StageError{Stage: StageEmbedding, Err: err}
	}

	results, err := p.search(ctx, vector)
	if err != nil {
		return Answer{}, &StageError{Stage: StageRetrieving, Err: err}
	}

	contextBlock, sources := retrieval.Assemble(results, p.opts.ContextBudget)

	answerSources := make([]answer.Source, len(sources))
	for i, src := range sources {
		answerSources[i] = answer.Source{ID: src.ID, Name: src.Name}
	}

	history := state.Recent(p.opts.MaxHistoryTurns)
	generated, err := p.generate(ctx, query, contextBlock, answerSources, history)
	if err != nil {
		return Answer{}, &StageError{Stage: StageGenerating, Err: err}
	}

	state.Append(session.RoleUser, query)
	state.Append(session.RoleAssistant, generated.Text)

	p.logger.Debug("answered query",
		"session", state.ID(),
		"sources", len(answerSources),
		"grounded", generated.Grounded,
		"elapsed", time.Since(start),
	)

	return Answer{
		Text:      generated.Text,
		Citations: generated.Citations,
		Sources:   answerSources,
		Grounded:  generated.Grounded,
	}, nil
}

// VerifyIndex checks the index was built with the configured embedder
// model. Called once at startup of the query path.
func (p *Pipeline) VerifyIndex(ctx context.Context) error {
	return p.index.VerifyModel(ctx, p.embedder.Model())
}

func (p *Pipeline) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.EmbedTimeout)
	defer cancel()
	return p.embedder.EmbedQuery(ctx, query)
}

func (p *Pipeline) search(ctx context.Context, vector []float32) ([]retrieval.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.SearchTimeout)
	defer cancel()
	return p.retriever.RetrieveVector(ctx, vector)
}

func (p *Pipeline) generate(ctx context.Context, query, contextBlock string, sources []answer.Source, history []session.Turn) (answer.GroundedAnswer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.GenerateTimeout)
	defer cancel()
	return p.generator.Generate(ctx, query, contextBlock, sources, history)
}
