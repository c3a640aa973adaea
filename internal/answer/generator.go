// Package answer produces grounded crystal recommendations from retrieved
// context, conversation history, and the user's query.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/zhiyin-ai/zhiyin/internal/retry"
	"github.com/zhiyin-ai/zhiyin/internal/session"
)

// ErrGenerationFailed indicates the language model failed to produce a
// usable completion.
var ErrGenerationFailed = errors.New("answer generation failed")

// systemPrompt fixes the assistant's persona and output shape.
const systemPrompt = `You are a crystal recommendation expert. Answer the user's question using ONLY the crystal information provided in the context. Recommend suitable crystals as bullet points, and always include each crystal's name in parentheses, for example (Amethyst). If the context does not contain relevant information, say so honestly instead of inventing crystals.`

// ungroundedReply is returned when retrieval found nothing relevant. It is
// a valid answer, not an error.
const ungroundedReply = "I could not find any crystals in my knowledge base matching your question. Could you tell me more about what you are looking for, such as an emotional concern, a zodiac sign, or a color you are drawn to?"

// Prompt carries everything the model needs for one answer.
type Prompt struct {
	System  string
	History []session.Turn
	Context string
	Query   string
}

// Completer produces one completion for a prompt. Implemented by the
// Genkit-backed completer in production and by mocks in tests.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// GroundedAnswer is a generated reply plus the sources that back it.
type GroundedAnswer struct {
	Text      string
	Citations []string // Source names mentioned in the text, by first occurrence
	Grounded  bool     // False when no context was available
}

// Source identifies one context record offered to the model.
type Source struct {
	ID   string
	Name string
}

// Generator turns assembled context and a query into a grounded answer.
//
// Generator is safe for concurrent use by multiple goroutines.
type Generator struct {
	completer Completer
	retryCfg  retry.Config
	logger    *slog.Logger
}

// NewGenerator creates a Generator. A transient provider failure is retried
// once before giving up.
func NewGenerator(completer Completer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 1
	return &Generator{
		completer: completer,
		retryCfg:  cfg,
		logger:    logger,
	}
}

// Generate produces an answer for query given the assembled context block
// and the sources it was built from.
//
// An empty context block yields the canned ungrounded reply without calling
// the model. Citations are the source names the reply actually mentions;
// crystal names mentioned outside the sources are logged, not fatal, since
// the reply text already carries them transparently to the user.
func (g *Generator) Generate(ctx context.Context, query, contextBlock string, sources []Source, history []session.Turn) (GroundedAnswer, error) {
	if strings.TrimSpace(contextBlock) == "" {
		return GroundedAnswer{Text: ungroundedReply, Grounded: false}, nil
	}

	prompt := Prompt{
		System:  systemPrompt,
		History: history,
		Context: contextBlock,
		Query:   query,
	}

	text, err := retry.Do(ctx, g.retryCfg, nil, "generate answer",
		func(ctx context.Context) (string, error) {
			return g.completer.Complete(ctx, prompt)
		})
	if err != nil {
		return GroundedAnswer{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		return GroundedAnswer{}, fmt.Errorf("%w: model returned an empty completion", ErrGenerationFailed)
	}

	citations := citedSources(text, sources)
	if len(citations) == 0 {
		g.logger.Warn("answer cites none of the retrieved sources", "query", query)
	}

	return GroundedAnswer{Text: text, Citations: citations, Grounded: true}, nil
}

// citedSources returns the names of sources mentioned in text, ordered by
// first occurrence. Matching is case-insensitive.
func citedSources(text string, sources []Source) []string {
	lower := strings.ToLower(text)

	type mention struct {
		name string
		pos  int
	}
	var mentions []mention
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if src.Name == "" || seen[src.Name] {
			continue
		}
		if pos := strings.Index(lower, strings.ToLower(src.Name)); pos >= 0 {
			mentions = append(mentions, mention{name: src.Name, pos: pos})
			seen[src.Name] = true
		}
	}
	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].pos < mentions[j].pos
	})

	names := make([]string, len(mentions))
	for i, m := range mentions {
		names[i] = m.name
	}
	return names
}
