package answer

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/zhiyin-ai/zhiyin/internal/session"
)

// GenkitCompleter implements Completer over a Genkit instance.
type GenkitCompleter struct {
	genkit    *genkit.Genkit
	modelName string
}

// NewGenkitCompleter creates a completer bound to a fully-qualified model
// name such as "googleai/gemini-2.5-flash" or "ollama/llama3.3".
func NewGenkitCompleter(g *genkit.Genkit, modelName string) *GenkitCompleter {
	return &GenkitCompleter{genkit: g, modelName: modelName}
}

// Complete renders the prompt as a message sequence and generates once.
// History precedes the final user message, which carries the context block
// and the query together so the model grounds its reply.
func (c *GenkitCompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]*ai.Message, 0, len(prompt.History)+1)
	for _, turn := range prompt.History {
		switch turn.Role {
		case session.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Text)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Text)))
		}
	}

	userText := fmt.Sprintf("Context:\n%s\nQuestion: %s", prompt.Context, prompt.Query)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(userText)))

	resp, err := genkit.Generate(ctx, c.genkit,
		ai.WithModelName(c.modelName),
		ai.WithSystem(prompt.System),
		ai.WithMessages(messages...),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}
