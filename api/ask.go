package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/zhiyin-ai/zhiyin/internal/answer"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
	"github.com/zhiyin-ai/zhiyin/internal/pipeline"
	"github.com/zhiyin-ai/zhiyin/internal/session"
)

// maxQueryRunes caps question length to keep embedding requests sane.
const maxQueryRunes = 2000

// Answerer runs one query through the RAG pipeline.
// Implemented by *pipeline.Pipeline; mocked in tests.
type Answerer interface {
	RetrieveAndAnswer(ctx context.Context, state *session.State, query string) (pipeline.Answer, error)
}

type askRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type askResponse struct {
	SessionID string        `json:"session_id"`
	Answer    string        `json:"answer"`
	Grounded  bool          `json:"grounded"`
	Citations []string      `json:"citations,omitempty"`
	Sources   []sourceEntry `json:"sources,omitempty"`
}

type sourceEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type askHandler struct {
	answerer Answerer
	sessions *sessionRegistry
	logger   *slog.Logger
}

func (h *askHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON", h.logger)
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty", h.logger)
		return
	}
	if utf8.RuneCountInString(query) > maxQueryRunes {
		writeError(w, http.StatusBadRequest, "query_too_long", "query exceeds maximum length", h.logger)
		return
	}

	conv := h.sessions.acquire(req.SessionID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	ans, err := h.answerer.RetrieveAndAnswer(r.Context(), conv.state, query)
	if err != nil {
		h.logger.Error("query failed", "session", conv.state.ID(), "error", err)
		status, code := classifyError(err)
		writeError(w, status, code, "could not answer the question, please try again", h.logger)
		return
	}

	resp := askResponse{
		SessionID: conv.state.ID(),
		Answer:    ans.Text,
		Grounded:  ans.Grounded,
		Citations: ans.Citations,
	}
	for _, src := range ans.Sources {
		resp.Sources = append(resp.Sources, sourceEntry{ID: src.ID, Name: src.Name})
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// classifyError maps pipeline failures to HTTP status codes. Provider and
// index outages are 503 so clients know to retry; everything else is 500.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, knowledge.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, "embedding_unavailable"
	case errors.Is(err, answer.ErrGenerationFailed):
		return http.StatusServiceUnavailable, "generation_unavailable"
	case errors.Is(err, knowledge.ErrModelMismatch), errors.Is(err, knowledge.ErrNoIndexModel):
		return http.StatusServiceUnavailable, "index_not_ready"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
