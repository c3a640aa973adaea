// Package app provides application initialization and dependency wiring.
//
// App is the container that holds the initialized components: Genkit,
// the database pool, the vector index, and the RAG pipeline.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhiyin-ai/zhiyin/internal/config"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
	"github.com/zhiyin-ai/zhiyin/internal/pipeline"
)

// App is the core application container.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Store    *knowledge.Store
	Pipeline *pipeline.Pipeline
}

// Close gracefully releases all resources.
func (a *App) Close() error {
	if a.DBPool != nil {
		a.DBPool.Close()
		slog.Debug("database pool closed")
	}
	return nil
}
