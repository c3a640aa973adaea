package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/zhiyin-ai/zhiyin/db"
	"github.com/zhiyin-ai/zhiyin/internal/answer"
	"github.com/zhiyin-ai/zhiyin/internal/config"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
	"github.com/zhiyin-ai/zhiyin/internal/pipeline"
	"github.com/zhiyin-ai/zhiyin/internal/retrieval"
)

// embedCallsPerSecond caps outbound embedding requests so batch ingestion
// stays inside typical provider quotas.
const embedCallsPerSecond = 5

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	rawEmbedder := provideEmbedder(g, cfg)
	if rawEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = rawEmbedder

	limiter := rate.NewLimiter(rate.Limit(embedCallsPerSecond), embedCallsPerSecond)
	embedder := knowledge.NewEmbedder(rawEmbedder, cfg.EmbedderModel, cfg.EmbedBatchSize, limiter, logger)

	querier := knowledge.NewPostgresQuerier(pool)
	a.Store = knowledge.NewStore(querier, cfg.UpsertChunkSize, logger)

	retriever := retrieval.NewRetriever(embedder, a.Store, cfg.TopK, float32(cfg.ScoreFloor), logger)
	completer := answer.NewGenkitCompleter(g, cfg.FullModelName())
	generator := answer.NewGenerator(completer, logger)

	opts := pipeline.DefaultOptions()
	opts.ContextBudget = cfg.ContextBudget
	opts.MaxHistoryTurns = cfg.MaxHistoryTurns
	opts.EmbedTimeout = cfg.EmbedTimeout()
	opts.SearchTimeout = cfg.SearchTimeout()
	opts.GenerateTimeout = cfg.GenerateTimeout()
	a.Pipeline = pipeline.New(embedder, retriever, generator, a.Store, opts, logger)

	return a, nil
}

// provideDBPool runs schema migrations and opens a PostgreSQL connection
// pool with sensible connection-management defaults.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default) and ollama providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		slog.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Ollama embedders are keyed by server address (registered in provideGenkit)
		return ollama.Embedder(g, cfg.OllamaHost)
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
