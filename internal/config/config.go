// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.zhiyin/config.yaml or ./config.yaml)
//  3. Default values
//
// Main categories:
//   - AI: provider, completion model, embedder model
//   - Retrieval: top-K, score floor, context budget, history window
//   - Ingestion: embedding batch size, upsert chunk size
//   - Storage: PostgreSQL connection
//
// Sensitive data (passwords) is masked in String()/MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the completion model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidScoreFloor indicates the similarity floor is out of range.
	ErrInvalidScoreFloor = errors.New("invalid score_floor")

	// ErrInvalidContextBudget indicates the context budget is out of range.
	ErrInvalidContextBudget = errors.New("invalid context_budget")

	// ErrInvalidBatchSize indicates an ingestion batch/chunk size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// DefaultEmbedderModel is the default embedder.
// gemini-embedding-001 outputs 3072 dimensions, matching the crystals
// table schema in db/migrations; see knowledge.VectorDimension.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// Sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`             // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // Completion model (e.g. "gemini-2.5-flash")
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // Embedding model
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`       // Only used when provider is "ollama"

	// Retrieval configuration
	TopK            int     `mapstructure:"top_k" json:"top_k"`                         // Max candidates kept per query
	ScoreFloor      float64 `mapstructure:"score_floor" json:"score_floor"`             // Minimum similarity to count as relevant
	ContextBudget   int     `mapstructure:"context_budget" json:"context_budget"`       // Context block size limit, in characters
	MaxHistoryTurns int     `mapstructure:"max_history_turns" json:"max_history_turns"` // Conversation turns included per prompt

	// Ingestion configuration
	EmbedBatchSize  int `mapstructure:"embed_batch_size" json:"embed_batch_size"`   // Texts per embedding request
	UpsertChunkSize int `mapstructure:"upsert_chunk_size" json:"upsert_chunk_size"` // Entries per store request

	// Remote call timeouts, in seconds
	EmbedTimeoutSec    int `mapstructure:"embed_timeout_sec" json:"embed_timeout_sec"`
	SearchTimeoutSec   int `mapstructure:"search_timeout_sec" json:"search_timeout_sec"`
	GenerateTimeoutSec int `mapstructure:"generate_timeout_sec" json:"generate_timeout_sec"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode configuration
	ServeAddr string `mapstructure:"serve_addr" json:"serve_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".zhiyin")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, if set, overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("top_k", 3)
	v.SetDefault("score_floor", 0.5)
	v.SetDefault("context_budget", 4000)
	v.SetDefault("max_history_turns", 10)

	v.SetDefault("embed_batch_size", 16)
	v.SetDefault("upsert_chunk_size", 64)

	v.SetDefault("embed_timeout_sec", 30)
	v.SetDefault("search_timeout_sec", 10)
	v.SetDefault("generate_timeout_sec", 60)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "zhiyin")
	v.SetDefault("postgres_password", "zhiyin_dev_password")
	v.SetDefault("postgres_db_name", "zhiyin")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("serve_addr", "localhost:8080")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys can't fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "ZHIYIN_PROVIDER")
	mustBind("model_name", "ZHIYIN_MODEL_NAME")
	mustBind("embedder_model", "ZHIYIN_EMBEDDER_MODEL")
	mustBind("ollama_host", "ZHIYIN_OLLAMA_HOST")
	mustBind("serve_addr", "ZHIYIN_SERVE_ADDR")
}

// Validate checks that the configuration is internally consistent.
// Called by Load; exposed for tests and hand-built configs.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (expected gemini or ollama)", ErrInvalidProvider, c.Provider)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: %d (expected 1-50)", ErrInvalidTopK, c.TopK)
	}
	if c.ScoreFloor < 0 || c.ScoreFloor >= 1 {
		return fmt.Errorf("%w: %g (expected [0, 1))", ErrInvalidScoreFloor, c.ScoreFloor)
	}
	if c.ContextBudget < 100 || c.ContextBudget > 1_000_000 {
		return fmt.Errorf("%w: %d (expected 100-1000000)", ErrInvalidContextBudget, c.ContextBudget)
	}
	if c.MaxHistoryTurns < 0 || c.MaxHistoryTurns > 1000 {
		return fmt.Errorf("%w: max_history_turns %d (expected 0-1000)", ErrInvalidBatchSize, c.MaxHistoryTurns)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 1000 {
		return fmt.Errorf("%w: embed_batch_size %d (expected 1-1000)", ErrInvalidBatchSize, c.EmbedBatchSize)
	}
	if c.UpsertChunkSize < 1 || c.UpsertChunkSize > 1000 {
		return fmt.Errorf("%w: upsert_chunk_size %d (expected 1-1000)", ErrInvalidBatchSize, c.UpsertChunkSize)
	}
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}

// EmbedTimeout returns the embedding call timeout as a Duration.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSec) * time.Second
}

// SearchTimeout returns the vector search timeout as a Duration.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSec) * time.Second
}

// GenerateTimeout returns the completion call timeout as a Duration.
func (c *Config) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutSec) * time.Second
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOllama {
		return ProviderOllama + "/" + c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked to prevent substring matching;
// longer ones keep the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
