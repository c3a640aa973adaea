package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Answerer  Answerer      // Required
	Pool      *pgxpool.Pool // Optional: nil disables the database readiness check
	RateBurst int           // Rate limiter burst size per IP (0 = default 30)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Answerer == nil {
		return nil, errors.New("answerer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &askHandler{
		answerer: cfg.Answerer,
		sessions: newSessionRegistry(),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ask", ah.ask)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> RateLimit -> Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", health(logger))
	topMux.Handle("GET /readyz", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
