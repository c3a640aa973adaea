package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports whether the database is reachable. A nil pool skips
// the check, which keeps tests and degraded setups working.
func readiness(pool *pgxpool.Pool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database_unreachable", "database is not reachable", logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	}
}
