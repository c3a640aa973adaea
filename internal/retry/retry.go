// Package retry provides exponential-backoff retry for calls to remote
// model providers, with an optional rate limiter applied to each attempt.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures retry behavior for provider calls.
type Config struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultConfig returns sensible defaults for LLM and embedding API calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: This uses string matching because Genkit and LLM provider SDKs
// do not expose typed/sentinel errors for transient failures.
// Re-evaluate if Genkit adds structured error types in a future version.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// Retryable reports whether err is transient and should trigger a retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Do runs fn with exponential backoff, retrying transient failures.
// limiter may be nil; when set, every attempt waits for a token first.
// Non-retryable errors fail immediately without consuming attempts.
func Do[T any](ctx context.Context, cfg Config, limiter *rate.Limiter, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !Retryable(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return zero, fmt.Errorf("%s after %d retries (elapsed: %v): %w",
		op, cfg.MaxRetries, time.Since(start), lastErr)
}
