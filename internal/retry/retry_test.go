package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.MaxRetries <= 0 {
		t.Errorf("MaxRetries should be positive, got %d", cfg.MaxRetries)
	}
	if cfg.InitialInterval <= 0 {
		t.Errorf("InitialInterval should be positive, got %v", cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		t.Error("MaxInterval should be >= InitialInterval")
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"rate limit error", errors.New("rate limit exceeded"), true},
		{"quota exceeded error", errors.New("quota exceeded for project"), true},
		{"429 status code", errors.New("HTTP 429: Too Many Requests"), true},
		{"500 server error", errors.New("HTTP 500 Internal Server Error"), true},
		{"503 unavailable", errors.New("503 Service Unavailable"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"timeout error", errors.New("request timeout"), true},
		{"temporary error", errors.New("temporary failure"), true},
		{"case insensitive", errors.New("RATE LIMIT reached"), true},
		{"invalid API key", errors.New("invalid API key"), false},
		{"400 bad request", errors.New("HTTP 400 Bad Request"), false},
		{"401 unauthorized", errors.New("HTTP 401 Unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), DefaultConfig(), nil, "embed", func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	calls := 0
	got, err := Do(context.Background(), cfg, nil, "embed", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("503 service unavailable")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_FailsFastOnPermanentError(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	calls := 0
	_, err := Do(context.Background(), cfg, nil, "generate", func(context.Context) (string, error) {
		calls++
		return "", errors.New("invalid API key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error should not retry, got %d calls", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	calls := 0
	_, err := Do(context.Background(), cfg, nil, "embed", func(context.Context) (string, error) {
		calls++
		return "", errors.New("request timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxRetries: 5, InitialInterval: time.Minute, MaxInterval: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, nil, "embed", func(context.Context) (string, error) {
			return "", errors.New("503 unavailable")
		})
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDo_LimiterWaitError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 0)
	_, err := Do(ctx, DefaultConfig(), limiter, "embed", func(context.Context) (string, error) {
		t.Fatal("fn should not run when limiter wait fails")
		return "", nil
	})
	if err == nil {
		t.Fatal("expected limiter wait error")
	}
}
