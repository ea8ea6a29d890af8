package dispatch

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig defines retry behavior for transient dispatch failures.
type RetryConfig struct {
	MaxAttempts    int           // Total attempts including the first
	InitialBackoff time.Duration // Backoff before the second attempt
	MaxBackoff     time.Duration // Cap on a single backoff
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default retry policy: three attempts with
// exponential backoff and jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// WithRetry executes fn with retry on transient errors only. A permanent
// error fails immediately; exhausting attempts returns the last error
// wrapped as permanent.
func WithRetry(ctx context.Context, cfg RetryConfig, operation string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				slog.Info("Operation succeeded after retry",
					"operation", operation,
					"attempt", attempt,
				)
			}
			return nil
		}

		lastErr = err

		if !IsTransient(err) {
			slog.Debug("Error is not retryable, failing immediately",
				"operation", operation,
				"error", err,
			)
			return err
		}

		if attempt >= cfg.MaxAttempts {
			slog.Warn("Max attempts exceeded",
				"operation", operation,
				"attempts", attempt,
				"error", err,
			)
			return &PermanentError{Op: operation, Err: lastErr}
		}

		backoff := calculateBackoff(cfg, attempt-1)

		slog.Warn("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return &PermanentError{Op: operation, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	return &PermanentError{Op: operation, Err: lastErr}
}

// calculateBackoff calculates the backoff duration with jitter. The ±25%
// jitter never overlaps adjacent attempts at factor 2, so observed
// intervals stay non-decreasing.
func calculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))

	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}
