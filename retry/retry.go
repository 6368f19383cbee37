// Package retry runs idempotent upstream reads with exponential backoff. It is used
// for facilitator capability hydration and Solana account lookups; settlement is
// never routed through it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillwire/x402-settle"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff

	// Logger, when set, receives one debug line per retried attempt.
	Logger *slog.Logger
}

// DefaultConfig matches what facilitators tolerate for /supported polling.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// ErrInvalidConfig is returned when MaxAttempts is not positive.
var ErrInvalidConfig = errors.New("retry: MaxAttempts must be positive")

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Transient retries only upstream-unavailable errors.
func Transient(err error) bool {
	return x402.Retryable(err)
}

// WithRetry calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if config.MaxAttempts <= 0 {
		return zero, ErrInvalidConfig
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		if config.Logger != nil {
			config.Logger.Debug("retrying upstream call", "attempt", attempt, "delay", delay, "error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
