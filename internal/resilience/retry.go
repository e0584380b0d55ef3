// Package resilience provides the retry primitive shared by the provider
// gateway and the ingestion janitor.
//
// [Retry] runs an operation under a bounded attempt budget with exponential
// backoff and jitter. Which errors are worth another attempt is the
// caller's call, passed in as a predicate; by default every error retries.
//
// All functions are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig holds tuning knobs for [Retry]. Zero-value fields are
// replaced with defaults.
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// Attempts is the total attempt budget including the first call.
	// Default: 3.
	Attempts int

	// BaseDelay is the backoff before the second attempt; each further
	// attempt doubles it. Default: 100ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 2s.
	MaxDelay time.Duration

	// RetryIf decides whether an error is worth another attempt. Nil
	// retries every error.
	RetryIf func(error) bool
}

func (cfg *RetryConfig) applyDefaults() {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
}

// Retry runs fn until it succeeds, the attempt budget is spent, the
// predicate rejects the error, or ctx is done. The returned error is the
// last attempt's error; context cancellation during a backoff surfaces as
// ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg.applyDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, backoff(cfg, attempt-1)); err != nil {
				return fmt.Errorf("resilience: %s: %w", cfg.Name, err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}
		if attempt < cfg.Attempts {
			slog.Debug("retrying after failure",
				"name", cfg.Name,
				"attempt", attempt,
				"error", lastErr)
		}
	}
	return lastErr
}

// backoff returns the delay before attempt n+1 (n >= 1), with ±25% jitter
// so concurrent retriers spread out.
func backoff(cfg RetryConfig, n int) time.Duration {
	d := cfg.BaseDelay << (n - 1)
	if d > cfg.MaxDelay || d <= 0 {
		d = cfg.MaxDelay
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
