// Package resilience provides the retry and circuit-breaker primitives that
// guard calls to the external recognition and translation providers.
//
// [Retry] replaces ad hoc polling loops with a bounded
// exponential-backoff-with-jitter helper; [Breaker] short-circuits a backend
// that keeps failing so one bad provider cannot stall the live pipeline.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrAttemptsExhausted is wrapped into the error returned by [Retry] when
// every attempt failed with a retryable error.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// RetryConfig tunes a [Retry] call. Zero-valued fields are replaced with the
// documented defaults.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 4.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles each
	// subsequent attempt. Default: 250ms.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt delay. Default: 5s.
	MaxDelay time.Duration

	// Jitter adds up to this fraction of the delay as random variance, so
	// concurrent retry loops do not synchronise against a rate-limited
	// backend. Range [0, 1]. Default: 0.2.
	Jitter float64

	// RetryIf decides whether an error is worth another attempt. When nil,
	// every error is retryable.
	RetryIf func(error) bool
}

// Retry runs fn until it succeeds, a non-retryable error occurs, ctx is
// cancelled, or the attempt budget is exhausted.
//
// On success the value of the final attempt is returned. On a non-retryable
// error that error is returned unwrapped. On budget exhaustion the last
// error is returned wrapped together with [ErrAttemptsExhausted], so callers
// can distinguish "gave up" from "cannot succeed".
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = 0.2
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(withJitter(delay, cfg.Jitter))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			delay = min(delay*2, cfg.MaxDelay)
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, cfg.MaxAttempts, lastErr)
}

// withJitter spreads d by up to frac of its value.
func withJitter(d time.Duration, frac float64) time.Duration {
	if frac == 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*frac*float64(d))
}
