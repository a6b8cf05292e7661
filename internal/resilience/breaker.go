package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Allow] while the breaker is open
// and its cool-down has not yet elapsed.
var ErrBreakerOpen = errors.New("provider breaker is open")

// BreakerConfig tunes a [Breaker]. Zero-valued fields get defaults.
type BreakerConfig struct {
	// Name labels the protected backend in log messages.
	Name string

	// Threshold is the number of consecutive failures that trips the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before admitting a probe
	// call. Default: 30s.
	Cooldown time.Duration
}

// Breaker is a consecutive-failure circuit breaker for provider calls.
//
// Unlike an Execute-style wrapper, Breaker separates admission from
// accounting so it can guard calls whose result is consumed elsewhere
// (e.g. inside the translation fan-out's errgroup):
//
//	if err := b.Allow(); err != nil { return err }
//	out, err := provider.Translate(ctx, ...)
//	b.Record(err)
//
// After Cooldown elapses in the open state, a single probe call is admitted;
// its outcome decides whether the breaker closes or re-opens. All methods
// are safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu         sync.Mutex
	failures   int
	openedAt   time.Time
	open       bool
	probeInUse bool
}

// NewBreaker creates a [Breaker] with the supplied configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
	}
}

// Allow reports whether a call may proceed. While open, it returns
// [ErrBreakerOpen] until the cool-down elapses, then admits exactly one
// probe at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if time.Since(b.openedAt) < b.cooldown {
		return ErrBreakerOpen
	}
	if b.probeInUse {
		return ErrBreakerOpen
	}
	b.probeInUse = true
	return nil
}

// Record accounts for the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		// Probe outcome.
		b.probeInUse = false
		if err != nil {
			b.openedAt = time.Now()
			slog.Warn("provider breaker probe failed; staying open", "name", b.name)
			return
		}
		b.open = false
		b.failures = 0
		slog.Info("provider breaker closed after successful probe", "name", b.name)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
		slog.Warn("provider breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	}
}

// Open reports whether the breaker is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
