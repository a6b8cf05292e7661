// Package translate produces translations of accepted transcript text into
// every configured target language, backed by a persistent cache.
//
// One source segment fans out into N provider calls, bounded to a small
// parallelism window to respect provider rate limits. Failures are isolated
// per language: a backend error for one target removes that language from
// the result and never fails the others. Identical in-flight requests are
// coalesced with singleflight, and cache inserts are first-writer-wins, so
// concurrent callers converge on one persisted row per (text, language)
// pair.
package translate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mooner92/onvoice/internal/observe"
	"github.com/mooner92/onvoice/internal/resilience"
	"github.com/mooner92/onvoice/pkg/provider/mt"
	"github.com/mooner92/onvoice/pkg/store"
	"github.com/mooner92/onvoice/pkg/types"
)

// Defaults.
const (
	defaultParallelism = 3
	defaultCallTimeout = 10 * time.Second
)

// Status is the lifecycle of a translation request for one language.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// LanguageResult is the outcome for a single target language.
type LanguageResult struct {
	// Text is the translated text. On a degraded result this is the
	// untranslated source text.
	Text string

	// Status is StatusCompleted or StatusFailed.
	Status Status

	// CacheHit reports whether the text came from the cache without a
	// provider call.
	CacheHit bool

	// Degraded reports that the provider never produced a result within
	// the retry budget and Text carries the untranslated source instead.
	// Degraded results are not cached.
	Degraded bool

	// Err is the terminal error for failed or degraded results.
	Err error
}

// Result is the outcome of one fan-out.
type Result struct {
	SourceText string
	SourceLang string

	// Languages holds the per-language outcomes, keyed by target language.
	Languages map[string]LanguageResult
}

// Map returns target language to text for every non-failed language.
// Failed languages are absent, which is the contract callers rely on.
func (r Result) Map() map[string]string {
	out := make(map[string]string, len(r.Languages))
	for lang, lr := range r.Languages {
		if lr.Status == StatusCompleted {
			out[lang] = lr.Text
		}
	}
	return out
}

// Status reduces the per-language outcomes to a request-level state:
// StatusFailed only when every requested language failed.
func (r Result) Status() Status {
	if len(r.Languages) == 0 {
		return StatusCompleted
	}
	for _, lr := range r.Languages {
		if lr.Status != StatusFailed {
			return StatusCompleted
		}
	}
	return StatusFailed
}

// Option configures a [Fanout].
type Option func(*Fanout)

// WithParallelism bounds the number of concurrent provider calls per
// fan-out. Default: 3.
func WithParallelism(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.parallelism = n
		}
	}
}

// WithRetryConfig replaces the retry policy for "still processing"
// placeholder responses.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(f *Fanout) {
		cfg.RetryIf = retryIf
		f.retry = cfg
	}
}

// WithCallTimeout bounds a single provider call. Default: 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.callTimeout = d
		}
	}
}

// WithBreaker installs a circuit breaker in front of the provider.
func WithBreaker(b *resilience.Breaker) Option {
	return func(f *Fanout) {
		f.breaker = b
	}
}

// WithMetrics overrides the metric instruments. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Fanout) {
		if m != nil {
			f.metrics = m
		}
	}
}

// Fanout generates and caches translations. Safe for concurrent use.
type Fanout struct {
	provider mt.Provider
	store    store.TranslationStore

	parallelism int
	callTimeout time.Duration
	retry       resilience.RetryConfig
	breaker     *resilience.Breaker
	metrics     *observe.Metrics

	flight singleflight.Group
}

// New returns a Fanout over the given provider and cache store.
func New(provider mt.Provider, st store.TranslationStore, opts ...Option) *Fanout {
	f := &Fanout{
		provider:    provider,
		store:       st,
		parallelism: defaultParallelism,
		callTimeout: defaultCallTimeout,
		retry: resilience.RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			RetryIf:     retryIf,
		},
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// retryIf keeps the retry loop polling only while the backend reports the
// placeholder state; every other provider error is terminal for the attempt.
func retryIf(err error) bool {
	return errors.Is(err, mt.ErrStillProcessing)
}

// Translate produces translations of text into every target language except
// the source. Cache hits skip the provider; misses are generated
// concurrently. The call never returns an error: per-language failures are
// carried in the result.
func (f *Fanout) Translate(ctx context.Context, text, sourceLang string, targetLangs []string) Result {
	text = strings.TrimSpace(text)
	res := Result{
		SourceText: text,
		SourceLang: sourceLang,
		Languages:  make(map[string]LanguageResult),
	}
	if text == "" {
		return res
	}

	var misses []string
	seen := make(map[string]struct{}, len(targetLangs))
	for _, lang := range targetLangs {
		lang = strings.TrimSpace(lang)
		if lang == "" || lang == sourceLang {
			continue
		}
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}

		entry, ok, err := f.store.LookupTranslation(ctx, store.TranslationKey{SourceText: text, TargetLang: lang})
		switch {
		case err != nil:
			slog.Warn("translation cache lookup failed", "target_lang", lang, "err", err)
			misses = append(misses, lang)
		case ok:
			res.Languages[lang] = LanguageResult{Text: entry.TranslatedText, Status: StatusCompleted, CacheHit: true}
		default:
			misses = append(misses, lang)
		}
	}
	if len(misses) == 0 {
		return res
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for _, lang := range misses {
		g.Go(func() error {
			lr := f.generate(ctx, text, sourceLang, lang)
			mu.Lock()
			res.Languages[lang] = lr
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return res
}

// Single serves one (text, language) pair: cached value or on-demand
// generation. Used for ad-hoc requests outside the live stream.
func (f *Fanout) Single(ctx context.Context, text, sourceLang, targetLang string) (types.Translation, error) {
	text = strings.TrimSpace(text)
	targetLang = strings.TrimSpace(targetLang)
	if text == "" || targetLang == "" {
		return types.Translation{}, errors.New("translate: empty text or target language")
	}

	tr := types.Translation{
		SourceText: text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		CreatedAt:  time.Now(),
	}
	if targetLang == sourceLang {
		tr.TranslatedText = text
		return tr, nil
	}

	entry, ok, err := f.store.LookupTranslation(ctx, store.TranslationKey{SourceText: text, TargetLang: targetLang})
	if err != nil {
		slog.Warn("translation cache lookup failed", "target_lang", targetLang, "err", err)
	}
	if ok {
		tr.TranslatedText = entry.TranslatedText
		tr.Engine = entry.Engine
		tr.CacheHit = true
		tr.CreatedAt = entry.CreatedAt
		return tr, nil
	}

	lr := f.generate(ctx, text, sourceLang, targetLang)
	if lr.Status == StatusFailed || lr.Degraded {
		return types.Translation{}, lr.Err
	}
	tr.TranslatedText = lr.Text
	tr.Engine = f.provider.Name()
	return tr, nil
}

// generate runs one provider call chain for a cache miss: breaker admission,
// singleflight coalescing, bounded retry for placeholder responses, persist
// on success. Degrades to the source text when the budget runs out.
func (f *Fanout) generate(ctx context.Context, text, sourceLang, lang string) LanguageResult {
	if f.breaker != nil {
		if err := f.breaker.Allow(); err != nil {
			return LanguageResult{Status: StatusFailed, Err: err}
		}
	}

	key := lang + "\x00" + text
	v, err, _ := f.flight.Do(key, func() (any, error) {
		start := time.Now()
		translated, err := resilience.Retry(ctx, f.retry, func(ctx context.Context) (string, error) {
			cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
			defer cancel()
			return f.provider.Translate(cctx, text, sourceLang, lang)
		})
		f.metrics.MTDuration.Record(ctx, time.Since(start).Seconds())
		if f.breaker != nil {
			f.breaker.Record(err)
		}
		if err != nil {
			return "", err
		}
		f.persist(ctx, text, sourceLang, lang, translated)
		return translated, nil
	})
	if err != nil {
		f.recordError(ctx, err)
		if errors.Is(err, mt.ErrStillProcessing) || errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("translation timed out, returning source text",
				"target_lang", lang, "provider", f.provider.Name(), "err", err)
			return LanguageResult{Text: text, Status: StatusCompleted, Degraded: true, Err: err}
		}
		slog.Warn("translation failed",
			"target_lang", lang, "provider", f.provider.Name(), "err", err)
		return LanguageResult{Status: StatusFailed, Err: err}
	}
	return LanguageResult{Text: v.(string), Status: StatusCompleted}
}

// recordError increments the provider error counter for a terminal
// generation failure.
func (f *Fanout) recordError(ctx context.Context, err error) {
	name := f.provider.Name()
	var perr *mt.ProviderError
	if errors.As(err, &perr) && perr.Provider != "" {
		name = perr.Provider
	}
	kind := "other"
	switch {
	case errors.Is(err, mt.ErrStillProcessing), errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	case errors.Is(err, mt.ErrUnsupportedLanguage):
		kind = "unsupported_language"
	}
	f.metrics.RecordProviderError(ctx, name, kind)
}

// persist writes the cache row. A write failure is logged and does not fail
// the translation; the caller still gets the generated text.
func (f *Fanout) persist(ctx context.Context, text, sourceLang, lang, translated string) {
	entry := store.TranslationEntry{
		Key:            store.TranslationKey{SourceText: text, TargetLang: lang},
		TranslatedText: translated,
		SourceLang:     sourceLang,
		Engine:         f.provider.Name(),
		CreatedAt:      time.Now(),
	}
	if err := f.store.InsertTranslation(ctx, entry); err != nil {
		slog.Warn("translation cache insert failed", "target_lang", lang, "err", err)
	}
}
