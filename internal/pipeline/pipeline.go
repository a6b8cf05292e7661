// Package pipeline wires the full live transcript path: audio chunks in,
// voice-activity segmentation, recognition, dedup consolidation, durable
// segment persistence, and translation fan-out.
//
// The pipeline is invoked by independent concurrent requests. Work for one
// session is serialised through the session store's per-session lock;
// different sessions proceed in parallel. Provider calls are the only
// blocking operations and always run outside that lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mooner92/onvoice/internal/dedup"
	"github.com/mooner92/onvoice/internal/observe"
	"github.com/mooner92/onvoice/internal/resilience"
	"github.com/mooner92/onvoice/internal/session"
	"github.com/mooner92/onvoice/internal/translate"
	"github.com/mooner92/onvoice/internal/vad"
	"github.com/mooner92/onvoice/pkg/provider/asr"
	"github.com/mooner92/onvoice/pkg/store"
	"github.com/mooner92/onvoice/pkg/types"
)

// ErrSessionNotFound is returned for operations on unknown or ended
// sessions. It aliases the session store sentinel so callers can match
// either.
var ErrSessionNotFound = session.ErrNotFound

// ErrInputRejected is returned for malformed input: empty or oversized
// audio. Never fatal; it means nothing was appended.
var ErrInputRejected = errors.New("pipeline: input rejected")

// maxChunkBytes caps a single submitted audio chunk.
const maxChunkBytes = 2 << 20

// asrCallTimeout bounds one recognition call inside the retry loop.
const asrCallTimeout = 30 * time.Second

// Response is the synchronous result of SubmitRecognizedText.
type Response struct {
	// Accepted reports whether the text survived dedup and was appended.
	Accepted bool

	// Partial marks live typing feedback that was intentionally not
	// deduped or persisted.
	Partial bool

	// CleanedText is the overlap-trimmed text that was appended (or, for
	// partials, the trimmed input).
	CleanedText string

	// Reason is the dedup rejection reason when Accepted is false.
	Reason string

	// Translations maps target language to translated text for every
	// language that produced a result.
	Translations map[string]string
}

// Config collects the pipeline's collaborators.
type Config struct {
	Sessions   *session.Store
	Deduper    *dedup.Deduper
	Segmenter  *vad.Segmenter
	Translator *translate.Fanout
	Recognizer asr.Provider
	Segments   store.SegmentStore

	// DefaultTargets is the target language set applied to sessions that
	// start without one.
	DefaultTargets []string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ASRRetry tunes the recognition retry loop. Zero value selects the
	// resilience defaults.
	ASRRetry resilience.RetryConfig
}

// Pipeline is the orchestrator behind every entry point. Safe for
// concurrent use.
type Pipeline struct {
	sessions   *session.Store
	deduper    *dedup.Deduper
	segmenter  *vad.Segmenter
	translator *translate.Fanout
	recognizer asr.Provider
	segments   store.SegmentStore
	defaults   []string
	metrics    *observe.Metrics
	asrRetry   resilience.RetryConfig
}

// New validates the configuration and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, errors.New("pipeline: session store is required")
	case cfg.Deduper == nil:
		return nil, errors.New("pipeline: deduper is required")
	case cfg.Segmenter == nil:
		return nil, errors.New("pipeline: segmenter is required")
	case cfg.Translator == nil:
		return nil, errors.New("pipeline: translator is required")
	case cfg.Recognizer == nil:
		return nil, errors.New("pipeline: recognition provider is required")
	case cfg.Segments == nil:
		return nil, errors.New("pipeline: segment store is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		sessions:   cfg.Sessions,
		deduper:    cfg.Deduper,
		segmenter:  cfg.Segmenter,
		translator: cfg.Translator,
		recognizer: cfg.Recognizer,
		segments:   cfg.Segments,
		defaults:   cfg.DefaultTargets,
		metrics:    cfg.Metrics,
		asrRetry:   cfg.ASRRetry,
	}, nil
}

// Start launches the background loops: the idle-session reaper and the
// interval flusher for sessions that go quiet with audio pending.
func (p *Pipeline) Start(ctx context.Context) {
	// Reaped sessions must release their audio buffer too, or every
	// abandoned session leaks its segmenter entry.
	p.sessions.OnReap(func(sessionID string, _ types.SessionStats) {
		p.segmenter.Remove(sessionID)
		p.metrics.ActiveSessions.Add(context.Background(), -1)
	})
	p.sessions.StartReaper(ctx)
	p.segmenter.StartFlusher(ctx, func(sessionID string, seg vad.Segment) {
		bg := context.Background()
		p.metrics.RecordFlush(bg, string(seg.Reason))
		p.processSegment(bg, sessionID, seg)
	})
}

// Close stops the background loops.
func (p *Pipeline) Close() {
	p.segmenter.Close()
	p.sessions.Close()
}

// StartSession registers (or idempotently resets) a speaker session.
// Returns true when an already-active session was reset.
func (p *Pipeline) StartSession(ctx context.Context, sessionID, primaryLanguage string, targetLanguages []string) bool {
	if len(targetLanguages) == 0 {
		targetLanguages = p.defaults
	}
	reset := p.sessions.Start(sessionID, primaryLanguage, targetLanguages)
	if reset {
		p.segmenter.Remove(sessionID)
		slog.Info("session reset", "session_id", sessionID)
	} else {
		p.metrics.ActiveSessions.Add(ctx, 1)
		slog.Info("session started",
			"session_id", sessionID,
			"primary_language", primaryLanguage,
			"target_languages", targetLanguages)
	}
	return reset
}

// SubmitAudioChunk folds one audio chunk into the session's rolling buffer.
// Nothing is returned synchronously; a flush trigger runs recognition and
// routes the text through SubmitRecognizedText internally.
func (p *Pipeline) SubmitAudioChunk(ctx context.Context, sessionID string, chunk types.AudioChunk) error {
	if len(chunk.Data) == 0 {
		return fmt.Errorf("%w: empty audio chunk", ErrInputRejected)
	}
	if len(chunk.Data) > maxChunkBytes {
		return fmt.Errorf("%w: audio chunk exceeds %d bytes", ErrInputRejected, maxChunkBytes)
	}
	if err := p.touch(sessionID); err != nil {
		return err
	}

	seg, ok := p.segmenter.Add(sessionID, chunk)
	if !ok {
		return nil
	}
	p.metrics.RecordFlush(ctx, string(seg.Reason))
	p.processSegment(ctx, sessionID, seg)
	return nil
}

// SubmitRecognizedText routes recognised text through dedup and, when
// accepted, persistence and translation fan-out. Partial text is neither
// deduped nor persisted: it exists only for live feedback.
//
// Returns [ErrSessionNotFound] for unknown or ended sessions; dedup
// rejections are not errors and are reported on the Response.
func (p *Pipeline) SubmitRecognizedText(ctx context.Context, sessionID, rawText string, isPartial bool) (Response, error) {
	return p.submitCandidate(ctx, sessionID, types.CandidateSegment{Text: rawText, IsPartial: isPartial})
}

// submitCandidate is the dedup hand-off shared by the text entry point and
// the recognition path.
func (p *Pipeline) submitCandidate(ctx context.Context, sessionID string, cand types.CandidateSegment) (Response, error) {
	if cand.IsPartial {
		if err := p.touch(sessionID); err != nil {
			return Response{}, err
		}
		return Response{Partial: true, CleanedText: strings.TrimSpace(cand.Text)}, nil
	}

	var (
		decision dedup.Decision
		primary  string
		targets  []string
	)
	err := p.sessions.Update(sessionID, func(w *session.Working) error {
		decision = p.deduper.Evaluate(w, cand.Text)
		if decision.Accepted {
			w.Append(decision.CleanText, decision.NormalizedHash)
			primary = w.PrimaryLanguage()
			targets = w.TargetLanguages()
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	if !decision.Accepted {
		p.metrics.RecordSegmentRejected(ctx, string(decision.Reason))
		return Response{Reason: string(decision.Reason)}, nil
	}
	p.metrics.RecordSegmentAccepted(ctx)

	// Persistence failure does not roll back the in-memory acceptance:
	// losing a durable copy is less harmful than breaking live transcript
	// continuity.
	seg := types.TranscriptSegment{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Text:           decision.CleanText,
		SourceLanguage: primary,
		CreatedAt:      time.Now(),
	}
	if err := p.segments.AppendSegment(ctx, seg); err != nil {
		slog.Warn("segment persist failed",
			"session_id", sessionID, "segment_id", seg.ID, "err", err)
	}

	res := p.translator.Translate(ctx, decision.CleanText, primary, targets)
	for _, lr := range res.Languages {
		p.metrics.RecordTranslationLookup(ctx, lr.CacheHit)
	}

	return Response{
		Accepted:     true,
		CleanedText:  decision.CleanText,
		Translations: res.Map(),
	}, nil
}

// EndSession flushes any pending audio, removes the session's working state,
// and returns its final stats. In-flight results arriving after this point
// are dropped as not-found.
func (p *Pipeline) EndSession(ctx context.Context, sessionID string) (types.SessionStats, error) {
	if seg, ok := p.segmenter.Flush(sessionID); ok {
		p.metrics.RecordFlush(ctx, string(seg.Reason))
		p.processSegment(ctx, sessionID, seg)
	}

	stats, err := p.sessions.End(sessionID)
	if err != nil {
		return types.SessionStats{}, err
	}
	p.segmenter.Remove(sessionID)
	p.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("session ended",
		"session_id", sessionID,
		"segments", stats.SegmentCount,
		"transcript_length", stats.TranscriptLength)
	return stats, nil
}

// GetTranslation serves an ad-hoc translation request: cached value or
// on-demand generation, outside any live session.
func (p *Pipeline) GetTranslation(ctx context.Context, text, targetLanguage string) (types.Translation, error) {
	tr, err := p.translator.Single(ctx, text, "", targetLanguage)
	if err != nil {
		return types.Translation{}, err
	}
	p.metrics.RecordTranslationLookup(ctx, tr.CacheHit)
	return tr, nil
}

// touch validates the session exists and bumps its activity clock.
func (p *Pipeline) touch(sessionID string) error {
	return p.sessions.Update(sessionID, func(*session.Working) error { return nil })
}

// processSegment runs recognition on a cut audio segment and feeds the text
// back into the dedup path. Recognition failure drops the segment: a single
// bad chunk must never interrupt the session.
func (p *Pipeline) processSegment(ctx context.Context, sessionID string, seg vad.Segment) {
	hint := ""
	if err := p.sessions.Update(sessionID, func(w *session.Working) error {
		hint = w.PrimaryLanguage()
		return nil
	}); err != nil {
		return
	}

	start := time.Now()
	result, err := resilience.Retry(ctx, p.asrRetry, func(ctx context.Context) (asr.Result, error) {
		cctx, cancel := context.WithTimeout(ctx, asrCallTimeout)
		defer cancel()
		return p.recognizer.Transcribe(cctx, seg.Audio, hint)
	})
	p.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		var perr *asr.ProviderError
		if errors.As(err, &perr) {
			p.metrics.RecordProviderError(ctx, perr.Provider, string(perr.Kind))
		} else {
			p.metrics.RecordProviderError(ctx, "asr", string(asr.FailureOther))
		}
		slog.Warn("recognition failed, dropping segment",
			"session_id", sessionID,
			"audio_bytes", len(seg.Audio),
			"err", err)
		return
	}
	cand := types.CandidateSegment{Text: result.Text, Confidence: result.Confidence}
	if strings.TrimSpace(cand.Text) == "" {
		return
	}
	slog.Debug("recognition complete",
		"session_id", sessionID,
		"confidence", cand.Confidence,
		"chars", len(cand.Text))

	if _, err := p.submitCandidate(ctx, sessionID, cand); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			slog.Debug("dropping recognition result for ended session", "session_id", sessionID)
			return
		}
		slog.Warn("failed to submit recognised text", "session_id", sessionID, "err", err)
	}
}
