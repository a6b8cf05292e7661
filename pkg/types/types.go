// Package types defines the shared data structures used across all onvoice
// packages.
//
// These types form the lingua franca between the ingest layer, the voice
// activity segmenter, the dedup pipeline, the translation fan-out, and the
// persistence stores. Each package defines its own domain types; only
// cross-cutting structures live here to avoid circular imports.
package types

import "time"

// AudioChunk is a bounded slice of captured audio flowing into the pipeline.
// Chunks are transient: they are analysed by the voice activity segmenter,
// folded into a flush decision, and then discarded. They are never persisted.
type AudioChunk struct {
	// Data holds the raw audio bytes. Depending on the capture client this is
	// either raw PCM16 or an opaque compressed blob (e.g. webm/opus from a
	// browser MediaRecorder). The segmenter is configured per deployment for
	// whichever form it receives.
	Data []byte

	// CapturedAt is the client-side capture timestamp.
	CapturedAt time.Time

	// Duration is the nominal length of the chunk. May be zero when the
	// capture client does not report it.
	Duration time.Duration
}

// CandidateSegment is a text segment returned by the recognition provider
// for one flush of buffered audio. It is the transient input to the deduper;
// only segments that survive dedup become a [TranscriptSegment].
type CandidateSegment struct {
	// Text is the raw recognised text.
	Text string

	// Confidence is the provider's overall confidence (0.0–1.0). Zero when
	// the provider does not report one.
	Confidence float64

	// IsPartial marks low-latency interim results. Partial segments drive
	// live UI feedback only and must never be deduped or persisted.
	IsPartial bool
}

// TranscriptSegment is a durable, accepted unit of transcript. It is created
// only after the deduper accepts a candidate and is immutable once written;
// later enrichment (e.g. grammar-corrected text) is stored separately, never
// as a mutation of the recognised text.
type TranscriptSegment struct {
	// ID is the unique identifier for this segment (a UUID).
	ID string

	// SessionID is the session this segment belongs to.
	SessionID string

	// Text is the cleaned, overlap-trimmed text as accepted by the deduper.
	Text string

	// SourceLanguage is the detected or configured language of Text
	// (ISO 639-1 code, e.g. "en", "ko").
	SourceLanguage string

	// CreatedAt is when the segment was accepted.
	CreatedAt time.Time
}

// Translation pairs a source text with its translation into one target
// language, as produced by the fan-out or served from the cache.
type Translation struct {
	// SourceText is the text that was translated (trimmed, case preserved).
	SourceText string

	// TranslatedText is the result in the target language.
	TranslatedText string

	// SourceLang and TargetLang are ISO 639-1 codes.
	SourceLang string
	TargetLang string

	// Engine names the backend that produced the translation
	// (e.g. "openai", "anyllm"). For cache hits this is the engine that
	// originally generated the entry.
	Engine string

	// CacheHit reports whether this value was served from the cache without
	// a provider call.
	CacheHit bool

	// CreatedAt is when the translation was generated.
	CreatedAt time.Time
}

// SessionStats summarises a session's working state at the moment it ended.
// Returned by EndSession for observability.
type SessionStats struct {
	// SegmentCount is the number of accepted segments.
	SegmentCount int

	// HashSetSize is the number of distinct normalised-text hashes seen.
	HashSetSize int

	// TranscriptLength is the length in bytes of the accumulated transcript.
	TranscriptLength int
}
