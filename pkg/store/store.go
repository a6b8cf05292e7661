// Package store defines the persistence contracts for the onvoice pipeline.
//
// Two append-only stores back the pipeline:
//
//   - [SegmentStore]: the durable transcript log. Segments are inserted once,
//     after the deduper accepts them, and never mutated.
//   - [TranslationStore]: the translation cache. Entries are keyed by
//     (source text, target language); lookups short-circuit provider calls
//     and inserts are idempotent so concurrent generators converge on one row.
//
// Both contracts require read-your-writes consistency within a session: a
// row written must be visible to the very next read. Implementations must be
// safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/mooner92/onvoice/pkg/types"
)

// TranslationKey identifies a unique cached translation.
type TranslationKey struct {
	// SourceText is the trimmed source text (case preserved — translation
	// meaning can depend on case, unlike dedup normalisation).
	SourceText string

	// TargetLang is the ISO 639-1 target language code.
	TargetLang string
}

// TranslationEntry is a cached translation row. Entries are insert-only.
type TranslationEntry struct {
	// Key identifies the entry.
	Key TranslationKey

	// TranslatedText is the cached result.
	TranslatedText string

	// SourceLang is the source language the entry was generated from.
	SourceLang string

	// Engine names the backend that generated the entry.
	Engine string

	// Quality is an optional provider-reported quality score (0.0–1.0).
	Quality float64

	// CreatedAt is when the entry was generated.
	CreatedAt time.Time
}

// SegmentStore is the append-only durable transcript log.
type SegmentStore interface {
	// AppendSegment persists an accepted segment. The segment's ID must be
	// set by the caller; inserting the same ID twice is an error.
	AppendSegment(ctx context.Context, seg types.TranscriptSegment) error

	// SessionSegments returns all segments for sessionID in acceptance order.
	SessionSegments(ctx context.Context, sessionID string) ([]types.TranscriptSegment, error)
}

// TranslationStore is the append-mostly translation cache.
type TranslationStore interface {
	// LookupTranslation returns the cached entry for key. The second return
	// is false on a cache miss; the error reports storage failures only.
	LookupTranslation(ctx context.Context, key TranslationKey) (TranslationEntry, bool, error)

	// InsertTranslation persists a new cache entry. Inserting a key that
	// already exists is not an error: the first writer wins and later
	// writers are silently dropped, so concurrent generators converge.
	InsertTranslation(ctx context.Context, entry TranslationEntry) error
}

// Store combines both persistence contracts. The postgres implementation
// satisfies it with one connection pool; tests use the mock package.
type Store interface {
	SegmentStore
	TranslationStore
}
