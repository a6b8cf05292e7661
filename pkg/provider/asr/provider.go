// Package asr defines the Provider interface for speech recognition backends.
//
// Recognition is an external black box reached over a request/response
// boundary: the pipeline flushes a buffered audio segment, sends the bytes,
// and receives text. Streaming recognition (persistent sockets, interim
// results) is intentionally not modelled here — the voice activity segmenter
// owns segment boundaries, so a plain Transcribe call per flush is all the
// pipeline needs.
//
// Implementations must be safe for concurrent use: flushes for different
// sessions are transcribed in parallel.
package asr

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyAudio is returned by Transcribe when the audio payload is empty.
var ErrEmptyAudio = errors.New("asr: empty audio payload")

// FailureKind classifies a provider failure so that callers can decide
// between retrying and dropping the segment.
type FailureKind string

const (
	// FailureQuota indicates the provider rejected the call for rate or
	// quota reasons. Retrying after a backoff may succeed.
	FailureQuota FailureKind = "quota"

	// FailureFormat indicates the provider could not decode the audio.
	// Retrying the same bytes will not succeed.
	FailureFormat FailureKind = "format"

	// FailureTimeout indicates the call exceeded its deadline.
	FailureTimeout FailureKind = "timeout"

	// FailureOther covers everything else (network errors, 5xx responses).
	FailureOther FailureKind = "other"
)

// ProviderError wraps a recognition backend failure with a [FailureKind]
// classification. Use [errors.As] to recover it from a wrapped chain.
type ProviderError struct {
	// Provider names the backend (e.g. "openai").
	Provider string

	// Kind classifies the failure.
	Kind FailureKind

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("asr provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// Result is a completed recognition for one flushed audio segment.
type Result struct {
	// Text is the recognised speech content. May be empty when the segment
	// contained no intelligible speech.
	Text string

	// Confidence is the provider's overall confidence (0.0–1.0). Zero when
	// the provider does not report one.
	Confidence float64

	// Language is the language the provider detected (ISO 639-1), or the
	// hint echoed back when detection is unsupported.
	Language string
}

// Provider is the abstraction over any request/response recognition backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe recognises speech in audio and returns the text.
	//
	// languageHint is an ISO 639-1 code guiding recognition; an empty hint
	// lets the provider auto-detect. Failures are reported as a
	// [*ProviderError] so callers can classify them.
	Transcribe(ctx context.Context, audio []byte, languageHint string) (Result, error)
}
