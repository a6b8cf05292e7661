// Package mt defines the Provider interface for machine translation backends.
//
// Translation is an external black box: send text, receive text. Providers
// that run translation asynchronously may answer with a "still processing"
// placeholder; they signal this with [ErrStillProcessing] so the caller's
// bounded retry loop can poll until the real result is ready.
//
// Implementations must be safe for concurrent use — the fan-out issues
// several translations at once.
package mt

import (
	"context"
	"errors"
	"fmt"
)

// ErrStillProcessing is returned by Translate when the backend has accepted
// the request but has not finished producing the translation. Callers should
// retry with backoff; see resilience.Retry.
var ErrStillProcessing = errors.New("mt: translation still processing")

// ErrUnsupportedLanguage is returned when the backend cannot translate into
// the requested target language. Not retryable.
var ErrUnsupportedLanguage = errors.New("mt: unsupported target language")

// ProviderError wraps a translation backend failure. Use [errors.As] to
// recover it from a wrapped chain.
type ProviderError struct {
	// Provider names the backend (e.g. "openai", "anyllm").
	Provider string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("mt provider %s: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// Provider is the abstraction over any translation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Translate converts text from sourceLang to targetLang. Both languages
	// are ISO 639-1 codes. The translated text preserves the register and
	// casing of the input as far as the backend allows.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// Name identifies the backend for cache entries and log fields.
	Name() string
}
