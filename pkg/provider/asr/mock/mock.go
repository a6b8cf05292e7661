// Package mock provides test doubles for the asr package interfaces.
//
// Use Provider to script recognition results and inspect the audio payloads
// delivered by the pipeline:
//
//	p := &mock.Provider{Results: []asr.Result{{Text: "hello world"}}}
//	res, _ := p.Transcribe(ctx, audio, "en")
package mock

import (
	"context"
	"sync"

	"github.com/mooner92/onvoice/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Audio is the payload passed to Transcribe.
	Audio []byte
	// LanguageHint is the hint passed to Transcribe.
	LanguageHint string
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order by successive Transcribe calls. When the
	// slice is exhausted (or nil) the zero Result is returned.
	Results []asr.Result

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Calls records every invocation.
	Calls []TranscribeCall

	next int
}

var _ asr.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(_ context.Context, audio []byte, languageHint string) (asr.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload := make([]byte, len(audio))
	copy(payload, audio)
	p.Calls = append(p.Calls, TranscribeCall{Audio: payload, LanguageHint: languageHint})

	if p.Err != nil {
		return asr.Result{}, p.Err
	}
	if p.next < len(p.Results) {
		r := p.Results[p.next]
		p.next++
		return r, nil
	}
	return asr.Result{}, nil
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
