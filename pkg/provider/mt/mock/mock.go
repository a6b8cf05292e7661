// Package mock provides test doubles for the mt package interfaces.
//
// The Provider echoes a deterministic pseudo-translation
// ("[lang] " + text) unless a scripted response or error is configured, so
// tests can assert on fan-out behaviour without caring about real MT output.
package mock

import (
	"context"
	"sync"

	"github.com/mooner92/onvoice/pkg/provider/mt"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Provider is a mock implementation of mt.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses maps target language to a fixed translation. Languages not
	// present fall back to the "[lang] text" echo form.
	Responses map[string]string

	// Errs maps target language to an error returned for that language.
	// Use this to fail one language while others succeed.
	Errs map[string]error

	// Err, if non-nil, is returned by every Translate call regardless of
	// language. Takes precedence over Errs.
	Err error

	// Delay in "still processing" responses: for each target language,
	// the first StillProcessing[lang] calls return mt.ErrStillProcessing
	// before the real result is produced.
	StillProcessing map[string]int

	// Calls records every invocation.
	Calls []TranslateCall

	attempts map[string]int
}

var _ mt.Provider = (*Provider)(nil)

// Translate records the call and returns the scripted response.
func (p *Provider) Translate(_ context.Context, text, sourceLang, targetLang string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, TranslateCall{Text: text, SourceLang: sourceLang, TargetLang: targetLang})

	if p.Err != nil {
		return "", p.Err
	}
	if err, ok := p.Errs[targetLang]; ok {
		return "", err
	}
	if pending, ok := p.StillProcessing[targetLang]; ok && pending > 0 {
		if p.attempts == nil {
			p.attempts = make(map[string]int)
		}
		if p.attempts[targetLang] < pending {
			p.attempts[targetLang]++
			return "", mt.ErrStillProcessing
		}
	}
	if resp, ok := p.Responses[targetLang]; ok {
		return resp, nil
	}
	return "[" + targetLang + "] " + text, nil
}

// Name implements mt.Provider.
func (p *Provider) Name() string { return "mock" }

// CallCount returns the number of Translate invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// CallCountFor returns the number of Translate invocations for one target
// language.
func (p *Provider) CallCountFor(targetLang string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c.TargetLang == targetLang {
			n++
		}
	}
	return n
}
