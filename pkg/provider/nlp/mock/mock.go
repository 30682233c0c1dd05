// Package mock provides a test double for the nlp.Provider interface.
//
// Use Provider to return pre-canned noun phrases without a live sidecar
// and to verify which texts were submitted for analysis.
//
// Example:
//
//	p := &mock.Provider{
//	    NounPhrasesResult: []nlp.Phrase{{Text: "meal prep", Lemma: "meal prep"}},
//	    EngineIDValue:     "test-nlp",
//	}
//	phrases, _ := p.NounPhrases(ctx, "meal prep for the week")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/reelsonar/pkg/provider/nlp"
)

// NounPhrasesCall records a single invocation of NounPhrases.
type NounPhrasesCall struct {
	// Ctx is the context passed to NounPhrases.
	Ctx context.Context
	// Text is the string passed to NounPhrases.
	Text string
}

// Provider is a mock implementation of nlp.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// NounPhrasesResult is returned by NounPhrases when NounPhrasesFunc is
	// nil.
	NounPhrasesResult []nlp.Phrase

	// NounPhrasesErr, if non-nil, is returned as the error from
	// NounPhrases.
	NounPhrasesErr error

	// NounPhrasesFunc, if non-nil, overrides NounPhrasesResult/
	// NounPhrasesErr entirely. Useful for per-text behaviour.
	NounPhrasesFunc func(ctx context.Context, text string) ([]nlp.Phrase, error)

	// PingErr is returned by Ping.
	PingErr error

	// EngineIDValue is returned by EngineID. Defaults to "mock".
	EngineIDValue string

	// --- Call records ---

	// NounPhrasesCalls records every call to NounPhrases in order.
	NounPhrasesCalls []NounPhrasesCall

	// PingCallCount is the number of times Ping was called.
	PingCallCount int
}

// NounPhrases records the call and returns the configured phrases.
func (p *Provider) NounPhrases(ctx context.Context, text string) ([]nlp.Phrase, error) {
	p.mu.Lock()
	p.NounPhrasesCalls = append(p.NounPhrasesCalls, NounPhrasesCall{Ctx: ctx, Text: text})
	fn := p.NounPhrasesFunc
	result, err := p.NounPhrasesResult, p.NounPhrasesErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	return result, err
}

// Ping records the call and returns PingErr.
func (p *Provider) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PingCallCount++
	return p.PingErr
}

// EngineID returns EngineIDValue, or "mock" when unset.
func (p *Provider) EngineID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EngineIDValue == "" {
		return "mock"
	}
	return p.EngineIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NounPhrasesCalls = nil
	p.PingCallCount = 0
}

// Ensure Provider implements nlp.Provider at compile time.
var _ nlp.Provider = (*Provider)(nil)
