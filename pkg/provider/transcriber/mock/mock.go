// Package mock provides a test double for the transcriber.Provider
// interface.
//
// Use Provider to return pre-canned transcripts without a live
// transcription backend and to verify which audio files and tiers the
// pipeline submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeResult: &types.Transcript{Text: "hello world"},
//	    ModelIDValue:     "test-whisper",
//	}
//	tr, _ := p.Transcribe(ctx, "/tmp/v1.wav", types.TierBalanced)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/reelsonar/pkg/provider/transcriber"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// AudioPath is the file path passed to Transcribe.
	AudioPath string
	// Tier is the capacity tier passed to Transcribe.
	Tier types.CapacityTier
}

// Provider is a mock implementation of transcriber.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeResult is returned by Transcribe when TranscribeFunc is
	// nil. If nil, an empty transcript is returned.
	TranscribeResult *types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if non-nil, overrides TranscribeResult/TranscribeErr
	// entirely. Useful for per-file behaviour.
	TranscribeFunc func(ctx context.Context, audioPath string, tier types.CapacityTier) (*types.Transcript, error)

	// ModelIDValue is returned by ModelID for every tier.
	ModelIDValue string

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// ModelIDCallCount is the number of times ModelID was called.
	ModelIDCallCount int
}

// Transcribe records the call and returns the configured transcript.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, tier types.CapacityTier) (*types.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, AudioPath: audioPath, Tier: tier})
	fn := p.TranscribeFunc
	result, err := p.TranscribeResult, p.TranscribeErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, audioPath, tier)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &types.Transcript{}, nil
	}
	return result, nil
}

// ModelID records the call and returns ModelIDValue.
func (p *Provider) ModelID(types.CapacityTier) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModelIDCallCount++
	return p.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.ModelIDCallCount = 0
}

// Ensure Provider implements transcriber.Provider at compile time.
var _ transcriber.Provider = (*Provider)(nil)
