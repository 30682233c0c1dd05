// Package transcriber defines the Provider interface for batch
// speech-to-text backends.
//
// A transcriber provider turns a downloaded audio file into a timed
// transcript in a single call. Unlike a live captioning engine there is no
// streaming session; short-form videos are transcribed whole, which keeps
// the provider surface to one method plus model identification.
//
// Implementations must be safe for concurrent use.
package transcriber

import (
	"context"

	"github.com/MrWong99/reelsonar/pkg/types"
)

// Provider is the abstraction over any batch transcription backend.
//
// The capacity tier selects the model quality/speed trade-off; every tier
// must be servable, falling back to the nearest available model when the
// backend only loads one. Failures are classified with pkg/faults kinds:
// deadline overruns map to TranscriptionTimeout, unreachable backends to
// NetworkError.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe converts the audio file at audioPath (16 kHz mono WAV)
	// into a transcript with per-segment timings. The returned transcript
	// always has non-nil Segments when Text is non-empty; Confidence is 0
	// when the backend does not report one.
	Transcribe(ctx context.Context, audioPath string, tier types.CapacityTier) (*types.Transcript, error)

	// ModelID returns the identifier of the model that serves the given
	// tier (e.g., "whisper-small", "ggml-large-v3"). Recorded on every
	// transcript for provenance.
	ModelID(tier types.CapacityTier) string
}
