// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/transcriber"
	"github.com/MrWong99/reelsonar/pkg/types"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies transcriber.Provider.
var _ transcriber.Provider = (*NativeProvider)(nil)

// NativeProvider implements transcriber.Provider using whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. One model file is
// loaded once at startup and serves every capacity tier; deployments that
// want per-tier models run the server backend instead.
type NativeProvider struct {
	model     whisperlib.Model
	modelName string
	language  string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent transcriptions. The caller must call Close when the provider
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:     model,
		modelName: strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// ModelID returns the loaded model's file stem for every tier; the native
// backend cannot switch models per request.
func (p *NativeProvider) ModelID(types.CapacityTier) string { return p.modelName }

// Transcribe decodes the WAV file and runs whisper.cpp inference on a
// fresh context. Inference itself is uninterruptible CGO; cancellation is
// honoured before dispatch and while waiting for the result.
func (p *NativeProvider) Transcribe(ctx context.Context, audioPath string, tier types.CapacityTier) (*types.Transcript, error) {
	const op = "transcriber: transcribe"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples, err := loadWAV(audioPath)
	if err != nil {
		return nil, faults.Wrap(faults.Unsupported, op, err)
	}

	type inferResult struct {
		tr  *types.Transcript
		err error
	}
	resultCh := make(chan inferResult, 1)
	go func() {
		tr, err := p.infer(samples)
		resultCh <- inferResult{tr: tr, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, faults.Wrap(faults.TranscriptionTimeout, op, ctx.Err())
		}
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, faults.Wrap(faults.Internal, op, r.err)
		}
		r.tr.ModelID = p.modelName
		return r.tr, nil
	}
}

// infer runs whisper.cpp inference using a fresh context and collects the
// emitted segments with their timings.
func (p *NativeProvider) infer(samples []float32) (*types.Transcript, error) {
	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	tr := &types.Transcript{Language: p.language}
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		tr.Segments = append(tr.Segments, types.Segment{
			StartSec: segment.Start.Seconds(),
			EndSec:   segment.End.Seconds(),
			Text:     text,
		})
	}
	tr.Text = strings.Join(parts, " ")
	return tr, nil
}
