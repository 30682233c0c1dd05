// Package whisper provides transcriber.Provider implementations backed by
// whisper.cpp.
//
// Two backends exist: ServerProvider talks to a running whisper-server
// binary over its REST API (POST /inference) and maps capacity tiers to
// server-side model names, while NativeProvider (native.go) runs inference
// in-process through the whisper.cpp CGO bindings.
//
// Usage:
//
//	p, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	tr, err := p.Transcribe(ctx, "/tmp/v1.wav", types.TierBalanced)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/transcriber"
	"github.com/MrWong99/reelsonar/pkg/types"
)

const (
	defaultLanguage       = "en"
	defaultRequestTimeout = 5 * time.Minute
)

// defaultTierModels maps each capacity tier to the whisper model family
// that serves it. Overridable per deployment via WithModels.
var defaultTierModels = map[types.CapacityTier]string{
	types.TierFast:     "base",
	types.TierBalanced: "small",
	types.TierAccurate: "medium",
	types.TierUltra:    "large-v3",
}

// Compile-time assertion that ServerProvider implements transcriber.Provider.
var _ transcriber.Provider = (*ServerProvider)(nil)

// ServerOption is a functional option for configuring a ServerProvider.
type ServerOption func(*ServerProvider)

// WithLanguage sets the BCP-47 language code sent to the server (e.g.,
// "en", "de"). "auto" requests language detection. Defaults to "en".
func WithLanguage(lang string) ServerOption {
	return func(p *ServerProvider) { p.language = lang }
}

// WithModels replaces the tier-to-model mapping. Tiers missing from the
// map fall back to the server's startup model.
func WithModels(models map[types.CapacityTier]string) ServerOption {
	return func(p *ServerProvider) { p.models = models }
}

// WithRequestTimeout bounds a single inference request. Whole-clip
// transcription on the larger models can take minutes; defaults to 5 m.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(p *ServerProvider) { p.httpClient.Timeout = d }
}

// ServerProvider implements transcriber.Provider against a whisper-server
// REST endpoint.
type ServerProvider struct {
	serverURL  string
	language   string
	models     map[types.CapacityTier]string
	httpClient *http.Client
}

// NewServer creates a ServerProvider that connects to the whisper-server
// at serverURL (e.g., "http://localhost:8080"). serverURL must be
// non-empty.
func NewServer(serverURL string, opts ...ServerOption) (*ServerProvider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &ServerProvider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		models:     defaultTierModels,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ModelID returns the model name configured for the tier, or "server-default"
// when the tier has no explicit mapping.
func (p *ServerProvider) ModelID(tier types.CapacityTier) string {
	if m, ok := p.models[tier]; ok && m != "" {
		return m
	}
	return "server-default"
}

// Transcribe uploads the audio file as multipart/form-data to /inference
// and decodes the verbose JSON response into a timed transcript.
func (p *ServerProvider) Transcribe(ctx context.Context, audioPath string, tier types.CapacityTier) (*types.Transcript, error) {
	const op = "transcriber: transcribe"

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, faults.Wrap(faults.Internal, op, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, faults.Wrap(faults.Internal, op, err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, faults.Wrap(faults.Internal, op, err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.0",
	}
	if p.language != "" {
		fields["language"] = p.language
	}
	if m, ok := p.models[tier]; ok && m != "" {
		fields["model"] = m
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, faults.Wrap(faults.Internal, op, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, faults.Wrap(faults.Internal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, faults.Wrap(faults.Internal, op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, faults.Wrap(faults.TranscriptionTimeout, op, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Wrap(faults.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, faults.Newf(faults.Network, op, "server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.Network, op, err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, faults.Wrap(faults.Internal, op, fmt.Errorf("parse response: %w", err))
	}
	return result.toTranscript(p.language, p.ModelID(tier)), nil
}

// inferenceResponse mirrors whisper-server's verbose_json format (the
// OpenAI-compatible shape: start/end in float seconds, avg_logprob per
// segment).
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (r inferenceResponse) toTranscript(fallbackLang, modelID string) *types.Transcript {
	tr := &types.Transcript{
		Text:     strings.TrimSpace(r.Text),
		Language: r.Language,
		ModelID:  modelID,
	}
	if tr.Language == "" {
		tr.Language = fallbackLang
	}
	var probSum float64
	var probN int
	for _, s := range r.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		tr.Segments = append(tr.Segments, types.Segment{
			StartSec: s.Start,
			EndSec:   s.End,
			Text:     text,
		})
		if s.AvgLogprob != 0 {
			probSum += math.Exp(s.AvgLogprob)
			probN++
		}
	}
	if tr.Text == "" && len(tr.Segments) > 0 {
		parts := make([]string, len(tr.Segments))
		for i, s := range tr.Segments {
			parts[i] = s.Text
		}
		tr.Text = strings.Join(parts, " ")
	}
	if probN > 0 {
		conf := probSum / float64(probN)
		if conf > 1 {
			conf = 1
		}
		tr.Confidence = conf
	}
	return tr
}

// isClientTimeout reports whether err is the http.Client timeout error,
// which arrives as a url.Error with Timeout() true rather than
// context.DeadlineExceeded.
func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
