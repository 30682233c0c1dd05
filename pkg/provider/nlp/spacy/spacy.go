// Package spacy provides an nlp provider backed by a spaCy sidecar
// service.
//
// The sidecar is a small HTTP wrapper around a spaCy pipeline: POST /chunks
// runs noun-chunk extraction over the request text and GET /health reports
// whether the language model is loaded. Any service that speaks this shape
// works; the reference sidecar ships with the deployment manifests.
//
// Example usage:
//
//	p, err := spacy.New("http://localhost:8090", "en_core_web_sm")
//	phrases, err := p.NounPhrases(ctx, "progressive overload for beginners")
package spacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/nlp"
)

// DefaultBaseURL is the default base URL for a locally running sidecar.
const DefaultBaseURL = "http://localhost:8090"

// Ensure Provider implements the nlp.Provider interface at compile time.
var _ nlp.Provider = (*Provider)(nil)

// config holds optional configuration collected from functional options.
type config struct {
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP
// client. Defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements nlp.Provider against the spaCy sidecar HTTP API.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New constructs a new sidecar Provider.
//
// baseURL is the base URL of the sidecar (e.g., "http://localhost:8090");
// if empty, DefaultBaseURL is used. model is the spaCy pipeline name the
// sidecar loaded (e.g., "en_core_web_sm") and must not be empty — it is
// only used for identification, the sidecar decides what it runs.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("spacy: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := &config{timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}, nil
}

// chunksRequest is the JSON request body sent to the sidecar's /chunks
// endpoint.
type chunksRequest struct {
	Text string `json:"text"`
}

// chunksResponse is the JSON response body returned by /chunks.
type chunksResponse struct {
	Chunks []nlp.Phrase `json:"chunks"`
}

// NounPhrases implements nlp.Provider by submitting the whole text to the
// sidecar in one request. spaCy pipelines handle long documents natively,
// so no client-side chunking is applied.
func (p *Provider) NounPhrases(ctx context.Context, text string) ([]nlp.Phrase, error) {
	const op = "nlp: noun phrases"

	body, err := json.Marshal(chunksRequest{Text: text})
	if err != nil {
		return nil, faults.Wrap(faults.Internal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chunks", bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(faults.Internal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Wrap(faults.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, faults.Newf(faults.Network, op, "sidecar returned HTTP %d", resp.StatusCode)
	}

	var result chunksResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, faults.Wrap(faults.Internal, op, fmt.Errorf("decode response: %w", err))
	}
	return result.Chunks, nil
}

// Ping implements nlp.Provider by probing the sidecar's /health endpoint.
func (p *Provider) Ping(ctx context.Context) error {
	const op = "nlp: ping"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return faults.Wrap(faults.Internal, op, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return faults.Wrap(faults.Network, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return faults.Newf(faults.Network, op, "sidecar returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// EngineID implements nlp.Provider.
func (p *Provider) EngineID() string {
	return "spacy:" + p.model
}
