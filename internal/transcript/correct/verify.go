package correct

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/llm"
)

const defaultTemperature = 0.1

// reviewPromptTemplate is the system prompt for the LLM review stage. The
// vocabulary list is appended per request.
const reviewPromptTemplate = `You are a transcript correction assistant for short-form video transcripts.

Your task: fix vocabulary term misspellings in the provided transcript text.

Rules:
- ONLY correct words that appear to be misheard versions of the known vocabulary terms listed below.
- Do NOT change ordinary words, grammar, punctuation, or sentence structure.
- Be conservative — if you are not confident a word is a misheard vocabulary term, leave it unchanged.
- Preserve the capitalisation style of the surrounding text where possible.
- Corrected terms must match the spelling from the vocabulary list exactly.

Known vocabulary:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original phrase>", "corrected": "<corrected phrase>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// reviewResponse is the JSON shape the model is instructed to return.
type reviewResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// VerifierOption configures a [Verifier].
type VerifierOption func(*Verifier)

// WithTemperature sets the sampling temperature. Lower is more
// deterministic. Default: 0.1.
func WithTemperature(t float64) VerifierOption {
	return func(v *Verifier) { v.temperature = t }
}

// Verifier is the LLM review stage. It submits the transcript with the
// vocabulary as context, parses the model's declared substitutions, and
// reverts any token-level change the model made without declaring it. Safe
// for concurrent use.
type Verifier struct {
	llm         llm.Provider
	temperature float64
}

// NewVerifier returns a Verifier backed by provider.
func NewVerifier(provider llm.Provider, opts ...VerifierOption) *Verifier {
	v := &Verifier{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Review asks the model to correct text against vocab.
//
// An unparseable reply degrades to the input text with no corrections and a
// nil error — the pipeline must not fail because a model rambled. Transport
// and context errors surface as Network faults. Every change the model made
// but did not declare in its corrections list is reverted before the result
// is returned.
func (v *Verifier) Review(ctx context.Context, text string, vocab []string) (string, []Correction, error) {
	if len(vocab) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	req := llm.CompletionRequest{
		Temperature: v.temperature,
		Messages: []llm.Message{
			{Role: "system", Content: buildReviewPrompt(vocab)},
			{Role: "user", Content: text},
		},
	}

	reply, err := v.llm.Complete(ctx, req)
	if err != nil {
		return text, nil, faults.Wrap(faults.Network, "correct: llm review", err)
	}

	corrected, corrections, err := parseReview(reply, text)
	if err != nil {
		// Model ignored the protocol; keep the input.
		return text, nil, nil
	}

	confirmedText, confirmed := confirmChanges(text, corrected, corrections)
	return confirmedText, confirmed, nil
}

// buildReviewPrompt renders the system prompt with the vocabulary list.
func buildReviewPrompt(vocab []string) string {
	var sb strings.Builder
	for _, t := range vocab {
		sb.WriteString("- ")
		sb.WriteString(t)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(reviewPromptTemplate, sb.String())
}

// parseReview unmarshals the model reply, tolerating markdown fences.
// No-op declarations (empty original, original == corrected) are dropped.
func parseReview(content, originalText string) (string, []Correction, error) {
	cleaned := stripFences(content)

	var r reviewResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("correct: parse review: %w", err)
	}
	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == "" || c.Original == c.Corrected {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
			Method:     "llm",
		})
	}
	return r.CorrectedText, corrections, nil
}

// stripFences removes markdown code fences (```json ... ```) some models
// wrap JSON output in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
