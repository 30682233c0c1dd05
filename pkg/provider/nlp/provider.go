// Package nlp defines the Provider interface for linguistic analysis
// backends.
//
// An nlp provider wraps a part-of-speech tagger that can segment free text
// into noun phrases (e.g., a spaCy sidecar service). Topic extraction uses
// the phrases as tag candidates; nothing else in the system depends on
// linguistic analysis, which keeps this port to a single operation plus
// health and identity.
//
// Implementations must be safe for concurrent use.
package nlp

import "context"

// Phrase is one noun phrase located in the analysed text.
type Phrase struct {
	// Text is the phrase exactly as it appears in the input.
	Text string `json:"text"`

	// Lemma is the lemmatised, lower-cased form used for canonical
	// grouping (e.g., "training plans" → "training plan").
	Lemma string `json:"lemma"`

	// StartChar and EndChar delimit the phrase in the input text as rune
	// offsets, half-open [StartChar, EndChar).
	StartChar int `json:"start_char"`
	EndChar   int `json:"end_char"`
}

// Provider is the abstraction over any noun-phrase extraction backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// NounPhrases returns every noun phrase in text, in document order.
	// The input may span an entire transcript; implementations chunk it
	// internally when the backend has length limits.
	NounPhrases(ctx context.Context, text string) ([]Phrase, error)

	// Ping verifies the backend is reachable and its language model is
	// loaded. Used by readiness checks before a job starts extracting.
	Ping(ctx context.Context) error

	// EngineID identifies the backend and model (e.g.,
	// "spacy:en_core_web_sm"). Recorded on topic artifacts for
	// provenance.
	EngineID() string
}
