// Package llm defines the Provider interface for Large Language Model backends.
//
// The system uses an LLM in exactly one place: verifying speculative
// vocabulary substitutions during transcript correction. That keeps this
// port deliberately narrow — a single blocking completion call, no
// streaming, no tool calling.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness. Correction verification
	// wants determinism; callers pass 0 for greedy decoding.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider
	// default.
	MaxTokens int
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and returns the full text of the
	// reply. Returns an error if the request fails or ctx is cancelled
	// before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// ModelID returns the backing model identifier (e.g., "gpt-4o-mini",
	// "llama3.1:8b"). Used for logging and correction provenance.
	ModelID() string
}
