package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/reelsonar/pkg/provider/embeddings"
	"github.com/MrWong99/reelsonar/pkg/provider/llm"
	"github.com/MrWong99/reelsonar/pkg/provider/nlp"
	"github.com/MrWong99/reelsonar/pkg/provider/source"
	"github.com/MrWong99/reelsonar/pkg/provider/transcriber"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	source      map[string]func(ProviderEntry) (source.Provider, error)
	transcriber map[string]func(ProviderEntry) (transcriber.Provider, error)
	embeddings  map[string]func(ProviderEntry) (embeddings.Provider, error)
	nlp         map[string]func(ProviderEntry) (nlp.Provider, error)
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		source:      make(map[string]func(ProviderEntry) (source.Provider, error)),
		transcriber: make(map[string]func(ProviderEntry) (transcriber.Provider, error)),
		embeddings:  make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		nlp:         make(map[string]func(ProviderEntry) (nlp.Provider, error)),
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterSource registers a source provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory func(ProviderEntry) (source.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterTranscriber registers a transcriber provider factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (transcriber.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterNLP registers an NLP provider factory under name.
func (r *Registry) RegisterNLP(name string, factory func(ProviderEntry) (nlp.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nlp[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateSource instantiates a source provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSource(entry ProviderEntry) (source.Provider, error) {
	r.mu.RLock()
	factory, ok := r.source[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscriber instantiates a transcriber provider using the factory registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (transcriber.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateNLP instantiates an NLP provider using the factory registered under entry.Name.
func (r *Registry) CreateNLP(entry ProviderEntry) (nlp.Provider, error) {
	r.mu.RLock()
	factory, ok := r.nlp[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: nlp/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
