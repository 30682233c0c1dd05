package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/pkg/provider/embeddings"
	"github.com/MrWong99/reelsonar/pkg/provider/llm"
	"github.com/MrWong99/reelsonar/pkg/provider/nlp"
	"github.com/MrWong99/reelsonar/pkg/provider/source"
	"github.com/MrWong99/reelsonar/pkg/provider/transcriber"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  host: "127.0.0.1"
  port: 8000
  ops_port: 9090
  log_level: info
  log_format: json

storage:
  accounts_dir: /var/lib/reelsonar/accounts
  data_dir: /var/lib/reelsonar/data
  config_dir: /etc/reelsonar

providers:
  source:
    name: ytdlp
    options:
      platform: tiktok
  transcriber:
    name: whisper
    base_url: http://localhost:8080
  embeddings:
    name: openai
    api_key: sk-test
    model: text-embedding-3-small
  nlp:
    name: spacy
    base_url: http://localhost:8090
    model: en_core_web_sm
  llm:
    name: ollama
    model: llama3.1:8b

pipeline:
  mmr_lambda: 0.7
  top_k: 10
  similarity_threshold: 0.7
  max_umbrellas: 5
  min_speech_chars: 50
  retry:
    max_attempts: 3
    base_delay: 1s
    max_delay: 30s
  correction:
    enabled: true
    confidence_threshold: 0.6

search:
  backend: flat
  min_score: 0.15
  highlight_threshold: 0.30

cache:
  backend: memory
  max_entries: 128

notifier:
  backend: log

mcp:
  enabled: true
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server.host: got %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("server.port: got %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("server.log_format: got %q, want %q", cfg.Server.LogFormat, config.LogJSON)
	}
	if cfg.Storage.ConfigDir != "/etc/reelsonar" {
		t.Errorf("storage.config_dir: got %q", cfg.Storage.ConfigDir)
	}
	if cfg.Providers.Source.Name != "ytdlp" {
		t.Errorf("providers.source.name: got %q, want %q", cfg.Providers.Source.Name, "ytdlp")
	}
	if got := cfg.Providers.Source.Options["platform"]; got != "tiktok" {
		t.Errorf("providers.source.options.platform: got %v, want tiktok", got)
	}
	if cfg.Providers.Embeddings.Model != "text-embedding-3-small" {
		t.Errorf("providers.embeddings.model: got %q", cfg.Providers.Embeddings.Model)
	}
	if cfg.Pipeline.MMRLambda != 0.7 {
		t.Errorf("pipeline.mmr_lambda: got %.2f, want 0.7", cfg.Pipeline.MMRLambda)
	}
	if cfg.Pipeline.Retry.BaseDelay.Std() != time.Second {
		t.Errorf("pipeline.retry.base_delay: got %v, want 1s", cfg.Pipeline.Retry.BaseDelay.Std())
	}
	if !cfg.Pipeline.Correction.Enabled {
		t.Error("pipeline.correction.enabled: got false, want true")
	}
	if cfg.Search.Backend != config.IndexFlat {
		t.Errorf("search.backend: got %q, want flat", cfg.Search.Backend)
	}
	if cfg.Cache.MaxEntries != 128 {
		t.Errorf("cache.max_entries: got %d, want 128", cfg.Cache.MaxEntries)
	}
	if !cfg.MCP.Enabled {
		t.Error("mcp.enabled: got false, want true")
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default server.port: got %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.OpsPort != 9090 {
		t.Errorf("default server.ops_port: got %d, want 9090", cfg.Server.OpsPort)
	}
	if cfg.Pipeline.MMRLambda != 0.7 {
		t.Errorf("default pipeline.mmr_lambda: got %.2f, want 0.7", cfg.Pipeline.MMRLambda)
	}
	if cfg.Pipeline.TopK != 10 {
		t.Errorf("default pipeline.top_k: got %d, want 10", cfg.Pipeline.TopK)
	}
	if cfg.Pipeline.MinSpeechChars != 50 {
		t.Errorf("default pipeline.min_speech_chars: got %d, want 50", cfg.Pipeline.MinSpeechChars)
	}
	if cfg.Pipeline.Correction.Enabled {
		t.Error("correction should be disabled by default")
	}
	if cfg.Pipeline.Correction.ConfidenceThreshold != 0.6 {
		t.Errorf("default correction.confidence_threshold: got %.2f, want 0.6", cfg.Pipeline.Correction.ConfidenceThreshold)
	}
	if cfg.Search.Backend != config.IndexFlat {
		t.Errorf("default search.backend: got %q, want flat", cfg.Search.Backend)
	}
	if cfg.Search.MinScore != 0.15 {
		t.Errorf("default search.min_score: got %.2f, want 0.15", cfg.Search.MinScore)
	}
	if cfg.Search.HighlightThreshold != 0.30 {
		t.Errorf("default search.highlight_threshold: got %.2f, want 0.30", cfg.Search.HighlightThreshold)
	}
	if cfg.Cache.Backend != config.CacheMemory {
		t.Errorf("default cache.backend: got %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Notifier.Backend != config.NotifyLog {
		t.Errorf("default notifier.backend: got %q, want log", cfg.Notifier.Backend)
	}
	if cfg.Pipeline.Retry.MaxAttempts != 3 {
		t.Errorf("default retry.max_attempts: got %d, want 3", cfg.Pipeline.Retry.MaxAttempts)
	}
	if cfg.Pipeline.Retry.MaxDelay.Std() != 30*time.Second {
		t.Errorf("default retry.max_delay: got %v, want 30s", cfg.Pipeline.Retry.MaxDelay.Std())
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	yaml := `
pipeline:
  retry:
    base_delay: quickly
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "quickly") {
		t.Errorf("error should mention the bad value, got: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	yaml := `
server:
  log_format: xml
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_format, got nil")
	}
}

func TestValidate_PortOutOfRange(t *testing.T) {
	yaml := `
server:
  port: 70000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range port, got nil")
	}
	if !strings.Contains(err.Error(), "port") {
		t.Errorf("error should mention port, got: %v", err)
	}
}

func TestValidate_OpsPortCollision(t *testing.T) {
	yaml := `
server:
  port: 8000
  ops_port: 8000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for colliding ports, got nil")
	}
}

func TestValidate_MMRLambdaOutOfRange(t *testing.T) {
	yaml := `
pipeline:
  mmr_lambda: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range mmr_lambda, got nil")
	}
	if !strings.Contains(err.Error(), "mmr_lambda") {
		t.Errorf("error should mention mmr_lambda, got: %v", err)
	}
}

func TestValidate_InvalidSearchBackend(t *testing.T) {
	yaml := `
search:
  backend: faiss
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid search backend, got nil")
	}
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	yaml := `
search:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without dsn, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_RedisRequiresAddr(t *testing.T) {
	yaml := `
cache:
  backend: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for redis backend without addr, got nil")
	}
}

func TestValidate_DiscordRequiresWebhook(t *testing.T) {
	yaml := `
notifier:
  backend: discord
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for discord notifier without webhook, got nil")
	}
	if !strings.Contains(err.Error(), "webhook_url") {
		t.Errorf("error should mention webhook_url, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	yaml := `
server:
  log_level: verbose
pipeline:
  mmr_lambda: -0.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "mmr_lambda") {
		t.Errorf("error should mention mmr_lambda, got: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownSource(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSource(config.ProviderEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown source provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownTranscriber(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTranscriber(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownEmbeddings(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownNLP(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateNLP(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

// ── Registry with registered factories ───────────────────────────────────────

func TestRegistry_RegisteredSource(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubSource{}
	reg.RegisterSource("stub", func(e config.ProviderEntry) (source.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateSource(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredTranscriber(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubTranscriber{}
	reg.RegisterTranscriber("stub", func(e config.ProviderEntry) (transcriber.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateTranscriber(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredEmbeddings(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubEmbeddings{}
	reg.RegisterEmbeddings("stub", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryReceivesEntry(t *testing.T) {
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterNLP("stub", func(e config.ProviderEntry) (nlp.Provider, error) {
		gotEntry = e
		return &stubNLP{}, nil
	})
	entry := config.ProviderEntry{Name: "stub", BaseURL: "http://localhost:8090", Model: "en_core_web_sm"}
	if _, err := reg.CreateNLP(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEntry.BaseURL != entry.BaseURL || gotEntry.Model != entry.Model {
		t.Errorf("factory entry: got %+v, want %+v", gotEntry, entry)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

// stubSource implements source.Provider with no-op methods.
type stubSource struct{}

func (s *stubSource) ListVideos(_ context.Context, _ string) ([]types.VideoMeta, error) {
	return nil, nil
}
func (s *stubSource) DownloadAudio(_ context.Context, _ string, _ types.VideoMeta, _ string) (string, error) {
	return "", nil
}
func (s *stubSource) Platform() string { return "stub" }

// stubTranscriber implements transcriber.Provider.
type stubTranscriber struct{}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string, _ types.CapacityTier) (*types.Transcript, error) {
	return &types.Transcript{}, nil
}
func (s *stubTranscriber) ModelID(_ types.CapacityTier) string { return "stub" }

// stubEmbeddings implements embeddings.Provider.
type stubEmbeddings struct{}

func (s *stubEmbeddings) Embed(_ context.Context, _ string) ([]float32, error) { return nil, nil }
func (s *stubEmbeddings) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, nil
}
func (s *stubEmbeddings) Dimensions() int { return 0 }
func (s *stubEmbeddings) ModelID() string { return "stub" }

// stubNLP implements nlp.Provider.
type stubNLP struct{}

func (s *stubNLP) NounPhrases(_ context.Context, _ string) ([]nlp.Phrase, error) { return nil, nil }
func (s *stubNLP) Ping(_ context.Context) error                                  { return nil }
func (s *stubNLP) EngineID() string                                              { return "stub" }

// stubLLM implements llm.Provider.
type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (string, error) {
	return "", nil
}
func (s *stubLLM) ModelID() string { return "stub" }
