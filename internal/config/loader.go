package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"source":      {"ytdlp"},
	"transcriber": {"whisper", "whisper-native"},
	"embeddings":  {"openai", "ollama"},
	"nlp":         {"spacy"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Environment overrides are NOT applied, which keeps
// the result deterministic for tests constructing configs from string
// literals; use [Load] or [ApplyEnvOverrides] for the full production path.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode strictly parses YAML from r. Unknown fields are an error so typos
// in config files fail loudly instead of being silently ignored.
func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays the deployment environment onto cfg. The
// recognised variables are API_HOST, API_PORT, OPS_PORT, ACCOUNTS_DIR,
// DATA_DIR, CONFIG_DIR, EMBEDDINGS_API_KEY, LLM_API_KEY, POSTGRES_DSN,
// REDIS_PASSWORD, and DISCORD_WEBHOOK_URL. Unset variables leave the
// corresponding field untouched.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: API_PORT %q is not a number: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("OPS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: OPS_PORT %q is not a number: %w", v, err)
		}
		cfg.Server.OpsPort = port
	}
	if v := os.Getenv("ACCOUNTS_DIR"); v != "" {
		cfg.Storage.AccountsDir = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CONFIG_DIR"); v != "" {
		cfg.Storage.ConfigDir = v
	}
	if v := os.Getenv("EMBEDDINGS_API_KEY"); v != "" {
		cfg.Providers.Embeddings.APIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Providers.LLM.APIKey = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Search.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notifier.WebhookURL = v
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.Port != 0 && (cfg.Server.Port < 1 || cfg.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.OpsPort != 0 && (cfg.Server.OpsPort < 1 || cfg.Server.OpsPort > 65535) {
		errs = append(errs, fmt.Errorf("server.ops_port %d is out of range [1, 65535]", cfg.Server.OpsPort))
	}
	if cfg.Server.Port != 0 && cfg.Server.Port == cfg.Server.OpsPort {
		errs = append(errs, fmt.Errorf("server.ops_port %d must differ from server.port", cfg.Server.OpsPort))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("source", cfg.Providers.Source.Name)
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("nlp", cfg.Providers.NLP.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	// Provider availability warnings
	if cfg.Providers.Source.Name == "" {
		slog.Warn("no source provider configured; ingestion jobs will not be able to fetch videos")
	}
	if cfg.Providers.Transcriber.Name == "" {
		slog.Warn("no transcriber provider configured; ingestion jobs will not be able to transcribe audio")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; topic extraction and semantic search will be unavailable")
	}
	if cfg.Providers.NLP.Name == "" {
		slog.Warn("no nlp provider configured; topic extraction will be unavailable")
	}

	// Pipeline
	if cfg.Pipeline.MMRLambda < 0 || cfg.Pipeline.MMRLambda > 1 {
		errs = append(errs, fmt.Errorf("pipeline.mmr_lambda %.2f is out of range [0, 1]", cfg.Pipeline.MMRLambda))
	}
	if cfg.Pipeline.SimilarityThreshold < 0 || cfg.Pipeline.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.similarity_threshold %.2f is out of range [0, 1]", cfg.Pipeline.SimilarityThreshold))
	}
	if cfg.Pipeline.TopK < 0 {
		errs = append(errs, fmt.Errorf("pipeline.top_k %d must not be negative", cfg.Pipeline.TopK))
	}
	if cfg.Pipeline.MaxUmbrellas < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_umbrellas %d must not be negative", cfg.Pipeline.MaxUmbrellas))
	}
	if cfg.Pipeline.MinClusterSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_cluster_size %d must not be negative", cfg.Pipeline.MinClusterSize))
	}
	if cfg.Pipeline.MaxConcurrentJobs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrent_jobs %d must not be negative", cfg.Pipeline.MaxConcurrentJobs))
	}
	if cfg.Pipeline.VideoWorkers < 0 {
		errs = append(errs, fmt.Errorf("pipeline.video_workers %d must not be negative", cfg.Pipeline.VideoWorkers))
	}
	if cfg.Pipeline.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry.max_attempts %d must not be negative", cfg.Pipeline.Retry.MaxAttempts))
	}
	if cfg.Pipeline.Correction.ConfidenceThreshold < 0 || cfg.Pipeline.Correction.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.correction.confidence_threshold %.2f is out of range [0, 1]", cfg.Pipeline.Correction.ConfidenceThreshold))
	}
	if cfg.Pipeline.Correction.Enabled && cfg.Providers.LLM.Name == "" {
		slog.Warn("transcript correction is enabled without an LLM provider; speculative substitutions will not be verified")
	}

	// Search
	if cfg.Search.Backend != "" && !cfg.Search.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("search.backend %q is invalid; valid values: flat, postgres", cfg.Search.Backend))
	}
	if cfg.Search.Backend == IndexPostgres && cfg.Search.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("search.postgres_dsn is required when search.backend is postgres"))
	}
	if cfg.Search.Backend == IndexPostgres && cfg.Search.EmbeddingDimensions <= 0 {
		slog.Warn("search.backend is postgres but search.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Search.MinScore < 0 || cfg.Search.MinScore > 1 {
		errs = append(errs, fmt.Errorf("search.min_score %.2f is out of range [0, 1]", cfg.Search.MinScore))
	}
	if cfg.Search.HighlightThreshold < 0 || cfg.Search.HighlightThreshold > 1 {
		errs = append(errs, fmt.Errorf("search.highlight_threshold %.2f is out of range [0, 1]", cfg.Search.HighlightThreshold))
	}

	// Cache
	if cfg.Cache.Backend != "" && !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, redis", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == CacheRedis && cfg.Cache.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("cache.redis_addr is required when cache.backend is redis"))
	}

	// Notifier
	if cfg.Notifier.Backend != "" && !cfg.Notifier.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("notifier.backend %q is invalid; valid values: log, discord", cfg.Notifier.Backend))
	}
	if cfg.Notifier.Backend == NotifyDiscord && cfg.Notifier.WebhookURL == "" {
		errs = append(errs, fmt.Errorf("notifier.webhook_url is required when notifier.backend is discord"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
