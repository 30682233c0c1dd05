// Package app wires all ReelSonar subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the API and ops listeners until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithVectorIndex, WithNotifier, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/reelsonar/internal/accountindex"
	"github.com/MrWong99/reelsonar/internal/api"
	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/internal/health"
	"github.com/MrWong99/reelsonar/internal/ingest"
	"github.com/MrWong99/reelsonar/internal/jobs"
	"github.com/MrWong99/reelsonar/internal/library"
	"github.com/MrWong99/reelsonar/internal/mcptools"
	"github.com/MrWong99/reelsonar/internal/notify"
	"github.com/MrWong99/reelsonar/internal/observe"
	"github.com/MrWong99/reelsonar/internal/resilience"
	"github.com/MrWong99/reelsonar/internal/search"
	"github.com/MrWong99/reelsonar/internal/topics"
	"github.com/MrWong99/reelsonar/internal/transcript"
	"github.com/MrWong99/reelsonar/internal/transcript/correct"
	"github.com/MrWong99/reelsonar/internal/umbrella"
	"github.com/MrWong99/reelsonar/internal/vecindex"
	"github.com/MrWong99/reelsonar/internal/vecindex/postgres"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/embeddings"
	"github.com/MrWong99/reelsonar/pkg/provider/llm"
	"github.com/MrWong99/reelsonar/pkg/provider/nlp"
	"github.com/MrWong99/reelsonar/pkg/provider/source"
	"github.com/MrWong99/reelsonar/pkg/provider/transcriber"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// Version is the build version reported in telemetry and the MCP server
// implementation block. Overridden at link time.
var Version = "dev"

// notifyTimeout bounds one job-completion notification delivery.
const notifyTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Source,
// Transcriber, and Embeddings are required; NLP is required for topic
// extraction; LLM is optional and only used by the transcript corrector.
// Populated by main.go via the config registry.
type Providers struct {
	Source      source.Provider
	Transcriber transcriber.Provider
	Embeddings  embeddings.Provider
	NLP         nlp.Provider
	LLM         llm.Provider
}

// App owns all subsystem lifetimes and serves the ReelSonar API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	accounts    *accountindex.Store
	transcripts *transcript.Store
	topicStore  *topics.Store
	index       vecindex.Index
	cache       search.Cache
	engine      *search.Engine
	rules       *config.RulesWatcher
	pipeline    *ingest.Pipeline
	manager     *jobs.Manager
	lib         *library.Service
	notifier    notify.Notifier
	metrics     *observe.Metrics

	apiServer *http.Server
	opsServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVectorIndex injects a vector index instead of creating one from config.
func WithVectorIndex(idx vecindex.Index) Option {
	return func(a *App) { a.index = idx }
}

// WithCache injects a sentence-embedding cache instead of creating one from
// config.
func WithCache(c search.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithNotifier injects a job-completion notifier instead of creating one
// from config.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics injects a metrics set instead of using the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store creation, vector
// index opening, crash recovery of interrupted job snapshots, rule-file
// loading, and route registration. Run only opens listeners.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Artifact stores ───────────────────────────────────────────────
	a.accounts = accountindex.NewStore(cfg.Storage.AccountsDir)
	a.transcripts = transcript.NewStore(cfg.Storage.AccountsDir)
	a.topicStore = topics.NewStore(cfg.Storage.AccountsDir)

	// ── 2. Vector index ──────────────────────────────────────────────────
	if err := a.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init vector index: %w", err)
	}

	// ── 3. Search engine ─────────────────────────────────────────────────
	if err := a.initSearch(ctx); err != nil {
		return nil, fmt.Errorf("app: init search: %w", err)
	}

	// ── 4. Topic rules ───────────────────────────────────────────────────
	if err := a.initRules(); err != nil {
		return nil, fmt.Errorf("app: init rules: %w", err)
	}

	// ── 5. Ingestion pipeline ────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 6. Notifier + job manager ────────────────────────────────────────
	if err := a.initJobs(); err != nil {
		return nil, fmt.Errorf("app: init jobs: %w", err)
	}

	// ── 7. Library + HTTP surfaces ───────────────────────────────────────
	a.lib = library.NewService(a.accounts, a.topicStore, a.index)
	a.initServers()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initIndex opens the configured vector index backend unless one was
// injected.
func (a *App) initIndex(ctx context.Context) error {
	if a.index != nil {
		return nil
	}

	switch a.cfg.Search.Backend {
	case config.IndexFlat:
		idx, err := vecindex.NewFlat(a.cfg.Storage.DataDir, a.cfg.Search.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.index = idx
		a.closers = append(a.closers, idx.Close)

	case config.IndexPostgres:
		store, err := postgres.NewStore(ctx, a.cfg.Search.PostgresDSN, a.cfg.Search.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.index = store
		a.closers = append(a.closers, store.Close)

	default:
		return fmt.Errorf("unknown index backend %q", a.cfg.Search.Backend)
	}

	slog.Info("vector index ready", "backend", a.cfg.Search.Backend)
	return nil
}

// initSearch builds the embedding cache and the search engine on top of the
// index.
func (a *App) initSearch(ctx context.Context) error {
	if a.providers.Embeddings == nil {
		return fmt.Errorf("embeddings provider is required")
	}

	if a.cache == nil {
		switch a.cfg.Cache.Backend {
		case config.CacheMemory:
			a.cache = search.NewMemoryCache(a.cfg.Cache.MaxEntries)

		case config.CacheRedis:
			c, err := search.NewRedisCache(ctx, a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
			if err != nil {
				return err
			}
			a.cache = c

		default:
			return fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
		}
	}

	a.engine = search.NewEngine(
		a.index,
		a.providers.Embeddings,
		a.transcripts,
		a.topicStore,
		search.WithMinScore(a.cfg.Search.MinScore),
		search.WithHighlightThreshold(a.cfg.Search.HighlightThreshold),
		search.WithCache(a.cache),
		search.WithMetrics(a.metrics),
	)
	return nil
}

// initRules starts the hot-reloading rule-file watcher.
func (a *App) initRules() error {
	watcher, err := config.NewRulesWatcher(a.cfg.Storage.ConfigDir, func(old, new *config.Rules) {
		slog.Info("topic rules reloaded", "dir", a.cfg.Storage.ConfigDir)
	})
	if err != nil {
		return err
	}
	a.rules = watcher
	a.closers = append(a.closers, func() error {
		watcher.Stop()
		return nil
	})
	return nil
}

// initPipeline assembles the per-creator ingestion pipeline: topic
// extraction, classification, umbrella clustering, optional transcript
// correction, the retry policy, and the source circuit breaker.
func (a *App) initPipeline() error {
	if a.providers.Source == nil {
		return fmt.Errorf("source provider is required")
	}
	if a.providers.Transcriber == nil {
		return fmt.Errorf("transcriber provider is required")
	}
	if a.providers.NLP == nil {
		return fmt.Errorf("nlp provider is required")
	}

	pc := a.cfg.Pipeline

	umbrellaOpts := []umbrella.Option{
		umbrella.WithThreshold(pc.SimilarityThreshold),
		umbrella.WithMaxUmbrellas(pc.MaxUmbrellas),
		umbrella.WithMinClusterSize(pc.MinClusterSize),
	}
	if pc.UseComponentsClusterer {
		umbrellaOpts = append(umbrellaOpts, umbrella.WithMethod(umbrella.MethodComponents))
	}

	var corrector *correct.Corrector
	if pc.Correction.Enabled {
		correctOpts := []correct.Option{
			correct.WithMatcher(correct.NewMatcher()),
			correct.WithTrigger(pc.Correction.ConfidenceThreshold),
		}
		if a.providers.LLM != nil {
			correctOpts = append(correctOpts, correct.WithVerifier(correct.NewVerifier(a.providers.LLM)))
		}
		corrector = correct.New(correctOpts...)
		slog.Info("transcript correction enabled", "llm_verify", a.providers.LLM != nil)
	}

	a.pipeline = ingest.NewPipeline(ingest.PipelineConfig{
		Source:      a.providers.Source,
		Transcriber: a.providers.Transcriber,
		Embed:       a.providers.Embeddings,

		Accounts:    a.accounts,
		Transcripts: a.transcripts,
		Topics:      a.topicStore,

		Extractor: topics.NewExtractor(
			a.providers.NLP,
			a.providers.Embeddings,
			topics.WithTopK(pc.TopK),
			topics.WithLambda(pc.MMRLambda),
		),
		Classifier: topics.NewClassifier(a.providers.Embeddings),
		Umbrellas:  umbrella.NewBuilder(umbrellaOpts...),
		Search:     a.engine,

		Corrector: corrector,
		Rules:     a.rules.Current,

		Retry: resilience.NewPolicy(
			pc.Retry.MaxAttempts,
			time.Duration(pc.Retry.BaseDelay),
			time.Duration(pc.Retry.MaxDelay),
		),
		Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "source",
		}),

		MinSpeechChars: pc.MinSpeechChars,
		VideoWorkers:   pc.VideoWorkers,
		WorkDir:        filepath.Join(a.cfg.Storage.DataDir, "downloads"),
		Metrics:        a.metrics,
	})
	return nil
}

// initJobs selects the notifier backend and creates the job manager,
// recovering any snapshots interrupted by a previous crash.
func (a *App) initJobs() error {
	if a.notifier == nil {
		switch a.cfg.Notifier.Backend {
		case config.NotifyLog:
			a.notifier = &notify.LogNotifier{}

		case config.NotifyDiscord:
			n, err := notify.NewDiscordNotifier(a.cfg.Notifier.WebhookURL)
			if err != nil {
				return err
			}
			a.notifier = n

		default:
			return fmt.Errorf("unknown notifier backend %q", a.cfg.Notifier.Backend)
		}
	}

	manager, err := jobs.NewManager(
		a.pipeline,
		filepath.Join(a.cfg.Storage.DataDir, "jobs"),
		jobs.WithMaxConcurrentJobs(int(a.cfg.Pipeline.MaxConcurrentJobs)),
		jobs.WithNotifier(func(snap jobs.Snapshot) {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			a.notifier.JobFinished(ctx, snap)
		}),
		jobs.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.manager = manager
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return manager.Shutdown(ctx)
	})
	return nil
}

// initServers builds the API router and the ops listener (health, metrics,
// and the optional MCP endpoint). Listeners are opened in Run.
func (a *App) initServers() {
	router := api.NewRouter(api.Deps{
		Engine:      a.engine,
		Library:     a.lib,
		Transcripts: a.transcripts,
		Topics:      a.topicStore,
		Jobs:        a.manager,
		Source:      a.providers.Source,
		Rebuild:     a.rebuildIndex,
		Metrics:     a.metrics,
	})
	a.apiServer = &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mux := http.NewServeMux()
	checkers := []health.Checker{
		{
			Name: "vector_index",
			Check: func(ctx context.Context) error {
				_, err := a.index.Size(ctx)
				return err
			},
		},
	}
	if a.providers.NLP != nil {
		checkers = append(checkers, health.Checker{
			Name:  "nlp",
			Check: a.providers.NLP.Ping,
		})
	}
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	if a.cfg.MCP.Enabled {
		mux.Handle("/mcp", mcptools.Handler(mcptools.NewServer(a.engine, a.transcripts, a.lib, Version)))
		slog.Info("MCP endpoint enabled", "path", "/mcp")
	}
	a.opsServer = &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.OpsPort)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// rebuildIndex replaces the vector index from the transcript corpus,
// re-embedding every successful video of every creator.
func (a *App) rebuildIndex(ctx context.Context) error {
	return a.engine.Rebuild(ctx, func(ctx context.Context, emit func(creator, videoID string, art *transcript.Artifact, meta types.VideoMeta) error) error {
		creators, err := a.accounts.Creators()
		if err != nil {
			return err
		}
		for _, creator := range creators {
			idx, err := a.accounts.Load(creator)
			if err != nil {
				if faults.KindOf(err) == faults.NotFound {
					continue
				}
				return err
			}
			for videoID, rec := range idx.ProcessedVideos {
				if !rec.Success {
					continue
				}
				art, err := a.transcripts.Read(creator, videoID)
				if err != nil {
					if faults.KindOf(err) == faults.NotFound {
						slog.Warn("transcript missing during rebuild", "creator", creator, "video", videoID)
						continue
					}
					return err
				}
				meta := types.VideoMeta{
					ID:          videoID,
					Title:       rec.Title,
					URL:         rec.URL,
					DurationSec: rec.DurationSec,
				}
				if err := emit(creator, videoID, art, meta); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the API and ops listeners and blocks until ctx is cancelled or a
// listener fails. On cancellation Run returns ctx.Err(); call Shutdown to
// drain in-flight requests and running jobs.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		slog.Info("api server listening", "addr", a.apiServer.Addr)
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		slog.Info("ops server listening", "addr", a.opsServer.Addr)
		if err := a.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the HTTP servers, then tears down all subsystems in init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting requests first so job state can't change under us.
		if a.apiServer != nil {
			if err := a.apiServer.Shutdown(ctx); err != nil {
				slog.Warn("api server shutdown error", "err", err)
			}
		}
		if a.opsServer != nil {
			if err := a.opsServer.Shutdown(ctx); err != nil {
				slog.Warn("ops server shutdown error", "err", err)
			}
		}

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
