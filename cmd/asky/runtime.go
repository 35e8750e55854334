package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/evrenesat/asky/internal/config"
	"github.com/evrenesat/asky/internal/corpus"
	"github.com/evrenesat/asky/internal/embed"
	"github.com/evrenesat/asky/internal/fetch"
	"github.com/evrenesat/asky/internal/hooks"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/observability"
	"github.com/evrenesat/asky/internal/search"
	"github.com/evrenesat/asky/internal/shortlist"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/summarize"
	"github.com/evrenesat/asky/internal/tools"
	"github.com/evrenesat/asky/internal/turn"
	"github.com/evrenesat/asky/internal/vector"
	"github.com/evrenesat/asky/internal/workers"
)

// runtime wires every collaborator a turn needs. It is built once per
// invocation and torn down in close.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	pool   *workers.Pool
	orch   *turn.Orchestrator

	metrics       *observability.Metrics
	metricsSrv    *http.Server
	cronRunner    *cron.Cron
	traceShutdown func(context.Context) error
}

// loadConfig resolves the config file: the explicit flag, then
// ASKY_CONFIG, then ~/.asky/config.yaml. A missing default file means
// asky runs on built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("ASKY_CONFIG")
	}
	if path != "" {
		return config.Load(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return config.Default(), nil
	}
	candidate := filepath.Join(home, ".asky", "config.yaml")
	if _, err := os.Stat(candidate); err != nil {
		return config.Default(), nil
	}
	return config.Load(candidate)
}

func newRuntime(ctx context.Context, configPath string, verbose bool) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:          level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	st, err := store.Open(cfg.Session.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, store: st}

	providers := buildProviders(cfg, logger)
	if len(providers) == 0 {
		st.Close()
		return nil, fmt.Errorf("no usable LLM provider; set OPENAI_API_KEY or ANTHROPIC_API_KEY, or configure llm.providers")
	}

	embedder := buildEmbedder(cfg, logger)
	var vectorIndex *vector.Index
	if embedder != nil {
		vectorIndex = vector.New(st, embedder, logger)
		vectorIndex.DenseWeight = cfg.Vector.DenseWeight
		vectorIndex.BM25Window = cfg.Vector.BM25Window
	}

	httpFetcher := fetch.NewHTTP(fetch.HTTPConfig{
		Timeout:           cfg.Fetch.Timeout,
		MaxBodyBytes:      cfg.Fetch.MaxBodyBytes,
		UserAgent:         cfg.Fetch.UserAgent,
		AllowPrivateHosts: cfg.Fetch.AllowPrivateHosts,
	}, logger)
	fileFetcher := fetch.NewFile(fetch.FileConfig{
		MaxFileBytes: cfg.Corpus.MaxFileBytes,
	}, logger)

	searchAPIKey := cfg.Search.APIKey
	if searchAPIKey == "" {
		searchAPIKey = os.Getenv("BRAVE_API_KEY")
	}
	searchClient := search.New(search.Config{
		Provider:   search.Provider(cfg.Search.Provider),
		APIKey:     searchAPIKey,
		BaseURL:    cfg.Search.BaseURL,
		MaxResults: cfg.Search.MaxResults,
		Timeout:    cfg.Search.Timeout,
		CacheTTL:   cfg.Search.CacheTTL,
	}, logger)

	corpusMgr := corpus.NewManager(st, fileFetcher, corpus.Config{
		Paths:        cfg.Corpus.Paths,
		ChunkChars:   cfg.Corpus.ChunkChars,
		OverlapChars: cfg.Corpus.OverlapChars,
		TTL:          cfg.Cache.TTL,
		MaxFileBytes: cfg.Corpus.MaxFileBytes,
	}, logger)

	shortlistPipe := shortlist.New(searchClient, httpFetcher, embedder, st, shortlist.Config{
		MaxFetchURLs:      cfg.Shortlist.MaxFetchURLs,
		SelectTopK:        cfg.Shortlist.SelectTopK,
		SameDomainBonus:   cfg.Shortlist.SameDomainBonus,
		SemanticThreshold: cfg.Shortlist.SemanticThreshold,
		SeedLinkExpansion: cfg.Shortlist.SeedLinkExpansion,
		MaxSeedLinks:      cfg.Shortlist.MaxSeedLinks,
		SeedBudgetChars:   cfg.Shortlist.SeedBudgetChars,
		FetchTimeout:      cfg.Fetch.Timeout,
		SearchCount:       cfg.Search.MaxResults,
		CacheTTL:          cfg.Cache.TTL,
	}, logger)

	sumAlias := cfg.Summarize.Model
	if sumAlias == "" {
		sumAlias = cfg.LLM.DefaultModel
	}
	var summarizer *summarize.Summarizer
	var sumProvider llm.Provider
	var sumModelID string
	if mc, ok := cfg.LLM.ModelByAlias(sumAlias); ok {
		sumProvider = providers[mc.Provider]
		sumModelID = mc.ID
		if sumProvider != nil {
			summarizer = summarize.New(sumProvider, summarize.Config{
				Model:                   mc.ID,
				MapReduceThresholdChars: cfg.Summarize.MapReduceThresholdChars,
				ChunkChars:              cfg.Summarize.ChunkChars,
				OverlapChars:            cfg.Summarize.OverlapChars,
				MaxOutputChars:          cfg.Summarize.MaxOutputChars,
			}, logger)
		}
	}

	rt.pool = workers.New(workers.Config{
		Size:      cfg.Workers.PoolSize,
		QueueSize: cfg.Workers.QueueSize,
	}, logger)
	rt.pool.Start()

	if summarizer != nil {
		st.SetSummaryHook(func(cacheID int64, url string) {
			rt.pool.Submit(tools.SummaryTask(st, summarizer, cacheID, url))
		})
	}

	var status func(string)
	if verbose {
		status = func(line string) { fmt.Fprintln(os.Stderr, line) }
	}

	rt.orch = turn.New(cfg, turn.Deps{
		Store:      st,
		Providers:  providers,
		Embedder:   embedder,
		Vector:     vectorIndex,
		Fetcher:    httpFetcher,
		Searcher:   searchClient,
		Corpus:     corpusMgr,
		Shortlist:  shortlistPipe,
		Expander:   turn.NewExpander(cfg.Shortlist.QueryExpansion, sumProvider, sumModelID),
		Summarizer: summarizer,
		Pool:       rt.pool,
		Hooks:      hooks.NewRegistry(logger),
		Logger:     logger,
		Status:     status,
	})

	rt.startObservability(ctx)
	return rt, nil
}

// openStore is the lightweight path for maintenance subcommands that
// only touch the database.
func openStore(configPath string, verbose bool) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Session.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, st, nil
}

// buildProviders constructs one provider per configured entry. Keys fall
// back to the conventional environment variables so a bare install works
// without a config file. Entries that cannot authenticate are skipped.
func buildProviders(cfg *config.Config, logger *slog.Logger) map[string]llm.Provider {
	providers := make(map[string]llm.Provider, len(cfg.LLM.Providers))
	for name, pc := range cfg.LLM.Providers {
		apiKey := pc.APIKey
		switch name {
		case "anthropic":
			if apiKey == "" {
				apiKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey:     apiKey,
				BaseURL:    pc.BaseURL,
				MaxRetries: cfg.LLM.MaxRetries,
				RetryDelay: cfg.LLM.RetryDelay,
			})
			if err != nil {
				logger.Debug("provider unavailable", "provider", name, "error", err)
				continue
			}
			providers[name] = p
		default:
			// Anything else is treated as OpenAI-compatible.
			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:     apiKey,
				BaseURL:    pc.BaseURL,
				MaxRetries: cfg.LLM.MaxRetries,
				RetryDelay: cfg.LLM.RetryDelay,
			})
			if err != nil {
				logger.Debug("provider unavailable", "provider", name, "error", err)
				continue
			}
			providers[name] = p
		}
	}
	return providers
}

// buildEmbedder returns nil when embeddings cannot be configured; every
// consumer degrades to lexical-only behavior in that case.
func buildEmbedder(cfg *config.Config, logger *slog.Logger) embed.Embedder {
	providerName := cfg.Embedding.Provider
	if providerName == "" {
		providerName = cfg.LLM.DefaultProvider
	}
	pc := cfg.LLM.Providers[providerName]
	apiKey := pc.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	embedder, err := embed.NewOpenAI(embed.Config{
		APIKey:     apiKey,
		BaseURL:    pc.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
	}, logger)
	if err != nil {
		logger.Debug("embeddings disabled", "error", err)
		return nil
	}
	return embedder
}

// startObservability brings up the optional metrics endpoint, tracer and
// maintenance schedule.
func (rt *runtime) startObservability(ctx context.Context) {
	if rt.cfg.Metrics.Enabled {
		rt.metrics = observability.NewMetrics()
		rt.metricsSrv = &http.Server{Addr: rt.cfg.Metrics.Addr, Handler: promhttp.Handler()}
		go func() {
			if err := rt.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				rt.logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if rt.cfg.Tracing.Enabled {
		_, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    rt.cfg.Tracing.ServiceName,
			ServiceVersion: version,
			Endpoint:       rt.cfg.Tracing.Endpoint,
			SamplingRate:   rt.cfg.Tracing.SampleRatio,
			EnableInsecure: rt.cfg.Tracing.Insecure,
		})
		rt.traceShutdown = shutdown
	}

	if rt.cfg.Maintenance.Enabled {
		rt.cronRunner = cron.New()
		_, err := rt.cronRunner.AddFunc(rt.cfg.Maintenance.CleanupSchedule, func() {
			n, err := rt.store.CleanupExpired(ctx)
			if err != nil {
				rt.logger.Warn("cache cleanup failed", "error", err)
				return
			}
			if n > 0 {
				rt.logger.Info("cache cleanup", "purged", n)
			}
		})
		if err != nil {
			rt.logger.Warn("invalid cleanup schedule", "schedule", rt.cfg.Maintenance.CleanupSchedule, "error", err)
		} else {
			rt.cronRunner.Start()
		}
	}
}

// recordTurn feeds the turn outcome into Prometheus when metrics are on.
func (rt *runtime) recordTurn(result *turn.TurnResult, err error, elapsed time.Duration) {
	if rt.metrics == nil {
		return
	}
	mode := "standard"
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case result != nil && result.Halted:
		status = "halted"
	}
	if result != nil && result.Research {
		mode = "research"
	}
	rt.metrics.RecordTurn(mode, status, elapsed.Seconds())
}

// close drains background work and releases every held resource.
func (rt *runtime) close() {
	if rt.cronRunner != nil {
		rt.cronRunner.Stop()
	}
	if rt.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Workers.DrainTimeout)
		if err := rt.pool.Shutdown(ctx); err != nil {
			rt.logger.Warn("worker pool drain incomplete", "error", err)
		}
		cancel()
	}
	if rt.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = rt.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if rt.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rt.traceShutdown(ctx); err != nil {
			rt.logger.Warn("tracer shutdown failed", "error", err)
		}
		cancel()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("closing database", "error", err)
		}
	}
}
