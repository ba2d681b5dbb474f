package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docuscene/pkg/config"
	"docuscene/pkg/db"
	"docuscene/pkg/db/maintenance"
	"docuscene/pkg/embedding"
	"docuscene/pkg/extract"
	"docuscene/pkg/library"
	"docuscene/pkg/llm"
	"docuscene/pkg/llm/factory"
	"docuscene/pkg/llm/prompts"
	"docuscene/pkg/logging"
	"docuscene/pkg/pipeline"
	"docuscene/pkg/planner"
	"docuscene/pkg/probe"
	"docuscene/pkg/refiner"
	"docuscene/pkg/request"
	"docuscene/pkg/resolver"
	"docuscene/pkg/scheduler"
	"docuscene/pkg/source"
	"docuscene/pkg/source/pexels"
	"docuscene/pkg/source/pixabay"
	"docuscene/pkg/store"
	"docuscene/pkg/tracker"
	"docuscene/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	tracker  *tracker.Tracker
	llm      llm.Provider // nil when no provider is usable
	embedder embedding.Provider
	sources  []source.Source

	extractor *extract.Extractor
	planner   *planner.Planner
	library   *library.Library
	scenes    *scheduler.Scheduler
	pipeline  *pipeline.Pipeline

	closeLogs func()
}

// bootstrap loads config and wires every component. Probes run only when
// checks is set.
func bootstrap(ctx context.Context, configPath string, checks bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	closeLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("docuscene started", "version", version.Version, "config", configPath)

	a := &app{cfg: cfg, closeLogs: closeLogs, tracker: tracker.New()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if checks {
		if err := probe.AnalyzeResults(probe.Run(ctx, a.probes())); err != nil {
			a.Close()
			return nil, fmt.Errorf("startup checks failed: %w", err)
		}
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.store = store.NewSQLiteStore(dbConn)

	if _, err := maintenance.Run(ctx, a.store, dbConn, cfg.Sources.DownloadDir, time.Duration(cfg.DB.CacheTTL)); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	rc := request.New(a.store, a.tracker, request.ClientConfig{Logger: logging.RequestLogger})

	prov, err := factory.New(cfg.LLM, cfg.Log.LLM.Path, rc, a.tracker)
	switch {
	case errors.Is(err, factory.ErrNoProviders):
		slog.Warn("No LLM provider available, scenes will be planned heuristically")
	case err != nil:
		return fmt.Errorf("failed to initialize llm: %w", err)
	default:
		a.llm = prov
	}

	pm, err := prompts.NewManager(cfg.Planner.PromptDir)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	var gen planner.Generator
	if a.llm != nil {
		gen = a.llm
	}
	a.planner = planner.New(gen, pm, cfg.Planner)

	a.embedder, err = newEmbedder(cfg.Embedding, a.tracker, a.store)
	if err != nil {
		return err
	}

	patterns, err := refiner.LoadPatterns(ctx, cfg.Refiner.PatternsPath, a.embedder)
	if err != nil {
		return fmt.Errorf("failed to load visual patterns: %w", err)
	}

	a.library, err = library.Open(ctx, a.store, a.embedder, cfg.Library.ReuseThreshold)
	if err != nil {
		return fmt.Errorf("failed to open asset library: %w", err)
	}

	primary := pexels.NewClient(cfg.Sources.Pexels, rc)
	secondary := pixabay.NewClient(cfg.Sources.Pixabay, rc)
	a.sources = []source.Source{primary, secondary}

	a.extractor = extract.New(cfg.Pipeline.MaxFileSizeMB)
	a.scenes = scheduler.New(scheduler.ConfigFrom(cfg.Scheduler))
	a.pipeline = pipeline.New(pipeline.Deps{
		Extractor: a.extractor,
		Planner:   a.planner,
		Refiner:   refiner.New(patterns, a.embedder, cfg.Refiner.TopK),
		Resolver:  resolver.New(a.library, primary, secondary, source.NewHTTPDownloader(rc), cfg.Sources.DownloadDir),
		Scheduler: a.scenes,
		Runs:      a.store,
	}, cfg.Pipeline)
	return nil
}

func newEmbedder(cfg config.EmbeddingConfig, t *tracker.Tracker, st *store.SQLiteStore) (embedding.Provider, error) {
	var p embedding.Provider
	switch cfg.Provider {
	case "openai":
		op, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.Key,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.Timeout),
		}, t)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
		}
		p = op
	default:
		p = embedding.NewHashProvider()
	}
	if cfg.Cache {
		p = embedding.NewCachedProvider(p, st)
	}
	return p, nil
}

func (a *app) probes() []probe.Probe {
	probes := []probe.Probe{
		{
			Name:     "Download Directory",
			Check:    probe.DirWritable(a.cfg.Sources.DownloadDir),
			Critical: true,
		},
		{
			Name:     "Output Directory",
			Check:    probe.DirWritable(a.cfg.Pipeline.OutputDir),
			Critical: true,
		},
		{
			Name: "Embeddings",
			Check: func(ctx context.Context) error {
				_, err := a.embedder.Embed(ctx, "startup probe")
				return err
			},
			Critical: true,
		},
		{
			Name:  "Pexels Credentials",
			Check: probe.Credential("pexels", a.cfg.Sources.Pexels.Key),
		},
		{
			Name:  "Pixabay Credentials",
			Check: probe.Credential("pixabay", a.cfg.Sources.Pixabay.Key),
		},
	}
	if a.llm != nil {
		probes = append(probes, probe.Probe{Name: "LLM Providers", Check: a.llm.HealthCheck})
	}
	return probes
}

// Close drains the scene scheduler, flushes the library and closes the
// database and log files.
func (a *app) Close() {
	if a.scenes != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.scenes.Shutdown(ctx); err != nil {
			slog.Warn("Scene scheduler did not drain", "error", err)
		}
		cancel()
	}
	if a.library != nil {
		if err := a.library.Persist(context.Background()); err != nil {
			slog.Error("Failed to persist asset library", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}
	if a.closeLogs != nil {
		a.closeLogs()
	}
}
