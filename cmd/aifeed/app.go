package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"ai_feed/internal/ai"
	"ai_feed/internal/config"
	"ai_feed/internal/fetcher"
	"ai_feed/internal/ingest"
	"ai_feed/internal/pipeline"
	"ai_feed/internal/scheduler"
	"ai_feed/internal/storage"
	"ai_feed/internal/taxonomy"
)

const providerCallTimeout = 60 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	store        *storage.SQLite
	orchestrator *ai.Orchestrator
	scheduler    *scheduler.Scheduler
}

func openApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	if err := ensureParentDir(cfg.DatabasePath); err != nil {
		return nil, err
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	if err := seed(ctx, store, cfg, log); err != nil {
		_ = store.Close()
		return nil, err
	}

	orch := ai.NewOrchestrator(store, ai.DefaultRegistry(&http.Client{Timeout: providerCallTimeout}), log,
		ai.WithMaxRetries(cfg.Categorization.MaxRetries))
	categorizer := pipeline.New(store, orch, taxonomy.New(store), log, cfg.Categorization.BatchSize)
	ingester := ingest.NewIngester(store, fetcher.New(&http.Client{}), log)

	sched := scheduler.New(store, ingester, categorizer, log, scheduler.Options{
		Interval:   cfg.Scheduler.Interval,
		Cooldown:   cfg.Scheduler.ErrorCooldown,
		Workers:    cfg.Scheduler.Workers,
		StaleAfter: cfg.Scheduler.StaleProcessingAfter,
	})

	return &app{
		cfg:          cfg,
		log:          log,
		store:        store,
		orchestrator: orch,
		scheduler:    sched,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// seed upserts the sources and providers declared in the configuration.
func seed(ctx context.Context, store storage.Storage, cfg *config.Config, log *slog.Logger) error {
	for _, s := range cfg.Sources {
		src := s.Source()
		if err := store.UpsertSource(ctx, &src); err != nil {
			return fmt.Errorf("seed source %s: %w", s.URL, err)
		}
		log.Debug("seeded source", "source_id", src.ID, "url", src.URL)
	}
	for _, p := range cfg.Providers {
		prov := p.Provider()
		if err := store.UpsertProvider(ctx, &prov); err != nil {
			return fmt.Errorf("seed provider %s: %w", p.Name, err)
		}
		log.Debug("seeded provider", "provider_id", prov.ID, "name", prov.Name)
	}
	return nil
}

func ensureParentDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
