package main

import (
	"context"
	"fmt"

	"github.com/devpulse/devpulse-go/internal/collector"
	"github.com/devpulse/devpulse-go/internal/engine"
	"github.com/devpulse/devpulse-go/internal/gitlab"
	"github.com/devpulse/devpulse-go/internal/rules"
	"github.com/devpulse/devpulse-go/internal/storage"
)

// buildStore opens the configured storage backend.
func buildStore(ctx context.Context) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		store, err := storage.NewPostgresStore(cfg.Storage.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		return storage.NewSQLiteStore(cfg.Storage.LocalPath, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// buildEngine wires client, collector, rules, and storage into an engine.
func buildEngine(ctx context.Context) (*engine.Engine, storage.Store, error) {
	store, err := buildStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	rs := rules.Default()
	if cfg.RulesPath != "" {
		rs, err = rules.Load(cfg.RulesPath)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("load rules: %w", err)
		}
	}

	client := gitlab.NewClient(cfg.GitLab.BaseURL, cfg.GitLab.Token, cfg.GitLab.RateLimit, logger)

	retry := collector.DefaultRetryPolicy()
	if cfg.Collector.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Collector.MaxAttempts
	}
	coll := collector.New(client, store, retry, cfg.Collector.Overlap, logger)

	eng := engine.New(coll, store, rs, engine.Options{
		Group:      cfg.GitLab.Group,
		WindowDays: cfg.Collector.WindowDays,
		Workers:    cfg.Collector.Workers,
	}, logger)
	return eng, store, nil
}

func printSummary(summary engine.RunSummary) {
	fmt.Printf("run %s (%s) finished in %s\n",
		summary.RunID, summary.Mode, summary.FinishedAt.Sub(summary.StartedAt).Round(1e6))
	fmt.Printf("coverage: %.1f%%\n", summary.CoveragePct)
	for _, st := range summary.Projects {
		if st.Error != "" {
			fmt.Printf("  %-40s FAILED: %s\n", st.Path, st.Error)
			continue
		}
		total := 0
		for _, n := range st.Collected {
			total += n
		}
		fmt.Printf("  %-40s %d entities, %d null facts, %d excluded, %d rate-limit hits\n",
			st.Path, total, st.NullFacts, st.ExcludedFacts, st.RateLimitHits)
	}
}
