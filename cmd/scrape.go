package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saline-motors/truckwatch/internal/adapter"
	"github.com/saline-motors/truckwatch/internal/cache"
	"github.com/saline-motors/truckwatch/internal/dedup"
	"github.com/saline-motors/truckwatch/internal/runner"
)

var (
	scrapeSources []string
	scrapeDryRun  bool
	scrapeDetails bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch listings from all sources and merge into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("scrape"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		registry, cleanup, err := buildRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		adapters, err := registry.Select(scrapeSources)
		if err != nil {
			return err
		}

		r := runner.New(st, dedup.NewEngine(st), adapters)
		stats, err := r.Run(ctx, runner.Options{DryRun: scrapeDryRun})
		if err != nil {
			return eris.Wrap(err, "scrape run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

// buildRegistry wires the configured source adapters. The returned cleanup
// closes the redis page cache when one is configured.
func buildRegistry() (*adapter.Registry, func(), error) {
	var pages *cache.PageCache
	cleanup := func() {}

	if cfg.Cache.RedisURL != "" {
		c, err := cache.New(cfg.Cache.RedisURL, time.Duration(cfg.Cache.TTLHours)*time.Hour)
		if err != nil {
			zap.L().Warn("page cache unavailable, fetching uncached", zap.Error(err))
		} else {
			pages = c
			cleanup = func() { _ = c.Close() }
		}
	}

	plan := adapter.DefaultPlan()
	if cfg.Scrape.PlanPath != "" {
		loaded, err := adapter.LoadPlan(cfg.Scrape.PlanPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		plan = loaded
	}
	if scrapeDetails {
		plan.FetchDetails = true
	} else if cfg.Scrape.FetchDetails {
		plan.FetchDetails = true
	}

	client := adapter.NewClient(adapter.ClientOptions{
		UserAgent:         cfg.Scrape.UserAgent,
		Timeout:           time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Scrape.Retries,
		RequestsPerSecond: cfg.Scrape.RatePerSec,
		Burst:             cfg.Scrape.Burst,
		Pages:             pages,
	})

	registry := adapter.NewRegistry()
	registry.Register(adapter.NewCraigslist(client, plan))
	registry.Register(adapter.NewFacebook(cfg.Scrape.SnapshotDir))

	return registry, cleanup, nil
}

func init() {
	scrapeCmd.Flags().StringSliceVar(&scrapeSources, "source", nil, "sources to scrape (default all)")
	scrapeCmd.Flags().BoolVar(&scrapeDryRun, "dry-run", false, "fetch and normalize without writing")
	scrapeCmd.Flags().BoolVar(&scrapeDetails, "details", false, "fetch each craigslist posting page for attributes")
	rootCmd.AddCommand(scrapeCmd)
}
