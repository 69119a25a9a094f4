package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"match-ingest/internal/app"
	"match-ingest/internal/collector"
	"match-ingest/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", app.DefaultConfigPath(), "Optional YAML config file")
	maxMatches := flag.Int("max-matches", 0, "Override CRAWL_MAX_MATCHES for this run")
	maxNewPlayers := flag.Int("max-new-players", 0, "Override CRAWL_MAX_NEW_PLAYERS for this run")
	seedPlayers := flag.Int("seed-players", 0, "Override LADDER_MAX_PLAYERS for this run")
	loop := flag.Duration("loop", 0, "Keep crawling, pausing this long between runs (0 = run once)")
	reduce := flag.Bool("reduce", false, "Rebuild and publish the aggregates after each run")
	flag.Parse()

	cfg, logger, closer, err := app.Setup(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return app.ExitCode(err)
	}
	defer closer.Close()

	if err := applyOverrides(cfg, *maxMatches, *maxNewPlayers, *seedPlayers); err != nil {
		logger.Error("invalid_config", "error", err)
		return app.ExitConfig
	}

	ctx := collector.SetupSignalHandler(logger, func(context.Context) {
		fmt.Println("\n[Shutdown] Gracefully shutting down, saving crawl state...")
	})

	if err := app.ValidateKey(ctx, cfg, logger); err != nil {
		return app.ExitFailed
	}

	opts := app.CollectorOptions{Interval: *loop, Reduce: *reduce}
	if *reduce {
		pubs, closePubs, err := app.Publishers(ctx, cfg)
		if err != nil {
			logger.Error("publisher_connect_failed", "error", err)
			return app.ExitFailed
		}
		defer closePubs()
		opts.Publishers = pubs
	}

	c, err := app.NewCollector(ctx, cfg, logger, opts)
	if err != nil {
		logger.Error("collector_setup_failed", "error", err)
		return app.ExitCode(err)
	}
	defer c.Close()

	c.AnnounceSession(ctx)

	if *loop > 0 {
		err := app.RunWithMetrics(ctx, cfg, logger, c.Runner.RunLoop)
		if err != nil {
			logger.Error("collector_loop_failed", "error", err)
			return app.ExitFailed
		}
		return app.ExitOK
	}

	var sum collector.RunSummary
	err = app.RunWithMetrics(ctx, cfg, logger, func(ctx context.Context) error {
		var runErr error
		sum, runErr = c.Runner.RunOnce(ctx)
		return runErr
	})
	printSummary(sum)
	return exitFor(logger, err)
}

// applyOverrides lets flags tighten the budgets for a single run
func applyOverrides(cfg *config.Config, maxMatches, maxNewPlayers, seedPlayers int) error {
	if maxMatches > 0 {
		cfg.Crawl.MaxMatches = maxMatches
	}
	if maxNewPlayers > 0 {
		cfg.Crawl.MaxNewPlayers = maxNewPlayers
	}
	if seedPlayers > 0 {
		cfg.Ladder.MaxPlayers = seedPlayers
	}
	return cfg.Validate()
}

// exitFor treats a quota denial as a clean stop: state is saved and the
// next scheduled run resumes once the ban lifts
func exitFor(logger *slog.Logger, err error) int {
	switch {
	case err == nil:
		return app.ExitOK
	case app.IsQuotaDenied(err):
		logger.Warn("collector_stopped", "reason", "quota denied", "error", err)
		return app.ExitOK
	default:
		logger.Error("collector_failed", "error", err)
		return app.ExitFailed
	}
}

func printSummary(sum collector.RunSummary) {
	fmt.Printf("\n=== Collection Complete ===\n")
	fmt.Printf("Run: %s (stop: %s)\n", sum.RunID, sum.Stop)
	fmt.Printf("Total time: %s\n", formatDuration(sum.Duration))
	fmt.Printf("Players processed: %d (skipped %d)\n", sum.PlayersProcessed, sum.PlayersSkipped)
	fmt.Printf("Matches processed: %d (fetched %d, cached %d, not found %d, failed %d)\n",
		sum.MatchesProcessed, sum.Fetched, sum.CacheHits, sum.NotFound, sum.Failed)
	fmt.Printf("New players queued: %d\n", sum.NewPlayers)
	fmt.Printf("Remaining frontier: %d\n", sum.FrontierLen)
	if sum.Fetched > 0 {
		avgPerMatch := sum.Duration / time.Duration(sum.Fetched)
		fmt.Printf("Avg time per fetched match: %s\n", formatDuration(avgPerMatch))
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%02dm%02ds", hours, mins, secs)
}
