package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"match-ingest/internal/app"
	"match-ingest/internal/collector"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", app.DefaultConfigPath(), "Optional YAML config file")
	maxMatches := flag.Int("max-matches", 0, "Override CRAWL_MAX_MATCHES")
	outputDir := flag.String("output-dir", "", "Override OUTPUT_DIR")
	reduceOnly := flag.Bool("reduce-only", false, "Skip collection, only rebuild and publish")
	loop := flag.Duration("loop", 0, "Repeat collect+reduce, pausing this long between cycles (0 = once)")
	flag.Parse()

	cfg, logger, closer, err := app.Setup(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return app.ExitCode(err)
	}
	defer closer.Close()

	if *maxMatches > 0 {
		cfg.Crawl.MaxMatches = *maxMatches
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}

	ctx := collector.SetupSignalHandler(logger, func(context.Context) {
		fmt.Println("\n[Shutdown] Gracefully shutting down...")
	})
	startTime := time.Now()

	pubs, closePubs, err := app.Publishers(ctx, cfg)
	if err != nil {
		logger.Error("publisher_connect_failed", "error", err)
		return app.ExitFailed
	}
	defer closePubs()

	if !*reduceOnly {
		if err := app.ValidateKey(ctx, cfg, logger); err != nil {
			return app.ExitFailed
		}
	}

	c, err := app.NewCollector(ctx, cfg, logger, app.CollectorOptions{
		Reduce:     true,
		Publishers: pubs,
		Interval:   *loop,
	})
	if err != nil {
		logger.Error("collector_setup_failed", "error", err)
		return app.ExitCode(err)
	}
	defer c.Close()

	var step func(context.Context) error
	switch {
	case *reduceOnly:
		step = c.Reducer.Reduce
	case *loop > 0:
		c.AnnounceSession(ctx)
		step = c.Runner.RunLoop
	default:
		c.AnnounceSession(ctx)
		step = func(ctx context.Context) error {
			_, err := c.Runner.RunOnce(ctx)
			return err
		}
	}

	err = app.RunWithMetrics(ctx, cfg, logger, step)
	switch {
	case err == nil:
	case app.IsQuotaDenied(err):
		logger.Warn("pipeline_stopped", "reason", "quota denied", "error", err)
	default:
		logger.Error("pipeline_failed", "error", err)
		return app.ExitFailed
	}

	logger.Info("pipeline_complete",
		"duration", time.Since(startTime).Round(time.Second).String(),
		"output", cfg.Output.Dir)
	return app.ExitOK
}
