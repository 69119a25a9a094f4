package main

import (
	"flag"
	"fmt"
	"os"

	"match-ingest/internal/app"
	"match-ingest/internal/collector"
	"match-ingest/internal/db"
	"match-ingest/internal/matchcache"
)

// CLI flags
var (
	configPath = flag.String("config", app.DefaultConfigPath(), "Optional YAML config file")
	outputDir  = flag.String("output-dir", "", "Override OUTPUT_DIR")
	patch      = flag.String("patch", "", "Override AGGREGATE_PATCH (a patch like 15.24, or latest)")
	parquet    = flag.Bool("parquet", false, "Also write parquet tables")
	skipDB     = flag.Bool("skip-db", false, "Skip publishing to Turso and Postgres")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	cfg, logger, closer, err := app.SetupOffline(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return app.ExitCode(err)
	}
	defer closer.Close()

	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *patch != "" {
		cfg.Aggregate.Patch = *patch
	}
	if *parquet {
		cfg.Output.Parquet = true
	}

	ctx := collector.SetupSignalHandler(logger, nil)

	cache, err := matchcache.Open(ctx, cfg.Cache.URL)
	if err != nil {
		logger.Error("match_cache_open_failed", "error", err)
		return app.ExitFailed
	}
	defer cache.Close()

	var pubs []db.Publisher
	if !*skipDB {
		var closePubs func() error
		pubs, closePubs, err = app.Publishers(ctx, cfg)
		if err != nil {
			logger.Error("publisher_connect_failed", "error", err)
			return app.ExitFailed
		}
		defer closePubs()
	}

	reducer := app.NewReducer(cfg, cache, logger, pubs...)
	if err := app.RunWithMetrics(ctx, cfg, logger, reducer.Reduce); err != nil {
		logger.Error("reduce_failed", "error", err)
		return app.ExitFailed
	}

	fmt.Printf("\nOutput: %s\n", cfg.Output.Dir)
	return app.ExitOK
}
