package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"match-ingest/internal/app"
	"match-ingest/internal/artifact"
	"match-ingest/internal/collector"
	"match-ingest/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", app.DefaultConfigPath(), "Optional YAML config file")
	addr := flag.String("addr", "", "Override SERVER_ADDR")
	flag.Parse()

	cfg, logger, closer, err := app.SetupOffline(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return app.ExitCode(err)
	}
	defer closer.Close()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx := collector.SetupSignalHandler(logger, nil)

	reader := artifact.NewReader(cfg.Output.Dir, logger)
	server := app.NewServer(reader, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Watch(gctx, cfg.Server.Refresh)
		return nil
	})
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, logger) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("server_listening", "addr", cfg.Server.Addr, "dir", cfg.Output.Dir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server_failed", "error", err)
		return app.ExitFailed
	}
	return app.ExitOK
}
