// Package app wires the pipeline components from a Config. The commands
// under cmd/ are thin wrappers around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"match-ingest/internal/config"
	"match-ingest/internal/logging"
	"match-ingest/internal/metrics"
	"match-ingest/internal/riot"
)

// Exit codes shared by the commands
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

// ConfigPathEnv names the YAML file when no -config flag is given
const ConfigPathEnv = "PIPELINE_CONFIG"

// DefaultConfigPath is the -config flag default
func DefaultConfigPath() string {
	return os.Getenv(ConfigPathEnv)
}

// Setup loads .env and the configuration, then builds the logger. The
// returned closer flushes the log file.
func Setup(configPath string) (*config.Config, *slog.Logger, io.Closer, error) {
	return setup(configPath, config.Load)
}

// SetupOffline is Setup for commands that never call the upstream API
func SetupOffline(configPath string) (*config.Config, *slog.Logger, io.Closer, error) {
	return setup(configPath, config.LoadOffline)
}

func setup(configPath string, load func(string) (*config.Config, error)) (*config.Config, *slog.Logger, io.Closer, error) {
	config.LoadDotEnv(nil)

	cfg, err := load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, nil, nil, &config.ConfigError{Field: "LOG_LEVEL/LOG_FORMAT/LOG_FILE", Reason: err.Error()}
	}
	return cfg, logger, closer, nil
}

// ExitCode maps a startup or run error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case config.IsConfigError(err):
		return ExitConfig
	default:
		return ExitFailed
	}
}

// NewRiotClient builds the upstream client with the configured routing,
// courtesy delay and retry policy
func NewRiotClient(cfg *config.Config, logger *slog.Logger) (*riot.Client, error) {
	return riot.NewClient(cfg.Riot.APIKey,
		riot.WithPlatformURL(cfg.PlatformURL()),
		riot.WithRegionalURL(cfg.RegionalURL()),
		riot.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		riot.WithThrottle(riot.NewThrottle(cfg.HTTP.CourtesyDelay)),
		riot.WithRetryPolicy(riot.RetryPolicy{
			MaxAttemptsThrottled: cfg.HTTP.MaxAttemptsThrottled,
			MaxAttemptsServer:    cfg.HTTP.MaxAttemptsServer,
			BaseDelay:            cfg.HTTP.BaseDelay,
			Jitter:               cfg.HTTP.Jitter,
			MaxWait:              cfg.HTTP.MaxWait,
		}),
		riot.WithLogger(logger),
	)
}

// ErrKeyRejected means the upstream refused the configured credential
var ErrKeyRejected = errors.New("app: API key rejected")

// ValidateKey probes the upstream before a run. A rejected key is fatal; an
// inconclusive probe is logged and the run goes ahead.
func ValidateKey(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	validator := riot.NewKeyValidator(riot.WithBaseURL(cfg.PlatformURL()))
	valid, err := validator.ValidateKey(ctx, cfg.Riot.APIKey)
	if err != nil {
		logger.Warn("api_key_unverified", "error", err)
		return nil
	}
	if !valid {
		logger.Error("api_key_rejected", "platform", cfg.Riot.Platform)
		return ErrKeyRejected
	}
	logger.Info("api_key_validated", "platform", cfg.Riot.Platform)
	return nil
}

// RunWithMetrics runs fn while the metrics endpoint is served, and stops
// the endpoint when fn returns. A listener failure is logged, not fatal.
func RunWithMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
			logger.Error("metrics_server_failed", "addr", cfg.Metrics.Addr, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		if err := fn(ctx); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		return nil
	})
	return g.Wait()
}
