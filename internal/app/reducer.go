package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"match-ingest/internal/aggregate"
	"match-ingest/internal/artifact"
	"match-ingest/internal/config"
	"match-ingest/internal/db"
	"match-ingest/internal/metrics"
)

// Reducer rebuilds the aggregate tables from the match cache, writes the
// artifacts and publishes them
type Reducer struct {
	cfg        *config.Config
	corpus     aggregate.Corpus
	publishers []db.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewReducer(cfg *config.Config, corpus aggregate.Corpus, logger *slog.Logger, publishers ...db.Publisher) *Reducer {
	return &Reducer{
		cfg:        cfg,
		corpus:     corpus,
		publishers: publishers,
		logger:     logger,
		now:        time.Now,
	}
}

// Reduce runs one aggregate, write and publish pass. The artifacts on disk
// are complete before any publisher starts; a publisher failure is returned
// but does not undo them.
func (r *Reducer) Reduce(ctx context.Context) error {
	start := time.Now()
	agg := &aggregate.Aggregator{
		Queues:       r.cfg.Crawl.Queues,
		Patch:        r.cfg.Aggregate.Patch,
		TopChampions: r.cfg.Aggregate.TopChampions,
		MinTierGames: r.cfg.Aggregate.MinTierGames,
		Logger:       r.logger,
	}
	art, err := agg.Build(ctx, r.corpus)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if art.Matches == 0 {
		r.logger.Warn("reduce_empty_corpus", "patch", r.cfg.Aggregate.Patch)
	}

	manifest, err := artifact.WriteJSON(r.cfg.Output.Dir, art, r.now())
	if err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}
	files := len(manifest.Files)
	if r.cfg.Output.Parquet {
		written, err := artifact.WriteParquet(r.cfg.Output.Dir, art)
		if err != nil {
			return fmt.Errorf("write parquet: %w", err)
		}
		files += len(written)
	}

	publishErr := db.PublishAll(ctx, r.logger, art, r.publishers...)

	metrics.RunDuration.WithLabelValues("reduce").Observe(time.Since(start).Seconds())
	r.logger.Info("reduce_finished",
		"patch", art.Patch,
		"min_patch", manifest.MinPatch,
		"matches", art.Matches,
		"dir", r.cfg.Output.Dir,
		"files", files,
		"publishers", len(r.publishers),
		"duration", time.Since(start).Round(time.Millisecond).String())
	return publishErr
}

// Publishers opens every configured database target. The returned close
// func releases them.
func Publishers(ctx context.Context, cfg *config.Config) ([]db.Publisher, func() error, error) {
	var (
		pubs    []db.Publisher
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	if cfg.Output.TursoURL != "" {
		turso, err := db.NewTursoClient(ctx, cfg.Output.TursoURL, cfg.Output.TursoToken)
		if err != nil {
			return nil, nil, fmt.Errorf("connect turso: %w", err)
		}
		pubs = append(pubs, turso)
		closers = append(closers, turso.Close)
	}
	if cfg.Output.DatabaseURL != "" {
		pg, err := db.NewPostgres(ctx, cfg.Output.DatabaseURL)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pubs = append(pubs, pg)
		closers = append(closers, func() error { pg.Close(); return nil })
	}
	return pubs, closeAll, nil
}
