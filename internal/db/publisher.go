// Package db publishes aggregated tables to the databases the presentation
// layer reads from.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"match-ingest/internal/aggregate"
)

// Publisher replaces a target's tables with one build
type Publisher interface {
	Publish(ctx context.Context, art *aggregate.Artifacts) error
	Name() string
}

// PublishAll runs every publisher concurrently. One failing target does not
// cancel the others; all failures are joined.
func PublishAll(ctx context.Context, logger *slog.Logger, art *aggregate.Artifacts, publishers ...Publisher) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	rows := rowCount(flatten(art))

	for _, p := range publishers {
		g.Go(func() error {
			start := time.Now()
			if err := p.Publish(ctx, art); err != nil {
				logger.Error("publish_failed", "target", p.Name(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("publish to %s: %w", p.Name(), err))
				mu.Unlock()
				return nil
			}
			logger.Info("publish_finished",
				"target", p.Name(),
				"patch", art.Patch,
				"rows", rows,
				"duration", time.Since(start).Round(time.Millisecond).String())
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
