package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"match-ingest/internal/crawlstate"
	"match-ingest/internal/ratelimit"
)

// Seeder supplies starting players when the frontier is empty
type Seeder interface {
	SeedPlayers(ctx context.Context, tier, queue string, maxPlayers int) ([]string, error)
}

// StateStore loads and saves the crawl state around a run
type StateStore interface {
	Load(ctx context.Context) (*crawlstate.State, error)
	Save(ctx context.Context, s *crawlstate.State) error
}

// ReducerFunc rebuilds and publishes the aggregates after a run
type ReducerFunc func(ctx context.Context) error

// Notifier is told how each run ended
type Notifier interface {
	RunFinished(ctx context.Context, sum RunSummary) error
	QuotaDenied(ctx context.Context, sum RunSummary, err error) error
	RunAborted(ctx context.Context, sum RunSummary, err error) error
}

// RunnerConfig controls seeding and the loop cadence
type RunnerConfig struct {
	Tier           string
	Queue          string
	MaxSeedPlayers int
	// Interval is the pause between loop iterations
	Interval time.Duration
}

// Runner drives one collection cycle: load state, seed if needed, crawl,
// save, then optionally reduce and notify
type Runner struct {
	engine   *Engine
	store    StateStore
	seeder   Seeder
	reduce   ReducerFunc
	notifier Notifier
	cfg      RunnerConfig
	logger   *slog.Logger
}

type RunnerOption func(*Runner)

func WithReducer(f ReducerFunc) RunnerOption {
	return func(r *Runner) { r.reduce = f }
}

func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(engine *Engine, store StateStore, seeder Seeder, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine: engine,
		store:  store,
		seeder: seeder,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs one cycle. State is saved even when the crawl stops
// early or the context is cancelled.
func (r *Runner) RunOnce(ctx context.Context) (RunSummary, error) {
	st, err := r.store.Load(ctx)
	if err != nil {
		return RunSummary{Stop: StopAborted}, fmt.Errorf("load crawl state: %w", err)
	}
	counts := st.Counts()
	r.logger.Info("crawl_state_loaded",
		"matches", counts.Matches, "players", counts.Players, "frontier", counts.Frontier, "failures", counts.Failures)

	if counts.Frontier == 0 && r.seeder != nil {
		if sum, err := r.seed(ctx, st); err != nil {
			r.notify(ctx, sum, err)
			return sum, err
		}
	}

	sum, runErr := r.engine.Run(ctx, st)

	// the run may have been cancelled; saving must not be
	saveCtx := context.WithoutCancel(ctx)
	if err := r.store.Save(saveCtx, st); err != nil {
		r.logger.Error("crawl_state_save_failed", "run_id", sum.RunID, "error", err)
		return sum, errors.Join(runErr, fmt.Errorf("save crawl state: %w", err))
	}

	r.notify(saveCtx, sum, runErr)
	if runErr != nil {
		return sum, runErr
	}

	if r.reduce != nil && sum.Stop != StopCancelled {
		start := time.Now()
		if err := r.reduce(ctx); err != nil {
			r.logger.Error("reduce_failed", "run_id", sum.RunID, "error", err)
			return sum, fmt.Errorf("reduce: %w", err)
		}
		r.logger.Info("reduce_complete", "run_id", sum.RunID, "duration", time.Since(start))
	}
	return sum, nil
}

func (r *Runner) seed(ctx context.Context, st *crawlstate.State) (RunSummary, error) {
	players, err := r.seeder.SeedPlayers(ctx, r.cfg.Tier, r.cfg.Queue, r.cfg.MaxSeedPlayers)
	if err != nil {
		sum := RunSummary{Stop: StopAborted}
		if errors.Is(err, ErrQuotaDenied) {
			sum.Stop = StopQuotaDenied
		}
		return sum, fmt.Errorf("seed from ladder: %w", err)
	}

	frontier := make([]crawlstate.FrontierEntry, 0, len(players))
	for _, p := range players {
		frontier = append(frontier, crawlstate.FrontierEntry{PUUID: p, Seed: true})
	}
	st.SetFrontier(frontier)
	r.logger.Info("frontier_seeded", "tier", r.cfg.Tier, "queue", r.cfg.Queue, "players", len(players))
	return RunSummary{}, nil
}

func (r *Runner) notify(ctx context.Context, sum RunSummary, runErr error) {
	if r.notifier == nil {
		return
	}
	var err error
	switch {
	case sum.Stop == StopQuotaDenied:
		err = r.notifier.QuotaDenied(ctx, sum, runErr)
	case runErr != nil:
		err = r.notifier.RunAborted(ctx, sum, runErr)
	default:
		err = r.notifier.RunFinished(ctx, sum)
	}
	if err != nil {
		r.logger.Warn("notify_failed", "run_id", sum.RunID, "error", err)
	}
}

// RunLoop repeats RunOnce until ctx is cancelled. A quota denial pauses the
// loop for the ban; infrastructure failures end it.
func (r *Runner) RunLoop(ctx context.Context) error {
	for {
		sum, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			r.logger.Info("collector_loop_stopped", "reason", "context cancelled")
			return nil
		}

		wait := r.cfg.Interval
		switch {
		case errors.Is(err, ErrQuotaDenied):
			var denied *ratelimit.DeniedError
			if errors.As(err, &denied) && denied.Decision.RetryAfter > wait {
				wait = denied.Decision.RetryAfter
			}
			r.logger.Warn("collector_paused", "reason", "quota denied", "wait", wait)
		case err != nil:
			return err
		case sum.Stop == StopFrontierEmpty && sum.MatchesProcessed == 0:
			r.logger.Info("collector_idle", "wait", wait)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
