package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"

	"match-ingest/internal/collector"
	"match-ingest/internal/config"
	"match-ingest/internal/crawlstate"
	"match-ingest/internal/db"
	"match-ingest/internal/discord"
	"match-ingest/internal/ladder"
	"match-ingest/internal/matchcache"
	"match-ingest/internal/ratelimit"
	"match-ingest/internal/riot"
)

// Collector holds a wired Runner and every resource behind it
type Collector struct {
	Runner   *collector.Runner
	Cache    *matchcache.Cache
	State    crawlstate.Store
	Quota    *ratelimit.Controller
	Ladder   *ladder.Bootstrapper
	Notifier *discord.WebhookClient // nil when no webhook is configured
	Reducer  *Reducer               // nil unless CollectorOptions.Reduce

	cfg    *config.Config
	valkey valkey.Client
	logger *slog.Logger
}

// CollectorOptions are the per-invocation knobs the commands expose
type CollectorOptions struct {
	// Reduce rebuilds the aggregates from the cache after every completed
	// crawl and hands them to Publishers
	Reduce     bool
	Publishers []db.Publisher
	// Interval is the pause between RunLoop iterations
	Interval time.Duration
}

// NewCollector connects the quota store, match cache and state store and
// builds the crawl engine over them. Close releases them.
func NewCollector(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts CollectorOptions) (*Collector, error) {
	c := &Collector{cfg: cfg, logger: logger}

	vk, err := ratelimit.Dial(ctx, cfg.Quota.RedisAddr)
	if err != nil {
		return nil, err
	}
	c.valkey = vk

	c.Quota, err = ratelimit.New(vk, ratelimit.Config{
		MaxMisses: cfg.Quota.MaxMisses,
		Window:    cfg.Quota.Window,
		BanTTL:    cfg.Quota.BanTTL,
	}, logger)
	if err != nil {
		c.Close()
		return nil, &config.ConfigError{Field: "QUOTA", Reason: err.Error()}
	}
	gate := ratelimit.NewGate(c.Quota, cfg.Quota.Identity)

	client, err := NewRiotClient(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Cache, err = matchcache.Open(ctx, cfg.Cache.URL)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.State, err = crawlstate.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open crawl state: %w", err)
	}

	engine, err := collector.NewEngine(collector.EngineConfig{
		MaxMatches:       cfg.Crawl.MaxMatches,
		MaxNewPlayers:    cfg.Crawl.MaxNewPlayers,
		PageSize:         cfg.Crawl.PageSize,
		LookbackDays:     cfg.Crawl.LookbackDays,
		Queues:           cfg.Crawl.Queues,
		ReprocessSeeds:   cfg.Crawl.ReprocessSeeds,
		MaxMatchAttempts: cfg.Crawl.MaxMatchAttempts,
		CheckpointEvery:  cfg.Crawl.CheckpointEvery,
	}, collector.EngineDeps{
		API:        client,
		Cache:      c.Cache,
		Quota:      gate,
		Checkpoint: c.State,
		Logger:     logger,
	})
	if err != nil {
		c.Close()
		return nil, &config.ConfigError{Field: "CRAWL", Reason: err.Error()}
	}

	c.Ladder = ladder.New(client, ladder.WithGate(gate), ladder.WithLogger(logger))

	runnerOpts := []collector.RunnerOption{collector.WithRunnerLogger(logger)}
	if opts.Reduce {
		c.Reducer = NewReducer(cfg, c.Cache, logger, opts.Publishers...)
		runnerOpts = append(runnerOpts, collector.WithReducer(c.Reducer.Reduce))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		c.Notifier = discord.NewWebhookClient(cfg.Notify.DiscordWebhookURL)
		runnerOpts = append(runnerOpts, collector.WithNotifier(c.Notifier))
	}

	c.Runner = collector.NewRunner(engine, c.State, c.Ladder, collector.RunnerConfig{
		Tier:           cfg.Ladder.Tier,
		Queue:          cfg.Ladder.Queue,
		MaxSeedPlayers: cfg.Ladder.MaxPlayers,
		Interval:       opts.Interval,
	}, runnerOpts...)
	return c, nil
}

// AnnounceSession posts the session-start message when a webhook is set.
// Failures are logged only.
func (c *Collector) AnnounceSession(ctx context.Context) {
	if c.Notifier == nil {
		return
	}
	st, err := c.State.Load(ctx)
	if err != nil {
		c.logger.Warn("session_announce_skipped", "error", err)
		return
	}
	frontier := len(st.Frontier())
	seeds := 0
	if frontier == 0 {
		seeds = c.cfg.Ladder.MaxPlayers
	}
	if err := c.Notifier.SendSessionStarted(ctx, c.cfg.Riot.APIKey, seeds, frontier); err != nil {
		c.logger.Warn("notify_failed", "event", "session_started", "error", err)
	}
}

// Close releases the state store, cache and quota connection. It is safe
// on a partially built Collector.
func (c *Collector) Close() error {
	var errs []error
	if c.State != nil {
		errs = append(errs, c.State.Close())
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.valkey != nil {
		c.valkey.Close()
	}
	return errors.Join(errs...)
}

// IsQuotaDenied reports a run that ended on the ingestion quota rather
// than a failure
func IsQuotaDenied(err error) bool {
	return errors.Is(err, collector.ErrQuotaDenied)
}

var (
	_ collector.MatchAPI     = (*riot.Client)(nil)
	_ ladder.LeagueSource    = (*riot.Client)(nil)
	_ collector.Checkpointer = crawlstate.Store(nil)
)
