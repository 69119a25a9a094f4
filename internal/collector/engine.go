package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"match-ingest/internal/crawlstate"
	"match-ingest/internal/metrics"
	"match-ingest/internal/ratelimit"
	"match-ingest/internal/riot"
)

// ErrQuotaDenied is returned by Run when the rate controller refuses a call
var ErrQuotaDenied = ratelimit.ErrQuotaDenied

// ErrCacheIO wraps match cache failures. They abort the run.
var ErrCacheIO = errors.New("collector: match cache I/O failed")

// MatchAPI is the upstream surface the engine crawls
type MatchAPI interface {
	MatchIDs(ctx context.Context, puuid string, q riot.MatchListQuery) ([]string, error)
	Match(ctx context.Context, matchID string) (*riot.MatchResponse, error)
}

// MatchStore is the match cache as the engine uses it
type MatchStore interface {
	Get(ctx context.Context, matchID string) (*riot.MatchResponse, bool, error)
	Put(ctx context.Context, matchID string, match *riot.MatchResponse) error
}

// Admitter consumes one unit of ingestion quota
type Admitter interface {
	Admit(ctx context.Context) error
}

// Checkpointer persists intermediate state during long runs
type Checkpointer interface {
	Save(ctx context.Context, s *crawlstate.State) error
}

// StopReason says why a run ended
type StopReason string

const (
	StopFrontierEmpty StopReason = "frontier_empty"
	StopMatchBudget   StopReason = "match_budget"
	StopQuotaDenied   StopReason = "quota_denied"
	StopCancelled     StopReason = "cancelled"
	StopAborted       StopReason = "aborted"
)

// EngineConfig holds the per-run budgets and filters
type EngineConfig struct {
	MaxMatches       int
	MaxNewPlayers    int
	PageSize         int
	LookbackDays     int
	Queues           []int
	ReprocessSeeds   bool
	MaxMatchAttempts int
	CheckpointEvery  int
}

// EngineDeps are the collaborators of an Engine. Quota and Checkpoint may be nil.
type EngineDeps struct {
	API        MatchAPI
	Cache      MatchStore
	Quota      Admitter
	Checkpoint Checkpointer
	Logger     *slog.Logger
	Now        func() time.Time
}

// RunSummary reports what one Run did
type RunSummary struct {
	RunID            string        `json:"runId"`
	StartedAt        time.Time     `json:"startedAt"`
	Duration         time.Duration `json:"duration"`
	PlayersProcessed int           `json:"playersProcessed"`
	PlayersSkipped   int           `json:"playersSkipped"`
	MatchesProcessed int           `json:"matchesProcessed"`
	CacheHits        int           `json:"cacheHits"`
	Fetched          int           `json:"fetched"`
	NotFound         int           `json:"notFound"`
	Failed           int           `json:"failed"`
	Filtered         int           `json:"filtered"`
	NewPlayers       int           `json:"newPlayers"`
	FrontierLen      int           `json:"frontierLen"`
	Stop             StopReason    `json:"stop"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("run %s: %d matches (%d cached, %d fetched, %d not found, %d failed), %d players, %d new, frontier %d, stop=%s in %s",
		s.RunID, s.MatchesProcessed, s.CacheHits, s.Fetched, s.NotFound, s.Failed,
		s.PlayersProcessed, s.NewPlayers, s.FrontierLen, s.Stop, formatDuration(s.Duration))
}

// Engine walks the player/match graph breadth first from the frontier
type Engine struct {
	cfg    EngineConfig
	deps   EngineDeps
	logger *slog.Logger
}

func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if deps.API == nil || deps.Cache == nil {
		return nil, errors.New("collector: engine needs an API and a cache")
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		return nil, fmt.Errorf("collector: page size must be 1..100, got %d", cfg.PageSize)
	}
	if cfg.MaxMatches <= 0 {
		return nil, fmt.Errorf("collector: max matches must be positive, got %d", cfg.MaxMatches)
	}
	if cfg.MaxNewPlayers < 0 {
		return nil, fmt.Errorf("collector: max new players must not be negative, got %d", cfg.MaxNewPlayers)
	}
	if cfg.MaxMatchAttempts <= 0 {
		cfg.MaxMatchAttempts = 1
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{cfg: cfg, deps: deps, logger: deps.Logger}, nil
}

// run is the mutable bookkeeping of one Run call
type run struct {
	st         *crawlstate.State
	frontier   []crawlstate.FrontierEntry
	queued     map[string]struct{}
	deferred   map[string]struct{}
	parked     []crawlstate.FrontierEntry
	sum        RunSummary
	sinceCkpt  int
	newPlayers int
}

func (r *run) push(e crawlstate.FrontierEntry) {
	r.frontier = append(r.frontier, e)
	r.queued[e.PUUID] = struct{}{}
}

func (r *run) pushFront(e crawlstate.FrontierEntry) {
	r.frontier = slices.Insert(r.frontier, 0, e)
	r.queued[e.PUUID] = struct{}{}
}

func (r *run) pop() crawlstate.FrontierEntry {
	e := r.frontier[0]
	r.frontier = r.frontier[1:]
	delete(r.queued, e.PUUID)
	return e
}

// Run crawls from st's frontier until it empties or the match budget is
// spent. st is updated in place, including the remaining frontier, whatever
// the outcome; the caller persists it.
func (e *Engine) Run(ctx context.Context, st *crawlstate.State) (RunSummary, error) {
	r := &run{
		st:       st,
		queued:   make(map[string]struct{}),
		deferred: make(map[string]struct{}),
	}
	r.sum.RunID = uuid.NewString()
	r.sum.StartedAt = e.deps.Now()
	for _, fe := range st.Frontier() {
		r.push(fe)
	}

	err := e.loop(ctx, r)

	// players whose listing failed twice wait for the next run
	r.frontier = append(r.frontier, r.parked...)
	st.SetFrontier(r.frontier)
	r.sum.FrontierLen = len(r.frontier)
	r.sum.Duration = e.deps.Now().Sub(r.sum.StartedAt)
	metrics.FrontierLength.Set(float64(len(r.frontier)))
	metrics.RunDuration.WithLabelValues("crawl").Observe(r.sum.Duration.Seconds())

	e.logger.Info("crawl_run_finished",
		"run_id", r.sum.RunID,
		"stop", r.sum.Stop,
		"matches", r.sum.MatchesProcessed,
		"cache_hits", r.sum.CacheHits,
		"fetched", r.sum.Fetched,
		"not_found", r.sum.NotFound,
		"failed", r.sum.Failed,
		"players", r.sum.PlayersProcessed,
		"new_players", r.sum.NewPlayers,
		"frontier", r.sum.FrontierLen,
		"duration", r.sum.Duration)
	return r.sum, err
}

func (e *Engine) loop(ctx context.Context, r *run) error {
	for {
		switch {
		case ctx.Err() != nil:
			r.sum.Stop = StopCancelled
			return nil
		case r.sum.MatchesProcessed >= e.cfg.MaxMatches:
			r.sum.Stop = StopMatchBudget
			return nil
		case len(r.frontier) == 0:
			r.sum.Stop = StopFrontierEmpty
			return nil
		}

		entry := r.pop()
		if e.skip(r.st, entry) {
			r.sum.PlayersSkipped++
			continue
		}

		ids := entry.Pending
		if len(ids) == 0 {
			listed, err := e.listMatches(ctx, r, entry)
			if err != nil {
				return err
			}
			if listed == nil {
				continue
			}
			ids = listed
		}
		r.st.MarkPlayer(entry.PUUID)
		r.sum.PlayersProcessed++

		if err := e.processPage(ctx, r, entry.PUUID, ids); err != nil {
			return err
		}
	}
}

// skip reports whether entry needs no work: an already processed player
// that is neither a re-runnable seed nor carrying an interrupted page
func (e *Engine) skip(st *crawlstate.State, entry crawlstate.FrontierEntry) bool {
	if !st.HasPlayer(entry.PUUID) {
		return false
	}
	if entry.Seed && e.cfg.ReprocessSeeds {
		return false
	}
	return len(entry.Pending) == 0
}

// listMatches fetches the next page for entry's player. A nil slice with a
// nil error means the player was dealt with and the loop should move on.
func (e *Engine) listMatches(ctx context.Context, r *run, entry crawlstate.FrontierEntry) ([]string, error) {
	puuid := entry.PUUID

	if err := e.admit(ctx); err != nil {
		r.pushFront(entry)
		if err := e.stopFor(ctx, r, err); err != nil {
			return nil, err
		}
		return nil, nil
	}

	q := riot.MatchListQuery{
		Start: r.st.Cursor(puuid),
		Count: e.cfg.PageSize,
	}
	if len(e.cfg.Queues) == 1 {
		q.Queue = e.cfg.Queues[0]
	}
	if e.cfg.LookbackDays > 0 {
		q.StartTime = e.deps.Now().AddDate(0, 0, -e.cfg.LookbackDays).Unix()
	}

	ids, err := e.deps.API.MatchIDs(ctx, puuid, q)
	if err != nil {
		// A client timeout also matches context.DeadlineExceeded, so only the
		// run's own context decides cancellation.
		switch {
		case ctx.Err() != nil:
			r.pushFront(entry)
			r.sum.Stop = StopCancelled
			return nil, nil
		case riot.IsUnauthorized(err):
			r.pushFront(entry)
			r.sum.Stop = StopAborted
			return nil, fmt.Errorf("list matches for %s: %w", shortID(puuid), err)
		case riot.IsNotFound(err):
			e.logger.Warn("player_not_found", "puuid", shortID(puuid))
			r.st.MarkPlayer(puuid)
			return nil, nil
		}

		if _, again := r.deferred[puuid]; again {
			r.parked = append(r.parked, entry)
		} else {
			r.deferred[puuid] = struct{}{}
			r.push(entry)
		}
		e.logger.Warn("match_list_failed",
			"puuid", shortID(puuid), "status", riot.StatusOf(err), "kind", riot.KindOf(err), "error", err)
		return nil, nil
	}

	// The cursor moves a full page whenever the page had anything in it, so
	// runs of already seen matches cannot stall pagination. An empty page
	// leaves it where it is.
	if len(ids) > 0 {
		r.st.AdvanceCursor(puuid, e.cfg.PageSize)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (e *Engine) processPage(ctx context.Context, r *run, puuid string, ids []string) error {
	for i, id := range ids {
		if ctx.Err() != nil || r.sum.MatchesProcessed >= e.cfg.MaxMatches {
			e.deferRemainder(r, puuid, ids[i:])
			return nil
		}
		if r.st.HasMatch(id) {
			continue
		}

		if err := e.processMatch(ctx, r, id); err != nil {
			if r.sum.Stop == StopCancelled {
				e.deferRemainder(r, puuid, ids[i:])
				return nil
			}
			e.deferRemainder(r, puuid, ids[i:])
			return err
		}
		e.maybeCheckpoint(ctx, r, puuid, ids[i+1:])
	}
	return nil
}

// deferRemainder queues the unprocessed tail of a page so the next run
// picks it up without listing again
func (e *Engine) deferRemainder(r *run, puuid string, ids []string) {
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if !r.st.HasMatch(id) {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return
	}
	r.push(crawlstate.FrontierEntry{PUUID: puuid, Pending: pending})
}

func (e *Engine) processMatch(ctx context.Context, r *run, id string) error {
	match, hit, err := e.deps.Cache.Get(ctx, id)
	if err != nil {
		r.sum.Stop = StopAborted
		return fmt.Errorf("%w: get %s: %v", ErrCacheIO, id, err)
	}

	if hit {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		r.st.MarkMatch(id)
		r.st.ClearFailure(id)
		r.sum.CacheHits++
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		match, err = e.fetch(ctx, r, id)
		if err != nil {
			return err
		}
	}
	r.sum.MatchesProcessed++
	r.sinceCkpt++

	if match == nil {
		return nil
	}
	if !e.queueAllowed(match.Info.QueueID) {
		r.sum.Filtered++
		metrics.MatchesProcessed.WithLabelValues("filtered").Inc()
		return nil
	}
	e.discover(r, match)
	return nil
}

// fetch runs the quota → HTTP → cache chain for a cache miss. A nil match
// with a nil error means the match was handled without data (not found or
// a recorded failure).
func (e *Engine) fetch(ctx context.Context, r *run, id string) (*riot.MatchResponse, error) {
	if err := e.admit(ctx); err != nil {
		if stopErr := e.stopFor(ctx, r, err); stopErr != nil {
			return nil, stopErr
		}
		return nil, ctx.Err()
	}

	// Marked before the fetch; failures below decide whether it stays marked
	r.st.MarkMatch(id)

	match, err := e.deps.API.Match(ctx, id)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			r.st.UnmarkMatch(id)
			r.sum.Stop = StopCancelled
			return nil, err
		case riot.IsUnauthorized(err):
			r.st.UnmarkMatch(id)
			r.sum.Stop = StopAborted
			return nil, fmt.Errorf("fetch match %s: %w", id, err)
		case riot.IsNotFound(err):
			r.st.ClearFailure(id)
			r.sum.NotFound++
			metrics.MatchesProcessed.WithLabelValues("not_found").Inc()
			e.logger.Info("match_not_found", "match_id", id)
			return nil, nil
		}

		attempts := r.st.RecordFailure(id)
		abandoned := attempts >= e.cfg.MaxMatchAttempts
		if !abandoned {
			r.st.UnmarkMatch(id)
		}
		r.sum.Failed++
		metrics.MatchesProcessed.WithLabelValues("failed").Inc()
		e.logger.Warn("match_fetch_failed",
			"match_id", id,
			"status", riot.StatusOf(err),
			"kind", riot.KindOf(err),
			"attempts", attempts,
			"abandoned", abandoned,
			"error", err)
		return nil, nil
	}

	if err := e.deps.Cache.Put(ctx, id, match); err != nil {
		r.st.UnmarkMatch(id)
		r.sum.Stop = StopAborted
		return nil, fmt.Errorf("%w: put %s: %v", ErrCacheIO, id, err)
	}
	r.st.ClearFailure(id)
	r.sum.Fetched++
	metrics.MatchesProcessed.WithLabelValues("fetched").Inc()
	return match, nil
}

// discover queues participants not yet seen or queued, up to the per-run
// new player budget
func (e *Engine) discover(r *run, match *riot.MatchResponse) {
	for _, p := range match.PUUIDs() {
		if p == "" || r.st.HasPlayer(p) {
			continue
		}
		if _, ok := r.queued[p]; ok {
			continue
		}
		if r.newPlayers >= e.cfg.MaxNewPlayers {
			return
		}
		r.push(crawlstate.FrontierEntry{PUUID: p})
		r.newPlayers++
		r.sum.NewPlayers++
	}
}

func (e *Engine) queueAllowed(queueID int) bool {
	return len(e.cfg.Queues) == 0 || slices.Contains(e.cfg.Queues, queueID)
}

func (e *Engine) admit(ctx context.Context) error {
	if e.deps.Quota == nil {
		return nil
	}
	return e.deps.Quota.Admit(ctx)
}

// stopFor records the stop reason for an admission failure and returns the
// error the run ends with, or nil when the run itself was cancelled
func (e *Engine) stopFor(ctx context.Context, r *run, err error) error {
	if ctx.Err() != nil {
		r.sum.Stop = StopCancelled
		return nil
	}
	if errors.Is(err, ErrQuotaDenied) {
		r.sum.Stop = StopQuotaDenied
		e.logger.Warn("quota_denied", "error", err)
		return err
	}
	r.sum.Stop = StopAborted
	e.logger.Error("quota_store_unavailable", "error", err)
	return err
}

func (e *Engine) maybeCheckpoint(ctx context.Context, r *run, puuid string, rest []string) {
	if e.deps.Checkpoint == nil || e.cfg.CheckpointEvery <= 0 || r.sinceCkpt < e.cfg.CheckpointEvery {
		return
	}
	r.sinceCkpt = 0

	// the current page's tail goes first so a crash resumes where we are;
	// parked players go last, as they do at run end
	snapshot := make([]crawlstate.FrontierEntry, 0, len(r.frontier)+len(r.parked)+1)
	pending := make([]string, 0, len(rest))
	for _, id := range rest {
		if !r.st.HasMatch(id) {
			pending = append(pending, id)
		}
	}
	if len(pending) > 0 {
		snapshot = append(snapshot, crawlstate.FrontierEntry{PUUID: puuid, Pending: pending})
	}
	snapshot = append(snapshot, r.frontier...)
	snapshot = append(snapshot, r.parked...)
	r.st.SetFrontier(snapshot)

	if err := e.deps.Checkpoint.Save(ctx, r.st); err != nil {
		e.logger.Warn("checkpoint_failed", "run_id", r.sum.RunID, "error", err)
		return
	}
	e.logger.Debug("checkpoint_saved", "run_id", r.sum.RunID, "matches", r.sum.MatchesProcessed, "frontier", len(snapshot))
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}

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
