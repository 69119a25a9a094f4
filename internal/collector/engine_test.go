package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"match-ingest/internal/crawlstate"
	"match-ingest/internal/ratelimit"
	"match-ingest/internal/riot"
)

// fakeAPI serves match lists and matches from memory
type fakeAPI struct {
	mu        sync.Mutex
	histories map[string][]string // puuid -> match ids, newest first
	matches   map[string]*riot.MatchResponse
	matchErrs map[string]error
	listErrs  map[string]error

	listCalls  []riot.MatchListQuery
	matchCalls []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		histories: map[string][]string{},
		matches:   map[string]*riot.MatchResponse{},
		matchErrs: map[string]error{},
		listErrs:  map[string]error{},
	}
}

func (f *fakeAPI) addMatch(id string, queue int, puuids ...string) {
	m := &riot.MatchResponse{
		Metadata: riot.MatchMetadata{MatchID: id, Participants: puuids},
		Info:     riot.MatchInfo{QueueID: queue, GameVersion: "15.24.1"},
	}
	for _, p := range puuids {
		m.Info.Participants = append(m.Info.Participants, riot.Participant{PUUID: p})
	}
	f.matches[id] = m
	for _, p := range puuids {
		f.histories[p] = append(f.histories[p], id)
	}
}

func (f *fakeAPI) MatchIDs(ctx context.Context, puuid string, q riot.MatchListQuery) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, q)
	if err, ok := f.listErrs[puuid]; ok {
		return nil, err
	}
	h := f.histories[puuid]
	if q.Start >= len(h) {
		return []string{}, nil
	}
	end := min(q.Start+q.Count, len(h))
	return slices.Clone(h[q.Start:end]), nil
}

func (f *fakeAPI) Match(ctx context.Context, id string) (*riot.MatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchCalls = append(f.matchCalls, id)
	if err, ok := f.matchErrs[id]; ok {
		return nil, err
	}
	m, ok := f.matches[id]
	if !ok {
		return nil, &riot.APIError{Kind: riot.KindNotFound, Status: http.StatusNotFound}
	}
	return m, nil
}

type memStore struct {
	mu      sync.Mutex
	matches map[string]*riot.MatchResponse
	getErr  error
	puts    int
}

func newMemStore() *memStore { return &memStore{matches: map[string]*riot.MatchResponse{}} }

func (s *memStore) Get(ctx context.Context, id string) (*riot.MatchResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	m, ok := s.matches[id]
	return m, ok, nil
}

func (s *memStore) Put(ctx context.Context, id string, m *riot.MatchResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[id] = m
	s.puts++
	return nil
}

// fakeQuota allows limit calls then denies; err overrides everything
type fakeQuota struct {
	calls int
	limit int
	err   error
}

func (q *fakeQuota) Admit(ctx context.Context) error {
	q.calls++
	if q.err != nil {
		return q.err
	}
	if q.limit > 0 && q.calls > q.limit {
		return &ratelimit.DeniedError{Identity: "test", Decision: ratelimit.Decision{Reason: ratelimit.ReasonBanned, RetryAfter: time.Hour}}
	}
	return nil
}

func testConfig() EngineConfig {
	return EngineConfig{
		MaxMatches:       100,
		MaxNewPlayers:    100,
		PageSize:         20,
		LookbackDays:     14,
		Queues:           []int{420},
		MaxMatchAttempts: 3,
	}
}

func newTestEngine(t *testing.T, cfg EngineConfig, api MatchAPI, cache MatchStore, quota Admitter) *Engine {
	t.Helper()
	deps := EngineDeps{
		API:    api,
		Cache:  cache,
		Logger: discardLogger(),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	}
	if quota != nil {
		deps.Quota = quota
	}
	e, err := NewEngine(cfg, deps)
	require.NoError(t, err)
	return e
}

func seededState(puuids ...string) *crawlstate.State {
	st := crawlstate.New()
	var frontier []crawlstate.FrontierEntry
	for _, p := range puuids {
		frontier = append(frontier, crawlstate.FrontierEntry{PUUID: p, Seed: true})
	}
	st.SetFrontier(frontier)
	return st
}

func TestEngine_BudgetLeavesFrontierAndPendingPage(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1", "M2", "M3"}
	api.matches["M1"] = &riot.MatchResponse{Metadata: riot.MatchMetadata{MatchID: "M1"}, Info: riot.MatchInfo{QueueID: 420, Participants: []riot.Participant{{PUUID: "P1"}}}}
	api.matches["M2"] = &riot.MatchResponse{Metadata: riot.MatchMetadata{MatchID: "M2"}, Info: riot.MatchInfo{QueueID: 420, Participants: []riot.Participant{{PUUID: "P1"}, {PUUID: "P2"}}}}
	api.matches["M3"] = &riot.MatchResponse{Metadata: riot.MatchMetadata{MatchID: "M3"}, Info: riot.MatchInfo{QueueID: 420, Participants: []riot.Participant{{PUUID: "P1"}}}}

	cfg := testConfig()
	cfg.MaxMatches = 2
	e := newTestEngine(t, cfg, api, newMemStore(), nil)

	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, StopMatchBudget, sum.Stop)
	assert.Equal(t, 2, sum.MatchesProcessed)
	assert.Equal(t, []string{"M1", "M2"}, st.SeenMatchIDs())
	assert.Equal(t, 20, st.Cursor("P1"))
	assert.Equal(t, []crawlstate.FrontierEntry{
		{PUUID: "P2"},
		{PUUID: "P1", Pending: []string{"M3"}},
	}, st.Frontier())
	assert.Equal(t, []string{"M1", "M2"}, api.matchCalls)

	// next run continues with P2, then M3 without listing P1 again
	sum, err = e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, st.HasMatch("M3"))
	assert.Equal(t, 20, st.Cursor("P1"))
	assert.Len(t, api.listCalls, 2, "P1 once, P2 once")
	assert.Equal(t, StopFrontierEmpty, sum.Stop)
}

func TestEngine_SecondRunLeavesStateUnchanged(t *testing.T) {
	api := newFakeAPI()
	api.addMatch("M1", 420, "P1", "P2")
	api.addMatch("M2", 420, "P2", "P3")
	api.addMatch("M3", 420, "P3", "P1")

	cfg := testConfig()
	cfg.ReprocessSeeds = true
	e := newTestEngine(t, cfg, api, newMemStore(), nil)

	st := seededState("P1")
	_, err := e.Run(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, 3, st.Counts().Matches)
	fetchesAfterFirst := len(api.matchCalls)

	after := st.Clone()
	// the runner reseeds an empty frontier; seeds are reprocessable
	st.SetFrontier([]crawlstate.FrontierEntry{{PUUID: "P1", Seed: true}})
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.True(t, after.Equal(st), "state changed on a run with no new upstream data")
	assert.Equal(t, fetchesAfterFirst, len(api.matchCalls))
	assert.Zero(t, sum.MatchesProcessed)
}

func TestEngine_CacheHitMakesNoQuotaOrHTTPCalls(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1", "M2"}

	cache := newMemStore()
	cache.matches["M1"] = &riot.MatchResponse{Info: riot.MatchInfo{QueueID: 420}}
	cache.matches["M2"] = &riot.MatchResponse{Info: riot.MatchInfo{QueueID: 420}}

	quota := &fakeQuota{}
	e := newTestEngine(t, testConfig(), api, cache, quota)

	sum, err := e.Run(context.Background(), seededState("P1"))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.CacheHits)
	assert.Empty(t, api.matchCalls)
	assert.Equal(t, 1, quota.calls, "only the listing consumes quota")
	assert.Zero(t, cache.puts)
}

func TestEngine_ListingQueryUsesCursorQueueAndLookback(t *testing.T) {
	api := newFakeAPI()
	st := seededState("P1")
	st.AdvanceCursor("P1", 40)

	e := newTestEngine(t, testConfig(), api, newMemStore(), nil)
	_, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, api.listCalls, 1)
	q := api.listCalls[0]
	assert.Equal(t, 40, q.Start)
	assert.Equal(t, 20, q.Count)
	assert.Equal(t, 420, q.Queue)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC).Unix(), q.StartTime)
	// empty page: cursor stays
	assert.Equal(t, 40, st.Cursor("P1"))
}

func TestEngine_CursorAdvancesThroughSeenMatches(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1", "M2"}
	st := seededState("P1")
	st.MarkMatch("M1")
	st.MarkMatch("M2")

	e := newTestEngine(t, testConfig(), api, newMemStore(), nil)
	_, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 20, st.Cursor("P1"))
	assert.Empty(t, api.matchCalls)
}

func TestEngine_SeenPlayersAreNotRequeued(t *testing.T) {
	api := newFakeAPI()
	api.addMatch("M1", 420, "P1", "P2", "P3")

	st := seededState("P1")
	st.MarkPlayer("P2")

	e := newTestEngine(t, testConfig(), api, newMemStore(), nil)
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.NewPlayers)
	assert.True(t, st.HasPlayer("P3"))
	assert.Len(t, api.listCalls, 2, "P1 and P3 only")
}

func TestEngine_SeenSeedSkippedUnlessReprocessable(t *testing.T) {
	api := newFakeAPI()
	st := seededState("P1")
	st.MarkPlayer("P1")

	e := newTestEngine(t, testConfig(), api, newMemStore(), nil)
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PlayersSkipped)
	assert.Empty(t, api.listCalls)

	cfg := testConfig()
	cfg.ReprocessSeeds = true
	st.SetFrontier([]crawlstate.FrontierEntry{{PUUID: "P1", Seed: true}})
	e = newTestEngine(t, cfg, api, newMemStore(), nil)
	_, err = e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, api.listCalls, 1)
}

func TestEngine_NewPlayerBudget(t *testing.T) {
	api := newFakeAPI()
	api.addMatch("M1", 420, "P1", "A", "B", "C", "D")

	cfg := testConfig()
	cfg.MaxNewPlayers = 2
	cfg.MaxMatches = 1
	e := newTestEngine(t, cfg, api, newMemStore(), nil)

	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.NewPlayers)
	assert.Equal(t, []crawlstate.FrontierEntry{{PUUID: "A"}, {PUUID: "B"}}, st.Frontier())
}

func TestEngine_FailedFetchIsRetriedNextRunThenAbandoned(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1"}
	api.matchErrs["M1"] = fmt.Errorf("%w: %w", riot.ErrUnavailable, &riot.APIError{Kind: riot.KindTransientServer, Status: 503})

	cfg := testConfig()
	cfg.MaxMatchAttempts = 2
	e := newTestEngine(t, cfg, api, newMemStore(), nil)

	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, st.HasMatch("M1"), "first failure un-marks for retry")
	assert.Equal(t, 1, st.Failures("M1"))

	// the page is listed again from the player's entry with the failed id pending
	st.SetFrontier([]crawlstate.FrontierEntry{{PUUID: "P1", Pending: []string{"M1"}}})
	_, err = e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, st.HasMatch("M1"), "abandoned after max attempts")
	assert.Equal(t, 2, st.Failures("M1"))
	assert.Len(t, api.matchCalls, 2)
}

func TestEngine_NotFoundStaysSeen(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"GONE"}

	e := newTestEngine(t, testConfig(), api, newMemStore(), nil)
	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.NotFound)
	assert.True(t, st.HasMatch("GONE"))
	assert.Zero(t, st.Failures("GONE"))
}

func TestEngine_QueueFilterWithSeveralQueues(t *testing.T) {
	api := newFakeAPI()
	api.addMatch("ARAM", 450, "P1", "X")
	api.addMatch("SOLO", 420, "P1", "Y")

	cfg := testConfig()
	cfg.Queues = []int{420, 440}
	e := newTestEngine(t, cfg, api, newMemStore(), nil)

	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Zero(t, api.listCalls[0].Queue, "several queues: filter after fetch")
	assert.Equal(t, 1, sum.Filtered)
	assert.True(t, st.HasPlayer("Y"))
	assert.False(t, st.HasPlayer("X"))
}

func TestEngine_QuotaDenialStopsWithoutMarking(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1", "M2"}
	api.matches["M1"] = &riot.MatchResponse{Info: riot.MatchInfo{QueueID: 420}}
	api.matches["M2"] = &riot.MatchResponse{Info: riot.MatchInfo{QueueID: 420}}

	quota := &fakeQuota{limit: 2} // listing + M1
	e := newTestEngine(t, testConfig(), api, newMemStore(), quota)

	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaDenied))
	assert.Equal(t, StopQuotaDenied, sum.Stop)
	assert.True(t, st.HasMatch("M1"))
	assert.False(t, st.HasMatch("M2"))
	assert.Equal(t, []crawlstate.FrontierEntry{{PUUID: "P1", Pending: []string{"M2"}}}, st.Frontier())
	assert.Equal(t, []string{"M1"}, api.matchCalls)
}

func TestEngine_QuotaDenialOnListingKeepsPlayerQueued(t *testing.T) {
	api := newFakeAPI()
	quota := &fakeQuota{err: &ratelimit.DeniedError{Decision: ratelimit.Decision{Reason: ratelimit.ReasonBanned}}}
	e := newTestEngine(t, testConfig(), api, newMemStore(), quota)

	st := seededState("P1", "P2")
	sum, err := e.Run(context.Background(), st)
	assert.True(t, errors.Is(err, ErrQuotaDenied))
	assert.Equal(t, StopQuotaDenied, sum.Stop)
	assert.Equal(t, []crawlstate.FrontierEntry{{PUUID: "P1", Seed: true}, {PUUID: "P2", Seed: true}}, st.Frontier())
	assert.False(t, st.HasPlayer("P1"))
}

func TestEngine_StoreUnavailableAborts(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1"}
	quota := &fakeQuota{err: fmt.Errorf("%w: dial tcp: refused", ratelimit.ErrStoreUnavailable)}
	e := newTestEngine(t, testConfig(), api, newMemStore(), quota)

	sum, err := e.Run(context.Background(), seededState("P1"))
	assert.True(t, errors.Is(err, ratelimit.ErrStoreUnavailable))
	assert.Equal(t, StopAborted, sum.Stop)
	assert.Empty(t, api.listCalls)
}

func TestEngine_UnauthorizedAborts(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1"}
	api.matchErrs["M1"] = &riot.APIError{Kind: riot.KindUnauthorized, Status: 403}
	e := newTestEngine(t, testConfig(), api, newMemStore(), nil)

	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	assert.True(t, riot.IsUnauthorized(err))
	assert.Equal(t, StopAborted, sum.Stop)
	assert.False(t, st.HasMatch("M1"))
}

func TestEngine_CacheErrorAborts(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1"}
	cache := newMemStore()
	cache.getErr = errors.New("disk on fire")
	e := newTestEngine(t, testConfig(), api, cache, nil)

	sum, err := e.Run(context.Background(), seededState("P1"))
	assert.True(t, errors.Is(err, ErrCacheIO))
	assert.Equal(t, StopAborted, sum.Stop)
}

func TestEngine_ListingFailureDeferredOnce(t *testing.T) {
	api := newFakeAPI()
	api.listErrs["P1"] = &riot.APIError{Kind: riot.KindTransientServer, Status: 503}
	e := newTestEngine(t, testConfig(), api, newMemStore(), nil)

	st := seededState("P1")
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, StopFrontierEmpty, sum.Stop)
	assert.Len(t, api.listCalls, 2)
	assert.False(t, st.HasPlayer("P1"))
	assert.Equal(t, []crawlstate.FrontierEntry{{PUUID: "P1", Seed: true}}, st.Frontier(), "kept for the next run")
}

func TestEngine_CancelledContextStopsBetweenMatches(t *testing.T) {
	api := newFakeAPI()
	api.histories["P1"] = []string{"M1", "M2"}
	api.matches["M1"] = &riot.MatchResponse{Info: riot.MatchInfo{QueueID: 420}}
	api.matches["M2"] = &riot.MatchResponse{Info: riot.MatchInfo{QueueID: 420}}

	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &cancelOnPut{memStore: newMemStore(), cancel: cancel}
	e := newTestEngine(t, testConfig(), api, cancelling, nil)

	st := seededState("P1")
	sum, err := e.Run(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, sum.Stop)
	assert.True(t, st.HasMatch("M1"), "the in-flight match finishes")
	assert.False(t, st.HasMatch("M2"))
	assert.Equal(t, []crawlstate.FrontierEntry{{PUUID: "P1", Pending: []string{"M2"}}}, st.Frontier())
}

type cancelOnPut struct {
	*memStore
	cancel context.CancelFunc
}

func (c *cancelOnPut) Put(ctx context.Context, id string, m *riot.MatchResponse) error {
	c.cancel()
	return c.memStore.Put(ctx, id, m)
}

type recordingCheckpointer struct{ saves []crawlstate.Counts }

func (r *recordingCheckpointer) Save(ctx context.Context, s *crawlstate.State) error {
	r.saves = append(r.saves, s.Counts())
	return nil
}

func TestEngine_Checkpoints(t *testing.T) {
	api := newFakeAPI()
	for i := 1; i <= 5; i++ {
		api.addMatch(fmt.Sprintf("M%d", i), 420, "P1")
	}
	ckpt := &recordingCheckpointer{}

	cfg := testConfig()
	cfg.CheckpointEvery = 2
	e, err := NewEngine(cfg, EngineDeps{API: api, Cache: newMemStore(), Checkpoint: ckpt, Logger: discardLogger()})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), seededState("P1"))
	require.NoError(t, err)
	require.Len(t, ckpt.saves, 2)
	assert.Equal(t, 2, ckpt.saves[0].Matches)
	assert.Equal(t, 4, ckpt.saves[1].Matches)
}

type frontierCheckpointer struct{ frontiers [][]crawlstate.FrontierEntry }

func (f *frontierCheckpointer) Save(ctx context.Context, s *crawlstate.State) error {
	f.frontiers = append(f.frontiers, s.Frontier())
	return nil
}

func TestEngine_CheckpointKeepsParkedPlayers(t *testing.T) {
	api := newFakeAPI()
	api.listErrs["PBAD"] = &riot.APIError{Kind: riot.KindTransientServer, Status: 503}
	api.addMatch("M1", 420, "P1", "P3")
	api.addMatch("M2", 420, "P3")
	api.addMatch("M3", 420, "P3")
	api.addMatch("M4", 420, "P3")
	ckpt := &frontierCheckpointer{}

	cfg := testConfig()
	cfg.CheckpointEvery = 1
	e, err := NewEngine(cfg, EngineDeps{API: api, Cache: newMemStore(), Checkpoint: ckpt, Logger: discardLogger()})
	require.NoError(t, err)

	st := seededState("PBAD", "P1")
	_, err = e.Run(context.Background(), st)
	require.NoError(t, err)

	parked := crawlstate.FrontierEntry{PUUID: "PBAD", Seed: true}
	require.Len(t, ckpt.frontiers, 4)
	for i, f := range ckpt.frontiers {
		assert.Contains(t, f, parked, "checkpoint %d", i)
	}
	assert.Equal(t, []crawlstate.FrontierEntry{parked}, st.Frontier())
	assert.Equal(t, st.Frontier(), ckpt.frontiers[3])
}

func TestEngine_UpstreamTimeoutIsAnEntityFailure(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/lol/match/v5/matches/by-puuid/P2/ids" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`["M1"]`))
			return
		}
		// everything else stalls past the client timeout
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client, err := riot.NewClient("RGAPI-test",
		riot.WithRegionalURL(srv.URL),
		riot.WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
		riot.WithRetryPolicy(riot.RetryPolicy{MaxAttemptsThrottled: 1, MaxAttemptsServer: 1}),
		riot.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	quota := &fakeQuota{limit: 20}
	e := newTestEngine(t, testConfig(), client, newMemStore(), quota)

	st := seededState("P1", "P2")
	sum, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, StopFrontierEmpty, sum.Stop)
	assert.Equal(t, 4, quota.calls, "P1 listed twice, P2 once, M1 once")
	mu.Lock()
	assert.Equal(t, 2, calls["/lol/match/v5/matches/by-puuid/P1/ids"])
	assert.Equal(t, 1, calls["/lol/match/v5/matches/by-puuid/P2/ids"])
	assert.Equal(t, 1, calls["/lol/match/v5/matches/M1"])
	mu.Unlock()

	assert.True(t, st.HasPlayer("P2"))
	assert.False(t, st.HasMatch("M1"), "retried next run")
	assert.Equal(t, 1, st.Failures("M1"))
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []crawlstate.FrontierEntry{{PUUID: "P1", Seed: true}}, st.Frontier())
}

func TestNewEngine_Validation(t *testing.T) {
	api, cache := newFakeAPI(), newMemStore()
	_, err := NewEngine(EngineConfig{MaxMatches: 1, PageSize: 0}, EngineDeps{API: api, Cache: cache})
	assert.Error(t, err)
	_, err = NewEngine(EngineConfig{MaxMatches: 0, PageSize: 20}, EngineDeps{API: api, Cache: cache})
	assert.Error(t, err)
	_, err = NewEngine(EngineConfig{MaxMatches: 1, PageSize: 20}, EngineDeps{})
	assert.Error(t, err)
}
