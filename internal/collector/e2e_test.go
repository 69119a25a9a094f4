package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
	"gocloud.dev/blob/memblob"

	"match-ingest/internal/crawlstate"
	"match-ingest/internal/ladder"
	"match-ingest/internal/matchcache"
	"match-ingest/internal/ratelimit"
	"match-ingest/internal/riot"
)

const testAPIKey = "RGAPI-e2e-secret"

// upstream is a small fake of the league, summoner and match endpoints
type upstream struct {
	mu       sync.Mutex
	requests map[string]int
	ladder   riot.LeagueList
	summoner map[string]string
	history  map[string][]string
	matches  map[string]riot.MatchResponse
}

func (u *upstream) count(kind string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[kind]
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Riot-Token") != testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	path := r.URL.Path
	kind := routeKind(path)
	if kind == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	u.mu.Lock()
	u.requests[kind]++
	u.mu.Unlock()

	var body any
	switch kind {
	case "ladder":
		body = u.ladder
	case "summoner":
		id := strings.TrimPrefix(path, "/lol/summoner/v4/summoners/")
		puuid, ok := u.summoner[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body = riot.Summoner{ID: id, PUUID: puuid}
	case "list":
		puuid := strings.TrimSuffix(strings.TrimPrefix(path, "/lol/match/v5/matches/by-puuid/"), "/ids")
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		h := u.history[puuid]
		ids := []string{}
		if start < len(h) {
			ids = h[start:min(start+count, len(h))]
		}
		body = ids
	case "match":
		m, ok := u.matches[strings.TrimPrefix(path, "/lol/match/v5/matches/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body = m
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func routeKind(path string) string {
	switch {
	case strings.HasPrefix(path, "/lol/league/v4/challengerleagues/"):
		return "ladder"
	case strings.HasPrefix(path, "/lol/summoner/v4/summoners/"):
		return "summoner"
	case strings.HasPrefix(path, "/lol/match/v5/matches/by-puuid/"):
		return "list"
	case strings.HasPrefix(path, "/lol/match/v5/matches/"):
		return "match"
	}
	return ""
}

func newUpstream() *upstream {
	u := &upstream{
		requests: map[string]int{},
		summoner: map[string]string{"sum-a": "PA"},
		history:  map[string][]string{},
		matches:  map[string]riot.MatchResponse{},
		ladder: riot.LeagueList{Queue: "RANKED_SOLO_5x5", Entries: []riot.LeagueEntry{
			{SummonerID: "sum-a", Rank: "I", LeaguePoints: 1800},
			{PUUID: "PB", Rank: "I", LeaguePoints: 1500},
			{SummonerID: "sum-missing", Rank: "I", LeaguePoints: 1700},
		}},
	}
	add := func(id string, puuids ...string) {
		m := riot.MatchResponse{
			Metadata: riot.MatchMetadata{MatchID: id, Participants: puuids},
			Info:     riot.MatchInfo{QueueID: 420, GameVersion: "15.24.1.1"},
		}
		for i, p := range puuids {
			m.Info.Participants = append(m.Info.Participants, riot.Participant{
				ParticipantID: i + 1, PUUID: p, ChampionID: 100 + i, TeamPosition: "TOP", Win: i%2 == 0,
			})
			u.history[p] = append(u.history[p], id)
		}
		u.matches[id] = m
	}
	add("NA1_1", "PA", "PC")
	add("NA1_2", "PA", "PB")
	add("NA1_3", "PB", "PD")
	add("NA1_4", "PC", "PD")
	return u
}

type pipeline struct {
	runner *Runner
	store  crawlstate.Store
	cache  *matchcache.Cache
	quota  *ratelimit.Controller
	mr     *miniredis.Miniredis
}

func newPipeline(t *testing.T, up *upstream, stateDir string, maxMisses int) *pipeline {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	client, err := riot.NewClient(testAPIKey,
		riot.WithPlatformURL(srv.URL),
		riot.WithRegionalURL(srv.URL),
		riot.WithThrottle(riot.NewThrottle(0)),
		riot.WithLogger(discardLogger()))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	vk, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{mr.Addr()}, DisableCache: true, ForceSingleClient: true})
	require.NoError(t, err)
	t.Cleanup(vk.Close)
	quota, err := ratelimit.New(vk, ratelimit.Config{MaxMisses: maxMisses, Window: 10 * time.Minute, BanTTL: time.Hour}, discardLogger())
	require.NoError(t, err)
	gate := ratelimit.NewGate(quota, "e2e")

	cache, err := matchcache.New(memblob.OpenBucket(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	store, err := crawlstate.Open(crawlstate.BackendFile, stateDir)
	require.NoError(t, err)

	engine, err := NewEngine(EngineConfig{
		MaxMatches:       50,
		MaxNewPlayers:    50,
		PageSize:         20,
		Queues:           []int{420},
		MaxMatchAttempts: 3,
	}, EngineDeps{API: client, Cache: cache, Quota: gate, Checkpoint: store, Logger: discardLogger()})
	require.NoError(t, err)

	seeder := ladder.New(client, ladder.WithGate(gate), ladder.WithLogger(discardLogger()))
	runner := NewRunner(engine, store, seeder, RunnerConfig{Tier: "CHALLENGER", Queue: "RANKED_SOLO_5x5", MaxSeedPlayers: 2},
		WithRunnerLogger(discardLogger()))

	return &pipeline{runner: runner, store: store, cache: cache, quota: quota, mr: mr}
}

func TestEndToEnd_CrawlFromLadder(t *testing.T) {
	up := newUpstream()
	p := newPipeline(t, up, t.TempDir(), 1000)
	ctx := context.Background()

	sum, err := p.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopFrontierEmpty, sum.Stop)
	assert.Equal(t, 4, sum.MatchesProcessed)
	assert.Equal(t, 4, sum.Fetched)

	n, err := p.cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	st, err := p.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NA1_1", "NA1_2", "NA1_3", "NA1_4"}, st.SeenMatchIDs())
	assert.Equal(t, []string{"PA", "PB", "PC", "PD"}, st.SeenPlayerIDs())

	// strongest entry (sum-a) resolved, the unresolvable one skipped, PB backfilled
	assert.Equal(t, 2, up.count("summoner"))

	// every upstream request went through the quota
	total := up.count("ladder") + up.count("summoner") + up.count("list") + up.count("match")
	status, err := p.quota.Status(ctx, "e2e")
	require.NoError(t, err)
	assert.Equal(t, int64(total), status.Count)
}

func TestEndToEnd_SecondRunFetchesNothing(t *testing.T) {
	up := newUpstream()
	dir := t.TempDir()
	p := newPipeline(t, up, dir, 1000)
	ctx := context.Background()

	_, err := p.runner.RunOnce(ctx)
	require.NoError(t, err)
	before, err := p.store.Load(ctx)
	require.NoError(t, err)
	matchFetches := up.count("match")

	_, err = p.runner.RunOnce(ctx)
	require.NoError(t, err)
	after, err := p.store.Load(ctx)
	require.NoError(t, err)

	assert.True(t, before.Equal(after))
	assert.Equal(t, matchFetches, up.count("match"))
}

func TestEndToEnd_QuotaBanStopsRunAndResumes(t *testing.T) {
	up := newUpstream()
	dir := t.TempDir()
	// ladder + 2 summoner lookups + first listing + first match = 5
	p := newPipeline(t, up, dir, 5)
	ctx := context.Background()

	sum, err := p.runner.RunOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaDenied)
	assert.Equal(t, StopQuotaDenied, sum.Stop)
	assert.Equal(t, 1, up.count("match"))

	st, err := p.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NA1_1"}, st.SeenMatchIDs())
	require.NotEmpty(t, st.Frontier())

	// while banned nothing reaches upstream
	_, err = p.runner.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrQuotaDenied)
	assert.Equal(t, 1, up.count("match"))

	// after the ban the crawl continues where it left off
	p.mr.FastForward(time.Hour + time.Second)
	p2 := newPipelineWithStore(t, up, p)
	sum, err = p2.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopFrontierEmpty, sum.Stop)

	final, err := p.store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, final.SeenMatchIDs(), 4)
	assert.Equal(t, 4, up.count("match"), "no match fetched twice")
}

// newPipelineWithStore rebuilds the runner with a generous quota over the
// same state and cache, as a restarted process would
func newPipelineWithStore(t *testing.T, up *upstream, prev *pipeline) *pipeline {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	client, err := riot.NewClient(testAPIKey, riot.WithPlatformURL(srv.URL), riot.WithRegionalURL(srv.URL), riot.WithLogger(discardLogger()))
	require.NoError(t, err)

	vk, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{prev.mr.Addr()}, DisableCache: true, ForceSingleClient: true})
	require.NoError(t, err)
	t.Cleanup(vk.Close)
	quota, err := ratelimit.New(vk, ratelimit.Config{MaxMisses: 1000, Window: 10 * time.Minute, BanTTL: time.Hour}, discardLogger())
	require.NoError(t, err)
	gate := ratelimit.NewGate(quota, fmt.Sprintf("e2e-%d", time.Now().UnixNano()))

	engine, err := NewEngine(EngineConfig{MaxMatches: 50, MaxNewPlayers: 50, PageSize: 20, Queues: []int{420}, MaxMatchAttempts: 3},
		EngineDeps{API: client, Cache: prev.cache, Quota: gate, Logger: discardLogger()})
	require.NoError(t, err)
	runner := NewRunner(engine, prev.store, ladder.New(client, ladder.WithGate(gate), ladder.WithLogger(discardLogger())),
		RunnerConfig{Tier: "CHALLENGER", Queue: "RANKED_SOLO_5x5", MaxSeedPlayers: 2}, WithRunnerLogger(discardLogger()))
	return &pipeline{runner: runner, store: prev.store, cache: prev.cache, quota: quota, mr: prev.mr}
}
