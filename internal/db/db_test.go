package db

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"match-ingest/internal/aggregate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleArtifacts() *aggregate.Artifacts {
	return &aggregate.Artifacts{
		Patch:   "15.24",
		Matches: 3,
		Builds: []aggregate.BuildRow{
			{ChampionID: 266, ChampionName: "Aatrox", Role: "TOP", Signature: "3047-3053-6630", Items: []int{3047, 3053, 6630}, Spells: [2]int{4, 12}, Games: 2, Wins: 1},
			{ChampionID: 266, ChampionName: "Aatrox", Role: "TOP", Signature: "3047-6630", Items: []int{3047, 6630}, Spells: [2]int{4, 14}, Games: 1, Wins: 1},
		},
		Items: []aggregate.ItemUsageRow{
			{ItemID: 3047, Games: 3, Wins: 2, TopChampions: []aggregate.ChampionUsage{{ChampionID: 266, Games: 2, Wins: 1}, {ChampionID: 86, Games: 1, Wins: 1}}},
		},
		Champions: []aggregate.ChampionTierRow{
			{ChampionID: 266, ChampionName: "Aatrox", Role: "TOP", Games: 3, Wins: 2, WinRate: 0.6667, PickRate: 1, Tier: "S"},
		},
		Matchups: []aggregate.MatchupRow{
			{ChampionID: 266, Role: "TOP", EnemyChampionID: 86, Games: 2, Wins: 1},
		},
	}
}

func TestFlatten(t *testing.T) {
	tables := flatten(sampleArtifacts())
	require.Len(t, tables, 5)

	counts := map[string]int{}
	for _, tr := range tables {
		counts[tr.name] = len(tr.rows)
		for _, row := range tr.rows {
			assert.Len(t, row, len(tr.columns), tr.name)
		}
	}
	assert.Equal(t, map[string]int{
		TableBuilds:        2,
		TableItems:         1,
		TableItemChampions: 2,
		TableChampions:     1,
		TableMatchups:      1,
	}, counts)
	assert.Equal(t, 7, rowCount(tables))
	assert.Equal(t, "INSERT INTO item_usage (patch, item_id, games, wins) VALUES (?, ?, ?, ?)", tables[1].insertSQL())
}

func TestParseSignature(t *testing.T) {
	assert.Equal(t, []int{3047, 3053, 6630}, parseSignature("3047-3053-6630"))
	assert.Nil(t, parseSignature(""))
}

// newLocalTurso runs the Turso client over an in-memory SQLite database,
// which speaks the same dialect
func newLocalTurso(t *testing.T) *TursoClient {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	c := newTursoClient(sqlDB)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestTursoClient_PublishReplacesTables(t *testing.T) {
	ctx := context.Background()
	c := newLocalTurso(t)

	require.NoError(t, c.Publish(ctx, sampleArtifacts()))

	patch, matches, err := c.DataVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "15.24", patch)
	assert.Equal(t, 3, matches)

	builds, err := c.TopBuilds(ctx, 266, "TOP", 10)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, sampleArtifacts().Builds, builds)

	// a second publish replaces rather than accumulates
	next := sampleArtifacts()
	next.Patch = "15.25"
	next.Builds = next.Builds[:1]
	require.NoError(t, c.Publish(ctx, next))

	builds, err = c.TopBuilds(ctx, 266, "TOP", 10)
	require.NoError(t, err)
	assert.Len(t, builds, 1)

	var n int
	require.NoError(t, c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_champions`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestTursoClient_EmptyBuild(t *testing.T) {
	ctx := context.Background()
	c := newLocalTurso(t)
	require.NoError(t, c.Publish(ctx, &aggregate.Artifacts{Patch: "15.24"}))
	builds, err := c.TopBuilds(ctx, 266, "TOP", 10)
	require.NoError(t, err)
	assert.Empty(t, builds)
}

type fakePublisher struct {
	name  string
	err   error
	calls atomic.Int32
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(ctx context.Context, art *aggregate.Artifacts) error {
	f.calls.Add(1)
	return f.err
}

func TestPublishAll_FailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("connection reset")
	ok := &fakePublisher{name: "ok"}
	bad := &fakePublisher{name: "bad", err: boom}
	also := &fakePublisher{name: "also"}

	err := PublishAll(context.Background(), discardLogger(), sampleArtifacts(), ok, bad, also)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "publish to bad")
	assert.EqualValues(t, 1, ok.calls.Load())
	assert.EqualValues(t, 1, also.calls.Load())
}

func TestPublishAll_NoPublishers(t *testing.T) {
	assert.NoError(t, PublishAll(context.Background(), discardLogger(), sampleArtifacts()))
}

// TestPostgresPublisher_Integration needs a real database:
// TEST_DATABASE_URL=postgres://... go test ./internal/db/
func TestPostgresPublisher_Integration(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	p, err := NewPostgres(ctx, dbURL)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(ctx, sampleArtifacts()))
	builds, err := p.LatestBuilds(ctx, 266, "TOP", 5)
	require.NoError(t, err)
	assert.Equal(t, sampleArtifacts().Builds, builds)

	best, worst, err := p.Matchups(ctx, 266, "TOP", 1, 5)
	require.NoError(t, err)
	assert.Len(t, best, 1)
	assert.Len(t, worst, 1)

	patch, matches, err := p.PublishedPatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "15.24", patch)
	assert.EqualValues(t, 3, matches)
}
