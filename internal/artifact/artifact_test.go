package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"match-ingest/internal/aggregate"
)

var generated = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleArtifacts() *aggregate.Artifacts {
	return &aggregate.Artifacts{
		Patch:   "15.24",
		Matches: 3,
		Builds: []aggregate.BuildRow{
			{ChampionID: 266, ChampionName: "Aatrox", Role: "TOP", Signature: "3047-3053-6630", Items: []int{3047, 3053, 6630}, Spells: [2]int{4, 12}, Games: 2, Wins: 1},
			{ChampionID: 86, ChampionName: "Garen", Role: "TOP", Signature: "3047-3078", Items: []int{3047, 3078}, Spells: [2]int{4, 14}, Games: 1, Wins: 1},
		},
		Items: []aggregate.ItemUsageRow{
			{ItemID: 3047, Games: 3, Wins: 2, TopChampions: []aggregate.ChampionUsage{{ChampionID: 266, Games: 2, Wins: 1}, {ChampionID: 86, Games: 1, Wins: 1}}},
		},
		Champions: []aggregate.ChampionTierRow{
			{ChampionID: 266, ChampionName: "Aatrox", Role: "TOP", Games: 2, Wins: 1, WinRate: 0.5, PickRate: 0.6667, Tier: "A"},
		},
		Matchups: []aggregate.MatchupRow{
			{ChampionID: 266, Role: "TOP", EnemyChampionID: 86, Games: 2, Wins: 1},
		},
	}
}

func TestWriteJSON_WritesTablesAndManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := WriteJSON(dir, sampleArtifacts(), generated)
	require.NoError(t, err)

	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, "15.24", m.Patch)
	assert.Equal(t, "15.21", m.MinPatch)
	assert.Equal(t, "2026-03-01T12:00:00Z", m.GeneratedAt)
	require.Len(t, m.Files, 4)

	builds, ok := m.File(BuildsFile)
	require.True(t, ok)
	assert.Equal(t, 2, builds.Rows)
	assert.Len(t, builds.SHA256, 64)

	for _, name := range []string{BuildsFile, ItemsFile, ChampionsFile, MatchupsFile, ManifestFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "no temp files left behind")
}

func TestWriteJSON_TablesAreReproducible(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	_, err := WriteJSON(dirA, sampleArtifacts(), generated)
	require.NoError(t, err)
	_, err = WriteJSON(dirB, sampleArtifacts(), generated.Add(time.Hour))
	require.NoError(t, err)

	for _, name := range []string{BuildsFile, ItemsFile, ChampionsFile, MatchupsFile} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(dirB, name))
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), name)
	}
}

func TestWriteJSON_EmptyTablesAreArrays(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteJSON(dir, &aggregate.Artifacts{Patch: "15.24"}, generated)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, BuildsFile))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestMinPatch(t *testing.T) {
	cases := map[string]string{
		"15.24": "15.21",
		"15.4":  "15.1",
		"15.2":  "14.23",
		"":      "",
		"dev":   "dev",
	}
	for in, want := range cases {
		assert.Equal(t, want, MinPatch(in), in)
	}
}

func TestWriteParquet_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	files, err := WriteParquet(dir, sampleArtifacts())
	require.NoError(t, err)
	assert.Len(t, files, 4)

	builds, err := parquet.ReadFile[buildRecord](filepath.Join(dir, BuildsParquet))
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, buildRecord{
		Patch: "15.24", ChampionID: 266, ChampionName: "Aatrox", Role: "TOP",
		Signature: "3047-3053-6630", Spell1: 4, Spell2: 12, Games: 2, Wins: 1,
	}, builds[0])

	items, err := parquet.ReadFile[itemRecord](filepath.Join(dir, ItemsParquet))
	require.NoError(t, err)
	require.Len(t, items, 2, "one record per top champion")
	assert.Equal(t, int64(1), items[0].Rank)
	assert.Equal(t, int64(86), items[1].ChampionID)
}

func TestReader_NothingLoadedIsAnError(t *testing.T) {
	r := NewReader(t.TempDir(), nil)
	_, err := r.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Nil(t, r.Current())
	assert.Empty(t, r.TopBuilds(266, "top", 5))
}

func TestReader_LoadsAndQueries(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteJSON(dir, sampleArtifacts(), generated)
	require.NoError(t, err)

	r := NewReader(dir, nil)
	snap, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, "15.24", snap.Manifest.Patch)
	assert.Equal(t, sampleArtifacts().Builds, snap.Builds)

	builds := r.TopBuilds(266, "top", 5)
	require.Len(t, builds, 1)
	assert.Equal(t, "3047-3053-6630", builds[0].Signature)

	tier, ok := r.ChampionTier(266, "Top")
	require.True(t, ok)
	assert.Equal(t, "A", tier.Tier)
	assert.Len(t, r.Matchups(266, "TOP"), 1)
}

func TestReader_KeepsStaleSnapshotOnCorruption(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteJSON(dir, sampleArtifacts(), generated)
	require.NoError(t, err)

	r := NewReader(dir, nil)
	first, err := r.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, BuildsFile), []byte("[]\n"), 0644))
	second, err := r.Load()
	require.NoError(t, err, "stale data beats an error")
	assert.Same(t, first, second)
	assert.Len(t, r.TopBuilds(266, "top", 5), 1)

	require.NoError(t, os.Remove(filepath.Join(dir, ManifestFile)))
	third, err := r.Load()
	require.NoError(t, err)
	assert.Same(t, first, third)
}

func TestRoleToPosition(t *testing.T) {
	assert.Equal(t, "MIDDLE", RoleToPosition("mid"))
	assert.Equal(t, "BOTTOM", RoleToPosition("adc"))
	assert.Equal(t, "UTILITY", RoleToPosition("support"))
	assert.Equal(t, "JUNGLE", RoleToPosition("JUNGLE"))
}
