// Package artifact writes the aggregated tables for the presentation layer
// and reads them back without ever surfacing an ingestion failure.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"match-ingest/internal/aggregate"
)

const (
	BuildsFile    = "build_popularity.json"
	ItemsFile     = "item_usage.json"
	ChampionsFile = "champion_tiers.json"
	MatchupsFile  = "matchups.json"
	ManifestFile  = "manifest.json"

	// ManifestVersion is bumped when a table layout changes
	ManifestVersion = 1

	// patches kept by consumers that prune old rows
	patchWindow = 3
)

// FileEntry describes one written table
type FileEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Rows   int    `json:"rows"`
}

// Manifest lists the tables of one build so readers can verify them
type Manifest struct {
	Version     int         `json:"version"`
	Patch       string      `json:"patch"`
	MinPatch    string      `json:"min_patch"`
	Matches     int         `json:"matches"`
	GeneratedAt string      `json:"generated_at"`
	Files       []FileEntry `json:"files"`
}

// File returns the entry for name
func (m *Manifest) File(name string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileEntry{}, false
}

type table struct {
	name string
	rows any
	n    int
}

func tables(art *aggregate.Artifacts) []table {
	return []table{
		{BuildsFile, nonNil(art.Builds), len(art.Builds)},
		{ItemsFile, nonNil(art.Items), len(art.Items)},
		{ChampionsFile, nonNil(art.Champions), len(art.Champions)},
		{MatchupsFile, nonNil(art.Matchups), len(art.Matchups)},
	}
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

// WriteJSON writes every table and then the manifest into dir. The tables
// carry no timestamps, so the same corpus always produces the same bytes.
func WriteJSON(dir string, art *aggregate.Artifacts, generatedAt time.Time) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest := &Manifest{
		Version:     ManifestVersion,
		Patch:       art.Patch,
		MinPatch:    MinPatch(art.Patch),
		Matches:     art.Matches,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
	}

	for _, t := range tables(art) {
		data, err := json.MarshalIndent(t.rows, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t.name, err)
		}
		data = append(data, '\n')
		if err := writeAtomic(filepath.Join(dir, t.name), data); err != nil {
			return nil, fmt.Errorf("write %s: %w", t.name, err)
		}
		sum := sha256.Sum256(data)
		manifest.Files = append(manifest.Files, FileEntry{Name: t.name, SHA256: hex.EncodeToString(sum[:]), Rows: t.n})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, ManifestFile), append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// MinPatch returns the oldest patch consumers should keep, three patches
// back with year rollover (15.2 -> 14.23)
func MinPatch(patch string) string {
	major, minor, ok := strings.Cut(patch, ".")
	if !ok {
		return patch
	}
	ma, err1 := strconv.Atoi(major)
	mi, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil {
		return patch
	}
	mi -= patchWindow
	for mi < 1 {
		mi += 24
		ma--
	}
	return fmt.Sprintf("%d.%d", ma, mi)
}
