package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"match-ingest/internal/aggregate"
)

// ErrNoSnapshot is returned only when nothing was ever loaded
var ErrNoSnapshot = errors.New("no artifact snapshot available")

// Snapshot is one verified set of tables
type Snapshot struct {
	Manifest  Manifest
	Builds    []aggregate.BuildRow
	Items     []aggregate.ItemUsageRow
	Champions []aggregate.ChampionTierRow
	Matchups  []aggregate.MatchupRow
	LoadedAt  time.Time
}

// Reader serves the presentation layer. A failed refresh keeps the last good
// snapshot; stale data is preferred to an error.
type Reader struct {
	dir    string
	logger *slog.Logger

	mu   sync.RWMutex
	last *Snapshot
}

// NewReader creates a reader over an output directory
func NewReader(dir string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reader{dir: dir, logger: logger}
}

// Load refreshes from disk. On any read or checksum failure it logs and
// returns the previous snapshot.
func (r *Reader) Load() (*Snapshot, error) {
	snap, err := r.read()
	if err != nil {
		r.mu.RLock()
		last := r.last
		r.mu.RUnlock()
		if last == nil {
			r.logger.Warn("artifact_read_failed", "dir", r.dir, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
		}
		r.logger.Warn("artifact_read_failed", "dir", r.dir, "error", err, "serving_patch", last.Manifest.Patch)
		return last, nil
	}

	r.mu.Lock()
	r.last = snap
	r.mu.Unlock()
	r.logger.Info("artifact_loaded", "patch", snap.Manifest.Patch, "builds", len(snap.Builds))
	return snap, nil
}

// Current returns the last good snapshot, or nil
func (r *Reader) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Reader) read() (*Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(r.dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version > ManifestVersion {
		return nil, fmt.Errorf("manifest version %d is newer than supported %d", m.Version, ManifestVersion)
	}

	snap := &Snapshot{Manifest: m, LoadedAt: time.Now()}
	if err := r.readTable(&m, BuildsFile, &snap.Builds); err != nil {
		return nil, err
	}
	if err := r.readTable(&m, ItemsFile, &snap.Items); err != nil {
		return nil, err
	}
	if err := r.readTable(&m, ChampionsFile, &snap.Champions); err != nil {
		return nil, err
	}
	if err := r.readTable(&m, MatchupsFile, &snap.Matchups); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *Reader) readTable(m *Manifest, name string, out any) error {
	entry, ok := m.File(name)
	if !ok {
		return fmt.Errorf("manifest has no entry for %s", name)
	}
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != entry.SHA256 {
		return fmt.Errorf("%s checksum mismatch: got %s, manifest %s", name, got, entry.SHA256)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// TopBuilds returns up to n builds for a champion in a role, most played first.
// It never fails; with no snapshot the result is empty.
func (r *Reader) TopBuilds(championID int, role string, n int) []aggregate.BuildRow {
	snap := r.Current()
	if snap == nil {
		return nil
	}
	pos := RoleToPosition(role)
	var out []aggregate.BuildRow
	for _, b := range snap.Builds {
		if b.ChampionID == championID && b.Role == pos {
			out = append(out, b)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// ChampionTier returns the tier row for a champion in a role
func (r *Reader) ChampionTier(championID int, role string) (aggregate.ChampionTierRow, bool) {
	snap := r.Current()
	if snap == nil {
		return aggregate.ChampionTierRow{}, false
	}
	pos := RoleToPosition(role)
	for _, c := range snap.Champions {
		if c.ChampionID == championID && c.Role == pos {
			return c, true
		}
	}
	return aggregate.ChampionTierRow{}, false
}

// Matchups returns a champion's lane matchups in a role, most played first
func (r *Reader) Matchups(championID int, role string) []aggregate.MatchupRow {
	snap := r.Current()
	if snap == nil {
		return nil
	}
	pos := RoleToPosition(role)
	var out []aggregate.MatchupRow
	for _, m := range snap.Matchups {
		if m.ChampionID == championID && m.Role == pos {
			out = append(out, m)
		}
	}
	return out
}

// RoleToPosition maps the role names people type onto team positions
func RoleToPosition(role string) string {
	switch strings.ToLower(role) {
	case "top":
		return "TOP"
	case "jungle", "jg":
		return "JUNGLE"
	case "middle", "mid":
		return "MIDDLE"
	case "bottom", "adc", "bot":
		return "BOTTOM"
	case "utility", "support", "sup":
		return "UTILITY"
	default:
		return strings.ToUpper(role)
	}
}
