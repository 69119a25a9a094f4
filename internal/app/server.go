package app

import (
	"cmp"
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"match-ingest/internal/aggregate"
	"match-ingest/internal/artifact"
)

const defaultLimit = 10

// Server is the read-only API over the published artifacts. Once a snapshot
// has loaded, a failed refresh keeps serving it.
type Server struct {
	reader *artifact.Reader
	logger *slog.Logger
}

func NewServer(reader *artifact.Reader, logger *slog.Logger) *Server {
	return &Server{reader: reader, logger: logger}
}

// Handler routes the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/manifest", s.handleManifest)
	mux.HandleFunc("GET /api/builds", s.handleBuilds)
	mux.HandleFunc("GET /api/items", s.handleItems)
	mux.HandleFunc("GET /api/champions", s.handleChampion)
	mux.HandleFunc("GET /api/matchups", s.handleMatchups)
	return mux
}

// Watch reloads the snapshot every interval until ctx is cancelled
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if _, err := s.reader.Load(); err != nil {
		s.logger.Warn("artifact_initial_load_failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.reader.Load()
		}
	}
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	snap := s.reader.Current()
	if snap == nil {
		http.Error(w, "no data published yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap.Manifest)
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	champID, position, ok := championQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, nonNil(s.reader.TopBuilds(champID, position, limitQuery(r))))
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	snap := s.reader.Current()
	if snap == nil {
		writeJSON(w, []aggregate.ItemUsageRow{})
		return
	}
	items := snap.Items
	if n := limitQuery(r); len(items) > n {
		items = items[:n]
	}
	writeJSON(w, items)
}

func (s *Server) handleChampion(w http.ResponseWriter, r *http.Request) {
	champID, position, ok := championQuery(w, r)
	if !ok {
		return
	}
	row, found := s.reader.ChampionTier(champID, position)
	if !found {
		http.Error(w, "champion not found", http.StatusNotFound)
		return
	}
	writeJSON(w, row)
}

func (s *Server) handleMatchups(w http.ResponseWriter, r *http.Request) {
	champID, position, ok := championQuery(w, r)
	if !ok {
		return
	}
	minGames, _ := strconv.Atoi(r.URL.Query().Get("min_games"))
	best, worst := splitMatchups(s.reader.Matchups(champID, position), minGames, limitQuery(r))
	writeJSON(w, map[string]any{
		"best":  best,
		"worst": worst,
	})
}

// splitMatchups returns the n best and n worst matchups by win rate among
// those with at least minGames games
func splitMatchups(rows []aggregate.MatchupRow, minGames, n int) (best, worst []aggregate.MatchupRow) {
	var eligible []aggregate.MatchupRow
	for _, m := range rows {
		if m.Games > 0 && m.Games >= minGames {
			eligible = append(eligible, m)
		}
	}
	byRate := func(a, b aggregate.MatchupRow) int {
		// compare wins/games without floats: a.w/a.g vs b.w/b.g
		return cmp.Or(
			cmp.Compare(b.Wins*a.Games, a.Wins*b.Games),
			cmp.Compare(b.Games, a.Games),
			cmp.Compare(a.EnemyChampionID, b.EnemyChampionID),
		)
	}
	slices.SortFunc(eligible, byRate)
	best = slices.Clone(eligible[:min(n, len(eligible))])

	slices.Reverse(eligible)
	worst = slices.Clone(eligible[:min(n, len(eligible))])
	return nonNil(best), nonNil(worst)
}

func championQuery(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	champID, err := strconv.Atoi(r.URL.Query().Get("champion"))
	position := r.URL.Query().Get("position")
	if err != nil || position == "" {
		http.Error(w, "champion and position query params required", http.StatusBadRequest)
		return 0, "", false
	}
	return champID, position, true
}

func limitQuery(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultLimit
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
