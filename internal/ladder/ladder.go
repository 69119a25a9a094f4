// Package ladder seeds the crawl from a ranked leaderboard
package ladder

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"match-ingest/internal/config"
	"match-ingest/internal/ratelimit"
	"match-ingest/internal/riot"
)

// maxPagesPerDivision bounds paging below master. A division page holds
// about 200 entries.
const maxPagesPerDivision = 50

// LeagueSource is the part of the upstream API the bootstrap reads
type LeagueSource interface {
	ApexLeague(ctx context.Context, tier, queue string) ([]riot.LeagueEntry, error)
	LeagueEntries(ctx context.Context, queue, tier, division string, page int) ([]riot.LeagueEntry, error)
	SummonerByID(ctx context.Context, summonerID string) (*riot.Summoner, error)
}

// Admitter is consulted before every upstream request
type Admitter interface {
	Admit(ctx context.Context) error
}

type Bootstrapper struct {
	source LeagueSource
	gate   Admitter
	logger *slog.Logger
}

type Option func(*Bootstrapper)

func WithGate(g Admitter) Option {
	return func(b *Bootstrapper) { b.gate = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bootstrapper) { b.logger = l }
}

func New(source LeagueSource, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SeedPlayers returns up to maxPlayers player IDs from the tier's ladder,
// strongest first. Entries that fail to resolve are skipped and the next
// entry takes their place, reading further divisions when needed.
func (b *Bootstrapper) SeedPlayers(ctx context.Context, tier, queue string, maxPlayers int) ([]string, error) {
	if maxPlayers <= 0 {
		return nil, &config.ConfigError{Field: "ladder.max_players", Reason: fmt.Sprintf("must be positive, got %d", maxPlayers)}
	}
	tier = strings.ToUpper(tier)
	s := &seeding{want: maxPlayers, seen: make(map[string]struct{}, maxPlayers)}

	if riot.IsApexTier(tier) {
		if err := b.admit(ctx); err != nil {
			return nil, fmt.Errorf("fetch %s %s ladder: %w", tier, queue, err)
		}
		entries, err := b.source.ApexLeague(ctx, tier, queue)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s ladder: %w", tier, queue, err)
		}
		if err := b.take(ctx, s, entries); err != nil {
			return s.players, err
		}
		b.logSeeded(tier, queue, s)
		return s.players, nil
	}

	if _, ok := riot.TierOrder[tier]; !ok {
		return nil, &config.ConfigError{Field: "ladder.tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}
	// Each division is read in full and sorted before anyone is taken from
	// it. Lower divisions only fill the places still open.
	for _, division := range riot.Divisions {
		if s.full() {
			break
		}
		entries, err := b.divisionEntries(ctx, tier, queue, division)
		if err != nil {
			return s.players, fmt.Errorf("fetch %s %s %s ladder: %w", tier, division, queue, err)
		}
		if err := b.take(ctx, s, entries); err != nil {
			return s.players, err
		}
	}
	b.logSeeded(tier, queue, s)
	return s.players, nil
}

// seeding accumulates resolved players across ladder reads
type seeding struct {
	want    int
	players []string
	seen    map[string]struct{}
	entries int
	skipped int
}

func (s *seeding) full() bool { return len(s.players) >= s.want }

// take sorts entries and resolves them in order until s is full
func (b *Bootstrapper) take(ctx context.Context, s *seeding, entries []riot.LeagueEntry) error {
	SortEntries(entries)
	s.entries += len(entries)
	for _, e := range entries {
		if s.full() {
			return nil
		}
		puuid, err := b.resolve(ctx, e)
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			s.skipped++
			b.logger.Warn("ladder_entry_skipped",
				"summoner_id", e.SummonerID, "status", riot.StatusOf(err), "error", err)
			continue
		}
		if _, dup := s.seen[puuid]; dup {
			continue
		}
		s.seen[puuid] = struct{}{}
		s.players = append(s.players, puuid)
	}
	return nil
}

func (b *Bootstrapper) logSeeded(tier, queue string, s *seeding) {
	b.logger.Info("ladder_seeded",
		"tier", tier, "queue", queue, "entries", s.entries, "players", len(s.players), "skipped", s.skipped)
}

// divisionEntries reads every page of one division, up to maxPagesPerDivision
func (b *Bootstrapper) divisionEntries(ctx context.Context, tier, queue, division string) ([]riot.LeagueEntry, error) {
	var entries []riot.LeagueEntry
	for page := 1; page <= maxPagesPerDivision; page++ {
		if err := b.admit(ctx); err != nil {
			return nil, err
		}
		batch, err := b.source.LeagueEntries(ctx, queue, tier, division, page)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			if e.Tier == "" {
				e.Tier = tier
			}
			if e.Rank == "" {
				e.Rank = division
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (b *Bootstrapper) resolve(ctx context.Context, e riot.LeagueEntry) (string, error) {
	if e.PUUID != "" {
		return e.PUUID, nil
	}
	if e.SummonerID == "" {
		return "", errors.New("entry has neither puuid nor summoner id")
	}
	if err := b.admit(ctx); err != nil {
		return "", err
	}
	s, err := b.source.SummonerByID(ctx, e.SummonerID)
	if err != nil {
		return "", err
	}
	if s.PUUID == "" {
		return "", fmt.Errorf("summoner %s resolved without puuid", e.SummonerID)
	}
	return s.PUUID, nil
}

func (b *Bootstrapper) admit(ctx context.Context) error {
	if b.gate == nil {
		return nil
	}
	return b.gate.Admit(ctx)
}

// fatal errors end the bootstrap rather than skip one entry. An upstream
// timeout is not fatal; only ctx decides cancellation.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ratelimit.ErrQuotaDenied) ||
		errors.Is(err, ratelimit.ErrStoreUnavailable) ||
		riot.IsUnauthorized(err)
}

// SortEntries orders entries strongest first: tier, division and LP
// descending, then wins descending, then ID ascending.
func SortEntries(entries []riot.LeagueEntry) {
	slices.SortStableFunc(entries, func(a, b riot.LeagueEntry) int {
		if c := cmp.Compare(riot.RankScore(b.Tier, b.Rank, b.LeaguePoints), riot.RankScore(a.Tier, a.Rank, a.LeaguePoints)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Wins, a.Wins); c != 0 {
			return c
		}
		return cmp.Compare(entryID(a), entryID(b))
	})
}

func entryID(e riot.LeagueEntry) string {
	if e.PUUID != "" {
		return e.PUUID
	}
	return e.SummonerID
}
