// Package aggregate folds the cached match corpus into the build, item,
// champion tier and matchup tables. A build is a pure function of the corpus:
// every table is recomputed from scratch and explicitly sorted.
package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"match-ingest/internal/metrics"
	"match-ingest/internal/riot"
)

const defaultTopChampions = 5

// Corpus is anything that can replay the cached matches
type Corpus interface {
	Walk(ctx context.Context, fn func(*riot.MatchResponse) error) error
}

// Aggregator holds the filters applied while folding the corpus
type Aggregator struct {
	Queues       []int  // empty allows every queue
	Patch        string // "15.24", PatchLatest, or empty to keep every patch
	TopChampions int    // champions kept per item row, default 5
	MinTierGames int    // rows below this are not ranked
	Logger       *slog.Logger
}

// BuildRow is one (champion, role, item set) with its results
type BuildRow struct {
	ChampionID   int    `json:"championId"`
	ChampionName string `json:"championName"`
	Role         string `json:"role"`
	Signature    string `json:"signature"`
	Items        []int  `json:"items"`
	Spells       [2]int `json:"spells"`
	Games        int    `json:"games"`
	Wins         int    `json:"wins"`
}

// ChampionUsage is one champion's share of an item
type ChampionUsage struct {
	ChampionID int `json:"championId"`
	Games      int `json:"games"`
	Wins       int `json:"wins"`
}

// ItemUsageRow is the total usage of one item plus its top champions
type ItemUsageRow struct {
	ItemID       int             `json:"itemId"`
	Games        int             `json:"games"`
	Wins         int             `json:"wins"`
	TopChampions []ChampionUsage `json:"topChampions"`
}

// ChampionTierRow is one champion in one role
type ChampionTierRow struct {
	ChampionID   int     `json:"championId"`
	ChampionName string  `json:"championName"`
	Role         string  `json:"role"`
	Games        int     `json:"games"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"winRate"`
	PickRate     float64 `json:"pickRate"`
	Tier         string  `json:"tier"`
}

// MatchupRow is a champion's record against the opposing laner
type MatchupRow struct {
	ChampionID      int    `json:"championId"`
	Role            string `json:"role"`
	EnemyChampionID int    `json:"enemyChampionId"`
	Games           int    `json:"games"`
	Wins            int    `json:"wins"`
}

// Artifacts is the full output of one build
type Artifacts struct {
	Patch     string
	Matches   int
	Builds    []BuildRow
	Items     []ItemUsageRow
	Champions []ChampionTierRow
	Matchups  []MatchupRow
}

type buildKey struct {
	champion  int
	role      string
	signature string
}

type champKey struct {
	champion int
	role     string
}

type itemChampKey struct {
	item     int
	champion int
}

type matchupKey struct {
	champion int
	role     string
	enemy    int
}

type tally struct {
	games int
	wins  int
}

func (t *tally) add(win bool) {
	t.games++
	if win {
		t.wins++
	}
}

type buildTally struct {
	tally
	items  []int
	spells map[[2]int]int
}

// fold accumulates one build. Every field is order independent so the result
// does not depend on the corpus walk order.
type fold struct {
	seen      map[string]bool
	matches   int
	patch     string
	names     map[int]string
	builds    map[buildKey]*buildTally
	items     map[int]*tally
	itemChamp map[itemChampKey]*tally
	champs    map[champKey]*tally
	matchups  map[matchupKey]*tally
}

func newFold() *fold {
	return &fold{
		seen:      make(map[string]bool),
		names:     make(map[int]string),
		builds:    make(map[buildKey]*buildTally),
		items:     make(map[int]*tally),
		itemChamp: make(map[itemChampKey]*tally),
		champs:    make(map[champKey]*tally),
		matchups:  make(map[matchupKey]*tally),
	}
}

// PatchLatest restricts a build to the newest patch present in the corpus
const PatchLatest = "latest"

// Build walks the corpus once and returns the sorted tables. With
// PatchLatest it walks twice: once to find the newest patch.
func (a *Aggregator) Build(ctx context.Context, corpus Corpus) (*Artifacts, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	start := time.Now()

	patch := a.Patch
	if patch == PatchLatest {
		latest, err := a.latestPatch(ctx, corpus)
		if err != nil {
			return nil, err
		}
		patch = latest
		logger.Debug("aggregate_patch_resolved", "patch", patch)
	}

	f := newFold()
	skipped := 0
	err := corpus.Walk(ctx, func(m *riot.MatchResponse) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !a.accept(m, patch) {
			skipped++
			return nil
		}
		f.addMatch(m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}

	art := &Artifacts{
		Patch:     patch,
		Matches:   f.matches,
		Builds:    f.buildRows(),
		Items:     f.itemRows(a.topChampions()),
		Champions: f.championRows(a.MinTierGames),
		Matchups:  f.matchupRows(),
	}
	if art.Patch == "" {
		art.Patch = f.patch
	}

	metrics.RunDuration.WithLabelValues("aggregate").Observe(time.Since(start).Seconds())
	logger.Info("aggregate_built",
		"patch", art.Patch,
		"matches", art.Matches,
		"skipped", skipped,
		"builds", len(art.Builds),
		"items", len(art.Items),
		"champions", len(art.Champions),
		"matchups", len(art.Matchups))
	return art, nil
}

func (a *Aggregator) topChampions() int {
	if a.TopChampions <= 0 {
		return defaultTopChampions
	}
	return a.TopChampions
}

func (a *Aggregator) accept(m *riot.MatchResponse, patch string) bool {
	if m == nil || m.Metadata.MatchID == "" {
		return false
	}
	if len(a.Queues) > 0 && !slices.Contains(a.Queues, m.Info.QueueID) {
		return false
	}
	if patch != "" && riot.NormalizePatch(m.Info.GameVersion) != patch {
		return false
	}
	return true
}

// latestPatch returns the highest patch among matches in the allowed
// queues, or "" for an empty corpus
func (a *Aggregator) latestPatch(ctx context.Context, corpus Corpus) (string, error) {
	latest := ""
	err := corpus.Walk(ctx, func(m *riot.MatchResponse) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !a.accept(m, "") {
			return nil
		}
		if p := riot.NormalizePatch(m.Info.GameVersion); p != "" && ComparePatch(p, latest) > 0 {
			latest = p
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan corpus patches: %w", err)
	}
	return latest, nil
}

func (f *fold) addMatch(m *riot.MatchResponse) {
	if f.seen[m.Metadata.MatchID] {
		return
	}
	f.seen[m.Metadata.MatchID] = true
	f.matches++

	if p := riot.NormalizePatch(m.Info.GameVersion); p != "" && ComparePatch(p, f.patch) > 0 {
		f.patch = p
	}

	byRole := make(map[string][]riot.Participant)
	for _, p := range m.Info.Participants {
		f.addParticipant(p)
		if p.TeamPosition != "" {
			byRole[p.TeamPosition] = append(byRole[p.TeamPosition], p)
		}
	}

	// lane matchups need exactly one player per side
	for role, players := range byRole {
		if len(players) != 2 || players[0].Win == players[1].Win {
			continue
		}
		a, b := players[0], players[1]
		f.matchup(matchupKey{a.ChampionID, role, b.ChampionID}).add(a.Win)
		f.matchup(matchupKey{b.ChampionID, role, a.ChampionID}).add(b.Win)
	}
}

// addParticipant folds item usage for every participant. Champion and build
// rows are per role, so participants without one (ARAM, arena) skip them.
func (f *fold) addParticipant(p riot.Participant) {
	if p.ChampionName != "" {
		if cur, ok := f.names[p.ChampionID]; !ok || p.ChampionName < cur {
			f.names[p.ChampionID] = p.ChampionName
		}
	}

	items := CompletedItems(p.Items())
	for _, item := range items {
		if f.items[item] == nil {
			f.items[item] = &tally{}
		}
		f.items[item].add(p.Win)
		ik := itemChampKey{item, p.ChampionID}
		if f.itemChamp[ik] == nil {
			f.itemChamp[ik] = &tally{}
		}
		f.itemChamp[ik].add(p.Win)
	}

	if p.TeamPosition == "" {
		return
	}
	ck := champKey{p.ChampionID, p.TeamPosition}
	if f.champs[ck] == nil {
		f.champs[ck] = &tally{}
	}
	f.champs[ck].add(p.Win)

	if len(items) == 0 {
		return
	}
	bk := buildKey{p.ChampionID, p.TeamPosition, Signature(items)}
	bt := f.builds[bk]
	if bt == nil {
		bt = &buildTally{items: items, spells: make(map[[2]int]int)}
		f.builds[bk] = bt
	}
	bt.add(p.Win)
	bt.spells[spellPair(p.Summoner1ID, p.Summoner2ID)]++
}

func (f *fold) matchup(k matchupKey) *tally {
	t := f.matchups[k]
	if t == nil {
		t = &tally{}
		f.matchups[k] = t
	}
	return t
}

// CompletedItems returns the completed items of an inventory, deduped and
// sorted ascending
func CompletedItems(inventory []int) []int {
	out := make([]int, 0, len(inventory))
	for _, id := range inventory {
		if riot.IsCompletedItem(id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Signature is the canonical key of an item set: sorted, deduped ids joined
// with "-". Acquisition order does not matter.
func Signature(items []int) string {
	sorted := slices.Clone(items)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "-")
}

func spellPair(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// topSpells returns the most frequent pair; ties go to the smallest pair
func topSpells(counts map[[2]int]int) [2]int {
	var best [2]int
	bestN := -1
	for pair, n := range counts {
		if n > bestN || (n == bestN && comparePair(pair, best) < 0) {
			best, bestN = pair, n
		}
	}
	return best
}

func comparePair(a, b [2]int) int {
	if c := cmp.Compare(a[0], b[0]); c != 0 {
		return c
	}
	return cmp.Compare(a[1], b[1])
}

// byGames orders rows by games desc, then wins desc
func byGames(ga, wa, gb, wb int) int {
	if c := cmp.Compare(gb, ga); c != 0 {
		return c
	}
	return cmp.Compare(wb, wa)
}

func (f *fold) buildRows() []BuildRow {
	rows := make([]BuildRow, 0, len(f.builds))
	for k, t := range f.builds {
		rows = append(rows, BuildRow{
			ChampionID:   k.champion,
			ChampionName: f.names[k.champion],
			Role:         k.role,
			Signature:    k.signature,
			Items:        slices.Clone(t.items),
			Spells:       topSpells(t.spells),
			Games:        t.games,
			Wins:         t.wins,
		})
	}
	slices.SortFunc(rows, func(a, b BuildRow) int {
		return cmp.Or(
			byGames(a.Games, a.Wins, b.Games, b.Wins),
			cmp.Compare(a.ChampionID, b.ChampionID),
			cmp.Compare(a.Role, b.Role),
			cmp.Compare(a.Signature, b.Signature),
		)
	})
	return rows
}

func (f *fold) itemRows(top int) []ItemUsageRow {
	perItem := make(map[int][]ChampionUsage)
	for k, t := range f.itemChamp {
		perItem[k.item] = append(perItem[k.item], ChampionUsage{ChampionID: k.champion, Games: t.games, Wins: t.wins})
	}

	rows := make([]ItemUsageRow, 0, len(f.items))
	for id, t := range f.items {
		champs := perItem[id]
		slices.SortFunc(champs, func(a, b ChampionUsage) int {
			return cmp.Or(
				byGames(a.Games, a.Wins, b.Games, b.Wins),
				cmp.Compare(a.ChampionID, b.ChampionID),
			)
		})
		if len(champs) > top {
			champs = champs[:top]
		}
		rows = append(rows, ItemUsageRow{ItemID: id, Games: t.games, Wins: t.wins, TopChampions: champs})
	}
	slices.SortFunc(rows, func(a, b ItemUsageRow) int {
		return cmp.Or(
			byGames(a.Games, a.Wins, b.Games, b.Wins),
			cmp.Compare(a.ItemID, b.ItemID),
		)
	})
	return rows
}

func (f *fold) championRows(minGames int) []ChampionTierRow {
	rows := make([]ChampionTierRow, 0, len(f.champs))
	for k, t := range f.champs {
		row := ChampionTierRow{
			ChampionID:   k.champion,
			ChampionName: f.names[k.champion],
			Role:         k.role,
			Games:        t.games,
			Wins:         t.wins,
			WinRate:      ratio(t.wins, t.games),
			PickRate:     ratio(t.games, f.matches),
			Tier:         TierUnranked,
		}
		rows = append(rows, row)
	}
	assignTiers(rows, minGames)
	slices.SortFunc(rows, func(a, b ChampionTierRow) int {
		return cmp.Or(
			byGames(a.Games, a.Wins, b.Games, b.Wins),
			cmp.Compare(a.ChampionID, b.ChampionID),
			cmp.Compare(a.Role, b.Role),
		)
	})
	return rows
}

func (f *fold) matchupRows() []MatchupRow {
	rows := make([]MatchupRow, 0, len(f.matchups))
	for k, t := range f.matchups {
		rows = append(rows, MatchupRow{
			ChampionID:      k.champion,
			Role:            k.role,
			EnemyChampionID: k.enemy,
			Games:           t.games,
			Wins:            t.wins,
		})
	}
	slices.SortFunc(rows, func(a, b MatchupRow) int {
		return cmp.Or(
			byGames(a.Games, a.Wins, b.Games, b.Wins),
			cmp.Compare(a.ChampionID, b.ChampionID),
			cmp.Compare(a.Role, b.Role),
			cmp.Compare(a.EnemyChampionID, b.EnemyChampionID),
		)
	})
	return rows
}

// ratio rounds to four decimals so the encoded tables stay stable
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10000) / 10000
}

// ComparePatch orders "major.minor" patch strings numerically. An empty
// patch sorts first.
func ComparePatch(a, b string) int {
	am, an := splitPatch(a)
	bm, bn := splitPatch(b)
	return cmp.Or(cmp.Compare(am, bm), cmp.Compare(an, bn), cmp.Compare(a, b))
}

func splitPatch(p string) (int, int) {
	major, minor, _ := strings.Cut(p, ".")
	ma, err := strconv.Atoi(major)
	if err != nil {
		return -1, -1
	}
	mi, _ := strconv.Atoi(minor)
	return ma, mi
}
