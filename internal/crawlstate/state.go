// Package crawlstate holds the crawl's durable memory between runs: which
// matches and players were processed, where each player's pagination stands,
// and which players are still waiting in the frontier.
package crawlstate

import (
	"maps"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
)

// FrontierEntry is one player waiting to be explored. Pending holds match
// IDs from an already listed page that a previous run did not get to.
type FrontierEntry struct {
	PUUID   string   `json:"puuid"`
	Seed    bool     `json:"seed,omitempty"`
	Pending []string `json:"pending,omitempty"`
}

// State is the in-memory crawl state. It is not safe for concurrent use;
// the crawl engine is single-flow.
type State struct {
	seenMatches map[string]struct{}
	seenPlayers map[string]struct{}
	cursors     map[string]int
	failures    map[string]int
	frontier    []FrontierEntry

	// negative-lookup prefilter in front of seenMatches
	matchFilter *bloom.BloomFilter
}

// New returns an empty state
func New() *State {
	return newSized(0)
}

func newSized(expectedMatches int) *State {
	return &State{
		seenMatches: make(map[string]struct{}, expectedMatches),
		seenPlayers: make(map[string]struct{}),
		cursors:     make(map[string]int),
		failures:    make(map[string]int),
		matchFilter: newFilter(expectedMatches),
	}
}

func newFilter(n int) *bloom.BloomFilter {
	// Sized with headroom so a run of new matches does not degrade it
	capacity := uint(n*2 + 100_000)
	return bloom.NewWithEstimates(capacity, 0.001)
}

// HasMatch reports whether matchID has been processed
func (s *State) HasMatch(matchID string) bool {
	if !s.matchFilter.TestString(matchID) {
		return false
	}
	_, ok := s.seenMatches[matchID]
	return ok
}

func (s *State) MarkMatch(matchID string) {
	s.seenMatches[matchID] = struct{}{}
	s.matchFilter.AddString(matchID)
}

// UnmarkMatch forgets matchID so a later run retries it. The bloom filter
// keeps the bit; the exact set decides.
func (s *State) UnmarkMatch(matchID string) {
	delete(s.seenMatches, matchID)
}

func (s *State) HasPlayer(puuid string) bool {
	_, ok := s.seenPlayers[puuid]
	return ok
}

func (s *State) MarkPlayer(puuid string) {
	s.seenPlayers[puuid] = struct{}{}
}

// Cursor is the next listing offset for puuid
func (s *State) Cursor(puuid string) int {
	return s.cursors[puuid]
}

func (s *State) AdvanceCursor(puuid string, by int) {
	s.cursors[puuid] += by
}

// RecordFailure counts a failed fetch of matchID and returns the new total
func (s *State) RecordFailure(matchID string) int {
	s.failures[matchID]++
	return s.failures[matchID]
}

func (s *State) Failures(matchID string) int {
	return s.failures[matchID]
}

func (s *State) ClearFailure(matchID string) {
	delete(s.failures, matchID)
}

// Frontier returns a copy of the persisted frontier
func (s *State) Frontier() []FrontierEntry {
	return cloneFrontier(s.frontier)
}

// SetFrontier replaces the persisted frontier
func (s *State) SetFrontier(entries []FrontierEntry) {
	s.frontier = cloneFrontier(entries)
}

// Counts summarises the state for logs
type Counts struct {
	Matches  int
	Players  int
	Cursors  int
	Frontier int
	Failures int
}

func (s *State) Counts() Counts {
	return Counts{
		Matches:  len(s.seenMatches),
		Players:  len(s.seenPlayers),
		Cursors:  len(s.cursors),
		Frontier: len(s.frontier),
		Failures: len(s.failures),
	}
}

// Clone returns an independent deep copy
func (s *State) Clone() *State {
	c := newSized(len(s.seenMatches))
	for id := range s.seenMatches {
		c.MarkMatch(id)
	}
	c.seenPlayers = maps.Clone(s.seenPlayers)
	c.cursors = maps.Clone(s.cursors)
	c.failures = maps.Clone(s.failures)
	c.frontier = cloneFrontier(s.frontier)
	return c
}

// Equal compares the persisted content of two states
func (s *State) Equal(o *State) bool {
	return maps.Equal(s.seenMatches, o.seenMatches) &&
		maps.Equal(s.seenPlayers, o.seenPlayers) &&
		maps.Equal(s.cursors, o.cursors) &&
		maps.Equal(s.failures, o.failures) &&
		slices.EqualFunc(s.frontier, o.frontier, func(a, b FrontierEntry) bool {
			return a.PUUID == b.PUUID && a.Seed == b.Seed && slices.Equal(a.Pending, b.Pending)
		})
}

// SeenMatchIDs returns the processed match IDs, sorted
func (s *State) SeenMatchIDs() []string {
	return sortedKeys(s.seenMatches)
}

// SeenPlayerIDs returns the processed player IDs, sorted
func (s *State) SeenPlayerIDs() []string {
	return sortedKeys(s.seenPlayers)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func cloneFrontier(in []FrontierEntry) []FrontierEntry {
	if in == nil {
		return nil
	}
	out := make([]FrontierEntry, len(in))
	for i, e := range in {
		out[i] = FrontierEntry{PUUID: e.PUUID, Seed: e.Seed, Pending: slices.Clone(e.Pending)}
	}
	return out
}
