package crawlstate

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
)

// Document names. Each is stored as its own file or row.
const (
	DocSeenMatches = "seen_matches"
	DocSeenPlayers = "seen_players"
	DocCursors     = "cursors"
	DocFrontier    = "frontier"
	DocFailures    = "match_failures"
)

// Documents lists every document in save order
var Documents = []string{DocSeenMatches, DocSeenPlayers, DocCursors, DocFrontier, DocFailures}

// CurrentVersion is written on save. Version 0 is the legacy bare
// array/object layout without an envelope.
const CurrentVersion = 1

var (
	ErrUnsupportedVersion = errors.New("crawlstate: unsupported document version")
	ErrCorrupt            = errors.New("crawlstate: corrupt document")
)

type envelope struct {
	Version int             `json:"version"`
	Items   json.RawMessage `json:"items"`
}

// Encode renders s as one canonical byte slice per document. Sets are sorted
// and maps are written with sorted keys, so equal states give equal bytes.
func Encode(s *State) (map[string][]byte, error) {
	frontier := s.frontier
	if frontier == nil {
		frontier = []FrontierEntry{}
	}
	items := map[string]any{
		DocSeenMatches: s.SeenMatchIDs(),
		DocSeenPlayers: s.SeenPlayerIDs(),
		DocCursors:     s.cursors,
		DocFrontier:    frontier,
		DocFailures:    s.failures,
	}

	docs := make(map[string][]byte, len(items))
	for _, name := range Documents {
		raw, err := json.Marshal(items[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		body, err := json.Marshal(envelope{Version: CurrentVersion, Items: raw})
		if err != nil {
			return nil, fmt.Errorf("encode %s envelope: %w", name, err)
		}
		docs[name] = append(body, '\n')
	}
	return docs, nil
}

// Decode rebuilds a State from raw documents. Missing or empty documents
// decode as empty.
func Decode(docs map[string][]byte) (*State, error) {
	var (
		matches  []string
		players  []string
		cursors  map[string]int
		frontier []FrontierEntry
		failures map[string]int
	)
	targets := map[string]any{
		DocSeenMatches: &matches,
		DocSeenPlayers: &players,
		DocCursors:     &cursors,
		DocFrontier:    &frontier,
		DocFailures:    &failures,
	}
	for _, name := range Documents {
		if err := decodeDocument(name, docs[name], targets[name]); err != nil {
			return nil, err
		}
	}

	s := newSized(len(matches))
	for _, id := range matches {
		s.MarkMatch(id)
	}
	for _, p := range players {
		s.MarkPlayer(p)
	}
	for p, c := range cursors {
		if c < 0 {
			return nil, fmt.Errorf("%w: %s: negative cursor for %s", ErrCorrupt, DocCursors, p)
		}
		s.cursors[p] = c
	}
	for id, n := range failures {
		s.failures[id] = n
	}
	s.frontier = slices.DeleteFunc(frontier, func(e FrontierEntry) bool { return e.PUUID == "" })
	if len(s.frontier) == 0 {
		s.frontier = nil
	}
	return s, nil
}

func decodeDocument(name string, body []byte, into any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	items := body
	if body[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(body, &probe); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
		}
		if rawVersion, ok := probe["version"]; ok {
			var env envelope
			if err := json.Unmarshal(body, &env); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
			}
			if env.Version > CurrentVersion || env.Version < 0 {
				return fmt.Errorf("%w: %s has version %s", ErrUnsupportedVersion, name, rawVersion)
			}
			items = env.Items
			if len(items) == 0 {
				return nil
			}
		}
	}

	if err := json.Unmarshal(items, into); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return nil
}
