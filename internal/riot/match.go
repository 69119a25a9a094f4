package riot

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
)

// MatchListQuery pages through a player's match history
type MatchListQuery struct {
	Start     int
	Count     int
	Queue     int   // 0 = any queue
	StartTime int64 // epoch seconds, 0 = no recency floor
}

func (q MatchListQuery) values() url.Values {
	v := url.Values{}
	v.Set("start", strconv.Itoa(q.Start))
	v.Set("count", strconv.Itoa(q.Count))
	if q.Queue > 0 {
		v.Set("queue", strconv.Itoa(q.Queue))
	}
	if q.StartTime > 0 {
		v.Set("startTime", strconv.FormatInt(q.StartTime, 10))
	}
	return v
}

// MatchIDs lists match IDs for a player, newest first
func (c *Client) MatchIDs(ctx context.Context, puuid string, q MatchListQuery) ([]string, error) {
	u := fmt.Sprintf("%s/lol/match/v5/matches/by-puuid/%s/ids?%s",
		c.regionalURL, url.PathEscape(puuid), q.values().Encode())

	var matchIDs []string
	if err := c.FetchJSON(ctx, u, &matchIDs, FetchOptions{Endpoint: "match_ids"}); err != nil {
		return nil, err
	}
	return matchIDs, nil
}

// Match fetches match details
func (c *Client) Match(ctx context.Context, matchID string) (*MatchResponse, error) {
	u := fmt.Sprintf("%s/lol/match/v5/matches/%s", c.regionalURL, url.PathEscape(matchID))

	var body json.RawMessage
	if err := c.FetchJSON(ctx, u, &body, FetchOptions{Endpoint: "match"}); err != nil {
		return nil, err
	}
	var match MatchResponse
	if err := json.Unmarshal(body, &match); err != nil {
		return nil, &APIError{Kind: KindBadResponse, Path: redactedPath(u), Status: 200, Err: fmt.Errorf("decode match: %w", err)}
	}
	match.Raw = body
	if match.Metadata.MatchID == "" {
		match.Metadata.MatchID = matchID
	}
	return &match, nil
}
