package riot

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var apexPaths = map[string]string{
	"CHALLENGER":  "challengerleagues",
	"GRANDMASTER": "grandmasterleagues",
	"MASTER":      "masterleagues",
}

// IsApexTier reports whether tier is served by the single-list league endpoints
func IsApexTier(tier string) bool {
	_, ok := apexPaths[strings.ToUpper(tier)]
	return ok
}

// ApexLeague fetches the full challenger, grandmaster or master ladder for a queue.
// Entries come back with Tier filled in from the list.
func (c *Client) ApexLeague(ctx context.Context, tier, queue string) ([]LeagueEntry, error) {
	tier = strings.ToUpper(tier)
	p, ok := apexPaths[tier]
	if !ok {
		return nil, fmt.Errorf("riot: %q is not an apex tier", tier)
	}
	u := fmt.Sprintf("%s/lol/league/v4/%s/by-queue/%s", c.platformURL, p, url.PathEscape(queue))

	var list LeagueList
	if err := c.FetchJSON(ctx, u, &list, FetchOptions{Endpoint: "league"}); err != nil {
		return nil, err
	}
	entries := make([]LeagueEntry, 0, len(list.Entries))
	for _, e := range list.Entries {
		e.Tier = tier
		if e.QueueType == "" {
			e.QueueType = list.Queue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LeagueEntries fetches one page of a tier/division below master.
// Pages are 1-based; an empty page means the division is exhausted.
func (c *Client) LeagueEntries(ctx context.Context, queue, tier, division string, page int) ([]LeagueEntry, error) {
	if page < 1 {
		page = 1
	}
	u := fmt.Sprintf("%s/lol/league/v4/entries/%s/%s/%s?page=%s",
		c.platformURL, url.PathEscape(queue), url.PathEscape(strings.ToUpper(tier)),
		url.PathEscape(strings.ToUpper(division)), strconv.Itoa(page))

	var entries []LeagueEntry
	if err := c.FetchJSON(ctx, u, &entries, FetchOptions{Endpoint: "league"}); err != nil {
		return nil, err
	}
	return entries, nil
}

// SummonerByID resolves an encrypted summoner ID to its summoner record (and PUUID)
func (c *Client) SummonerByID(ctx context.Context, summonerID string) (*Summoner, error) {
	u := fmt.Sprintf("%s/lol/summoner/v4/summoners/%s", c.platformURL, url.PathEscape(summonerID))

	var s Summoner
	if err := c.FetchJSON(ctx, u, &s, FetchOptions{Endpoint: "summoner"}); err != nil {
		return nil, err
	}
	return &s, nil
}

// LeagueEntriesByPUUID returns a player's ranked entries, used by rankcheck
func (c *Client) LeagueEntriesByPUUID(ctx context.Context, puuid string) ([]LeagueEntry, error) {
	u := fmt.Sprintf("%s/lol/league/v4/entries/by-puuid/%s", c.platformURL, url.PathEscape(puuid))

	var entries []LeagueEntry
	if err := c.FetchJSON(ctx, u, &entries, FetchOptions{Endpoint: "league"}); err != nil {
		return nil, err
	}
	return entries, nil
}
