package db

import (
	"strconv"
	"strings"

	"match-ingest/internal/aggregate"
)

// Table names shared by every publisher
const (
	TableBuilds        = "build_popularity"
	TableItems         = "item_usage"
	TableItemChampions = "item_champions"
	TableChampions     = "champion_tiers"
	TableMatchups      = "champion_matchups"
	TableDataVersion   = "data_version"
)

// tableRows is one table flattened into positional rows
type tableRows struct {
	name    string
	columns []string
	rows    [][]any
}

// flatten turns a build into the rows every backend inserts, in table order
func flatten(art *aggregate.Artifacts) []tableRows {
	builds := tableRows{
		name:    TableBuilds,
		columns: []string{"patch", "champion_id", "champion_name", "role", "signature", "spell1", "spell2", "games", "wins"},
	}
	for _, b := range art.Builds {
		builds.rows = append(builds.rows, []any{
			art.Patch, int64(b.ChampionID), b.ChampionName, b.Role, b.Signature,
			int64(b.Spells[0]), int64(b.Spells[1]), int64(b.Games), int64(b.Wins),
		})
	}

	items := tableRows{name: TableItems, columns: []string{"patch", "item_id", "games", "wins"}}
	itemChamps := tableRows{
		name:    TableItemChampions,
		columns: []string{"patch", "item_id", "rank", "champion_id", "games", "wins"},
	}
	for _, it := range art.Items {
		items.rows = append(items.rows, []any{art.Patch, int64(it.ItemID), int64(it.Games), int64(it.Wins)})
		for rank, c := range it.TopChampions {
			itemChamps.rows = append(itemChamps.rows, []any{
				art.Patch, int64(it.ItemID), int64(rank + 1), int64(c.ChampionID), int64(c.Games), int64(c.Wins),
			})
		}
	}

	champs := tableRows{
		name:    TableChampions,
		columns: []string{"patch", "champion_id", "champion_name", "role", "games", "wins", "win_rate", "pick_rate", "tier"},
	}
	for _, c := range art.Champions {
		champs.rows = append(champs.rows, []any{
			art.Patch, int64(c.ChampionID), c.ChampionName, c.Role, int64(c.Games), int64(c.Wins),
			c.WinRate, c.PickRate, c.Tier,
		})
	}

	matchups := tableRows{
		name:    TableMatchups,
		columns: []string{"patch", "champion_id", "role", "enemy_champion_id", "games", "wins"},
	}
	for _, m := range art.Matchups {
		matchups.rows = append(matchups.rows, []any{
			art.Patch, int64(m.ChampionID), m.Role, int64(m.EnemyChampionID), int64(m.Games), int64(m.Wins),
		})
	}

	return []tableRows{builds, items, itemChamps, champs, matchups}
}

func rowCount(tables []tableRows) int {
	n := 0
	for _, t := range tables {
		n += len(t.rows)
	}
	return n
}

// insertSQL builds a "?" placeholder insert for the table
func (t tableRows) insertSQL() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	return "INSERT INTO " + t.name + " (" + strings.Join(t.columns, ", ") + ") VALUES (" + marks + ")"
}

// parseSignature splits a build signature back into item ids
func parseSignature(sig string) []int {
	if sig == "" {
		return nil
	}
	parts := strings.Split(sig, "-")
	items := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		items = append(items, id)
	}
	return items
}
