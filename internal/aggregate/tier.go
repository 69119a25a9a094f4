package aggregate

import (
	"cmp"
	"slices"
)

// TierUnranked marks rows with too few games to rank
const TierUnranked = "-"

// tierCutoffs are upper percentile bounds within a role, best first
var tierCutoffs = []struct {
	below float64
	tier  string
}{
	{0.10, "S"},
	{0.30, "A"},
	{0.60, "B"},
	{0.85, "C"},
	{1.01, "D"},
}

// assignTiers labels each row by its win-rate rank among the ranked rows of
// the same role
func assignTiers(rows []ChampionTierRow, minGames int) {
	byRole := make(map[string][]int)
	for i, r := range rows {
		if r.Games < minGames || r.Games == 0 {
			continue
		}
		byRole[r.Role] = append(byRole[r.Role], i)
	}

	for _, idx := range byRole {
		slices.SortFunc(idx, func(a, b int) int {
			ra, rb := rows[a], rows[b]
			return cmp.Or(
				cmp.Compare(rb.WinRate, ra.WinRate),
				cmp.Compare(rb.Games, ra.Games),
				cmp.Compare(ra.ChampionID, rb.ChampionID),
			)
		})
		n := float64(len(idx))
		for rank, i := range idx {
			rows[i].Tier = tierFor(float64(rank) / n)
		}
	}
}

func tierFor(percentile float64) string {
	for _, c := range tierCutoffs {
		if percentile < c.below {
			return c.tier
		}
	}
	return "D"
}
