package db

import (
	"context"

	"match-ingest/internal/aggregate"
)

// LatestBuilds returns the most played builds of the published patch for a
// champion in a role
func (p *PostgresPublisher) LatestBuilds(ctx context.Context, championID int, role string, limit int) ([]aggregate.BuildRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT b.champion_id, b.champion_name, b.role, b.signature, b.spell1, b.spell2, b.games, b.wins
		FROM build_popularity b
		JOIN data_version v ON v.id = 1 AND v.patch = b.patch
		WHERE b.champion_id = $1 AND b.role = $2
		ORDER BY b.games DESC, b.wins DESC, b.signature ASC
		LIMIT $3
	`, championID, role, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []aggregate.BuildRow
	for rows.Next() {
		var b aggregate.BuildRow
		var champ, s1, s2, games, wins int64
		if err := rows.Scan(&champ, &b.ChampionName, &b.Role, &b.Signature, &s1, &s2, &games, &wins); err != nil {
			return nil, err
		}
		b.ChampionID = int(champ)
		b.Spells = [2]int{int(s1), int(s2)}
		b.Games, b.Wins = int(games), int(wins)
		b.Items = parseSignature(b.Signature)
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// Matchups returns a champion's best and worst lane matchups by win rate,
// ignoring pairs with fewer than minGames
func (p *PostgresPublisher) Matchups(ctx context.Context, championID int, role string, minGames, limit int) (best, worst []aggregate.MatchupRow, err error) {
	query := func(order string) ([]aggregate.MatchupRow, error) {
		rows, err := p.pool.Query(ctx, `
			SELECT champion_id, role, enemy_champion_id, games, wins
			FROM champion_matchups
			WHERE champion_id = $1 AND role = $2 AND games >= $3
			ORDER BY (wins::float / games::float) `+order+`, games DESC, enemy_champion_id ASC
			LIMIT $4
		`, championID, role, minGames, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []aggregate.MatchupRow
		for rows.Next() {
			var champ, enemy, games, wins int64
			var m aggregate.MatchupRow
			if err := rows.Scan(&champ, &m.Role, &enemy, &games, &wins); err != nil {
				return nil, err
			}
			m.ChampionID, m.EnemyChampionID = int(champ), int(enemy)
			m.Games, m.Wins = int(games), int(wins)
			out = append(out, m)
		}
		return out, rows.Err()
	}

	if best, err = query("DESC"); err != nil {
		return nil, nil, err
	}
	if worst, err = query("ASC"); err != nil {
		return nil, nil, err
	}
	return best, worst, nil
}

// PublishedPatch returns the patch and match count of the last publish
func (p *PostgresPublisher) PublishedPatch(ctx context.Context) (string, int64, error) {
	var patch string
	var matches int64
	err := p.pool.QueryRow(ctx, `SELECT patch, matches FROM data_version WHERE id = 1`).Scan(&patch, &matches)
	return patch, matches, err
}
