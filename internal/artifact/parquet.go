package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"match-ingest/internal/aggregate"
)

const (
	BuildsParquet    = "build_popularity.parquet"
	ItemsParquet     = "item_usage.parquet"
	ChampionsParquet = "champion_tiers.parquet"
	MatchupsParquet  = "matchups.parquet"
)

type buildRecord struct {
	Patch        string `parquet:"patch"`
	ChampionID   int64  `parquet:"champion_id"`
	ChampionName string `parquet:"champion_name"`
	Role         string `parquet:"role"`
	Signature    string `parquet:"signature"`
	Spell1       int64  `parquet:"spell1"`
	Spell2       int64  `parquet:"spell2"`
	Games        int64  `parquet:"games"`
	Wins         int64  `parquet:"wins"`
}

// itemRecord flattens an item row: one record per top champion
type itemRecord struct {
	Patch         string `parquet:"patch"`
	ItemID        int64  `parquet:"item_id"`
	Games         int64  `parquet:"games"`
	Wins          int64  `parquet:"wins"`
	Rank          int64  `parquet:"rank"`
	ChampionID    int64  `parquet:"champion_id"`
	ChampionGames int64  `parquet:"champion_games"`
	ChampionWins  int64  `parquet:"champion_wins"`
}

type championRecord struct {
	Patch        string  `parquet:"patch"`
	ChampionID   int64   `parquet:"champion_id"`
	ChampionName string  `parquet:"champion_name"`
	Role         string  `parquet:"role"`
	Games        int64   `parquet:"games"`
	Wins         int64   `parquet:"wins"`
	WinRate      float64 `parquet:"win_rate"`
	PickRate     float64 `parquet:"pick_rate"`
	Tier         string  `parquet:"tier"`
}

type matchupRecord struct {
	Patch           string `parquet:"patch"`
	ChampionID      int64  `parquet:"champion_id"`
	Role            string `parquet:"role"`
	EnemyChampionID int64  `parquet:"enemy_champion_id"`
	Games           int64  `parquet:"games"`
	Wins            int64  `parquet:"wins"`
}

// WriteParquet writes the tables as zstd-compressed parquet files into dir
// and returns the written file names
func WriteParquet(dir string, art *aggregate.Artifacts) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	builds := make([]buildRecord, 0, len(art.Builds))
	for _, b := range art.Builds {
		builds = append(builds, buildRecord{
			Patch:        art.Patch,
			ChampionID:   int64(b.ChampionID),
			ChampionName: b.ChampionName,
			Role:         b.Role,
			Signature:    b.Signature,
			Spell1:       int64(b.Spells[0]),
			Spell2:       int64(b.Spells[1]),
			Games:        int64(b.Games),
			Wins:         int64(b.Wins),
		})
	}

	var items []itemRecord
	for _, it := range art.Items {
		for rank, c := range it.TopChampions {
			items = append(items, itemRecord{
				Patch:         art.Patch,
				ItemID:        int64(it.ItemID),
				Games:         int64(it.Games),
				Wins:          int64(it.Wins),
				Rank:          int64(rank + 1),
				ChampionID:    int64(c.ChampionID),
				ChampionGames: int64(c.Games),
				ChampionWins:  int64(c.Wins),
			})
		}
	}

	champions := make([]championRecord, 0, len(art.Champions))
	for _, c := range art.Champions {
		champions = append(champions, championRecord{
			Patch:        art.Patch,
			ChampionID:   int64(c.ChampionID),
			ChampionName: c.ChampionName,
			Role:         c.Role,
			Games:        int64(c.Games),
			Wins:         int64(c.Wins),
			WinRate:      c.WinRate,
			PickRate:     c.PickRate,
			Tier:         c.Tier,
		})
	}

	matchups := make([]matchupRecord, 0, len(art.Matchups))
	for _, m := range art.Matchups {
		matchups = append(matchups, matchupRecord{
			Patch:           art.Patch,
			ChampionID:      int64(m.ChampionID),
			Role:            m.Role,
			EnemyChampionID: int64(m.EnemyChampionID),
			Games:           int64(m.Games),
			Wins:            int64(m.Wins),
		})
	}

	if err := writeParquet(filepath.Join(dir, BuildsParquet), builds); err != nil {
		return nil, err
	}
	if err := writeParquet(filepath.Join(dir, ItemsParquet), items); err != nil {
		return nil, err
	}
	if err := writeParquet(filepath.Join(dir, ChampionsParquet), champions); err != nil {
		return nil, err
	}
	if err := writeParquet(filepath.Join(dir, MatchupsParquet), matchups); err != nil {
		return nil, err
	}
	return []string{BuildsParquet, ItemsParquet, ChampionsParquet, MatchupsParquet}, nil
}

func writeParquet[T any](path string, rows []T) error {
	err := writeAtomicFunc(path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[T](w, parquet.Compression(&parquet.Zstd))
		if _, err := pw.Write(rows); err != nil {
			_ = pw.Close()
			return err
		}
		return pw.Close()
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
