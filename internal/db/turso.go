package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"match-ingest/internal/aggregate"
)

// TursoClient publishes the tables to a Turso (libsql) database
type TursoClient struct {
	db  *sql.DB
	now func() time.Time
}

var tursoSchema = []string{
	`CREATE TABLE IF NOT EXISTS data_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		patch TEXT NOT NULL,
		matches INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS build_popularity (
		patch TEXT NOT NULL,
		champion_id INTEGER NOT NULL,
		champion_name TEXT NOT NULL,
		role TEXT NOT NULL,
		signature TEXT NOT NULL,
		spell1 INTEGER NOT NULL,
		spell2 INTEGER NOT NULL,
		games INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		PRIMARY KEY (patch, champion_id, role, signature)
	)`,
	`CREATE TABLE IF NOT EXISTS item_usage (
		patch TEXT NOT NULL,
		item_id INTEGER NOT NULL,
		games INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		PRIMARY KEY (patch, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS item_champions (
		patch TEXT NOT NULL,
		item_id INTEGER NOT NULL,
		rank INTEGER NOT NULL,
		champion_id INTEGER NOT NULL,
		games INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		PRIMARY KEY (patch, item_id, rank)
	)`,
	`CREATE TABLE IF NOT EXISTS champion_tiers (
		patch TEXT NOT NULL,
		champion_id INTEGER NOT NULL,
		champion_name TEXT NOT NULL,
		role TEXT NOT NULL,
		games INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		pick_rate REAL NOT NULL,
		tier TEXT NOT NULL,
		PRIMARY KEY (patch, champion_id, role)
	)`,
	`CREATE TABLE IF NOT EXISTS champion_matchups (
		patch TEXT NOT NULL,
		champion_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		enemy_champion_id INTEGER NOT NULL,
		games INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		PRIMARY KEY (patch, champion_id, role, enemy_champion_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_build_popularity_champ_role ON build_popularity(champion_id, role)`,
	`CREATE INDEX IF NOT EXISTS idx_champion_tiers_role ON champion_tiers(role)`,
	`CREATE INDEX IF NOT EXISTS idx_champion_matchups_champ_role ON champion_matchups(champion_id, role)`,
}

// NewTursoClient connects and pings. The auth token travels in the DSN and
// is never logged.
func NewTursoClient(ctx context.Context, url, authToken string) (*TursoClient, error) {
	connStr := url
	if authToken != "" {
		connStr = fmt.Sprintf("%s?authToken=%s", url, authToken)
	}

	db, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Turso: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Turso: %w", err)
	}

	return newTursoClient(db), nil
}

func newTursoClient(db *sql.DB) *TursoClient {
	return &TursoClient{db: db, now: time.Now}
}

// Name identifies the publisher in logs
func (c *TursoClient) Name() string { return "turso" }

// Close closes the Turso connection
func (c *TursoClient) Close() error {
	return c.db.Close()
}

// CreateTables creates the required tables if they don't exist
func (c *TursoClient) CreateTables(ctx context.Context) error {
	for _, query := range tursoSchema {
		if _, err := c.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Publish replaces every table with the build in one transaction and
// records the patch in data_version
func (c *TursoClient) Publish(ctx context.Context, art *aggregate.Artifacts) error {
	if err := c.CreateTables(ctx); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range flatten(art) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t.name); err != nil {
			return fmt.Errorf("failed to clear %s: %w", t.name, err)
		}
		if len(t.rows) == 0 {
			continue
		}
		stmt, err := tx.PrepareContext(ctx, t.insertSQL())
		if err != nil {
			return fmt.Errorf("prepare %s: %w", t.name, err)
		}
		for _, row := range t.rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				stmt.Close()
				return fmt.Errorf("insert %s: %w", t.name, err)
			}
		}
		stmt.Close()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO data_version (id, patch, matches, updated_at) VALUES (1, ?, ?, ?)`,
		art.Patch, art.Matches, c.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set data version: %w", err)
	}
	return tx.Commit()
}

// DataVersion returns the published patch and match count
func (c *TursoClient) DataVersion(ctx context.Context) (string, int, error) {
	var patch string
	var matches int
	err := c.db.QueryRowContext(ctx, `SELECT patch, matches FROM data_version WHERE id = 1`).Scan(&patch, &matches)
	if err != nil {
		return "", 0, err
	}
	return patch, matches, nil
}

// TopBuilds returns the most played builds for a champion in a role
func (c *TursoClient) TopBuilds(ctx context.Context, championID int, role string, limit int) ([]aggregate.BuildRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT champion_id, champion_name, role, signature, spell1, spell2, games, wins
		FROM build_popularity
		WHERE champion_id = ? AND role = ?
		ORDER BY games DESC, wins DESC, signature ASC
		LIMIT ?
	`, championID, role, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []aggregate.BuildRow
	for rows.Next() {
		var b aggregate.BuildRow
		if err := rows.Scan(&b.ChampionID, &b.ChampionName, &b.Role, &b.Signature, &b.Spells[0], &b.Spells[1], &b.Games, &b.Wins); err != nil {
			return nil, err
		}
		b.Items = parseSignature(b.Signature)
		out = append(out, b)
	}
	return out, rows.Err()
}
