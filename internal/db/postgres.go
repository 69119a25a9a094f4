package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"match-ingest/internal/aggregate"
)

// PostgresPublisher replaces the tables in a Postgres database with COPY
type PostgresPublisher struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS data_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		patch TEXT NOT NULL,
		matches BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS build_popularity (
		patch TEXT NOT NULL,
		champion_id BIGINT NOT NULL,
		champion_name TEXT NOT NULL,
		role TEXT NOT NULL,
		signature TEXT NOT NULL,
		spell1 BIGINT NOT NULL,
		spell2 BIGINT NOT NULL,
		games BIGINT NOT NULL,
		wins BIGINT NOT NULL,
		PRIMARY KEY (patch, champion_id, role, signature)
	)`,
	`CREATE TABLE IF NOT EXISTS item_usage (
		patch TEXT NOT NULL,
		item_id BIGINT NOT NULL,
		games BIGINT NOT NULL,
		wins BIGINT NOT NULL,
		PRIMARY KEY (patch, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS item_champions (
		patch TEXT NOT NULL,
		item_id BIGINT NOT NULL,
		rank BIGINT NOT NULL,
		champion_id BIGINT NOT NULL,
		games BIGINT NOT NULL,
		wins BIGINT NOT NULL,
		PRIMARY KEY (patch, item_id, rank)
	)`,
	`CREATE TABLE IF NOT EXISTS champion_tiers (
		patch TEXT NOT NULL,
		champion_id BIGINT NOT NULL,
		champion_name TEXT NOT NULL,
		role TEXT NOT NULL,
		games BIGINT NOT NULL,
		wins BIGINT NOT NULL,
		win_rate DOUBLE PRECISION NOT NULL,
		pick_rate DOUBLE PRECISION NOT NULL,
		tier TEXT NOT NULL,
		PRIMARY KEY (patch, champion_id, role)
	)`,
	`CREATE TABLE IF NOT EXISTS champion_matchups (
		patch TEXT NOT NULL,
		champion_id BIGINT NOT NULL,
		role TEXT NOT NULL,
		enemy_champion_id BIGINT NOT NULL,
		games BIGINT NOT NULL,
		wins BIGINT NOT NULL,
		PRIMARY KEY (patch, champion_id, role, enemy_champion_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_build_popularity_champ_role ON build_popularity(champion_id, role)`,
	`CREATE INDEX IF NOT EXISTS idx_champion_matchups_champ_role ON champion_matchups(champion_id, role)`,
}

// NewPostgres creates a connection pool and pings the database
func NewPostgres(ctx context.Context, dbURL string) (*PostgresPublisher, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresPublisher{pool: pool, now: time.Now}, nil
}

// Name identifies the publisher in logs
func (p *PostgresPublisher) Name() string { return "postgres" }

// Close closes the database connection pool
func (p *PostgresPublisher) Close() {
	p.pool.Close()
}

// CreateTables creates the required tables if they don't exist
func (p *PostgresPublisher) CreateTables(ctx context.Context) error {
	for _, query := range postgresSchema {
		if _, err := p.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Publish truncates and reloads every table in a single transaction, so
// readers see either the previous build or this one
func (p *PostgresPublisher) Publish(ctx context.Context, art *aggregate.Artifacts) error {
	if err := p.CreateTables(ctx); err != nil {
		return err
	}

	tables := flatten(art)
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		names := make([]string, 0, len(tables))
		for _, t := range tables {
			names = append(names, t.name)
		}
		if _, err := tx.Exec(ctx, "TRUNCATE "+joinIdents(names)); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}

		for _, t := range tables {
			if len(t.rows) == 0 {
				continue
			}
			n, err := tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns, pgx.CopyFromRows(t.rows))
			if err != nil {
				return fmt.Errorf("copy %s: %w", t.name, err)
			}
			if int(n) != len(t.rows) {
				return fmt.Errorf("copy %s: wrote %d of %d rows", t.name, n, len(t.rows))
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO data_version (id, patch, matches, updated_at) VALUES (1, $1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET patch = EXCLUDED.patch, matches = EXCLUDED.matches, updated_at = EXCLUDED.updated_at
		`, art.Patch, art.Matches, p.now().UTC())
		if err != nil {
			return fmt.Errorf("set data version: %w", err)
		}
		return nil
	})
}

func joinIdents(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += pgx.Identifier{n}.Sanitize()
	}
	return out
}
