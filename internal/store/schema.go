package store

import (
	"context"
	"fmt"
)

// schema is written in the subset of SQL shared by SQLite and Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS checkins (
		id BIGINT PRIMARY KEY,
		visit_date TEXT NOT NULL,
		visit_time TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		latitude TEXT NOT NULL DEFAULT '',
		longitude TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkins_agent_date ON checkins(agent_id, visit_date, visit_time)`,
	`CREATE TABLE IF NOT EXISTS prospects (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		group_code TEXT NOT NULL DEFAULT '',
		subgroup_code TEXT NOT NULL DEFAULT '',
		created_date TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prospects_scope ON prospects(company, group_code, subgroup_code)`,
	`CREATE TABLE IF NOT EXISTS product_images (
		product_code TEXT PRIMARY KEY,
		image_url TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS commissions (
		agent_code TEXT PRIMARY KEY,
		percent DOUBLE PRECISION NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

// Migrate creates every table the service reads or writes. It is safe to
// run repeatedly.
func Migrate(ctx context.Context, q Querier) error {
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
