package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema for the local replica. Applied by the migrate command; every
// statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		model_id    TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT 'local',
		device_id   TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		metadata    JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks (updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)`,
	`CREATE TABLE IF NOT EXISTS earnings (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		amount     NUMERIC(18,8) NOT NULL CHECK (amount >= 0),
		task_id    TEXT NOT NULL DEFAULT '',
		device_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_earnings_updated_at ON earnings (updated_at)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		device_id      TEXT NOT NULL,
		sync_type      TEXT NOT NULL,
		last_sync_time TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (device_id, sync_type)
	)`,
}

// Migrate applies the schema to the local store.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
