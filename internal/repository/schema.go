package repository

import (
	"database/sql"
	"fmt"
)

// schemaStatements 建表语句。样本/聚合/规则都通过外键 ON DELETE CASCADE
// 跟随设备删除。
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS terrariums (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		uuid UUID NOT NULL UNIQUE,
		device_token_hash TEXT NOT NULL,
		hc_url TEXT NOT NULL DEFAULT '',
		hc_delay_minutes INT NOT NULL DEFAULT 0,
		hc_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		hc_last_triggered_at TIMESTAMPTZ,
		hc_secret_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_terrariums_owner ON terrariums (owner_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS samples (
		id BIGSERIAL PRIMARY KEY,
		terrarium_id UUID NOT NULL REFERENCES terrariums(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL DEFAULT '',
		ts TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		unit TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_terrarium_ts ON samples (terrarium_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_terrarium_type_ts ON samples (terrarium_id, type, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples (ts)`,

	`CREATE TABLE IF NOT EXISTS aggregate_hourly (
		terrarium_id UUID NOT NULL REFERENCES terrariums(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		hour TIMESTAMPTZ NOT NULL,
		sample_count BIGINT NOT NULL,
		avg_value DOUBLE PRECISION NOT NULL,
		min_value DOUBLE PRECISION NOT NULL,
		max_value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (terrarium_id, type, hour)
	)`,

	`CREATE TABLE IF NOT EXISTS aggregate_daily (
		terrarium_id UUID NOT NULL REFERENCES terrariums(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		day TIMESTAMPTZ NOT NULL,
		sample_count BIGINT NOT NULL,
		avg_value DOUBLE PRECISION NOT NULL,
		min_value DOUBLE PRECISION NOT NULL,
		max_value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (terrarium_id, type, day)
	)`,

	`CREATE TABLE IF NOT EXISTS aggregate_hour_of_day (
		terrarium_id UUID NOT NULL REFERENCES terrariums(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		hour_of_day INT NOT NULL,
		sample_count BIGINT NOT NULL,
		avg_value DOUBLE PRECISION NOT NULL,
		min_value DOUBLE PRECISION NOT NULL,
		max_value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (terrarium_id, type, hour_of_day)
	)`,

	`CREATE TABLE IF NOT EXISTS webhooks (
		id UUID PRIMARY KEY,
		terrarium_id UUID NOT NULL REFERENCES terrariums(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		metric TEXT NOT NULL,
		comparator TEXT NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		cooldown_sec INT NOT NULL DEFAULT 900,
		last_triggered_at TIMESTAMPTZ,
		secret_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhooks_terrarium_metric ON webhooks (terrarium_id, metric)`,
}

// EnsureSchema 建表与索引。由 main 显式调用一次，
// 不做包级 once 状态。
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
