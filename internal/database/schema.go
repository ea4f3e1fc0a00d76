package database

import "fmt"

// schemaStatements defines the full schema, applied in order on startup.
// The UNIQUE indexes on event_key, idempotency_key and dedupe_key are the
// dedup safety net: two ticks racing to insert the same record cannot both
// succeed, regardless of application-level checks.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		is_global INTEGER NOT NULL DEFAULT 0,
		condition_kind TEXT NOT NULL,
		condition_payload TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		profile_id TEXT,
		last_stage TEXT,
		last_price REAL,
		last_volume_ratio REAL,
		last_observed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_rules_user ON alert_rules(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(enabled)`,

	`CREATE TABLE IF NOT EXISTS alert_events (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		event_key TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		price REAL NOT NULL,
		price_from_high REAL NOT NULL,
		volume_ratio REAL NOT NULL,
		resistance REAL NOT NULL,
		stop_loss REAL NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_alert_events_key ON alert_events(event_key)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_user ON alert_events(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS automation_profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		webhook_url TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'OFF',
		enabled INTEGER NOT NULL DEFAULT 1,
		is_default INTEGER NOT NULL DEFAULT 0,
		min_score REAL,
		allowed_strategies TEXT,
		allowed_symbols TEXT,
		allowed_watchlists TEXT,
		window_start TEXT,
		window_end TEXT,
		max_per_day INTEGER,
		cooldown_minutes INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_automation_profiles_user ON automation_profiles(user_id)`,

	`CREATE TABLE IF NOT EXISTS automation_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		profile_id TEXT,
		idempotency_key TEXT NOT NULL,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT NOT NULL,
		price REAL NOT NULL,
		target_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		score REAL,
		sent INTEGER NOT NULL DEFAULT 0,
		delivery_error TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_automation_events_key ON automation_events(idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_automation_events_profile ON automation_events(profile_id, decision, created_at)`,

	`CREATE TABLE IF NOT EXISTS opportunities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		dedupe_key TEXT NOT NULL,
		detected_at INTEGER NOT NULL,
		detection_price REAL NOT NULL,
		resistance REAL NOT NULL,
		stop_loss REAL NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		max_price_after REAL NOT NULL,
		min_price_after REAL NOT NULL,
		favorable_move_pct REAL NOT NULL DEFAULT 0,
		adverse_move_pct REAL NOT NULL DEFAULT 0,
		bars_tracked INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		outcome TEXT,
		resolution_reason TEXT,
		active_minutes INTEGER,
		resolved_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_opportunities_dedupe_key ON opportunities(dedupe_key)`,
	`CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(user_id, status)`,
}

// Migrate applies the schema statements
func (db *DB) Migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
