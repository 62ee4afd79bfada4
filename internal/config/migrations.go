package config

import (
	"fmt"
	"strings"
)

// migrations is the ordered list of idempotent DDL statements. Types are
// restricted to ones both SQLite and Postgres accept.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS admin_users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_by TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES admin_users(id) ON DELETE CASCADE,
		session_token TEXT UNIQUE NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_name TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		key_suffix TEXT NOT NULL,
		environment TEXT NOT NULL DEFAULT 'live',
		scopes_json TEXT NOT NULL DEFAULT '[]',
		created_by TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		last_used_at TIMESTAMP,
		usage_count BIGINT NOT NULL DEFAULT 0,
		usage_window_start TIMESTAMP,
		usage_window_count BIGINT NOT NULL DEFAULT 0,
		expires_at TIMESTAMP,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		notes TEXT,
		rotated_from_key_id TEXT,
		grace_period_expires_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'info',
		created_by_user TEXT,
		created_by_api_key TEXT,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_active ON api_keys(is_active, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_grace ON api_keys(grace_period_expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_event_type ON activity_log(event_type)`,
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ADD COLUMN on an existing column is a no-op for re-runs.
			if strings.Contains(err.Error(), "duplicate column") ||
				strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
