package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(150) NOT NULL,
		email VARCHAR(254) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_staff BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT users_username_key UNIQUE (username)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email) WHERE email <> ''`,
	`CREATE TABLE IF NOT EXISTS identity_mappings (
		id BIGSERIAL PRIMARY KEY,
		local_account_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		external_subject_id VARCHAR(255) NOT NULL,
		external_email VARCHAR(254) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		last_authenticated_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		CONSTRAINT identity_mappings_local_account_key UNIQUE (local_account_id),
		CONSTRAINT identity_mappings_subject_key UNIQUE (external_subject_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_identity_mappings_email ON identity_mappings (external_email)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		account_id BIGINT,
		username VARCHAR(150) NOT NULL DEFAULT '',
		subject VARCHAR(255) NOT NULL DEFAULT '',
		strategy VARCHAR(50) NOT NULL DEFAULT '',
		reason VARCHAR(50) NOT NULL DEFAULT '',
		resource_type VARCHAR(50) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_account ON audit_events (account_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username VARCHAR(150) NOT NULL UNIQUE,
		email VARCHAR(254) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		is_staff BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email) WHERE email <> ''`,
	`CREATE TABLE IF NOT EXISTS identity_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		local_account_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		external_subject_id VARCHAR(255) NOT NULL UNIQUE,
		external_email VARCHAR(254) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		last_authenticated_at TIMESTAMP,
		is_active BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_identity_mappings_email ON identity_mappings (external_email)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		account_id INTEGER,
		username VARCHAR(150) NOT NULL DEFAULT '',
		subject VARCHAR(255) NOT NULL DEFAULT '',
		strategy VARCHAR(50) NOT NULL DEFAULT '',
		reason VARCHAR(50) NOT NULL DEFAULT '',
		resource_type VARCHAR(50) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_account ON audit_events (account_id)`,
}

// Migrate creates the users, identity_mappings and audit_events tables if
// they do not exist
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var statements []string
	switch driver {
	case DriverPostgres:
		statements = postgresSchema
	case DriverSQLite:
		statements = sqliteSchema
	default:
		return fmt.Errorf("unsupported database driver: %s", driver)
	}

	return RunInTx(ctx, db, func(tx *sql.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}
