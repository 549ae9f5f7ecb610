// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/eventfold/internal/logging"
)

// Migration is one versioned schema change. Migrations are append-only:
// once released, a migration is never edited or removed.
type Migration struct {
	Version     int
	Name        string
	Description string
	SQL         []string
	AppliedAt   time.Time
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name VARCHAR NOT NULL,
	description VARCHAR,
	applied_at TIMESTAMP NOT NULL
)`

var migrations = []Migration{
	{
		Version:     1,
		Name:        "catalog",
		Description: "Catalog events and their source links",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS catalog_events (
				id VARCHAR PRIMARY KEY,
				source VARCHAR NOT NULL,
				external_id VARCHAR,
				title VARCHAR NOT NULL,
				description VARCHAR,
				start_time TIMESTAMP NOT NULL,
				end_time TIMESTAMP,
				timezone VARCHAR,
				venue_name VARCHAR,
				venue_address VARCHAR,
				venue_city VARCHAR,
				latitude DOUBLE,
				longitude DOUBLE,
				price_min VARCHAR,
				price_max VARCHAR,
				currency VARCHAR,
				category VARCHAR,
				language VARCHAR,
				tags VARCHAR,
				lineup VARCHAR,
				status VARCHAR NOT NULL,
				url VARCHAR,
				modified_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS source_links (
				source VARCHAR NOT NULL,
				external_id VARCHAR NOT NULL,
				catalog_id VARCHAR NOT NULL,
				is_primary BOOLEAN NOT NULL,
				first_seen_at TIMESTAMP NOT NULL,
				last_seen_at TIMESTAMP NOT NULL,
				PRIMARY KEY (source, external_id)
			)`,
		},
	},
	{
		Version:     2,
		Name:        "ledger",
		Description: "Import job ledger and source health",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS import_jobs (
				id VARCHAR PRIMARY KEY,
				source VARCHAR NOT NULL,
				status VARCHAR NOT NULL,
				started_at TIMESTAMP NOT NULL,
				finished_at TIMESTAMP,
				watermark TIMESTAMP NOT NULL,
				created INTEGER NOT NULL DEFAULT 0,
				updated INTEGER NOT NULL DEFAULT 0,
				skipped INTEGER NOT NULL DEFAULT 0,
				errors INTEGER NOT NULL DEFAULT 0,
				error_sample VARCHAR,
				error_message VARCHAR,
				stats VARCHAR
			)`,
			`CREATE TABLE IF NOT EXISTS source_health (
				source VARCHAR PRIMARY KEY,
				state VARCHAR NOT NULL,
				last_success_at TIMESTAMP,
				last_error_at TIMESTAMP,
				last_error VARCHAR,
				consecutive_failures INTEGER NOT NULL DEFAULT 0,
				disabled_at TIMESTAMP,
				updated_at TIMESTAMP NOT NULL
			)`,
		},
	},
}

// migrate applies every migration not yet recorded in schema_migrations.
func (db *DB) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		err := db.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.SQL {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, description, applied_at) VALUES (?, ?, ?, ?)`,
				m.Version, m.Name, m.Description, db.now())
			if err != nil {
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		count++
	}

	if count > 0 {
		logging.Info().Int("applied", count).Msg("Applied database migrations")
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var version int
	if err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
