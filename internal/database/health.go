// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

const healthColumns = `source, state, last_success_at, last_error_at, last_error, consecutive_failures, disabled_at, updated_at`

// GetSourceHealth returns the stored health of source, or the initial
// Unknown record when the source never ran.
func (db *DB) GetSourceHealth(ctx context.Context, source string) (models.SourceHealth, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	h, err := scanHealth(db.conn.QueryRowContext(ctx, `SELECT `+healthColumns+` FROM source_health WHERE source = ?`, source))
	metrics.RecordDBQuery("SELECT", "source_health", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewSourceHealth(source), nil
	}
	if err != nil {
		return models.SourceHealth{}, fmt.Errorf("failed to get source health: %w", err)
	}
	return h, nil
}

// SaveSourceHealth upserts the health record of one source.
func (db *DB) SaveSourceHealth(ctx context.Context, h models.SourceHealth) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = db.now()
	}

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO source_health (`+healthColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			state = excluded.state,
			last_success_at = excluded.last_success_at,
			last_error_at = excluded.last_error_at,
			last_error = excluded.last_error,
			consecutive_failures = excluded.consecutive_failures,
			disabled_at = excluded.disabled_at,
			updated_at = excluded.updated_at`,
		h.Source, string(h.State), nullTime(h.LastSuccessAt), nullTime(h.LastErrorAt), nullString(h.LastError),
		h.ConsecutiveFailures, nullTime(h.DisabledAt), h.UpdatedAt.UTC())
	metrics.RecordDBQuery("UPSERT", "source_health", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save source health: %w", err)
	}
	return nil
}

// ListSourceHealth returns every stored health record ordered by source.
func (db *DB) ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+healthColumns+` FROM source_health ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list source health: %w", err)
	}
	defer rows.Close()

	var out []models.SourceHealth
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source health: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHealth(row rowScanner) (models.SourceHealth, error) {
	var (
		h                                  models.SourceHealth
		state                              string
		lastSuccess, lastErrorAt, disabled sql.NullTime
		lastError                          sql.NullString
	)
	err := row.Scan(&h.Source, &state, &lastSuccess, &lastErrorAt, &lastError, &h.ConsecutiveFailures, &disabled, &h.UpdatedAt)
	if err != nil {
		return models.SourceHealth{}, err
	}
	h.State = models.HealthState(state)
	h.LastError = lastError.String
	h.UpdatedAt = h.UpdatedAt.UTC()
	h.LastSuccessAt = timePtr(lastSuccess)
	h.LastErrorAt = timePtr(lastErrorAt)
	h.DisabledAt = timePtr(disabled)
	return h, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
