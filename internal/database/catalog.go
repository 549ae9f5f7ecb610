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
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

const catalogColumns = `id, source, external_id, title, description, start_time, end_time, timezone,
	venue_name, venue_address, venue_city, latitude, longitude,
	price_min, price_max, currency, category, language, tags, lineup,
	status, url, modified_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// FindBySourceIdentity returns the catalog event linked to the exact
// (source, external id) pair, or ErrNotFound.
func (db *DB) FindBySourceIdentity(ctx context.Context, source, externalID string) (*models.CatalogEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+prefixed("e", catalogColumns)+`
		FROM source_links l
		JOIN catalog_events e ON e.id = l.catalog_id
		WHERE l.source = ? AND l.external_id = ?`,
		source, externalID)

	ev, err := scanCatalogEvent(row)
	metrics.RecordDBQuery("SELECT", "source_links", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event by source identity: %w", err)
	}
	return ev, nil
}

// FindCandidatesInWindow returns catalog events starting within ±window of
// start, ordered by start time. Source links are not loaded.
func (db *DB) FindCandidatesInWindow(ctx context.Context, start time.Time, window time.Duration) ([]models.CatalogEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	from, to := start.UTC().Add(-window), start.UTC().Add(window)
	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+catalogColumns+`
		FROM catalog_events
		WHERE start_time BETWEEN ? AND ?
		ORDER BY start_time, id`,
		from, to)
	metrics.RecordDBQuery("SELECT", "catalog_events", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var events []models.CatalogEvent
	for rows.Next() {
		ev, err := scanCatalogEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// CreateEvent inserts a new catalog event and, when the event carries an
// external id, its primary source link.
func (db *DB) CreateEvent(ctx context.Context, ev *models.NormalizedEvent) (*models.CatalogEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := db.now()
	ce := &models.CatalogEvent{
		ID:              uuid.New().String(),
		NormalizedEvent: *ev,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if ce.Status == "" {
		ce.Status = models.StatusScheduled
	}

	cols, err := eventColumnValues(&ce.NormalizedEvent)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		args := append([]any{ce.ID}, cols...)
		args = append(args, ce.CreatedAt, ce.UpdatedAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_events (`+catalogColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...); err != nil {
			return fmt.Errorf("failed to insert catalog event: %w", err)
		}
		return upsertPrimaryLink(ctx, tx, ce.ID, ev.Source, ev.ExternalID, now)
	})
	metrics.RecordDBQuery("INSERT", "catalog_events", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if ev.HasExternalID() {
		ce.Links = []models.SourceLink{{
			CatalogID: ce.ID, Source: ev.Source, ExternalID: ev.ExternalID,
			Primary: true, FirstSeenAt: now, LastSeenAt: now,
		}}
	}
	return ce, nil
}

// UpdateEvent replaces the descriptive fields and provenance of catalog
// event id with ev, links (ev.Source, ev.ExternalID) to it and makes that
// link the primary one.
func (db *DB) UpdateEvent(ctx context.Context, id string, ev *models.NormalizedEvent) (*models.CatalogEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	cols, err := eventColumnValues(ev)
	if err != nil {
		return nil, err
	}
	now := db.now()

	start := time.Now()
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		args := append(cols, now, id)
		res, err := tx.ExecContext(ctx, `
			UPDATE catalog_events SET
				source = ?, external_id = ?, title = ?, description = ?, start_time = ?, end_time = ?, timezone = ?,
				venue_name = ?, venue_address = ?, venue_city = ?, latitude = ?, longitude = ?,
				price_min = ?, price_max = ?, currency = ?, category = ?, language = ?, tags = ?, lineup = ?,
				status = ?, url = ?, modified_at = ?, updated_at = ?
			WHERE id = ?`,
			args...)
		if err != nil {
			return fmt.Errorf("failed to update catalog event: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return upsertPrimaryLink(ctx, tx, id, ev.Source, ev.ExternalID, now)
	})
	metrics.RecordDBQuery("UPDATE", "catalog_events", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return db.GetEvent(ctx, id)
}

// upsertPrimaryLink records (source, externalID) against catalogID and
// demotes every other link of that event.
func upsertPrimaryLink(ctx context.Context, tx *sql.Tx, catalogID, source, externalID string, now time.Time) error {
	if externalID == "" {
		_, err := tx.ExecContext(ctx, `UPDATE source_links SET is_primary = false WHERE catalog_id = ? AND is_primary`, catalogID)
		if err != nil {
			return fmt.Errorf("failed to demote source links: %w", err)
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE source_links SET is_primary = false
		WHERE catalog_id = ? AND is_primary AND NOT (source = ? AND external_id = ?)`,
		catalogID, source, externalID)
	if err != nil {
		return fmt.Errorf("failed to demote source links: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_links (source, external_id, catalog_id, is_primary, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, true, ?, ?)
		ON CONFLICT (source, external_id) DO UPDATE SET
			catalog_id = excluded.catalog_id,
			is_primary = true,
			last_seen_at = excluded.last_seen_at`,
		source, externalID, catalogID, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert source link: %w", err)
	}
	return nil
}

// MarkCancelled sets the status of catalog event id to cancelled.
func (db *DB) MarkCancelled(ctx context.Context, id string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE catalog_events SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusCancelled), db.now(), id)
	metrics.RecordDBQuery("UPDATE", "catalog_events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to mark event cancelled: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTags replaces the tags of catalog event id. Used by enrichment,
// which never touches the other descriptive fields.
func (db *DB) UpdateTags(ctx context.Context, id string, tags []string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	encoded, err := encodeStrings(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE catalog_events SET tags = ?, updated_at = ? WHERE id = ?`,
		encoded, db.now(), id)
	metrics.RecordDBQuery("UPDATE", "catalog_events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent returns one catalog event with its source links.
func (db *DB) GetEvent(ctx context.Context, id string) (*models.CatalogEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_events WHERE id = ?`, id)
	ev, err := scanCatalogEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	links, err := db.linksFor(ctx, id)
	if err != nil {
		return nil, err
	}
	ev.Links = links
	return ev, nil
}

func (db *DB) linksFor(ctx context.Context, catalogID string) ([]models.SourceLink, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT catalog_id, source, external_id, is_primary, first_seen_at, last_seen_at
		FROM source_links
		WHERE catalog_id = ?
		ORDER BY is_primary DESC, first_seen_at, source`,
		catalogID)
	if err != nil {
		return nil, fmt.Errorf("failed to query source links: %w", err)
	}
	defer rows.Close()

	var links []models.SourceLink
	for rows.Next() {
		var l models.SourceLink
		if err := rows.Scan(&l.CatalogID, &l.Source, &l.ExternalID, &l.Primary, &l.FirstSeenAt, &l.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan source link: %w", err)
		}
		l.FirstSeenAt = l.FirstSeenAt.UTC()
		l.LastSeenAt = l.LastSeenAt.UTC()
		links = append(links, l)
	}
	return links, rows.Err()
}

// CountEvents returns the number of catalog events.
func (db *DB) CountEvents(ctx context.Context) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// eventColumnValues returns the bind values for every catalog column
// between id and created_at, in catalogColumns order.
func eventColumnValues(ev *models.NormalizedEvent) ([]any, error) {
	tags, err := encodeStrings(ev.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	lineup, err := encodeStrings(ev.Lineup)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lineup: %w", err)
	}

	var venueName, venueAddress, venueCity, lat, lon any
	if v := ev.Venue; v != nil {
		venueName = nullString(v.Name)
		venueAddress = nullString(v.Address)
		venueCity = nullString(v.City)
		if v.HasCoordinates() {
			lat, lon = *v.Latitude, *v.Longitude
		}
	}

	var priceMin, priceMax, currency any
	if p := ev.Price; p != nil {
		priceMin = nullString(p.Min.String())
		priceMax = nullString(p.Max.String())
		currency = nullString(p.Currency)
	}

	status := ev.Status
	if status == "" {
		status = models.StatusScheduled
	}

	return []any{
		ev.Source, nullString(ev.ExternalID), ev.Title, nullString(ev.Description),
		ev.StartTime.UTC(), nullTime(ev.EndTime), nullString(ev.Timezone),
		venueName, venueAddress, venueCity, lat, lon,
		priceMin, priceMax, currency, nullString(ev.Category), nullString(ev.Language), tags, lineup,
		string(status), nullString(ev.URL), nullTimeValue(ev.ModifiedAt),
	}, nil
}

func scanCatalogEvent(row rowScanner) (*models.CatalogEvent, error) {
	var (
		ev                                    models.CatalogEvent
		externalID, description, timezone     sql.NullString
		venueName, venueAddress, venueCity    sql.NullString
		priceMin, priceMax, currency          sql.NullString
		category, language, tags, lineup, url sql.NullString
		status                                string
		lat, lon                              sql.NullFloat64
		endTime, modifiedAt                   sql.NullTime
	)

	err := row.Scan(&ev.ID, &ev.Source, &externalID, &ev.Title, &description, &ev.StartTime, &endTime, &timezone,
		&venueName, &venueAddress, &venueCity, &lat, &lon,
		&priceMin, &priceMax, &currency, &category, &language, &tags, &lineup,
		&status, &url, &modifiedAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ev.ExternalID = externalID.String
	ev.Description = description.String
	ev.Timezone = timezone.String
	ev.Category = category.String
	ev.Language = language.String
	ev.URL = url.String
	ev.Status = models.EventStatus(status)
	ev.StartTime = ev.StartTime.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	if endTime.Valid {
		t := endTime.Time.UTC()
		ev.EndTime = &t
	}
	if modifiedAt.Valid {
		ev.ModifiedAt = modifiedAt.Time.UTC()
	}

	if venueName.Valid || venueAddress.Valid || venueCity.Valid || lat.Valid {
		ev.Venue = &models.Venue{Name: venueName.String, Address: venueAddress.String, City: venueCity.String}
		if lat.Valid && lon.Valid {
			ev.Venue.Latitude = models.Float64Ptr(lat.Float64)
			ev.Venue.Longitude = models.Float64Ptr(lon.Float64)
		}
	}

	if priceMin.Valid || priceMax.Valid {
		p := &models.PriceRange{Currency: currency.String}
		if p.Min, err = decimal.NewFromString(priceMin.String); err != nil {
			return nil, fmt.Errorf("invalid stored price_min %q: %w", priceMin.String, err)
		}
		if p.Max, err = decimal.NewFromString(priceMax.String); err != nil {
			return nil, fmt.Errorf("invalid stored price_max %q: %w", priceMax.String, err)
		}
		ev.Price = p
	}

	if ev.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("invalid stored tags: %w", err)
	}
	if ev.Lineup, err = decodeStrings(lineup); err != nil {
		return nil, fmt.Errorf("invalid stored lineup: %w", err)
	}
	return &ev, nil
}

// encodeStrings returns values as a JSON array, or nil for an empty list.
func encodeStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeStrings(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(s.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// nullString binds an empty string as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullTimeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// prefixed qualifies every column of a comma-separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
