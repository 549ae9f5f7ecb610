// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package connector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/eventfold/internal/models"
)

// Both reference connectors share one document layout:
//
//	id, title, description, start, end, timezone, category, language,
//	status, url, updated_at, tags[], lineup[],
//	venue{name, address, city, lat, lon}, price{min, max, currency}
//
// Common aliases (external_id, start_time, end_time, modified_at, latitude,
// longitude) are accepted as well. Timestamps may be RFC 3339 strings or
// Unix epoch milliseconds.

// mapRecord maps a decoded document to a NormalizedEvent. Title and start
// are required; everything else is optional.
func mapRecord(source string, rec Record) (models.NormalizedEvent, error) {
	f := rec.Fields
	id := rec.ExternalID()
	fail := func(field, reason string) (models.NormalizedEvent, error) {
		return models.NormalizedEvent{}, &MappingError{Source: source, ExternalID: id, Field: field, Reason: reason}
	}

	ev := models.NormalizedEvent{
		Source:      source,
		ExternalID:  id,
		Title:       strings.TrimSpace(stringField(f, "title", "name")),
		Description: stringField(f, "description", "summary"),
		Timezone:    stringField(f, "timezone", "tz"),
		Category:    stringField(f, "category"),
		Language:    stringField(f, "language", "lang"),
		URL:         stringField(f, "url", "link"),
		Tags:        stringSlice(f["tags"]),
		Lineup:      stringSlice(f["lineup"]),
	}

	if ev.Title == "" {
		return fail("title", "missing")
	}

	start, ok, err := timeField(f, "start", "start_time")
	if err != nil {
		return fail("start", err.Error())
	}
	if !ok {
		return fail("start", "missing")
	}
	ev.StartTime = start

	end, ok, err := timeField(f, "end", "end_time")
	if err != nil {
		return fail("end", err.Error())
	}
	if ok {
		ev.EndTime = &end
	}

	modified, ok, err := timeField(f, "updated_at", "modified_at")
	if err != nil {
		return fail("updated_at", err.Error())
	}
	if ok {
		ev.ModifiedAt = modified
	}

	switch status := strings.ToLower(stringField(f, "status")); status {
	case "", "scheduled", "active", "confirmed":
		ev.Status = models.StatusScheduled
	case "cancelled", "canceled":
		ev.Status = models.StatusCancelled
	case "updated", "rescheduled":
		ev.Status = models.StatusUpdated
	default:
		return fail("status", fmt.Sprintf("unknown status %q", status))
	}

	if raw, ok := f["venue"].(map[string]any); ok {
		v, err := mapVenue(raw)
		if err != nil {
			return fail("venue", err.Error())
		}
		if !v.IsEmpty() {
			ev.Venue = v
		}
	}

	if raw, ok := f["price"].(map[string]any); ok {
		p, err := mapPrice(raw)
		if err != nil {
			return fail("price", err.Error())
		}
		ev.Price = p
	}

	return ev, nil
}

func mapVenue(raw map[string]any) (*models.Venue, error) {
	v := &models.Venue{
		Name:    stringField(raw, "name"),
		Address: stringField(raw, "address"),
		City:    stringField(raw, "city"),
	}
	lat, hasLat, err := floatField(raw, "lat", "latitude")
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lon, hasLon, err := floatField(raw, "lon", "lng", "longitude")
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	if hasLat != hasLon {
		return nil, fmt.Errorf("latitude and longitude must be given together")
	}
	if hasLat {
		v.Latitude = &lat
		v.Longitude = &lon
	}
	return v, nil
}

func mapPrice(raw map[string]any) (*models.PriceRange, error) {
	minVal, hasMin, err := decimalField(raw, "min")
	if err != nil {
		return nil, fmt.Errorf("min: %w", err)
	}
	maxVal, hasMax, err := decimalField(raw, "max")
	if err != nil {
		return nil, fmt.Errorf("max: %w", err)
	}
	if !hasMin && !hasMax {
		return nil, nil
	}
	if !hasMin {
		minVal = maxVal
	}
	if !hasMax {
		maxVal = minVal
	}
	return &models.PriceRange{
		Min:      minVal,
		Max:      maxVal,
		Currency: strings.ToUpper(stringField(raw, "currency")),
	}, nil
}

// stringField returns the first non-empty value among keys, formatted as a string.
func stringField(f map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case nil:
			continue
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return []string{strings.TrimSpace(s)}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := stringField(map[string]any{"v": item}, "v"); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// TimePrecision is the resolution of timestamps in the catalog store.
// Parsed times are truncated to it so a stored value compares equal to a
// re-fetched one.
const TimePrecision = time.Microsecond

// timeField parses the first present key. The bool result is false when no
// key is present.
func timeField(f map[string]any, keys ...string) (time.Time, bool, error) {
	for _, k := range keys {
		switch v := f[k].(type) {
		case nil:
			continue
		case time.Time:
			return v.UTC().Truncate(TimePrecision), true, nil
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			t, err := parseTimestamp(v)
			if err != nil {
				return time.Time{}, true, err
			}
			return t, true, nil
		default:
			ms, ok, err := toFloat(v)
			if err != nil || !ok {
				return time.Time{}, true, fmt.Errorf("unsupported timestamp %v", v)
			}
			return time.UnixMilli(int64(ms)).UTC(), true, nil
		}
	}
	return time.Time{}, false, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(TimePrecision), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func floatField(f map[string]any, keys ...string) (float64, bool, error) {
	for _, k := range keys {
		if v, present := f[k]; present && v != nil {
			return toFloat(v)
		}
	}
	return 0, false, nil
}

func toFloat(v any) (float64, bool, error) {
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case uint64:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil, err
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid number %q", n)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported number %v", v)
	}
}

func decimalField(f map[string]any, key string) (decimal.Decimal, bool, error) {
	switch v := f[key].(type) {
	case nil:
		return decimal.Zero, false, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("invalid amount %q", v)
		}
		return d, true, nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil, err
	default:
		n, ok, err := toFloat(v)
		if err != nil || !ok {
			return decimal.Zero, false, err
		}
		return decimal.NewFromFloat(n), true, nil
	}
}
