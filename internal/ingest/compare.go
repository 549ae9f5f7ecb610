// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package ingest

import (
	"slices"
	"time"

	"github.com/tomtom215/eventfold/internal/connector"
	"github.com/tomtom215/eventfold/internal/models"
)

// unchanged reports whether writing incoming over existing would be a
// no-op, so re-fetching already ingested records produces no updates.
// Tags are ignored because enrichment rewrites them on the catalog side.
// A record with the same provenance and an older upstream modification
// time is treated as unchanged too, so out-of-order deliveries never roll
// the catalog back.
func unchanged(incoming *models.NormalizedEvent, existing *models.CatalogEvent) bool {
	cur := &existing.NormalizedEvent
	sameProvenance := incoming.Source == cur.Source && incoming.ExternalID == cur.ExternalID
	if !sameProvenance {
		return false
	}
	if !incoming.ModifiedAt.IsZero() && !cur.ModifiedAt.IsZero() &&
		incoming.ModifiedAt.Truncate(connector.TimePrecision).Before(cur.ModifiedAt) {
		return true
	}

	return incoming.Title == cur.Title &&
		incoming.Description == cur.Description &&
		sameInstant(incoming.StartTime, cur.StartTime) &&
		equalTimePtr(incoming.EndTime, cur.EndTime) &&
		incoming.Timezone == cur.Timezone &&
		equalVenue(incoming.Venue, cur.Venue) &&
		equalPrice(incoming.Price, cur.Price) &&
		incoming.Category == cur.Category &&
		incoming.Language == cur.Language &&
		slices.Equal(incoming.Lineup, cur.Lineup) &&
		effectiveStatus(incoming.Status) == effectiveStatus(cur.Status) &&
		incoming.URL == cur.URL
}

// mergedSibling reports whether existing was reached through a demoted link
// of the incoming record's own source, i.e. another record of that source
// was merged into the same catalog event and now provides its fields.
func mergedSibling(incoming *models.NormalizedEvent, existing *models.CatalogEvent) bool {
	return incoming.Source == existing.Source && incoming.ExternalID != existing.ExternalID
}

func effectiveStatus(s models.EventStatus) models.EventStatus {
	if s == "" {
		return models.StatusScheduled
	}
	return s
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return sameInstant(*a, *b)
}

// sameInstant compares at catalog store precision.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(connector.TimePrecision).Equal(b.Truncate(connector.TimePrecision))
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalVenue(a, b *models.Venue) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() && b.IsEmpty()
	}
	return a.Name == b.Name &&
		a.Address == b.Address &&
		a.City == b.City &&
		equalFloatPtr(a.Latitude, b.Latitude) &&
		equalFloatPtr(a.Longitude, b.Longitude)
}

func equalPrice(a, b *models.PriceRange) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Min.Equal(b.Min) && a.Max.Equal(b.Max) && a.Currency == b.Currency
}
