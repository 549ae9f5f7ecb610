// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package dedupe

import (
	"time"

	"github.com/tomtom215/eventfold/internal/models"
)

// titlePrefixRunes is the length of the normalized title prefix in a Key.
const titlePrefixRunes = 12

// Key is the coarse deduplication bucket of an event. It is derived on
// demand and never stored.
type Key struct {
	TitlePrefix string
	Date        time.Time // UTC midnight of the start day; zero when start is unknown
	GeoBucket   string
}

// KeyFor computes the key of an event.
func KeyFor(ev *models.NormalizedEvent) Key {
	k := Key{GeoBucket: UnknownGeoBucket}

	title := []rune(NormalizeText(ev.Title))
	if len(title) > titlePrefixRunes {
		title = title[:titlePrefixRunes]
	}
	k.TitlePrefix = string(title)

	if !ev.StartTime.IsZero() {
		y, m, d := ev.StartTime.UTC().Date()
		k.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	if ev.Venue.HasCoordinates() {
		k.GeoBucket = GeoBucket(*ev.Venue.Latitude, *ev.Venue.Longitude)
	}
	return k
}

// String renders the key as "prefix|date|bucket" for logs.
func (k Key) String() string {
	date := "unknown"
	if !k.Date.IsZero() {
		date = k.Date.Format("2006-01-02")
	}
	return k.TitlePrefix + "|" + date + "|" + k.GeoBucket
}

// compatible reports whether two keys may refer to the same event.
// Dates must be the same or adjacent days, since a ±24h window straddles
// midnight. Known geo buckets must lie within reachKm of each other; an
// unknown bucket matches anything. The title prefix is not compared:
// titles are the fuzzy signal scored afterwards.
func (k Key) compatible(other Key, reachKm float64) bool {
	if !k.Date.IsZero() && !other.Date.IsZero() {
		days := k.Date.Sub(other.Date).Hours() / 24
		if days > 1 || days < -1 {
			return false
		}
	}

	if k.GeoBucket == UnknownGeoBucket || other.GeoBucket == UnknownGeoBucket {
		return true
	}
	if k.GeoBucket == other.GeoBucket {
		return true
	}
	lat1, lon1, ok1 := bucketCenter(k.GeoBucket)
	lat2, lon2, ok2 := bucketCenter(other.GeoBucket)
	if !ok1 || !ok2 {
		return true
	}
	return HaversineKm(lat1, lon1, lat2, lon2) <= reachKm
}
