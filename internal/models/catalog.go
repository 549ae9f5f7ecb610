// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package models

import (
	"time"
)

// CatalogEvent is the canonical, persisted record of one real-world event.
//
// The embedded NormalizedEvent holds the descriptive fields as last written.
// Its Source and ExternalID form the provenance tuple: the source whose data
// currently populates the record. Links lists every source that has ever
// reported the event; the link matching the provenance is the primary one.
type CatalogEvent struct {
	ID string `json:"id"`
	NormalizedEvent
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Links     []SourceLink `json:"links,omitempty"`
}

// PrimaryLink returns the link marked primary, if any.
func (c *CatalogEvent) PrimaryLink() (SourceLink, bool) {
	for _, l := range c.Links {
		if l.Primary {
			return l, true
		}
	}
	return SourceLink{}, false
}

// SourceLink records that a source has reported a catalog event under a
// source-native identifier.
type SourceLink struct {
	CatalogID   string    `json:"catalog_id"`
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id"`
	Primary     bool      `json:"primary"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
