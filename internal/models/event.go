// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package models defines the data structures shared by the ingestion
// pipeline: source-agnostic events, canonical catalog records, import jobs
// and per-source health.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the lifecycle status a source reports for an event.
type EventStatus string

const (
	StatusScheduled EventStatus = "scheduled"
	StatusCancelled EventStatus = "cancelled"
	StatusUpdated   EventStatus = "updated"
)

// NormalizedEvent is the source-agnostic representation of one event
// occurrence, produced by a connector from a source-native record.
//
// Invariants (enforced by the validation package):
//   - EndTime, when set, is not before StartTime
//   - Venue coordinates are both present or both absent, and within range
//   - Price bounds are non-negative and Min <= Max
type NormalizedEvent struct {
	Source      string      `json:"source" validate:"required,max=64"`
	ExternalID  string      `json:"external_id,omitempty" validate:"max=256"`
	Title       string      `json:"title" validate:"required,max=500"`
	Description string      `json:"description,omitempty" validate:"max=20000"`
	StartTime   time.Time   `json:"start_time" validate:"required"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	Timezone    string      `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Venue       *Venue      `json:"venue,omitempty"`
	Price       *PriceRange `json:"price,omitempty"`
	Category    string      `json:"category,omitempty" validate:"max=100"`
	Language    string      `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	Tags        []string    `json:"tags,omitempty" validate:"max=50,dive,max=64"`
	Lineup      []string    `json:"lineup,omitempty" validate:"max=200,dive,max=200"`
	Status      EventStatus `json:"status,omitempty" validate:"omitempty,oneof=scheduled cancelled updated"`
	URL         string      `json:"url,omitempty" validate:"omitempty,url"`

	// ModifiedAt is the upstream modification time, when the source reports one.
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// IsCancelled reports whether the source signalled a cancellation.
func (e *NormalizedEvent) IsCancelled() bool {
	return e.Status == StatusCancelled
}

// HasExternalID reports whether the event carries a usable source-native identifier.
func (e *NormalizedEvent) HasExternalID() bool {
	return strings.TrimSpace(e.ExternalID) != ""
}

// Venue describes where an event takes place.
type Venue struct {
	Name      string   `json:"name,omitempty" validate:"max=300"`
	Address   string   `json:"address,omitempty" validate:"max=500"`
	City      string   `json:"city,omitempty" validate:"max=200"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// HasCoordinates reports whether both coordinates are present.
func (v *Venue) HasCoordinates() bool {
	return v != nil && v.Latitude != nil && v.Longitude != nil
}

// IsEmpty reports whether the venue carries no usable information at all.
// A nil venue is empty.
func (v *Venue) IsEmpty() bool {
	if v == nil {
		return true
	}
	return strings.TrimSpace(v.Name) == "" &&
		strings.TrimSpace(v.Address) == "" &&
		strings.TrimSpace(v.City) == "" &&
		v.Latitude == nil && v.Longitude == nil
}

// PriceRange is an optional ticket price range. Amounts are decimals to
// avoid float rounding on currency values.
type PriceRange struct {
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
	Currency string          `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
}

// Float64Ptr returns a pointer to f. Convenience for building venues.
func Float64Ptr(f float64) *float64 {
	return &f
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
