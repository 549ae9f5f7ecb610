// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package validation

import (
	"strings"

	"github.com/tomtom215/eventfold/internal/models"
)

// EventError reports why a normalized event was rejected.
type EventError struct {
	Source     string
	ExternalID string
	Problems   []string
}

func (e *EventError) Error() string {
	id := e.ExternalID
	if id == "" {
		id = "<no external id>"
	}
	return "invalid event " + e.Source + "/" + id + ": " + strings.Join(e.Problems, "; ")
}

// ValidateEvent checks the structural invariants of a normalized event.
// It returns nil or an *EventError listing every problem found.
func ValidateEvent(ev *models.NormalizedEvent) error {
	var problems []string

	if verr := ValidateStruct(ev); verr != nil {
		for _, fe := range verr.Errors() {
			problems = append(problems, fe.Error())
		}
	}

	if strings.TrimSpace(ev.Title) == "" && ev.Title != "" {
		problems = append(problems, "title must not be blank")
	}

	if ev.EndTime != nil && !ev.StartTime.IsZero() && ev.EndTime.Before(ev.StartTime) {
		problems = append(problems, "end_time must not be before start_time")
	}

	if ev.Venue != nil && (ev.Venue.Latitude == nil) != (ev.Venue.Longitude == nil) {
		problems = append(problems, "latitude and longitude must be provided together")
	}

	if p := ev.Price; p != nil {
		if p.Min.IsNegative() || p.Max.IsNegative() {
			problems = append(problems, "price must not be negative")
		}
		if !p.Max.IsZero() && p.Max.LessThan(p.Min) {
			problems = append(problems, "price max must not be below price min")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &EventError{Source: ev.Source, ExternalID: ev.ExternalID, Problems: problems}
}
