// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package models

import (
	"time"
)

// HealthState is the rolling health of a source.
type HealthState string

const (
	HealthUnknown  HealthState = "unknown"
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDisabled HealthState = "disabled"
)

// SourceHealth is the persisted health record of one source.
type SourceHealth struct {
	Source              string      `json:"source"`
	State               HealthState `json:"state"`
	LastSuccessAt       *time.Time  `json:"last_success_at,omitempty"`
	LastErrorAt         *time.Time  `json:"last_error_at,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	DisabledAt          *time.Time  `json:"disabled_at,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// NewSourceHealth returns the initial health record of a source that has never run.
func NewSourceHealth(source string) SourceHealth {
	return SourceHealth{Source: source, State: HealthUnknown}
}

// IsDisabled reports whether the source must not be scheduled.
func (h *SourceHealth) IsDisabled() bool {
	return h.State == HealthDisabled
}
