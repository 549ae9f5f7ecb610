// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package health implements the per-source health state machine.
//
//	any     --success--> Healthy (counter reset)
//	Healthy --failure--> Degraded (failures < threshold)
//	any     --failure--> Disabled (failures >= threshold)
//	Disabled --Enable--> Unknown (counter reset)
//
// The tracker is pure: it transforms SourceHealth values and leaves
// persistence to the caller.
package health

import (
	"time"

	"github.com/tomtom215/eventfold/internal/models"
)

// DefaultFailureThreshold is the number of consecutive failed runs that disables a source.
const DefaultFailureThreshold = 3

// Tracker applies run outcomes to SourceHealth records.
type Tracker struct {
	threshold    int
	maxErrorLen  int
	onTransition func(source string, from, to models.HealthState)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxErrorLen truncates stored error messages to n runes.
func WithMaxErrorLen(n int) Option {
	return func(t *Tracker) { t.maxErrorLen = n }
}

// WithTransitionHook registers a callback for state changes.
func WithTransitionHook(fn func(source string, from, to models.HealthState)) Option {
	return func(t *Tracker) { t.onTransition = fn }
}

// NewTracker creates a tracker; threshold values below 1 use DefaultFailureThreshold.
func NewTracker(threshold int, opts ...Option) *Tracker {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	t := &Tracker{threshold: threshold, maxErrorLen: 500}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Threshold returns the failure threshold.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// RecordSuccess moves the source to Healthy from any state and resets the
// failure counter.
func (t *Tracker) RecordSuccess(h models.SourceHealth, at time.Time) models.SourceHealth {
	from := h.State
	h.State = models.HealthHealthy
	h.ConsecutiveFailures = 0
	h.DisabledAt = nil
	h.LastSuccessAt = &at
	h.UpdatedAt = at
	t.notify(h.Source, from, h.State)
	return h
}

// RecordFailure increments the failure counter by one and moves the source
// to Degraded, or to Disabled once the counter reaches the threshold.
func (t *Tracker) RecordFailure(h models.SourceHealth, at time.Time, runErr error) models.SourceHealth {
	from := h.State
	h.ConsecutiveFailures++
	h.LastErrorAt = &at
	h.UpdatedAt = at
	if runErr != nil {
		h.LastError = Truncate(runErr.Error(), t.maxErrorLen)
	}

	if h.ConsecutiveFailures >= t.threshold {
		if h.State != models.HealthDisabled {
			h.DisabledAt = &at
		}
		h.State = models.HealthDisabled
	} else {
		h.State = models.HealthDegraded
	}
	t.notify(h.Source, from, h.State)
	return h
}

// Enable is the operator re-enable action: the counter is reset and the
// source returns to Unknown until its next run.
func (t *Tracker) Enable(h models.SourceHealth, at time.Time) models.SourceHealth {
	from := h.State
	h.State = models.HealthUnknown
	h.ConsecutiveFailures = 0
	h.DisabledAt = nil
	h.UpdatedAt = at
	t.notify(h.Source, from, h.State)
	return h
}

func (t *Tracker) notify(source string, from, to models.HealthState) {
	if t.onTransition != nil && from != to {
		t.onTransition(source, from, to)
	}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
