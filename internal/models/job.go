// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package models

import (
	"time"
)

// JobStatus is the status of an import job. SUCCESS and ERROR are terminal.
type JobStatus string

const (
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobError   JobStatus = "ERROR"
)

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobSuccess || s == JobError
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s == JobRunning || s.IsTerminal()
}

// ImportJob is the ledger record of one ingestion run for one source.
type ImportJob struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	Status       JobStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Watermark    time.Time  `json:"watermark"`
	Created      int        `json:"created"`
	Updated      int        `json:"updated"`
	Skipped      int        `json:"skipped"`
	Errors       int        `json:"errors"`
	ErrorSample  []string   `json:"error_sample,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Stats        JobStats   `json:"stats"`
}

// Duration returns the run duration, or the time elapsed so far for a
// job that is still running.
func (j *ImportJob) Duration() time.Duration {
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(j.StartedAt)
	}
	return time.Since(j.StartedAt)
}

// JobStats is the free-form statistics payload stored with a job.
type JobStats struct {
	DurationMs         int64   `json:"duration_ms"`
	Fetched            int     `json:"fetched"`
	MappingErrors      int     `json:"mapping_errors"`
	ValidationErrors   int     `json:"validation_errors"`
	Cancelled          int     `json:"cancelled"`
	FastPathHits       int     `json:"fast_path_hits"`
	FuzzyMatches       int     `json:"fuzzy_matches"`
	KeptExisting       int     `json:"kept_existing"`
	Unchanged          int     `json:"unchanged"`
	EnrichmentFailures int     `json:"enrichment_failures"`
	RecordsPerSecond   float64 `json:"records_per_second"`
	BreakerState       string  `json:"breaker_state,omitempty"`
	SweptStale         bool    `json:"swept_stale,omitempty"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	Source string
	Status JobStatus
	Limit  int
}
