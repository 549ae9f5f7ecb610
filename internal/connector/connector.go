// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package connector defines the contract between the ingestion pipeline and
// external event sources, and ships two reference connectors:
//
//   - http_json: a paginated JSON feed fetched with resty, rate limited with
//     x/time/rate and protected by a gobreaker circuit breaker
//   - file_drop: a directory of YAML documents, used for the curated
//     authoritative source
//
// Connectors are built once from configuration into a Registry that is
// passed explicitly to the orchestrator.
package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/eventfold/internal/models"
)

// Record is one source-native record as returned by FetchSince.
// Fields holds the decoded document; nested objects are map[string]any.
type Record struct {
	Source     string
	Fields     map[string]any
	ReceivedAt time.Time
}

// ExternalID returns the record's source-native identifier, if any.
func (r Record) ExternalID() string {
	return stringField(r.Fields, "id", "external_id")
}

// Connector fetches and normalizes records from one external source.
//
// FetchSince returns at most limit records modified after since, in the
// order the source reports them. Any failure that prevents the batch from
// being fetched is returned as a *FetchError. Normalize maps one record to
// a NormalizedEvent and returns a *MappingError when required fields are
// absent or malformed.
type Connector interface {
	Name() string
	IsConfigured() bool
	FetchSince(ctx context.Context, since time.Time, limit int, cache *RunCache) ([]Record, error)
	Normalize(rec Record) (models.NormalizedEvent, error)
}

// BreakerReporter is implemented by connectors with an in-run circuit breaker.
type BreakerReporter interface {
	BreakerState() string
}

// ErrNotConfigured is returned when a connector lacks the settings it needs.
var ErrNotConfigured = errors.New("connector not configured")

// FetchError is a run-level failure to obtain records from a source.
type FetchError struct {
	Source string
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Op, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MappingError reports a record that could not be mapped to a NormalizedEvent.
type MappingError struct {
	Source     string
	ExternalID string
	Field      string
	Reason     string
}

func (e *MappingError) Error() string {
	id := e.ExternalID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("map %s record %s: field %s: %s", e.Source, id, e.Field, e.Reason)
}

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsMappingError reports whether err is or wraps a *MappingError.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}
