// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package ingest

import (
	"context"
	"time"

	"github.com/tomtom215/eventfold/internal/models"
)

// CatalogStore is the catalog persistence consumed by the orchestrator.
// Lookups that match nothing return database.ErrNotFound.
type CatalogStore interface {
	FindBySourceIdentity(ctx context.Context, source, externalID string) (*models.CatalogEvent, error)
	FindCandidatesInWindow(ctx context.Context, start time.Time, window time.Duration) ([]models.CatalogEvent, error)
	CreateEvent(ctx context.Context, ev *models.NormalizedEvent) (*models.CatalogEvent, error)
	UpdateEvent(ctx context.Context, id string, ev *models.NormalizedEvent) (*models.CatalogEvent, error)
	MarkCancelled(ctx context.Context, id string) error
}

// JobStore is the import job ledger.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ImportJob) error
	FinalizeJob(ctx context.Context, job *models.ImportJob) error
	LatestSuccessfulJob(ctx context.Context, source string) (*models.ImportJob, error)
	FinalizeStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]models.ImportJob, error)
}

// HealthStore persists per-source health.
type HealthStore interface {
	GetSourceHealth(ctx context.Context, source string) (models.SourceHealth, error)
	SaveSourceHealth(ctx context.Context, h models.SourceHealth) error
}

// Enricher tags a catalog event after it was created or updated.
// Errors are logged by the orchestrator and otherwise ignored.
type Enricher interface {
	Enrich(ctx context.Context, catalogID string) error
}

// Stores groups the persistence dependencies of the orchestrator.
// *database.DB implements all three store interfaces.
type Stores struct {
	Catalog CatalogStore
	Jobs    JobStore
	Health  HealthStore
}
