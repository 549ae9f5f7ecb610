// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/connector"
	"github.com/tomtom215/eventfold/internal/database"
	"github.com/tomtom215/eventfold/internal/enrich"
	"github.com/tomtom215/eventfold/internal/ingest"
	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

// Ingester runs sources. Implemented by *ingest.Orchestrator.
type Ingester interface {
	RunAll(ctx context.Context) map[string]ingest.RunResult
	RunOne(ctx context.Context, source string) (ingest.RunResult, error)
	EnableSource(ctx context.Context, source string) (models.SourceHealth, error)
	Sources() []string
}

// Sweeper finalizes stale jobs. Implemented by *ingest.Sweeper.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Store is the read side of the ledger, health and catalog. Implemented by
// *database.DB.
type Store interface {
	ListJobs(ctx context.Context, filter models.JobFilter) ([]models.ImportJob, error)
	GetJob(ctx context.Context, id string) (*models.ImportJob, error)
	LatestJob(ctx context.Context, source string) (*models.ImportJob, error)
	GetSourceHealth(ctx context.Context, source string) (models.SourceHealth, error)
	GetEvent(ctx context.Context, id string) (*models.CatalogEvent, error)
	Ping(ctx context.Context) error
}

// DeadLetters exposes failed enrichment requests. Implemented by
// *enrich.Service.
type DeadLetters interface {
	DeadLetters(ctx context.Context, limit int) ([]enrich.DeadLetter, error)
	Replay(ctx context.Context, id string) error
}

// Handler serves the operational endpoints.
type Handler struct {
	cfg         *config.Config
	ingester    Ingester
	sweeper     Sweeper
	store       Store
	deadLetters DeadLetters
	startTime   time.Time
}

// NewHandler creates a Handler. deadLetters may be nil when enrichment is
// disabled.
func NewHandler(cfg *config.Config, ingester Ingester, sweeper Sweeper, store Store, deadLetters DeadLetters) *Handler {
	return &Handler{
		cfg:         cfg,
		ingester:    ingester,
		sweeper:     sweeper,
		store:       store,
		deadLetters: deadLetters,
		startTime:   time.Now(),
	}
}

// SourceView joins a configured source with its health and latest job.
type SourceView struct {
	Name       string              `json:"name"`
	Kind       string              `json:"kind"`
	Enabled    bool                `json:"enabled"`
	Registered bool                `json:"registered"`
	Health     models.SourceHealth `json:"health"`
	LatestJob  *models.ImportJob   `json:"latest_job,omitempty"`
}

// HealthLive reports that the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime).Seconds()
	metrics.AppUptime.Set(uptime)
	NewResponseWriter(w, r).Success(map[string]any{
		"alive":  true,
		"uptime": uptime,
	})
}

// HealthReady reports whether the store is reachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.store.Ping(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed")
		rw.ServiceUnavailable("database unavailable")
		return
	}
	rw.Success(map[string]any{"ready": true})
}

// RunAll runs every eligible source. Runs are detached from the request so
// a client disconnect does not abort them.
func (h *Handler) RunAll(w http.ResponseWriter, r *http.Request) {
	results := h.ingester.RunAll(context.WithoutCancel(r.Context()))
	NewResponseWriter(w, r).List(results, len(results))
}

// RunSource runs one source.
func (h *Handler) RunSource(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	source := chi.URLParam(r, "source")

	res, err := h.ingester.RunOne(context.WithoutCancel(r.Context()), source)
	switch {
	case err == nil:
		rw.Success(res)
	case errors.Is(err, ingest.ErrUnknownSource):
		rw.NotFound(err.Error())
	case errors.Is(err, ingest.ErrSourceDisabled), errors.Is(err, connector.ErrNotConfigured):
		rw.Conflict(err.Error())
	default:
		rw.InternalError(err)
	}
}

// ListJobs returns recent import jobs, newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit, ok := intParam(r, "limit", database.DefaultJobListLimit)
	if !ok {
		rw.BadRequest("limit must be an integer")
		return
	}
	req := JobsRequest{
		Source: r.URL.Query().Get("source"),
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	}
	if !validateRequest(rw, &req) {
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), models.JobFilter{
		Source: req.Source,
		Status: models.JobStatus(req.Status),
		Limit:  req.Limit,
	})
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if jobs == nil {
		jobs = []models.ImportJob{}
	}
	rw.List(jobs, len(jobs))
}

// GetJob returns one import job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := PathID{ID: chi.URLParam(r, "id")}
	if !validateRequest(rw, &id) {
		return
	}

	job, err := h.store.GetJob(r.Context(), id.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		rw.NotFound("job not found")
	case err != nil:
		rw.DatabaseError(err)
	default:
		rw.Success(job)
	}
}

// ListSources returns every configured source with health and latest job.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	registered := h.ingester.Sources()

	views := make([]SourceView, 0, len(h.cfg.Sources))
	for _, sc := range h.cfg.Sources {
		view := SourceView{
			Name:       sc.Name,
			Kind:       sc.Kind,
			Enabled:    h.cfg.SourceEnabled(sc),
			Registered: slices.Contains(registered, sc.Name),
		}

		health, err := h.store.GetSourceHealth(r.Context(), sc.Name)
		if err != nil {
			rw.DatabaseError(err)
			return
		}
		view.Health = health

		job, err := h.store.LatestJob(r.Context(), sc.Name)
		switch {
		case err == nil:
			view.LatestJob = job
		case !errors.Is(err, database.ErrNotFound):
			rw.DatabaseError(err)
			return
		}
		views = append(views, view)
	}
	rw.List(views, len(views))
}

// EnableSource is the operator re-enable action.
func (h *Handler) EnableSource(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	source := chi.URLParam(r, "source")

	health, err := h.ingester.EnableSource(r.Context(), source)
	switch {
	case errors.Is(err, ingest.ErrUnknownSource):
		rw.NotFound(err.Error())
	case err != nil:
		rw.InternalError(err)
	default:
		rw.Success(health)
	}
}

// Sweep finalizes stale RUNNING jobs.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	n, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]int{"swept": n})
}

// GetEvent returns one catalog event with its source links.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := PathID{ID: chi.URLParam(r, "id")}
	if !validateRequest(rw, &id) {
		return
	}

	ev, err := h.store.GetEvent(r.Context(), id.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		rw.NotFound("event not found")
	case err != nil:
		rw.DatabaseError(err)
	default:
		rw.Success(ev)
	}
}

// ListDeadLetters returns failed enrichment requests.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deadLetters == nil {
		rw.ServiceUnavailable("enrichment is disabled")
		return
	}

	limit, ok := intParam(r, "limit", 100)
	if !ok {
		rw.BadRequest("limit must be an integer")
		return
	}
	req := DeadLettersRequest{Limit: limit}
	if !validateRequest(rw, &req) {
		return
	}

	letters, err := h.deadLetters.DeadLetters(r.Context(), req.Limit)
	if err != nil {
		rw.InternalError(err)
		return
	}
	if letters == nil {
		letters = []enrich.DeadLetter{}
	}
	rw.List(letters, len(letters))
}

// ReplayDeadLetter retries one failed enrichment request.
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deadLetters == nil {
		rw.ServiceUnavailable("enrichment is disabled")
		return
	}
	id := PathID{ID: chi.URLParam(r, "id")}
	if !validateRequest(rw, &id) {
		return
	}

	err := h.deadLetters.Replay(r.Context(), id.ID)
	switch {
	case errors.Is(err, enrich.ErrDeadLetterNotFound):
		rw.NotFound("dead letter not found")
	case err != nil:
		rw.Error(http.StatusBadGateway, "REPLAY_FAILED", err.Error())
	default:
		rw.Success(map[string]string{"replayed": id.ID})
	}
}
