// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package api is the operational HTTP surface: triggering runs, reading the
// import ledger and source health, the stale-job sweep, catalog lookups and
// enrichment dead letters.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/eventfold/internal/middleware"
)

// NewRouter wires every route.
func NewRouter(h *Handler, mw *ChiMiddleware) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(middleware.PrometheusMetrics)

		r.Post("/ingest/run", h.RunAll)
		r.Post("/ingest/run/{source}", h.RunSource)

		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)

		r.Get("/sources", h.ListSources)
		r.Post("/sources/{source}/enable", h.EnableSource)

		r.Post("/maintenance/sweep", h.Sweep)

		r.Get("/events/{id}", h.GetEvent)

		r.Get("/enrichment/dead-letters", h.ListDeadLetters)
		r.Post("/enrichment/dead-letters/{id}/replay", h.ReplayDeadLetter)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r
}
