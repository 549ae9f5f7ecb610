// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package metrics holds the Prometheus collectors of the service.
//
// Collectors are registered with the default registry through promauto and
// exposed at /metrics by the API router. Helpers keep label handling in one
// place so callers never build label values by hand.
package metrics

import (
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion runs
	IngestRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventfold_ingest_run_duration_seconds",
			Help:    "Duration of one source ingestion run in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)

	IngestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_ingest_runs_total",
			Help: "Total number of ingestion runs by final job status",
		},
		[]string{"source", "status"}, // SUCCESS, ERROR
	)

	IngestRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_ingest_records_total",
			Help: "Total number of fetched records by outcome",
		},
		[]string{"source", "outcome"}, // created, updated, skipped, error
	)

	IngestActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventfold_ingest_active_runs",
			Help: "Number of source runs currently in progress",
		},
	)

	IngestLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventfold_ingest_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run per source",
		},
		[]string{"source"},
	)

	StaleJobsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfold_stale_jobs_swept_total",
			Help: "Total number of RUNNING jobs force-finalized by the stale sweep",
		},
	)

	// Source health
	SourceHealthState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventfold_source_health_state",
			Help: "Source health state (0=unknown, 1=healthy, 2=degraded, 3=disabled)",
		},
		[]string{"source"},
	)

	SourceConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventfold_source_consecutive_failures",
			Help: "Consecutive failed runs per source",
		},
		[]string{"source"},
	)

	// Deduplication
	DedupeMatchScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventfold_dedupe_match_score",
			Help:    "Similarity score of the best fuzzy match per record",
			Buckets: []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.82, 0.85, 0.9, 0.95, 0.99, 1},
		},
	)

	DedupeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_dedupe_decisions_total",
			Help: "Conflict resolution decisions for matched records",
		},
		[]string{"decision"},
	)

	// Connectors
	ConnectorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventfold_connector_request_duration_seconds",
			Help:    "Duration of outbound connector requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ConnectorCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_connector_cache_lookups_total",
			Help: "Per-run connector cache lookups by result",
		},
		[]string{"source", "result"}, // hit, miss
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventfold_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventfold_circuit_breaker_consecutive_failures",
			Help: "Consecutive failures seen by the circuit breaker",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Enrichment
	EnrichmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_enrichment_total",
			Help: "Tag enrichment attempts by tagger and outcome",
		},
		[]string{"tagger", "outcome"}, // success, failure, skipped
	)

	EnrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventfold_enrichment_duration_seconds",
			Help:    "Duration of one enrichment call in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"tagger"},
	)

	EnrichmentQueuePublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfold_enrichment_queue_published_total",
			Help: "Enrichment requests published to the queue",
		},
	)

	EnrichmentDeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventfold_enrichment_dead_letters",
			Help: "Enrichment requests currently held in the dead-letter store",
		},
	)

	// Database
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventfold_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventfold_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventfold_api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_api_rate_limit_hits_total",
			Help: "Requests rejected by the API rate limiter",
		},
		[]string{"method"},
	)

	// Application
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventfold_app_info",
			Help: "Application build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventfold_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// Record outcomes used as the outcome label of IngestRecordsTotal.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// RecordRun records a finished source run.
func RecordRun(source, status string, duration time.Duration) {
	IngestRunDuration.WithLabelValues(source).Observe(duration.Seconds())
	IngestRunsTotal.WithLabelValues(source, status).Inc()
	if status == "SUCCESS" {
		IngestLastSuccess.WithLabelValues(source).Set(float64(time.Now().Unix()))
	}
}

// RecordOutcome counts one record outcome for a source.
func RecordOutcome(source, outcome string) {
	IngestRecordsTotal.WithLabelValues(source, outcome).Inc()
}

// TrackActiveRun adjusts the active run gauge.
func TrackActiveRun(inc bool) {
	if inc {
		IngestActiveRuns.Inc()
	} else {
		IngestActiveRuns.Dec()
	}
}

// SetSourceHealth publishes the health state of a source.
func SetSourceHealth(source, state string, consecutiveFailures int) {
	SourceHealthState.WithLabelValues(source).Set(HealthStateToFloat(state))
	SourceConsecutiveFailures.WithLabelValues(source).Set(float64(consecutiveFailures))
}

// HealthStateToFloat converts a health state name to its gauge value.
func HealthStateToFloat(state string) float64 {
	switch state {
	case "healthy":
		return 1
	case "degraded":
		return 2
	case "disabled":
		return 3
	default:
		return 0
	}
}

// ObserveMatchScore records the best fuzzy match score of a record.
func ObserveMatchScore(score float64) {
	DedupeMatchScore.Observe(score)
}

// RecordDecision counts one conflict resolution decision.
func RecordDecision(decision string) {
	DedupeDecisions.WithLabelValues(decision).Inc()
}

// RecordEnrichment records one enrichment attempt.
func RecordEnrichment(tagger string, duration time.Duration, err error) {
	EnrichmentDuration.WithLabelValues(tagger).Observe(duration.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	EnrichmentTotal.WithLabelValues(tagger, outcome).Inc()
}

// RecordConnectorRequest records the latency of one outbound request.
func RecordConnectorRequest(source string, duration time.Duration) {
	ConnectorRequestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCacheLookup counts a per-run cache lookup.
func RecordCacheLookup(source string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ConnectorCacheLookups.WithLabelValues(source, result).Inc()
}

// RecordDBQuery records a database query. Error details stay out of the
// label set to keep cardinality bounded.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
