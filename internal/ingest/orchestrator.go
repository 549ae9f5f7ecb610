// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

/*
Package ingest runs source ingestion.

The Orchestrator is constructed once at startup and shared by the scheduler,
the CLI flags and the HTTP triggers. For every enabled source it:

 1. derives the watermark from the last successful import job
 2. opens a RUNNING job in the ledger
 3. fetches records through the source connector
 4. normalizes, validates, deduplicates and resolves each record
 5. finalizes the job and updates source health

Per-record failures are counted and sampled on the job. Fetch failures and
an unreachable catalog store abort the run and finalize the job as ERROR.
A deferred finalization guarantees that RunOne never returns with the job
still RUNNING, including when the run panics.

Sources run with bounded concurrency (ingest.concurrency). Within one source
records are processed in connector order, so two duplicates in the same
batch resolve to one catalog event.
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/conflict"
	"github.com/tomtom215/eventfold/internal/connector"
	"github.com/tomtom215/eventfold/internal/dedupe"
	"github.com/tomtom215/eventfold/internal/health"
	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

var (
	// ErrUnknownSource is returned for a source name with no connector.
	ErrUnknownSource = errors.New("unknown source")

	// ErrSourceDisabled is returned for a source that is switched off in
	// configuration or disabled by the health tracker.
	ErrSourceDisabled = errors.New("source disabled")
)

// RunResult summarizes one source run.
type RunResult struct {
	Source     string           `json:"source"`
	JobID      string           `json:"job_id,omitempty"`
	Status     models.JobStatus `json:"status"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Skipped    int              `json:"skipped"`
	Errors     int              `json:"errors"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

// Orchestrator drives ingestion for the configured sources.
type Orchestrator struct {
	cfg      *config.Config
	registry *connector.Registry
	stores   Stores
	enricher Enricher

	engine   *dedupe.Engine
	resolver *conflict.Resolver
	tracker  *health.Tracker

	// healthMu serializes read-modify-write cycles on source health.
	healthMu sync.Mutex

	now func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEnricher sets the tag enricher called after each create or update.
func WithEnricher(e Enricher) Option {
	return func(o *Orchestrator) { o.enricher = e }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator from configuration, the connector registry and
// the persistence stores.
func New(cfg *config.Config, registry *connector.Registry, stores Stores, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		stores:   stores,
		engine:   dedupe.New(dedupeConfig(cfg.Dedupe)),
		resolver: conflict.NewResolver(cfg.Conflict.AuthoritativeSource),
		now:      func() time.Time { return time.Now().UTC() },
	}
	o.tracker = health.NewTracker(cfg.Health.FailureThreshold,
		health.WithMaxErrorLen(cfg.Ingest.ErrorMessageMaxLen),
		health.WithTransitionHook(logHealthTransition),
	)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func dedupeConfig(c config.DedupeConfig) dedupe.Config {
	return dedupe.Config{
		Weights: dedupe.Weights{
			Title:    c.TitleWeight,
			Time:     c.TimeWeight,
			Location: c.LocationWeight,
		},
		Threshold:       c.Threshold,
		Window:          c.Window,
		DistanceDecayKm: c.DistanceDecayKm,
	}
}

func logHealthTransition(source string, from, to models.HealthState) {
	event := logging.Info()
	if to == models.HealthDisabled {
		event = logging.Warn()
	}
	event.Str("source", source).Str("from", string(from)).Str("to", string(to)).Msg("Source health changed")
}

// Sources returns the names of all registered sources.
func (o *Orchestrator) Sources() []string {
	return o.registry.Names()
}

// RunAll runs every enabled, non-disabled source with bounded concurrency
// and returns the result of each source that ran. Sources that are
// switched off, unconfigured or disabled by health are left out without
// creating a job.
func (o *Orchestrator) RunAll(ctx context.Context) map[string]RunResult {
	names := o.registry.Names()
	results := make(map[string]RunResult, len(names))
	var mu sync.Mutex

	limit := o.cfg.Ingest.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for _, name := range names {
		g.Go(func() error {
			res, err := o.RunOne(ctx, name)
			switch {
			case errors.Is(err, ErrSourceDisabled), errors.Is(err, connector.ErrNotConfigured):
				logging.Debug().Str("source", name).Err(err).Msg("Skipping source")
				return nil
			case err != nil:
				logging.Error().Str("source", name).Err(err).Msg("Source run failed to start")
				res = RunResult{Source: name, Status: models.JobError, Error: err.Error()}
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logging.Info().Int("sources", len(results)).Msg("Ingestion pass complete")
	return results
}

// RunOne runs a single source. It returns ErrUnknownSource or
// ErrSourceDisabled without creating a job. A run that fails after its job
// was opened is reported through the result (Status ERROR, Error), not the
// returned error, which is reserved for ledger failures.
func (o *Orchestrator) RunOne(ctx context.Context, source string) (RunResult, error) {
	conn, ok := o.registry.Get(source)
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	sc, ok := o.cfg.Source(source)
	if !ok || !o.cfg.SourceEnabled(sc) {
		return RunResult{}, fmt.Errorf("%w: %s is not enabled", ErrSourceDisabled, source)
	}
	if !conn.IsConfigured() {
		return RunResult{}, fmt.Errorf("%w: %s", connector.ErrNotConfigured, source)
	}

	h, err := o.stores.Health.GetSourceHealth(ctx, source)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load health of %s: %w", source, err)
	}
	if h.IsDisabled() {
		return RunResult{}, fmt.Errorf("%w: %s tripped the failure threshold", ErrSourceDisabled, source)
	}

	return o.execute(ctx, conn, o.cfg.EffectiveBatchSize(sc))
}

// EnableSource is the operator re-enable action for a source disabled by
// the health tracker.
func (o *Orchestrator) EnableSource(ctx context.Context, source string) (models.SourceHealth, error) {
	if _, ok := o.registry.Get(source); !ok {
		return models.SourceHealth{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	o.healthMu.Lock()
	defer o.healthMu.Unlock()

	h, err := o.stores.Health.GetSourceHealth(ctx, source)
	if err != nil {
		return models.SourceHealth{}, fmt.Errorf("failed to load health of %s: %w", source, err)
	}
	h = o.tracker.Enable(h, o.now())
	if err := o.stores.Health.SaveSourceHealth(ctx, h); err != nil {
		return models.SourceHealth{}, fmt.Errorf("failed to save health of %s: %w", source, err)
	}
	metrics.SetSourceHealth(source, string(h.State), h.ConsecutiveFailures)
	logging.Ctx(ctx).Info().Str("source", source).Msg("Source re-enabled by operator")
	return h, nil
}

// recordHealth applies the run outcome to the stored health of source.
func (o *Orchestrator) recordHealth(ctx context.Context, source string, at time.Time, runErr error) {
	o.healthMu.Lock()
	defer o.healthMu.Unlock()

	h, err := o.stores.Health.GetSourceHealth(ctx, source)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to load source health")
		return
	}
	if runErr != nil {
		h = o.tracker.RecordFailure(h, at, runErr)
	} else {
		h = o.tracker.RecordSuccess(h, at)
	}
	if err := o.stores.Health.SaveSourceHealth(ctx, h); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to save source health")
		return
	}
	metrics.SetSourceHealth(source, string(h.State), h.ConsecutiveFailures)
}
