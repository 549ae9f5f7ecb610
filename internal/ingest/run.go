// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventfold/internal/connector"
	"github.com/tomtom215/eventfold/internal/database"
	"github.com/tomtom215/eventfold/internal/health"
	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
	"github.com/tomtom215/eventfold/internal/validation"
)

// finalizeTimeout bounds ledger and health writes after a run, which use a
// context detached from the caller's cancellation.
const finalizeTimeout = 30 * time.Second

// run is the mutable state of one source run.
type run struct {
	job  *models.ImportJob
	conn connector.Connector

	sampleSize int
	maxLen     int

	err error
}

func (r *run) sample(msg string) {
	if len(r.job.ErrorSample) >= r.sampleSize {
		return
	}
	r.job.ErrorSample = append(r.job.ErrorSample, health.Truncate(msg, r.maxLen))
}

func (r *run) created() {
	r.job.Created++
	metrics.RecordOutcome(r.job.Source, metrics.OutcomeCreated)
}

func (r *run) updated() {
	r.job.Updated++
	metrics.RecordOutcome(r.job.Source, metrics.OutcomeUpdated)
}

func (r *run) skipped() {
	r.job.Skipped++
	metrics.RecordOutcome(r.job.Source, metrics.OutcomeSkipped)
}

func (r *run) failed(err error) {
	r.job.Errors++
	r.sample(err.Error())
	metrics.RecordOutcome(r.job.Source, metrics.OutcomeError)
}

// execute opens the job, processes the batch and always finalizes the job.
func (o *Orchestrator) execute(ctx context.Context, conn connector.Connector, batchSize int) (result RunResult, err error) {
	source := conn.Name()
	startedAt := o.now()

	watermark, err := o.watermark(ctx, source, startedAt)
	if err != nil {
		return RunResult{}, err
	}

	job := &models.ImportJob{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    models.JobRunning,
		StartedAt: startedAt,
		Watermark: watermark,
	}
	if err := o.stores.Jobs.CreateJob(ctx, job); err != nil {
		return RunResult{}, fmt.Errorf("failed to open job for %s: %w", source, err)
	}

	ctx = logging.ContextWithRun(ctx, source, job.ID)
	logging.Ctx(ctx).Info().Time("watermark", watermark).Int("batch_size", batchSize).Msg("Source run started")

	metrics.TrackActiveRun(true)
	defer metrics.TrackActiveRun(false)

	r := &run{
		job:        job,
		conn:       conn,
		sampleSize: o.cfg.Ingest.ErrorSampleSize,
		maxLen:     o.cfg.Ingest.ErrorMessageMaxLen,
	}

	defer func() {
		if rec := recover(); rec != nil {
			logging.Ctx(ctx).Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in source run")
			r.err = fmt.Errorf("panic during run: %v", rec)
		}
		result, err = o.finalize(ctx, r)
	}()

	r.err = o.process(ctx, r, batchSize)
	return result, err
}

// watermark is the start of the last successful job, or now minus the
// default lookback when the source never succeeded.
func (o *Orchestrator) watermark(ctx context.Context, source string, now time.Time) (time.Time, error) {
	last, err := o.stores.Jobs.LatestSuccessfulJob(ctx, source)
	switch {
	case err == nil:
		return last.StartedAt, nil
	case errors.Is(err, database.ErrNotFound):
		return now.Add(-o.cfg.Ingest.DefaultLookback), nil
	default:
		return time.Time{}, fmt.Errorf("failed to load watermark for %s: %w", source, err)
	}
}

// process fetches the batch and handles each record. The returned error is
// the run-level failure, if any.
func (o *Orchestrator) process(ctx context.Context, r *run, batchSize int) error {
	cache := connector.NewRunCache(r.job.Source, o.cfg.Ingest.CacheSize)

	records, err := r.conn.FetchSince(ctx, r.job.Watermark, batchSize, cache)
	if err != nil {
		return err
	}
	if batchSize > 0 && len(records) > batchSize {
		records = records[:batchSize]
	}
	r.job.Stats.Fetched = len(records)

	for _, rec := range records {
		if err := o.processRecord(ctx, r, rec); err != nil {
			return err
		}
	}
	return nil
}

// processRecord handles one record. Only run-level failures are returned;
// per-record failures are counted on the job.
func (o *Orchestrator) processRecord(ctx context.Context, r *run, rec connector.Record) error {
	ev, err := r.conn.Normalize(rec)
	if err != nil {
		r.job.Stats.MappingErrors++
		r.sample(err.Error())
		r.skipped()
		logging.Ctx(ctx).Debug().Err(err).Msg("Record could not be mapped")
		return nil
	}
	if ev.Source == "" {
		ev.Source = r.job.Source
	}

	if err := validation.ValidateEvent(&ev); err != nil {
		r.job.Stats.ValidationErrors++
		r.sample(err.Error())
		r.skipped()
		logging.Ctx(ctx).Debug().Err(err).Msg("Record failed validation")
		return nil
	}

	if ev.IsCancelled() {
		return o.applyCancellation(ctx, r, &ev)
	}

	// Fast path: an exact (source, external id) link means this is an
	// update of a known event; the fuzzy engine is not consulted.
	if ev.HasExternalID() {
		existing, err := o.stores.Catalog.FindBySourceIdentity(ctx, ev.Source, ev.ExternalID)
		switch {
		case err == nil:
			r.job.Stats.FastPathHits++
			if mergedSibling(&ev, existing) {
				r.job.Stats.Unchanged++
				r.skipped()
				return nil
			}
			return o.applyMatch(ctx, r, &ev, existing)
		case !errors.Is(err, database.ErrNotFound):
			return o.persistenceError(r, &ev, err)
		}
	}

	pool, err := o.stores.Catalog.FindCandidatesInWindow(ctx, ev.StartTime, o.engine.Window())
	if err != nil {
		return o.persistenceError(r, &ev, err)
	}
	if match, ok := o.engine.BestMatch(&ev, pool); ok {
		r.job.Stats.FuzzyMatches++
		metrics.ObserveMatchScore(match.Score)
		logging.Ctx(ctx).Debug().
			Str("external_id", ev.ExternalID).
			Str("catalog_id", match.Event.ID).
			Float64("score", match.Score).
			Msg("Fuzzy match")
		return o.applyMatch(ctx, r, &ev, &match.Event)
	}

	created, err := o.stores.Catalog.CreateEvent(ctx, &ev)
	if err != nil {
		return o.persistenceError(r, &ev, err)
	}
	r.created()
	o.enrich(ctx, r, created.ID)
	return nil
}

// applyMatch resolves incoming against a matched catalog event and writes
// the winner.
func (o *Orchestrator) applyMatch(ctx context.Context, r *run, ev *models.NormalizedEvent, existing *models.CatalogEvent) error {
	decision := o.resolver.Resolve(ev, existing)
	metrics.RecordDecision(string(decision))

	if !decision.Writes() {
		r.job.Stats.KeptExisting++
		r.skipped()
		return nil
	}
	if unchanged(ev, existing) {
		r.job.Stats.Unchanged++
		r.skipped()
		return nil
	}

	updated, err := o.stores.Catalog.UpdateEvent(ctx, existing.ID, ev)
	if err != nil {
		return o.persistenceError(r, ev, err)
	}
	r.updated()
	o.enrich(ctx, r, updated.ID)
	return nil
}

// applyCancellation marks the event known under the record's exact source
// identity as cancelled. Cancellations of unknown events are skipped.
func (o *Orchestrator) applyCancellation(ctx context.Context, r *run, ev *models.NormalizedEvent) error {
	if !ev.HasExternalID() {
		r.skipped()
		return nil
	}

	existing, err := o.stores.Catalog.FindBySourceIdentity(ctx, ev.Source, ev.ExternalID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Ctx(ctx).Debug().Str("external_id", ev.ExternalID).Msg("Cancellation for unknown event skipped")
		r.skipped()
		return nil
	}
	if err != nil {
		return o.persistenceError(r, ev, err)
	}
	if existing.IsCancelled() {
		r.job.Stats.Unchanged++
		r.skipped()
		return nil
	}

	if err := o.stores.Catalog.MarkCancelled(ctx, existing.ID); err != nil {
		return o.persistenceError(r, ev, err)
	}
	r.job.Stats.Cancelled++
	r.updated()
	return nil
}

// persistenceError counts a rejected write, or escalates to a run-level
// failure when the store itself is unreachable.
func (o *Orchestrator) persistenceError(r *run, ev *models.NormalizedEvent, err error) error {
	if database.IsUnreachable(err) {
		return fmt.Errorf("catalog store unreachable: %w", err)
	}
	id := ev.ExternalID
	if id == "" {
		id = "<no external id>"
	}
	r.failed(fmt.Errorf("persist %s/%s: %w", ev.Source, id, err))
	return nil
}

// enrich calls the enricher and discards any failure.
func (o *Orchestrator) enrich(ctx context.Context, r *run, catalogID string) {
	if o.enricher == nil {
		return
	}
	if err := o.enricher.Enrich(ctx, catalogID); err != nil {
		r.job.Stats.EnrichmentFailures++
		logging.Ctx(ctx).Debug().Err(err).Str("catalog_id", catalogID).Msg("Tag enrichment failed")
	}
}

// finalize writes the terminal job state and the health outcome. It runs
// on a context detached from the caller so a cancelled run is still
// recorded.
func (o *Orchestrator) finalize(ctx context.Context, r *run) (RunResult, error) {
	job := r.job
	finishedAt := o.now()
	job.FinishedAt = &finishedAt

	duration := finishedAt.Sub(job.StartedAt)
	job.Stats.DurationMs = duration.Milliseconds()
	if secs := duration.Seconds(); secs > 0 {
		job.Stats.RecordsPerSecond = float64(job.Stats.Fetched) / secs
	}
	if br, ok := r.conn.(connector.BreakerReporter); ok {
		job.Stats.BreakerState = br.BreakerState()
	}

	if r.err != nil {
		job.Status = models.JobError
		job.ErrorMessage = health.Truncate(r.err.Error(), r.maxLen)
	} else {
		job.Status = models.JobSuccess
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	result := RunResult{
		Source:     job.Source,
		JobID:      job.ID,
		Status:     job.Status,
		Created:    job.Created,
		Updated:    job.Updated,
		Skipped:    job.Skipped,
		Errors:     job.Errors,
		DurationMs: job.Stats.DurationMs,
		Error:      job.ErrorMessage,
	}

	if err := o.stores.Jobs.FinalizeJob(fctx, job); err != nil {
		if !errors.Is(err, database.ErrJobNotRunning) {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to finalize job")
			return result, fmt.Errorf("failed to finalize job %s: %w", job.ID, err)
		}
		// The sweep got there first; its ERROR stands and this outcome
		// is not applied to health.
		logging.Ctx(ctx).Warn().Msg("Job was already finalized by the stale sweep")
		result.Status = models.JobError
		return result, nil
	}

	o.recordHealth(fctx, job.Source, finishedAt, r.err)
	metrics.RecordRun(job.Source, string(job.Status), duration)

	event := logging.Ctx(ctx).Info()
	if r.err != nil {
		event = logging.Ctx(ctx).Warn().Err(r.err)
	}
	event.
		Str("status", string(job.Status)).
		Int("created", job.Created).
		Int("updated", job.Updated).
		Int("skipped", job.Skipped).
		Int("errors", job.Errors).
		Int64("duration_ms", job.Stats.DurationMs).
		Msg("Source run finished")

	return result, nil
}
