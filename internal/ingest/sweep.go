// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

// DefaultStaleJobTimeout is used when no timeout is configured.
const DefaultStaleJobTimeout = time.Hour

// StaleJobMessage is the error message recorded on swept jobs.
const StaleJobMessage = "job exceeded the stale timeout while RUNNING and was finalized by the sweep"

// Sweeper finalizes jobs left RUNNING by a crashed or hung run. It is the
// only cancellation mechanism for runs: the ledger converges even when the
// process that owned a job never comes back.
type Sweeper struct {
	jobs    JobStore
	timeout time.Duration
	now     func() time.Time
}

// NewSweeper creates a sweeper for jobs RUNNING longer than timeout.
func NewSweeper(jobs JobStore, timeout time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultStaleJobTimeout
	}
	return &Sweeper{
		jobs:    jobs,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Timeout returns the stale age threshold.
func (s *Sweeper) Timeout() time.Duration {
	return s.timeout
}

// Sweep finalizes every stale RUNNING job as ERROR and returns how many
// jobs it finalized. Source health is left alone: the owning run, if still
// alive, cannot finalize the job anymore and skips its health update.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.timeout)

	swept, err := s.jobs.FinalizeStaleJobs(ctx, cutoff, StaleJobMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	for _, job := range swept {
		metrics.StaleJobsSwept.Inc()
		metrics.RecordRun(job.Source, string(models.JobError), job.Duration())
		logging.Warn().
			Str("job_id", job.ID).
			Str("source", job.Source).
			Time("started_at", job.StartedAt).
			Msg("Finalized stale job")
	}
	if len(swept) > 0 {
		logging.Info().Int("swept", len(swept)).Dur("timeout", s.timeout).Msg("Stale job sweep complete")
	}
	return len(swept), nil
}
