// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

const jobColumns = `id, source, status, started_at, finished_at, watermark,
	created, updated, skipped, errors, error_sample, error_message, stats`

// DefaultJobListLimit caps ListJobs when the filter sets no limit.
const DefaultJobListLimit = 50

// CreateJob inserts a new ledger record. The job must be RUNNING.
func (db *DB) CreateJob(ctx context.Context, job *models.ImportJob) error {
	if job.Status != models.JobRunning {
		return fmt.Errorf("new job must be %s, got %s", models.JobRunning, job.Status)
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO import_jobs (id, source, status, started_at, watermark)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Source, string(job.Status), job.StartedAt.UTC(), job.Watermark.UTC())
	metrics.RecordDBQuery("INSERT", "import_jobs", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// FinalizeJob writes the terminal state of a RUNNING job. It returns
// ErrJobNotRunning when the job was already finalized, for example by the
// stale sweep.
func (db *DB) FinalizeJob(ctx context.Context, job *models.ImportJob) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("cannot finalize job with status %s", job.Status)
	}
	if job.FinishedAt == nil {
		now := db.now()
		job.FinishedAt = &now
	}

	sample, stats, err := encodeJobPayload(job)
	if err != nil {
		return err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE import_jobs SET
			status = ?, finished_at = ?, created = ?, updated = ?, skipped = ?, errors = ?,
			error_sample = ?, error_message = ?, stats = ?
		WHERE id = ? AND status = ?`,
		string(job.Status), job.FinishedAt.UTC(), job.Created, job.Updated, job.Skipped, job.Errors,
		sample, nullString(job.ErrorMessage), stats,
		job.ID, string(models.JobRunning))
	metrics.RecordDBQuery("UPDATE", "import_jobs", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotRunning
	}
	return nil
}

// LatestSuccessfulJob returns the most recent SUCCESS job of source, or ErrNotFound.
func (db *DB) LatestSuccessfulJob(ctx context.Context, source string) (*models.ImportJob, error) {
	return db.queryOneJob(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		WHERE source = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1`,
		source, string(models.JobSuccess))
}

// LatestJob returns the most recent job of source in any status, or ErrNotFound.
func (db *DB) LatestJob(ctx context.Context, source string) (*models.ImportJob, error) {
	return db.queryOneJob(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		WHERE source = ?
		ORDER BY started_at DESC
		LIMIT 1`,
		source)
}

// GetJob returns one job by id, or ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id string) (*models.ImportJob, error) {
	return db.queryOneJob(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`, id)
}

func (db *DB) queryOneJob(ctx context.Context, query string, args ...any) (*models.ImportJob, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	job, err := scanJob(db.conn.QueryRowContext(ctx, query, args...))
	metrics.RecordDBQuery("SELECT", "import_jobs", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (db *DB) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.ImportJob, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var where []string
	var args []any
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultJobListLimit
	}

	query := `SELECT ` + jobColumns + ` FROM import_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id LIMIT ?"
	args = append(args, limit)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "import_jobs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.ImportJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// FinalizeStaleJobs marks every job RUNNING since before cutoff as ERROR
// with message, and returns the jobs it finalized.
func (db *DB) FinalizeStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]models.ImportJob, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := db.now()
	stats, err := json.Marshal(models.JobStats{SweptStale: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stats: %w", err)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		UPDATE import_jobs SET
			status = ?, finished_at = ?, error_message = ?, stats = ?
		WHERE status = ? AND started_at < ?
		RETURNING `+jobColumns,
		string(models.JobError), now, message, string(stats),
		string(models.JobRunning), cutoff.UTC())
	metrics.RecordDBQuery("UPDATE", "import_jobs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize stale jobs: %w", err)
	}
	defer rows.Close()

	var swept []models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swept job: %w", err)
		}
		swept = append(swept, *job)
	}
	return swept, rows.Err()
}

func encodeJobPayload(job *models.ImportJob) (sample, stats any, err error) {
	if len(job.ErrorSample) > 0 {
		data, err := json.Marshal(job.ErrorSample)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode error sample: %w", err)
		}
		sample = string(data)
	}
	data, err := json.Marshal(job.Stats)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode stats: %w", err)
	}
	return sample, string(data), nil
}

func scanJob(row rowScanner) (*models.ImportJob, error) {
	var (
		job                        models.ImportJob
		status                     string
		finishedAt                 sql.NullTime
		sample, message, statsJSON sql.NullString
	)
	err := row.Scan(&job.ID, &job.Source, &status, &job.StartedAt, &finishedAt, &job.Watermark,
		&job.Created, &job.Updated, &job.Skipped, &job.Errors, &sample, &message, &statsJSON)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.StartedAt = job.StartedAt.UTC()
	job.Watermark = job.Watermark.UTC()
	job.ErrorMessage = message.String
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		job.FinishedAt = &t
	}
	if sample.Valid && sample.String != "" {
		if err := json.Unmarshal([]byte(sample.String), &job.ErrorSample); err != nil {
			return nil, fmt.Errorf("invalid stored error sample: %w", err)
		}
	}
	if statsJSON.Valid && statsJSON.String != "" {
		if err := json.Unmarshal([]byte(statsJSON.String), &job.Stats); err != nil {
			return nil, fmt.Errorf("invalid stored stats: %w", err)
		}
	}
	return &job, nil
}
