// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/models"
)

// testDBSemaphore serializes DuckDB usage across tests; concurrent CGO
// calls from parallel tests can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// setupTestDB creates an in-memory database with a fixed clock.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "512MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	db.now = func() time.Time { return testNow }
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return db
}

func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func checkErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}

func checkStringEqual(t *testing.T, fieldName, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %q, got %q", fieldName, want, got)
	}
}

func checkIntEqual(t *testing.T, fieldName string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", fieldName, want, got)
	}
}

func sampleEvent(source, externalID, title string, start time.Time) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		Source:     source,
		ExternalID: externalID,
		Title:      title,
		StartTime:  start,
		Status:     models.StatusScheduled,
	}
}

func TestNew_AppliesMigrations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	version, err := db.SchemaVersion(ctx)
	checkNoError(t, err)
	checkIntEqual(t, "schema version", version, len(migrations))

	// Re-running is a no-op.
	checkNoError(t, db.migrate())
	version, err = db.SchemaVersion(ctx)
	checkNoError(t, err)
	checkIntEqual(t, "schema version after rerun", version, len(migrations))

	checkNoError(t, db.Ping(ctx))
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(&config.DatabaseConfig{Path: "", Threads: 2, MaxMemory: "256MB"})
	checkNoError(t, err)
	checkStringEqual(t, "dsn",
		dsn, ":memory:?access_mode=read_write&threads=2&max_memory=256MB&autoinstall_known_extensions=false&autoload_known_extensions=false")
}

func TestCreateEvent_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 6, 12, 19, 30, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	ev := sampleEvent("ticketfeed", "tf-1", "Jazz Night", start)
	ev.Description = "An evening of standards"
	ev.EndTime = &end
	ev.Timezone = "Europe/Berlin"
	ev.Venue = &models.Venue{
		Name:      "Blue Room",
		City:      "Berlin",
		Latitude:  models.Float64Ptr(52.52),
		Longitude: models.Float64Ptr(13.405),
	}
	ev.Price = &models.PriceRange{
		Min:      decimal.RequireFromString("12.50"),
		Max:      decimal.RequireFromString("30"),
		Currency: "EUR",
	}
	ev.Tags = []string{"jazz", "music"}
	ev.Lineup = []string{"Quartet A"}

	created, err := db.CreateEvent(ctx, ev)
	checkNoError(t, err)
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if len(created.Links) != 1 || !created.Links[0].Primary {
		t.Fatalf("expected one primary link, got %+v", created.Links)
	}

	got, err := db.FindBySourceIdentity(ctx, "ticketfeed", "tf-1")
	checkNoError(t, err)
	checkStringEqual(t, "id", got.ID, created.ID)
	checkStringEqual(t, "title", got.Title, "Jazz Night")
	checkStringEqual(t, "description", got.Description, "An evening of standards")
	checkStringEqual(t, "timezone", got.Timezone, "Europe/Berlin")
	checkStringEqual(t, "status", string(got.Status), string(models.StatusScheduled))
	if !got.StartTime.Equal(start) {
		t.Errorf("start: expected %v, got %v", start, got.StartTime)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("end: expected %v, got %v", end, got.EndTime)
	}
	if got.Venue == nil || !got.Venue.HasCoordinates() {
		t.Fatalf("expected venue with coordinates, got %+v", got.Venue)
	}
	checkStringEqual(t, "venue name", got.Venue.Name, "Blue Room")
	if *got.Venue.Latitude != 52.52 || *got.Venue.Longitude != 13.405 {
		t.Errorf("coordinates: got %v,%v", *got.Venue.Latitude, *got.Venue.Longitude)
	}
	if got.Price == nil || !got.Price.Min.Equal(decimal.RequireFromString("12.5")) || !got.Price.Max.Equal(decimal.NewFromInt(30)) {
		t.Errorf("price: got %+v", got.Price)
	}
	if fmt.Sprint(got.Tags) != "[jazz music]" {
		t.Errorf("tags: got %v", got.Tags)
	}
	if fmt.Sprint(got.Lineup) != "[Quartet A]" {
		t.Errorf("lineup: got %v", got.Lineup)
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Errorf("created_at: expected %v, got %v", testNow, got.CreatedAt)
	}
}

func TestCreateEvent_WithoutExternalID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := db.CreateEvent(ctx, sampleEvent("internal", "", "Board Meeting", testNow))
	checkNoError(t, err)
	if len(created.Links) != 0 {
		t.Errorf("expected no links, got %+v", created.Links)
	}

	got, err := db.GetEvent(ctx, created.ID)
	checkNoError(t, err)
	if got.Venue != nil || got.Price != nil {
		t.Errorf("expected no venue or price, got %+v %+v", got.Venue, got.Price)
	}
	if len(got.Links) != 0 {
		t.Errorf("expected no stored links, got %+v", got.Links)
	}
}

func TestFindBySourceIdentity_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.FindBySourceIdentity(context.Background(), "ticketfeed", "missing")
	checkErrorIs(t, err, ErrNotFound)
}

func TestUpdateEvent_MovesPrimaryLink(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := db.CreateEvent(ctx, sampleEvent("feed-a", "a-1", "Jazz Night", testNow))
	checkNoError(t, err)

	updated, err := db.UpdateEvent(ctx, created.ID, sampleEvent("feed-b", "b-9", "Jazz Night Live", testNow))
	checkNoError(t, err)
	checkStringEqual(t, "title", updated.Title, "Jazz Night Live")
	checkStringEqual(t, "source", updated.Source, "feed-b")
	if len(updated.Links) != 2 {
		t.Fatalf("expected 2 links, got %+v", updated.Links)
	}
	primary, ok := updated.PrimaryLink()
	if !ok {
		t.Fatal("expected a primary link")
	}
	checkStringEqual(t, "primary source", primary.Source, "feed-b")

	// Both identities resolve to the same catalog event.
	for _, id := range [][2]string{{"feed-a", "a-1"}, {"feed-b", "b-9"}} {
		got, err := db.FindBySourceIdentity(ctx, id[0], id[1])
		checkNoError(t, err)
		checkStringEqual(t, "linked id", got.ID, created.ID)
	}

	// Updating back through the first source flips the primary again.
	again, err := db.UpdateEvent(ctx, created.ID, sampleEvent("feed-a", "a-1", "Jazz Night", testNow))
	checkNoError(t, err)
	primaries := 0
	for _, l := range again.Links {
		if l.Primary {
			primaries++
			checkStringEqual(t, "primary source", l.Source, "feed-a")
		}
	}
	checkIntEqual(t, "primary links", primaries, 1)
}

func TestUpdateEvent_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.UpdateEvent(context.Background(), "no-such-id", sampleEvent("feed-a", "a-1", "X", testNow))
	checkErrorIs(t, err, ErrNotFound)
}

func TestFindCandidatesInWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 7, 4, 20, 0, 0, 0, time.UTC)
	offsets := []time.Duration{-30 * time.Hour, -2 * time.Hour, 0, 12 * time.Hour, 25 * time.Hour}
	for i, off := range offsets {
		_, err := db.CreateEvent(ctx, sampleEvent("feed", fmt.Sprintf("e-%d", i), fmt.Sprintf("Event %d", i), base.Add(off)))
		checkNoError(t, err)
	}

	got, err := db.FindCandidatesInWindow(ctx, base, 24*time.Hour)
	checkNoError(t, err)
	checkIntEqual(t, "candidates", len(got), 3)
	for i := 1; i < len(got); i++ {
		if got[i].StartTime.Before(got[i-1].StartTime) {
			t.Errorf("candidates not ordered by start time: %v before %v", got[i].StartTime, got[i-1].StartTime)
		}
	}
	checkStringEqual(t, "first candidate", got[0].Title, "Event 1")
	checkStringEqual(t, "last candidate", got[2].Title, "Event 3")
}

func TestMarkCancelled(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := db.CreateEvent(ctx, sampleEvent("feed", "c-1", "Open Air", testNow))
	checkNoError(t, err)

	checkNoError(t, db.MarkCancelled(ctx, created.ID))
	got, err := db.GetEvent(ctx, created.ID)
	checkNoError(t, err)
	checkStringEqual(t, "status", string(got.Status), string(models.StatusCancelled))

	checkErrorIs(t, db.MarkCancelled(ctx, "no-such-id"), ErrNotFound)
}

func TestUpdateTags(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := db.CreateEvent(ctx, sampleEvent("feed", "t-1", "Comedy Night", testNow))
	checkNoError(t, err)

	checkNoError(t, db.UpdateTags(ctx, created.ID, []string{"comedy"}))
	got, err := db.GetEvent(ctx, created.ID)
	checkNoError(t, err)
	if fmt.Sprint(got.Tags) != "[comedy]" {
		t.Errorf("tags: got %v", got.Tags)
	}
	checkStringEqual(t, "title untouched", got.Title, "Comedy Night")

	checkErrorIs(t, db.UpdateTags(ctx, "no-such-id", []string{"x"}), ErrNotFound)
}

func TestCountEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.CreateEvent(ctx, sampleEvent("feed", fmt.Sprintf("n-%d", i), "Event", testNow))
		checkNoError(t, err)
	}
	n, err := db.CountEvents(ctx)
	checkNoError(t, err)
	checkIntEqual(t, "count", n, 3)
}

func newRunningJob(id, source string, startedAt time.Time) *models.ImportJob {
	return &models.ImportJob{
		ID:        id,
		Source:    source,
		Status:    models.JobRunning,
		StartedAt: startedAt,
		Watermark: startedAt.Add(-7 * 24 * time.Hour),
	}
}

func TestJobLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := testNow.Add(-time.Minute)
	job := newRunningJob("job-1", "feed", started)
	checkNoError(t, db.CreateJob(ctx, job))

	_, err := db.LatestSuccessfulJob(ctx, "feed")
	checkErrorIs(t, err, ErrNotFound)

	job.Status = models.JobSuccess
	job.Created, job.Updated, job.Skipped, job.Errors = 3, 2, 1, 1
	job.ErrorSample = []string{"record x: missing title"}
	job.Stats = models.JobStats{Fetched: 7, FuzzyMatches: 1, BreakerState: "closed"}
	checkNoError(t, db.FinalizeJob(ctx, job))

	got, err := db.GetJob(ctx, "job-1")
	checkNoError(t, err)
	checkStringEqual(t, "status", string(got.Status), string(models.JobSuccess))
	checkIntEqual(t, "created", got.Created, 3)
	checkIntEqual(t, "updated", got.Updated, 2)
	checkIntEqual(t, "skipped", got.Skipped, 1)
	checkIntEqual(t, "errors", got.Errors, 1)
	checkIntEqual(t, "fetched", got.Stats.Fetched, 7)
	checkStringEqual(t, "breaker state", got.Stats.BreakerState, "closed")
	if len(got.ErrorSample) != 1 || got.ErrorSample[0] != "record x: missing title" {
		t.Errorf("error sample: got %v", got.ErrorSample)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(testNow) {
		t.Errorf("finished_at: expected %v, got %v", testNow, got.FinishedAt)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at: expected %v, got %v", started, got.StartedAt)
	}

	latest, err := db.LatestSuccessfulJob(ctx, "feed")
	checkNoError(t, err)
	checkStringEqual(t, "latest successful", latest.ID, "job-1")

	// A terminal job cannot be finalized twice.
	job.Status = models.JobError
	checkErrorIs(t, db.FinalizeJob(ctx, job), ErrJobNotRunning)
}

func TestCreateJob_RequiresRunning(t *testing.T) {
	db := setupTestDB(t)

	job := newRunningJob("job-x", "feed", testNow)
	job.Status = models.JobSuccess
	if err := db.CreateJob(context.Background(), job); err == nil {
		t.Fatal("expected error creating a non-running job")
	}
}

func TestLatestSuccessfulJob_IgnoresFailures(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ok := newRunningJob("ok", "feed", testNow.Add(-2*time.Hour))
	checkNoError(t, db.CreateJob(ctx, ok))
	ok.Status = models.JobSuccess
	checkNoError(t, db.FinalizeJob(ctx, ok))

	failed := newRunningJob("failed", "feed", testNow.Add(-time.Hour))
	checkNoError(t, db.CreateJob(ctx, failed))
	failed.Status = models.JobError
	failed.ErrorMessage = "upstream 503"
	checkNoError(t, db.FinalizeJob(ctx, failed))

	latest, err := db.LatestSuccessfulJob(ctx, "feed")
	checkNoError(t, err)
	checkStringEqual(t, "latest successful", latest.ID, "ok")

	last, err := db.LatestJob(ctx, "feed")
	checkNoError(t, err)
	checkStringEqual(t, "latest", last.ID, "failed")
	checkStringEqual(t, "error message", last.ErrorMessage, "upstream 503")
}

func TestListJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, source := range []string{"feed-a", "feed-b", "feed-a"} {
		job := newRunningJob(fmt.Sprintf("job-%d", i), source, testNow.Add(time.Duration(i)*time.Minute))
		checkNoError(t, db.CreateJob(ctx, job))
	}
	done, err := db.GetJob(ctx, "job-0")
	checkNoError(t, err)
	done.Status = models.JobSuccess
	checkNoError(t, db.FinalizeJob(ctx, done))

	tests := []struct {
		name    string
		filter  models.JobFilter
		wantIDs []string
	}{
		{"all newest first", models.JobFilter{}, []string{"job-2", "job-1", "job-0"}},
		{"by source", models.JobFilter{Source: "feed-a"}, []string{"job-2", "job-0"}},
		{"by status", models.JobFilter{Status: models.JobRunning}, []string{"job-2", "job-1"}},
		{"limit", models.JobFilter{Limit: 1}, []string{"job-2"}},
		{"no match", models.JobFilter{Source: "feed-z"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := db.ListJobs(ctx, tt.filter)
			checkNoError(t, err)
			ids := make([]string, 0, len(jobs))
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("expected %v, got %v", tt.wantIDs, ids)
			}
		})
	}
}

func TestFinalizeStaleJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	stale := newRunningJob("stale", "feed-a", testNow.Add(-3*time.Hour))
	fresh := newRunningJob("fresh", "feed-b", testNow.Add(-10*time.Minute))
	checkNoError(t, db.CreateJob(ctx, stale))
	checkNoError(t, db.CreateJob(ctx, fresh))

	swept, err := db.FinalizeStaleJobs(ctx, testNow.Add(-time.Hour), "stale job swept")
	checkNoError(t, err)
	checkIntEqual(t, "swept", len(swept), 1)
	checkStringEqual(t, "swept id", swept[0].ID, "stale")
	checkStringEqual(t, "swept status", string(swept[0].Status), string(models.JobError))
	checkStringEqual(t, "swept message", swept[0].ErrorMessage, "stale job swept")
	if swept[0].FinishedAt == nil {
		t.Error("swept job must have finished_at")
	}
	if !swept[0].Stats.SweptStale {
		t.Error("swept job stats should record the sweep")
	}

	got, err := db.GetJob(ctx, "fresh")
	checkNoError(t, err)
	checkStringEqual(t, "fresh status", string(got.Status), string(models.JobRunning))

	// The owning run finishing late cannot overwrite the sweep.
	stale.Status = models.JobSuccess
	checkErrorIs(t, db.FinalizeJob(ctx, stale), ErrJobNotRunning)

	again, err := db.FinalizeStaleJobs(ctx, testNow.Add(-time.Hour), "stale job swept")
	checkNoError(t, err)
	checkIntEqual(t, "second sweep", len(again), 0)
}

func TestSourceHealthPersistence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	h, err := db.GetSourceHealth(ctx, "feed-a")
	checkNoError(t, err)
	checkStringEqual(t, "initial state", string(h.State), string(models.HealthUnknown))

	failedAt := testNow.Add(-time.Minute)
	h.State = models.HealthDisabled
	h.ConsecutiveFailures = 3
	h.LastError = "connection refused"
	h.LastErrorAt = &failedAt
	h.DisabledAt = &failedAt
	checkNoError(t, db.SaveSourceHealth(ctx, h))
	checkNoError(t, db.SaveSourceHealth(ctx, models.SourceHealth{Source: "feed-b", State: models.HealthHealthy, LastSuccessAt: &failedAt}))

	got, err := db.GetSourceHealth(ctx, "feed-a")
	checkNoError(t, err)
	checkStringEqual(t, "state", string(got.State), string(models.HealthDisabled))
	checkIntEqual(t, "failures", got.ConsecutiveFailures, 3)
	checkStringEqual(t, "last error", got.LastError, "connection refused")
	if got.DisabledAt == nil || !got.DisabledAt.Equal(failedAt) {
		t.Errorf("disabled_at: expected %v, got %v", failedAt, got.DisabledAt)
	}
	if !got.UpdatedAt.Equal(testNow) {
		t.Errorf("updated_at: expected %v, got %v", testNow, got.UpdatedAt)
	}

	// Upsert overwrites in place.
	got.State = models.HealthUnknown
	got.ConsecutiveFailures = 0
	got.DisabledAt = nil
	checkNoError(t, db.SaveSourceHealth(ctx, got))

	all, err := db.ListSourceHealth(ctx)
	checkNoError(t, err)
	checkIntEqual(t, "records", len(all), 2)
	checkStringEqual(t, "first source", all[0].Source, "feed-a")
	checkStringEqual(t, "re-enabled state", string(all[0].State), string(models.HealthUnknown))
	if all[0].DisabledAt != nil {
		t.Errorf("disabled_at should be cleared, got %v", all[0].DisabledAt)
	}
	checkStringEqual(t, "second source", all[1].Source, "feed-b")
}

func TestIsUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conn done", fmt.Errorf("query: %w", sql.ErrConnDone), true},
		{"bad conn", driver.ErrBadConn, true},
		{"deadline", context.DeadlineExceeded, true},
		{"closed database", errors.New("sql: database is closed"), true},
		{"constraint", errors.New("Constraint Error: duplicate key"), false},
		{"not found", ErrNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnreachable(tt.err); got != tt.want {
				t.Errorf("IsUnreachable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
