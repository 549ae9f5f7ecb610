// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/connector"
	"github.com/tomtom215/eventfold/internal/database"
	"github.com/tomtom215/eventfold/internal/enrich"
	"github.com/tomtom215/eventfold/internal/ingest"
	"github.com/tomtom215/eventfold/internal/models"
)

type fakeIngester struct {
	sources        []string
	results        map[string]ingest.RunResult
	runErr         map[string]error
	enabled        []string
	sawCancellable bool
}

func (f *fakeIngester) RunAll(ctx context.Context) map[string]ingest.RunResult {
	return f.results
}

func (f *fakeIngester) RunOne(ctx context.Context, source string) (ingest.RunResult, error) {
	if ctx.Done() != nil {
		f.sawCancellable = true
	}
	if err := f.runErr[source]; err != nil {
		return ingest.RunResult{}, err
	}
	return f.results[source], nil
}

func (f *fakeIngester) EnableSource(ctx context.Context, source string) (models.SourceHealth, error) {
	for _, s := range f.sources {
		if s == source {
			f.enabled = append(f.enabled, source)
			return models.SourceHealth{Source: source, State: models.HealthUnknown}, nil
		}
	}
	return models.SourceHealth{}, fmt.Errorf("%w: %s", ingest.ErrUnknownSource, source)
}

func (f *fakeIngester) Sources() []string { return f.sources }

type fakeSweeper struct {
	swept int
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context) (int, error) { return f.swept, f.err }

type fakeStore struct {
	jobs       []models.ImportJob
	lastFilter models.JobFilter
	health     map[string]models.SourceHealth
	events     map[string]*models.CatalogEvent
	pingErr    error
	listErr    error
}

func (f *fakeStore) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.ImportJob, error) {
	f.lastFilter = filter
	return f.jobs, f.listErr
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*models.ImportJob, error) {
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			return &f.jobs[i], nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) LatestJob(ctx context.Context, source string) (*models.ImportJob, error) {
	for i := range f.jobs {
		if f.jobs[i].Source == source {
			return &f.jobs[i], nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetSourceHealth(ctx context.Context, source string) (models.SourceHealth, error) {
	if h, ok := f.health[source]; ok {
		return h, nil
	}
	return models.SourceHealth{Source: source, State: models.HealthUnknown}, nil
}

func (f *fakeStore) GetEvent(ctx context.Context, id string) (*models.CatalogEvent, error) {
	if ev, ok := f.events[id]; ok {
		return ev, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type fakeDeadLetters struct {
	letters  []enrich.DeadLetter
	replayed []string
}

func (f *fakeDeadLetters) DeadLetters(ctx context.Context, limit int) ([]enrich.DeadLetter, error) {
	if limit < len(f.letters) {
		return f.letters[:limit], nil
	}
	return f.letters, nil
}

func (f *fakeDeadLetters) Replay(ctx context.Context, id string) error {
	for _, dl := range f.letters {
		if dl.ID == id {
			f.replayed = append(f.replayed, id)
			return nil
		}
	}
	return enrich.ErrDeadLetterNotFound
}

type testDeps struct {
	ingester    *fakeIngester
	sweeper     *fakeSweeper
	store       *fakeStore
	deadLetters *fakeDeadLetters
}

func newTestDeps() *testDeps {
	return &testDeps{
		ingester: &fakeIngester{
			sources: []string{"alpha", "beta"},
			results: map[string]ingest.RunResult{},
			runErr:  map[string]error{},
		},
		sweeper: &fakeSweeper{},
		store: &fakeStore{
			health: map[string]models.SourceHealth{},
			events: map[string]*models.CatalogEvent{},
		},
		deadLetters: &fakeDeadLetters{},
	}
}

func newTestRouter(t *testing.T, deps *testDeps, withDeadLetters bool) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{Name: "alpha", Kind: "http_json", Enabled: true},
			{Name: "beta", Kind: "file_drop", Enabled: false},
		},
	}
	var dl DeadLetters
	if withDeadLetters {
		dl = deps.deadLetters
	}
	h := NewHandler(cfg, deps.ingester, deps.sweeper, deps.store, dl)
	mw := NewChiMiddleware(ChiMiddlewareConfigFrom(&config.ServerConfig{}))
	return NewRouter(h, mw)
}

func doRequest(t *testing.T, router http.Handler, method, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response of %s %s: %v (body %q)", method, target, err, w.Body.String())
	}
	return w, resp
}

func checkCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func checkErrorCode(t *testing.T, resp APIResponse, want string) {
	t.Helper()
	if resp.Success {
		t.Fatal("expected success=false")
	}
	if resp.Error == nil || resp.Error.Code != want {
		t.Fatalf("error = %+v, want code %s", resp.Error, want)
	}
}

func TestHealthEndpoints(t *testing.T) {
	deps := newTestDeps()
	router := newTestRouter(t, deps, true)

	w, resp := doRequest(t, router, http.MethodGet, "/health/live")
	checkCode(t, w, http.StatusOK)
	if !resp.Success {
		t.Error("live should succeed")
	}

	w, _ = doRequest(t, router, http.MethodGet, "/health/ready")
	checkCode(t, w, http.StatusOK)

	deps.store.pingErr = errors.New("database is closed")
	w, resp = doRequest(t, router, http.MethodGet, "/health/ready")
	checkCode(t, w, http.StatusServiceUnavailable)
	checkErrorCode(t, resp, ErrCodeServiceUnavailable)
}

func TestRunSource(t *testing.T) {
	deps := newTestDeps()
	deps.ingester.results["alpha"] = ingest.RunResult{Source: "alpha", JobID: "job-1", Status: models.JobSuccess, Created: 3}
	deps.ingester.runErr["beta"] = fmt.Errorf("%w: beta is not enabled", ingest.ErrSourceDisabled)
	deps.ingester.runErr["gamma"] = fmt.Errorf("%w: gamma", ingest.ErrUnknownSource)
	deps.ingester.runErr["delta"] = fmt.Errorf("%w: delta", connector.ErrNotConfigured)
	deps.ingester.runErr["omega"] = errors.New("failed to create job: disk full")
	router := newTestRouter(t, deps, true)

	tests := []struct {
		source   string
		wantCode int
		wantErr  string
	}{
		{"alpha", http.StatusOK, ""},
		{"beta", http.StatusConflict, ErrCodeConflict},
		{"gamma", http.StatusNotFound, ErrCodeNotFound},
		{"delta", http.StatusConflict, ErrCodeConflict},
		{"omega", http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			w, resp := doRequest(t, router, http.MethodPost, "/api/v1/ingest/run/"+tt.source)
			checkCode(t, w, tt.wantCode)
			if tt.wantErr != "" {
				checkErrorCode(t, resp, tt.wantErr)
				return
			}
			data, ok := resp.Data.(map[string]any)
			if !ok {
				t.Fatalf("data = %T", resp.Data)
			}
			if data["job_id"] != "job-1" || data["created"] != float64(3) {
				t.Errorf("data = %v", data)
			}
		})
	}
}

func TestRunSourceDetachesFromRequest(t *testing.T) {
	deps := newTestDeps()
	deps.ingester.results["alpha"] = ingest.RunResult{Source: "alpha", Status: models.JobSuccess}
	router := newTestRouter(t, deps, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/run/alpha", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	checkCode(t, w, http.StatusOK)
	if deps.ingester.sawCancellable {
		t.Error("run context should not be cancellable by the request")
	}
}

func TestRunAll(t *testing.T) {
	deps := newTestDeps()
	deps.ingester.results["alpha"] = ingest.RunResult{Source: "alpha", Status: models.JobSuccess}
	router := newTestRouter(t, deps, true)

	w, resp := doRequest(t, router, http.MethodPost, "/api/v1/ingest/run")
	checkCode(t, w, http.StatusOK)
	if resp.Meta == nil || resp.Meta.Count == nil || *resp.Meta.Count != 1 {
		t.Fatalf("meta = %+v", resp.Meta)
	}
	data := resp.Data.(map[string]any)
	if _, ok := data["alpha"]; !ok {
		t.Errorf("results missing alpha: %v", data)
	}
}

func TestListJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deps := newTestDeps()
	deps.store.jobs = []models.ImportJob{
		{ID: "job-2", Source: "alpha", Status: models.JobSuccess, StartedAt: now},
		{ID: "job-1", Source: "alpha", Status: models.JobError, StartedAt: now.Add(-time.Hour)},
	}
	router := newTestRouter(t, deps, true)

	t.Run("defaults", func(t *testing.T) {
		w, resp := doRequest(t, router, http.MethodGet, "/api/v1/jobs")
		checkCode(t, w, http.StatusOK)
		if *resp.Meta.Count != 2 {
			t.Errorf("count = %d, want 2", *resp.Meta.Count)
		}
		if deps.store.lastFilter.Limit != database.DefaultJobListLimit {
			t.Errorf("limit = %d, want default", deps.store.lastFilter.Limit)
		}
	})

	t.Run("filters", func(t *testing.T) {
		w, _ := doRequest(t, router, http.MethodGet, "/api/v1/jobs?source=alpha&status=ERROR&limit=5")
		checkCode(t, w, http.StatusOK)
		want := models.JobFilter{Source: "alpha", Status: models.JobError, Limit: 5}
		if deps.store.lastFilter != want {
			t.Errorf("filter = %+v, want %+v", deps.store.lastFilter, want)
		}
	})

	invalid := []string{
		"/api/v1/jobs?status=PENDING",
		"/api/v1/jobs?limit=0",
		"/api/v1/jobs?limit=501",
		"/api/v1/jobs?limit=ten",
	}
	for _, target := range invalid {
		t.Run(target, func(t *testing.T) {
			w, resp := doRequest(t, router, http.MethodGet, target)
			checkCode(t, w, http.StatusBadRequest)
			if resp.Success {
				t.Error("expected failure")
			}
		})
	}

	t.Run("store failure", func(t *testing.T) {
		deps.store.listErr = errors.New("io error")
		defer func() { deps.store.listErr = nil }()
		w, resp := doRequest(t, router, http.MethodGet, "/api/v1/jobs")
		checkCode(t, w, http.StatusInternalServerError)
		checkErrorCode(t, resp, ErrCodeDatabaseError)
	})
}

func TestGetJob(t *testing.T) {
	deps := newTestDeps()
	deps.store.jobs = []models.ImportJob{{ID: "job-1", Source: "alpha", Status: models.JobRunning}}
	router := newTestRouter(t, deps, true)

	w, resp := doRequest(t, router, http.MethodGet, "/api/v1/jobs/job-1")
	checkCode(t, w, http.StatusOK)
	if data := resp.Data.(map[string]any); data["status"] != string(models.JobRunning) {
		t.Errorf("status = %v", data["status"])
	}

	w, resp = doRequest(t, router, http.MethodGet, "/api/v1/jobs/missing")
	checkCode(t, w, http.StatusNotFound)
	checkErrorCode(t, resp, ErrCodeNotFound)
}

func TestListSources(t *testing.T) {
	deps := newTestDeps()
	deps.store.jobs = []models.ImportJob{{ID: "job-1", Source: "alpha", Status: models.JobSuccess}}
	deps.store.health["alpha"] = models.SourceHealth{Source: "alpha", State: models.HealthHealthy}
	router := newTestRouter(t, deps, true)

	w, resp := doRequest(t, router, http.MethodGet, "/api/v1/sources")
	checkCode(t, w, http.StatusOK)

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	var views []SourceView
	if err := json.Unmarshal(raw, &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d sources, want 2", len(views))
	}

	alpha, beta := views[0], views[1]
	if !alpha.Enabled || !alpha.Registered || alpha.Health.State != models.HealthHealthy {
		t.Errorf("alpha = %+v", alpha)
	}
	if alpha.LatestJob == nil || alpha.LatestJob.ID != "job-1" {
		t.Errorf("alpha latest job = %+v", alpha.LatestJob)
	}
	if beta.Enabled || beta.LatestJob != nil || beta.Kind != "file_drop" {
		t.Errorf("beta = %+v", beta)
	}
}

func TestEnableSource(t *testing.T) {
	deps := newTestDeps()
	router := newTestRouter(t, deps, true)

	w, _ := doRequest(t, router, http.MethodPost, "/api/v1/sources/alpha/enable")
	checkCode(t, w, http.StatusOK)
	if len(deps.ingester.enabled) != 1 || deps.ingester.enabled[0] != "alpha" {
		t.Errorf("enabled = %v", deps.ingester.enabled)
	}

	w, resp := doRequest(t, router, http.MethodPost, "/api/v1/sources/nope/enable")
	checkCode(t, w, http.StatusNotFound)
	checkErrorCode(t, resp, ErrCodeNotFound)
}

func TestSweep(t *testing.T) {
	deps := newTestDeps()
	deps.sweeper.swept = 2
	router := newTestRouter(t, deps, true)

	w, resp := doRequest(t, router, http.MethodPost, "/api/v1/maintenance/sweep")
	checkCode(t, w, http.StatusOK)
	if data := resp.Data.(map[string]any); data["swept"] != float64(2) {
		t.Errorf("data = %v", data)
	}

	deps.sweeper.err = errors.New("locked")
	w, resp = doRequest(t, router, http.MethodPost, "/api/v1/maintenance/sweep")
	checkCode(t, w, http.StatusInternalServerError)
	checkErrorCode(t, resp, ErrCodeDatabaseError)
}

func TestGetEvent(t *testing.T) {
	deps := newTestDeps()
	deps.store.events["ev-1"] = &models.CatalogEvent{
		ID:              "ev-1",
		NormalizedEvent: models.NormalizedEvent{Title: "Jazz Night"},
	}
	router := newTestRouter(t, deps, true)

	w, resp := doRequest(t, router, http.MethodGet, "/api/v1/events/ev-1")
	checkCode(t, w, http.StatusOK)
	if data := resp.Data.(map[string]any); data["title"] != "Jazz Night" {
		t.Errorf("data = %v", data)
	}

	w, _ = doRequest(t, router, http.MethodGet, "/api/v1/events/ev-2")
	checkCode(t, w, http.StatusNotFound)
}

func TestDeadLetterEndpoints(t *testing.T) {
	deps := newTestDeps()
	deps.deadLetters.letters = []enrich.DeadLetter{
		{ID: "dl-1", CatalogID: "ev-1", Reason: "timeout", Attempts: 1},
		{ID: "dl-2", CatalogID: "ev-2", Reason: "timeout", Attempts: 1},
	}
	router := newTestRouter(t, deps, true)

	w, resp := doRequest(t, router, http.MethodGet, "/api/v1/enrichment/dead-letters?limit=1")
	checkCode(t, w, http.StatusOK)
	if *resp.Meta.Count != 1 {
		t.Errorf("count = %d, want 1", *resp.Meta.Count)
	}

	w, _ = doRequest(t, router, http.MethodGet, "/api/v1/enrichment/dead-letters?limit=5000")
	checkCode(t, w, http.StatusBadRequest)

	w, _ = doRequest(t, router, http.MethodPost, "/api/v1/enrichment/dead-letters/dl-2/replay")
	checkCode(t, w, http.StatusOK)
	if len(deps.deadLetters.replayed) != 1 || deps.deadLetters.replayed[0] != "dl-2" {
		t.Errorf("replayed = %v", deps.deadLetters.replayed)
	}

	w, resp = doRequest(t, router, http.MethodPost, "/api/v1/enrichment/dead-letters/dl-9/replay")
	checkCode(t, w, http.StatusNotFound)
	checkErrorCode(t, resp, ErrCodeNotFound)
}

func TestDeadLettersWithoutEnrichment(t *testing.T) {
	router := newTestRouter(t, newTestDeps(), false)

	w, resp := doRequest(t, router, http.MethodGet, "/api/v1/enrichment/dead-letters")
	checkCode(t, w, http.StatusServiceUnavailable)
	checkErrorCode(t, resp, ErrCodeServiceUnavailable)

	w, _ = doRequest(t, router, http.MethodPost, "/api/v1/enrichment/dead-letters/dl-1/replay")
	checkCode(t, w, http.StatusServiceUnavailable)
}

func TestUnknownRoutes(t *testing.T) {
	router := newTestRouter(t, newTestDeps(), true)

	w, resp := doRequest(t, router, http.MethodGet, "/api/v1/nothing")
	checkCode(t, w, http.StatusNotFound)
	checkErrorCode(t, resp, ErrCodeNotFound)

	w, _ = doRequest(t, router, http.MethodGet, "/api/v1/ingest/run")
	checkCode(t, w, http.StatusMethodNotAllowed)
}

func TestRateLimit(t *testing.T) {
	mw := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitRequests: 1, RateLimitWindow: time.Minute})
	handler := mw.RateLimit()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
}
