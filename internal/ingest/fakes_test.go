// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/eventfold/internal/connector"
	"github.com/tomtom215/eventfold/internal/database"
	"github.com/tomtom215/eventfold/internal/models"
)

// memStore is an in-memory CatalogStore, JobStore and HealthStore.
type memStore struct {
	mu sync.Mutex

	events map[string]*models.CatalogEvent
	links  map[[2]string]string // (source, external id) -> catalog id
	nextID int

	jobs   map[string]*models.ImportJob
	health map[string]models.SourceHealth

	// createErr fails CreateEvent for events with the given title.
	createErr map[string]error
	creates   int
	updates   int
}

func newMemStore() *memStore {
	return &memStore{
		events:    make(map[string]*models.CatalogEvent),
		links:     make(map[[2]string]string),
		jobs:      make(map[string]*models.ImportJob),
		health:    make(map[string]models.SourceHealth),
		createErr: make(map[string]error),
	}
}

func (m *memStore) stores() Stores {
	return Stores{Catalog: m, Jobs: m, Health: m}
}

func copyEvent(ce *models.CatalogEvent) *models.CatalogEvent {
	out := *ce
	out.Links = append([]models.SourceLink(nil), ce.Links...)
	return &out
}

func (m *memStore) FindBySourceIdentity(_ context.Context, source, externalID string) (*models.CatalogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.links[[2]string{source, externalID}]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyEvent(m.events[id]), nil
}

func (m *memStore) FindCandidatesInWindow(_ context.Context, start time.Time, window time.Duration) ([]models.CatalogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.CatalogEvent
	for _, ce := range m.events {
		if ce.StartTime.Before(start.Add(-window)) || ce.StartTime.After(start.Add(window)) {
			continue
		}
		c := *ce
		c.Links = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateEvent(_ context.Context, ev *models.NormalizedEvent) (*models.CatalogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.createErr[ev.Title]; err != nil {
		return nil, err
	}
	m.nextID++
	m.creates++
	ce := &models.CatalogEvent{ID: fmt.Sprintf("cat-%03d", m.nextID), NormalizedEvent: *ev}
	m.events[ce.ID] = ce
	m.linkLocked(ce, ev)
	return copyEvent(ce), nil
}

func (m *memStore) UpdateEvent(_ context.Context, id string, ev *models.NormalizedEvent) (*models.CatalogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ce, ok := m.events[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	m.updates++
	ce.NormalizedEvent = *ev
	m.linkLocked(ce, ev)
	return copyEvent(ce), nil
}

func (m *memStore) linkLocked(ce *models.CatalogEvent, ev *models.NormalizedEvent) {
	for i := range ce.Links {
		ce.Links[i].Primary = false
	}
	if !ev.HasExternalID() {
		return
	}
	key := [2]string{ev.Source, ev.ExternalID}
	m.links[key] = ce.ID
	for i := range ce.Links {
		if ce.Links[i].Source == ev.Source && ce.Links[i].ExternalID == ev.ExternalID {
			ce.Links[i].Primary = true
			return
		}
	}
	ce.Links = append(ce.Links, models.SourceLink{CatalogID: ce.ID, Source: ev.Source, ExternalID: ev.ExternalID, Primary: true})
}

func (m *memStore) MarkCancelled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ce, ok := m.events[id]
	if !ok {
		return database.ErrNotFound
	}
	ce.Status = models.StatusCancelled
	return nil
}

func (m *memStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memStore) CreateJob(_ context.Context, job *models.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	j := *job
	m.jobs[job.ID] = &j
	return nil
}

func (m *memStore) FinalizeJob(_ context.Context, job *models.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[job.ID]
	if !ok || stored.Status != models.JobRunning {
		return database.ErrJobNotRunning
	}
	j := *job
	j.ErrorSample = append([]string(nil), job.ErrorSample...)
	m.jobs[job.ID] = &j
	return nil
}

func (m *memStore) LatestSuccessfulJob(_ context.Context, source string) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.ImportJob
	for _, j := range m.jobs {
		if j.Source != source || j.Status != models.JobSuccess {
			continue
		}
		if latest == nil || j.StartedAt.After(latest.StartedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, database.ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (m *memStore) FinalizeStaleJobs(_ context.Context, cutoff time.Time, message string) ([]models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []models.ImportJob
	for _, j := range m.jobs {
		if j.Status != models.JobRunning || !j.StartedAt.Before(cutoff) {
			continue
		}
		finished := cutoff
		j.Status = models.JobError
		j.FinishedAt = &finished
		j.ErrorMessage = message
		j.Stats.SweptStale = true
		swept = append(swept, *j)
	}
	return swept, nil
}

// jobsFor returns the jobs of source ordered by start time.
func (m *memStore) jobsFor(source string) []models.ImportJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ImportJob
	for _, j := range m.jobs {
		if j.Source == source {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *memStore) GetSourceHealth(_ context.Context, source string) (models.SourceHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.health[source]; ok {
		return h, nil
	}
	return models.NewSourceHealth(source), nil
}

func (m *memStore) SaveSourceHealth(_ context.Context, h models.SourceHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[h.Source] = h
	return nil
}

// fakeConnector returns a fixed batch. Records carry a ready NormalizedEvent
// under "event"; records flagged "broken" fail to map.
type fakeConnector struct {
	name          string
	records       []connector.Record
	fetchErr      error
	panicMsg      string
	onFetch       func()
	notConfigured bool

	mu     sync.Mutex
	sinces []time.Time
}

func newFakeConnector(name string, events ...models.NormalizedEvent) *fakeConnector {
	c := &fakeConnector{name: name}
	c.set(events...)
	return c
}

func (c *fakeConnector) set(events ...models.NormalizedEvent) {
	c.records = nil
	for _, ev := range events {
		c.records = append(c.records, connector.Record{Source: c.name, Fields: map[string]any{"id": ev.ExternalID, "event": ev}})
	}
}

func (c *fakeConnector) addBroken(id string) {
	c.records = append(c.records, connector.Record{Source: c.name, Fields: map[string]any{"id": id, "broken": true}})
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) IsConfigured() bool { return !c.notConfigured }

func (c *fakeConnector) FetchSince(_ context.Context, since time.Time, _ int, _ *connector.RunCache) ([]connector.Record, error) {
	c.mu.Lock()
	c.sinces = append(c.sinces, since)
	c.mu.Unlock()

	if c.onFetch != nil {
		c.onFetch()
	}
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.fetchErr != nil {
		return nil, &connector.FetchError{Source: c.name, Op: "page 1", Err: c.fetchErr}
	}
	return c.records, nil
}

func (c *fakeConnector) Normalize(rec connector.Record) (models.NormalizedEvent, error) {
	if broken, _ := rec.Fields["broken"].(bool); broken {
		return models.NormalizedEvent{}, &connector.MappingError{
			Source: c.name, ExternalID: rec.ExternalID(), Field: "start", Reason: "required field missing",
		}
	}
	ev, ok := rec.Fields["event"].(models.NormalizedEvent)
	if !ok {
		return models.NormalizedEvent{}, errors.New("fake record without event")
	}
	return ev, nil
}

func (c *fakeConnector) lastSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sinces) == 0 {
		return time.Time{}
	}
	return c.sinces[len(c.sinces)-1]
}

// fakeEnricher records calls and optionally fails.
type fakeEnricher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *fakeEnricher) Enrich(_ context.Context, catalogID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, catalogID)
	return e.err
}

// testClock advances one second on every reading.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{t: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
