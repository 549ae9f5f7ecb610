// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerServiceValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"descriptor", "@every 15m", false},
		{"five fields", "*/5 * * * *", false},
		{"hourly", "@hourly", false},
		{"garbage", "every now and then", true},
		{"six fields", "0 */5 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewSchedulerService(Job{Name: "ingest", Spec: tt.spec, Run: func(context.Context) {}})
			err := svc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchedulerServiceSkipsEmptySpecs(t *testing.T) {
	svc := NewSchedulerService(
		Job{Name: "ingest", Spec: "@every 1h", Run: func(context.Context) {}},
		Job{Name: "sweep", Spec: "", Run: func(context.Context) {}},
	)
	if len(svc.jobs) != 1 || svc.jobs[0].Name != "ingest" {
		t.Errorf("jobs = %+v", svc.jobs)
	}
}

func TestSchedulerServiceRunOnStart(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{}, 1)
	svc := NewSchedulerService(Job{
		Name:       "ingest",
		Spec:       "@every 1h",
		RunOnStart: true,
		Run: func(ctx context.Context) {
			runs.Add(1)
			started <- struct{}{}
			<-ctx.Done()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not wait for the job and return")
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

func TestSchedulerServiceInvalidSpec(t *testing.T) {
	svc := NewSchedulerService(Job{Name: "sweep", Spec: "nonsense", Run: func(context.Context) {}})
	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid spec")
	}
}
