// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/eventfold/internal/logging"
)

// Job is a scheduled unit of work. It receives the Serve context, so a
// shutdown cancels in-flight work.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context)
	// RunOnStart runs the job once as soon as the scheduler starts.
	RunOnStart bool
}

// SchedulerService runs jobs on robfig/cron schedules. A job that is still
// running when its next tick fires is skipped rather than stacked.
type SchedulerService struct {
	jobs []Job
}

// NewSchedulerService creates a scheduler for jobs. Jobs with an empty Spec
// are ignored.
func NewSchedulerService(jobs ...Job) *SchedulerService {
	kept := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Spec != "" {
			kept = append(kept, j)
		}
	}
	return &SchedulerService{jobs: kept}
}

// Validate parses every job spec without starting anything.
func (s *SchedulerService) Validate() error {
	for _, j := range s.jobs {
		if _, err := cron.ParseStandard(j.Spec); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", j.Spec, j.Name, err)
		}
	}
	return nil
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})))

	var wg sync.WaitGroup
	for _, j := range s.jobs {
		run := func() {
			logging.Debug().Str("job", j.Name).Msg("Scheduled job starting")
			j.Run(ctx)
		}
		if _, err := c.AddFunc(j.Spec, run); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", j.Spec, j.Name, err)
		}
		if j.RunOnStart {
			wg.Add(1)
			go func() {
				defer wg.Done()
				run()
			}()
		}
	}

	c.Start()
	logging.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()
	logging.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

func (s *SchedulerService) String() string {
	return "scheduler"
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
