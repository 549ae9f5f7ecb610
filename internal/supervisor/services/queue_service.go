// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// QueueRunner is satisfied by *enrich.Queue.
type QueueRunner interface {
	Run(ctx context.Context) error
}

// QueueService runs the enrichment queue consumer.
//
// A watermill router cannot be restarted once it has stopped, so an
// unexpected exit is reported with suture.ErrDoNotRestart. Enrichment is
// best effort; ingestion keeps working without the consumer.
type QueueService struct {
	queue QueueRunner
}

// NewQueueService wraps queue.
func NewQueueService(queue QueueRunner) *QueueService {
	return &QueueService{queue: queue}
}

// Serve implements suture.Service.
func (s *QueueService) Serve(ctx context.Context) error {
	err := s.queue.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("enrichment queue stopped: %w: %w", err, suture.ErrDoNotRestart)
	}
	return suture.ErrDoNotRestart
}

func (s *QueueService) String() string {
	return "enrichment-queue"
}
