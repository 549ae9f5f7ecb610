// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/logging"
)

// Modes.
const (
	ModeDirect = "direct"
	ModeQueue  = "queue"
)

// Service is the enricher handed to the ingestion orchestrator. It
// dispatches to the direct tagger or the queue and owns the dead-letter
// store.
type Service struct {
	direct      *Direct
	queue       *Queue
	deadLetters *DeadLetterStore
}

// NewService wires the tagger, the dead-letter store and, in queue mode,
// the Watermill queue.
func NewService(cfg *config.EnrichmentConfig, store Store) (*Service, error) {
	tagger, err := NewTagger(cfg)
	if err != nil {
		return nil, err
	}
	return NewServiceWithTagger(cfg, store, tagger)
}

// NewServiceWithTagger is NewService with an explicit tagger.
func NewServiceWithTagger(cfg *config.EnrichmentConfig, store Store, tagger Tagger) (*Service, error) {
	deadLetters, err := OpenDeadLetters(cfg.Queue.DeadLetterPath)
	if err != nil {
		return nil, err
	}

	s := &Service{
		direct:      NewDirect(store, tagger, cfg.Timeout, cfg.MaxTags),
		deadLetters: deadLetters,
	}

	if cfg.Mode == ModeQueue {
		s.queue, err = NewQueue(&cfg.Queue, s.direct, deadLetters)
		if err != nil {
			_ = deadLetters.Close()
			return nil, err
		}
	}

	logging.Info().
		Str("mode", s.Mode()).
		Str("tagger", tagger.Name()).
		Msg("Enrichment configured")
	return s, nil
}

// Mode returns ModeQueue or ModeDirect.
func (s *Service) Mode() string {
	if s.queue != nil {
		return ModeQueue
	}
	return ModeDirect
}

// Queue returns the queue, or nil in direct mode.
func (s *Service) Queue() *Queue { return s.queue }

// Enrich tags catalogID inline or queues it. In direct mode a failure is
// dead-lettered before it is returned.
func (s *Service) Enrich(ctx context.Context, catalogID string) error {
	if s.queue != nil {
		return s.queue.Publish(ctx, catalogID)
	}

	err := s.direct.Tag(ctx, catalogID)
	if err == nil {
		return nil
	}
	dl := &DeadLetter{CatalogID: catalogID, Reason: err.Error(), Attempts: 1}
	if putErr := s.deadLetters.Put(context.WithoutCancel(ctx), dl); putErr != nil {
		logging.Ctx(ctx).Error().Err(putErr).Str("catalog_id", catalogID).Msg("Failed to dead-letter enrichment request")
	}
	return err
}

// DeadLetters lists failed requests, most recent first.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	return s.deadLetters.List(ctx, limit)
}

// Replay retries a dead-lettered request and removes it on success. In
// queue mode the request is re-published; a renewed failure lands in the
// store again under a new id.
func (s *Service) Replay(ctx context.Context, id string) error {
	dl, err := s.deadLetters.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.queue != nil {
		err = s.queue.Publish(ctx, dl.CatalogID)
	} else {
		err = s.direct.Tag(ctx, dl.CatalogID)
	}
	if err != nil {
		return fmt.Errorf("replay dead letter %s: %w", id, err)
	}

	if err := s.deadLetters.Delete(ctx, id); err != nil && !errors.Is(err, ErrDeadLetterNotFound) {
		return err
	}
	logging.Ctx(ctx).Info().Str("dead_letter_id", id).Str("catalog_id", dl.CatalogID).Msg("Dead letter replayed")
	return nil
}

// Close releases the queue and the dead-letter store.
func (s *Service) Close() error {
	var errs []error
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	errs = append(errs, s.deadLetters.Close())
	return errors.Join(errs...)
}
