// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

// Store is the catalog access enrichment needs.
type Store interface {
	GetEvent(ctx context.Context, id string) (*models.CatalogEvent, error)
	UpdateTags(ctx context.Context, id string, tags []string) error
}

// Direct tags one catalog event synchronously.
type Direct struct {
	store   Store
	tagger  Tagger
	timeout time.Duration
	maxTags int
}

// NewDirect creates a Direct enricher. A zero timeout means no deadline
// beyond the caller's context.
func NewDirect(store Store, tagger Tagger, timeout time.Duration, maxTags int) *Direct {
	return &Direct{store: store, tagger: tagger, timeout: timeout, maxTags: maxTags}
}

// Tagger returns the tagger in use.
func (d *Direct) Tagger() Tagger { return d.tagger }

// Tag loads the event, asks the tagger and stores the merged tag set.
// Tags already on the event are kept; new ones are appended up to maxTags.
func (d *Direct) Tag(ctx context.Context, catalogID string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordEnrichment(d.tagger.Name(), time.Since(start), err) }()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	ev, err := d.store.GetEvent(ctx, catalogID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", catalogID, err)
	}

	suggested, err := d.tagger.Tags(ctx, ev)
	if err != nil {
		return fmt.Errorf("tag event %s: %w", catalogID, err)
	}

	merged, changed := mergeTags(ev.Tags, suggested, d.maxTags)
	if !changed {
		return nil
	}
	if err := d.store.UpdateTags(ctx, catalogID, merged); err != nil {
		return fmt.Errorf("store tags for %s: %w", catalogID, err)
	}
	return nil
}

func mergeTags(existing, suggested []string, maxTags int) ([]string, bool) {
	merged := append([]string(nil), existing...)
	seen := make(map[string]bool, len(existing)+len(suggested))
	for _, t := range existing {
		seen[t] = true
	}

	changed := false
	for _, t := range suggested {
		if maxTags > 0 && len(merged) >= maxTags {
			break
		}
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
		changed = true
	}
	return merged, changed
}
