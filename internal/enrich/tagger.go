// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package enrich attaches descriptive tags to catalog events after they are
// written. Enrichment is best effort: a failure never affects the ingestion
// run that triggered it.
//
// Two delivery modes exist. In direct mode the tagger is called inline by
// the ingestion run. In queue mode the run publishes the catalog id to a
// Watermill topic (in-process gochannel or NATS JetStream) and a router
// handler tags the event, with retries and a Badger-backed dead-letter
// store for requests that keep failing.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/models"
)

// Tagger providers.
const (
	ProviderKeyword   = "keyword"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// maxTagLen caps a single tag; generative taggers occasionally answer
// with a sentence.
const maxTagLen = 40

// Tagger produces tags for one catalog event.
type Tagger interface {
	Name() string
	Tags(ctx context.Context, ev *models.CatalogEvent) ([]string, error)
}

// NewTagger builds the tagger selected by cfg.Provider.
func NewTagger(cfg *config.EnrichmentConfig) (Tagger, error) {
	switch cfg.Provider {
	case "", ProviderKeyword:
		return NewKeywordTagger(cfg.Keywords), nil
	case ProviderAnthropic:
		return NewAnthropicTagger(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTags), nil
	case ProviderOpenAI:
		return NewOpenAITagger(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.MaxTags), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q", cfg.Provider)
	}
}

// describe renders the event text a tagger looks at.
func describe(ev *models.CatalogEvent) string {
	var b strings.Builder
	b.WriteString(ev.Title)
	for _, s := range []string{ev.Description, ev.Category} {
		if s != "" {
			b.WriteString("\n")
			b.WriteString(s)
		}
	}
	if len(ev.Lineup) > 0 {
		b.WriteString("\nLineup: ")
		b.WriteString(strings.Join(ev.Lineup, ", "))
	}
	if ev.Venue != nil && ev.Venue.Name != "" {
		b.WriteString("\nVenue: ")
		b.WriteString(ev.Venue.Name)
	}
	return b.String()
}

const tagPrompt = `Suggest at most %d short lowercase tags describing the event below ` +
	`(genre, audience, format). Answer with the tags only, separated by commas.

%s`

func prompt(ev *models.CatalogEvent, maxTags int) string {
	return fmt.Sprintf(tagPrompt, maxTags, describe(ev))
}

// parseTags splits a free-text answer into clean tags: lower case, trimmed,
// de-duplicated, and bounded in count and length.
func parseTags(answer string, maxTags int) []string {
	fields := strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})

	seen := make(map[string]bool, len(fields))
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		tag := strings.ToLower(strings.Trim(strings.TrimSpace(f), `"'#-*.`))
		tag = strings.Join(strings.Fields(tag), " ")
		if tag == "" || len([]rune(tag)) > maxTagLen || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if maxTags > 0 && len(tags) == maxTags {
			break
		}
	}
	return tags
}
