// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tomtom215/eventfold/internal/models"
)

// AnthropicTagger asks a Claude model for tags.
type AnthropicTagger struct {
	client  anthropic.Client
	model   string
	maxTags int
}

// NewAnthropicTagger creates a tagger using the Messages API.
func NewAnthropicTagger(apiKey, model string, maxTags int, opts ...option.RequestOption) *AnthropicTagger {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicTagger{
		client:  anthropic.NewClient(opts...),
		model:   model,
		maxTags: maxTags,
	}
}

// Name implements Tagger.
func (a *AnthropicTagger) Name() string { return ProviderAnthropic }

// Tags implements Tagger.
func (a *AnthropicTagger) Tags(ctx context.Context, ev *models.CatalogEvent) ([]string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 128,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt(ev, a.maxTags))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic tagging request: %w", err)
	}

	var answer strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			answer.WriteString(block.Text)
		}
	}
	return parseTags(answer.String(), a.maxTags), nil
}
