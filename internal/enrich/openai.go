// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package enrich

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tomtom215/eventfold/internal/models"
)

// OpenAITagger asks a chat completion model for tags.
type OpenAITagger struct {
	client  openai.Client
	model   string
	maxTags int
}

// NewOpenAITagger creates a tagger using the Chat Completions API.
func NewOpenAITagger(apiKey, model string, maxTags int, opts ...option.RequestOption) *OpenAITagger {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAITagger{
		client:  openai.NewClient(opts...),
		model:   model,
		maxTags: maxTags,
	}
}

// Name implements Tagger.
func (o *OpenAITagger) Name() string { return ProviderOpenAI }

// Tags implements Tagger.
func (o *OpenAITagger) Tags(ctx context.Context, ev *models.CatalogEvent) ([]string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt(ev, o.maxTags)),
		},
		MaxCompletionTokens: openai.Int(128),
	})
	if err != nil {
		return nil, fmt.Errorf("openai tagging request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai tagging request: empty response")
	}
	return parseTags(resp.Choices[0].Message.Content, o.maxTags), nil
}
