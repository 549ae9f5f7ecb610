// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package connector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
	"github.com/tomtom215/eventfold/internal/models"
)

const (
	defaultPageSize    = 100
	defaultHTTPTimeout = 30 * time.Second
	maxPages           = 1000
)

// feedPage is one page of an http_json feed.
type feedPage struct {
	Events   []map[string]any `json:"events"`
	NextPage int              `json:"next_page"`
}

// HTTPFeed reads a paginated JSON feed:
//
//	GET <url>?since=<RFC3339>&limit=<page size>&page=<n>
//	{"events": [...], "next_page": <n+1 or 0>}
//
// Every page request waits on the rate limiter and runs through the
// circuit breaker; resty retries transient failures before the breaker sees them.
type HTTPFeed struct {
	name     string
	url      string
	pageSize int

	client  *resty.Client
	limiter *rate.Limiter
	breaker *Breaker
}

// NewHTTPFeed creates an http_json connector from its source configuration.
func NewHTTPFeed(cfg config.SourceConfig) *HTTPFeed {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "eventfold/1").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTPFeed{
		name:     cfg.Name,
		url:      cfg.URL,
		pageSize: pageSize,
		client:   client,
		limiter:  newLimiter(cfg.RequestsPerSecond),
		breaker:  NewBreaker("source-"+cfg.Name, cfg.BreakerFailures, cfg.BreakerTimeout),
	}
}

func (h *HTTPFeed) Name() string { return h.name }

func (h *HTTPFeed) IsConfigured() bool { return h.url != "" }

// BreakerState implements BreakerReporter.
func (h *HTTPFeed) BreakerState() string { return h.breaker.State() }

// FetchSince walks the feed pages until the source reports no next page or
// limit records were collected. Records repeated across pages are dropped.
func (h *HTTPFeed) FetchSince(ctx context.Context, since time.Time, limit int, cache *RunCache) ([]Record, error) {
	if !h.IsConfigured() {
		return nil, &FetchError{Source: h.name, Op: "configure", Err: ErrNotConfigured}
	}

	var records []Record
	page := 1
	for pages := 0; pages < maxPages; pages++ {
		if limit > 0 && len(records) >= limit {
			break
		}

		body, err := h.fetchPage(ctx, since, page)
		if err != nil {
			return nil, &FetchError{Source: h.name, Op: fmt.Sprintf("page %d", page), Err: err}
		}

		now := time.Now().UTC()
		for _, fields := range body.Events {
			rec := Record{Source: h.name, Fields: fields, ReceivedAt: now}
			if id := rec.ExternalID(); id != "" {
				seen := cache.Seen("id:" + id)
				metrics.RecordCacheLookup(h.name, seen)
				if seen {
					continue
				}
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}

		if body.NextPage <= page || len(body.Events) == 0 {
			break
		}
		page = body.NextPage
	}

	logging.Debug().Str("source", h.name).Int("records", len(records)).Int("pages", page).Msg("Fetched feed")
	return records, nil
}

func (h *HTTPFeed) fetchPage(ctx context.Context, since time.Time, page int) (*feedPage, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	result, err := h.breaker.Execute(func() (any, error) {
		resp, err := h.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"since": since.UTC().Format(time.RFC3339),
				"limit": strconv.Itoa(h.pageSize),
				"page":  strconv.Itoa(page),
			}).
			SetResult(&feedPage{}).
			Get(h.url)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
		}
		body, ok := resp.Result().(*feedPage)
		if !ok || body == nil {
			return nil, fmt.Errorf("failed to decode page")
		}
		return body, nil
	})
	metrics.RecordConnectorRequest(h.name, time.Since(start))
	if err != nil {
		return nil, err
	}
	return result.(*feedPage), nil
}

// Normalize maps one feed record.
func (h *HTTPFeed) Normalize(rec Record) (models.NormalizedEvent, error) {
	return mapRecord(h.name, rec)
}
