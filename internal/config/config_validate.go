// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package config

import (
	"fmt"
	"math"
	"net/url"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

var validSourceKinds = map[string]bool{
	"http_json": true, "file_drop": true,
}

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateDedupe(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be non-negative, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.Server.RateLimitReqs < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be non-negative")
	}
	return nil
}

func (c *Config) validateIngest() error {
	in := c.Ingest
	if in.Concurrency < 1 {
		return fmt.Errorf("INGEST_CONCURRENCY must be at least 1, got %d", in.Concurrency)
	}
	if in.DefaultLookback <= 0 {
		return fmt.Errorf("INGEST_DEFAULT_LOOKBACK must be positive")
	}
	if in.BatchSize < 1 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be at least 1, got %d", in.BatchSize)
	}
	if in.ErrorSampleSize < 0 {
		return fmt.Errorf("INGEST_ERROR_SAMPLE_SIZE must be non-negative")
	}
	if in.ErrorMessageMaxLen < 16 {
		return fmt.Errorf("INGEST_ERROR_MESSAGE_MAX_LEN must be at least 16, got %d", in.ErrorMessageMaxLen)
	}
	if in.StaleJobTimeout <= 0 {
		return fmt.Errorf("INGEST_STALE_JOB_TIMEOUT must be positive")
	}
	if in.CacheSize < 1 {
		return fmt.Errorf("INGEST_CACHE_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) validateDedupe() error {
	d := c.Dedupe
	if d.Threshold < 0 || d.Threshold > 1 || math.IsNaN(d.Threshold) {
		return fmt.Errorf("DEDUP_THRESHOLD must be within [0,1], got %v", d.Threshold)
	}
	for name, w := range map[string]float64{
		"DEDUP_TITLE_WEIGHT":    d.TitleWeight,
		"DEDUP_TIME_WEIGHT":     d.TimeWeight,
		"DEDUP_LOCATION_WEIGHT": d.LocationWeight,
	} {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%s must be non-negative, got %v", name, w)
		}
	}
	if d.TitleWeight+d.TimeWeight+d.LocationWeight == 0 {
		return fmt.Errorf("at least one dedupe weight must be positive")
	}
	if d.Window <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be positive")
	}
	if d.DistanceDecayKm <= 0 {
		return fmt.Errorf("DEDUP_DISTANCE_DECAY_KM must be positive")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("HEALTH_FAILURE_THRESHOLD must be at least 1, got %d", c.Health.FailureThreshold)
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, s.Name)
		}
		seen[s.Name] = true

		if !validSourceKinds[s.Kind] {
			return fmt.Errorf("source %s: kind must be one of: http_json, file_drop, got %q", s.Name, s.Kind)
		}
		if s.Kind == "http_json" && s.URL != "" {
			if err := validateHTTPURL(s.URL); err != nil {
				return fmt.Errorf("source %s: url is invalid: %w", s.Name, err)
			}
		}
		if s.RequestsPerSecond < 0 {
			return fmt.Errorf("source %s: requests_per_second must be non-negative", s.Name)
		}
		if s.BatchSize < 0 {
			return fmt.Errorf("source %s: batch_size must be non-negative", s.Name)
		}
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	e := c.Enrichment
	if !e.Enabled {
		return nil
	}
	switch e.Mode {
	case "direct", "queue":
	default:
		return fmt.Errorf("ENRICHMENT_MODE must be one of: direct, queue, got %q", e.Mode)
	}
	switch e.Provider {
	case "keyword":
	case "anthropic":
		if e.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when ENRICHMENT_PROVIDER=anthropic")
		}
	case "openai":
		if e.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ENRICHMENT_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("ENRICHMENT_PROVIDER must be one of: keyword, anthropic, openai, got %q", e.Provider)
	}
	if e.Mode == "queue" {
		return validateQueue(e.Queue)
	}
	return nil
}

func validateQueue(q QueueConfig) error {
	switch q.Transport {
	case "gochannel":
	case "nats":
		if err := validateNATSURL(q.NATSURL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	default:
		return fmt.Errorf("ENRICHMENT_QUEUE_TRANSPORT must be one of: gochannel, nats, got %q", q.Transport)
	}
	if q.Topic == "" {
		return fmt.Errorf("ENRICHMENT_QUEUE_TOPIC is required")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// validateHTTPURL validates an absolute http(s) URL. Feed URLs may carry a
// path and query, unlike server base URLs.
func validateHTTPURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// validateNATSURL supports nats://, tls://, ws:// and wss:// schemes.
func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222)")
	}
	return nil
}
