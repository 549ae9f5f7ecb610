// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package config loads Eventfold configuration with Koanf v2.
//
// Configuration Loading Order:
//  1. Defaults: built-in values from defaultConfig()
//  2. Config File: optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment Variables: override any mapped setting
//
// Sources are declared in the YAML file as a list because each one carries
// its own connector settings. INGEST_ENABLED_SOURCES narrows the set of
// declared sources that are enabled without editing the file.
//
// Example config.yaml:
//
//	ingest:
//	  concurrency: 4
//	  default_lookback: 168h
//	dedupe:
//	  threshold: 0.82
//	conflict:
//	  authoritative_source: internal
//	sources:
//	  - name: internal
//	    kind: file_drop
//	    path: /data/drops
//	    enabled: true
//	  - name: ticketfeed
//	    kind: http_json
//	    url: https://feeds.example.com/events
//	    api_key: secret
//	    requests_per_second: 2
//	    enabled: true
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Dedupe     DedupeConfig     `koanf:"dedupe"`
	Conflict   ConflictConfig   `koanf:"conflict"`
	Health     HealthConfig     `koanf:"health"`
	Schedule   ScheduleConfig   `koanf:"schedule"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Sources    []SourceConfig   `koanf:"sources"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings for the catalog, job ledger and source health tables.
type DatabaseConfig struct {
	Path      string `koanf:"path"`       // ":memory:" for an ephemeral database
	MaxMemory string `koanf:"max_memory"` // DuckDB memory_limit, e.g. "1GB"
	Threads   int    `koanf:"threads"`    // 0 = DuckDB default
}

// ServerConfig holds HTTP server settings for the operational API.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// IngestConfig controls the orchestrator.
type IngestConfig struct {
	// Concurrency is the number of sources processed at the same time by RunAll.
	Concurrency int `koanf:"concurrency"`

	// DefaultLookback is the watermark used for a source that has never
	// completed a successful run.
	DefaultLookback time.Duration `koanf:"default_lookback"`

	// BatchSize is the default per-source fetch limit; a source may override it.
	BatchSize int `koanf:"batch_size"`

	// ErrorSampleSize caps the number of error messages kept on a job.
	ErrorSampleSize int `koanf:"error_sample_size"`

	// ErrorMessageMaxLen caps the length (in runes) of any error text stored on a job.
	ErrorMessageMaxLen int `koanf:"error_message_max_len"`

	// StaleJobTimeout is the age after which a RUNNING job is force-finalized by the sweep.
	StaleJobTimeout time.Duration `koanf:"stale_job_timeout"`

	// EnabledSources, when non-empty, restricts enablement to the named sources.
	EnabledSources []string `koanf:"enabled_sources"`

	// CacheSize bounds the per-run connector lookup cache.
	CacheSize int `koanf:"cache_size"`
}

// DedupeConfig holds the similarity model parameters.
type DedupeConfig struct {
	Threshold       float64       `koanf:"threshold"`
	TitleWeight     float64       `koanf:"title_weight"`
	TimeWeight      float64       `koanf:"time_weight"`
	LocationWeight  float64       `koanf:"location_weight"`
	Window          time.Duration `koanf:"window"`            // candidate window and temporal decay horizon
	DistanceDecayKm float64       `koanf:"distance_decay_km"` // distance at which coordinate similarity reaches 0
}

// ConflictConfig holds the conflict-resolution policy.
type ConflictConfig struct {
	AuthoritativeSource string `koanf:"authoritative_source"`
}

// HealthConfig holds source health settings.
type HealthConfig struct {
	FailureThreshold int `koanf:"failure_threshold"`
}

// ScheduleConfig holds cron specs for the supervised background jobs.
// Specs use robfig/cron syntax, including descriptors such as "@every 15m".
type ScheduleConfig struct {
	Enabled      bool   `koanf:"enabled"`
	IngestSpec   string `koanf:"ingest"`
	SweepSpec    string `koanf:"sweep"`
	RunOnStartup bool   `koanf:"run_on_startup"`
}

// EnrichmentConfig controls best-effort tag enrichment.
type EnrichmentConfig struct {
	Enabled bool `koanf:"enabled"`

	// Mode is "direct" (call the tagger inline) or "queue" (publish and tag in a router handler).
	Mode string `koanf:"mode"`

	// Provider selects the tagger: "keyword", "anthropic" or "openai".
	Provider string        `koanf:"provider"`
	Timeout  time.Duration `koanf:"timeout"`
	MaxTags  int           `koanf:"max_tags"`

	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	AnthropicModel  string `koanf:"anthropic_model"`
	OpenAIAPIKey    string `koanf:"openai_api_key"`
	OpenAIModel     string `koanf:"openai_model"`

	// Keywords maps a tag to the phrases that imply it for the keyword tagger.
	Keywords map[string][]string `koanf:"keywords"`

	Queue QueueConfig `koanf:"queue"`
}

// QueueConfig holds Watermill settings for queued enrichment.
type QueueConfig struct {
	Transport            string        `koanf:"transport"` // "gochannel" or "nats"
	NATSURL              string        `koanf:"nats_url"`
	Topic                string        `koanf:"topic"`
	RetryCount           int           `koanf:"retry_count"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
	DeadLetterPath       string        `koanf:"dead_letter_path"` // empty = in-memory Badger
}

// SourceConfig declares one external source and its connector settings.
type SourceConfig struct {
	Name    string `koanf:"name"`
	Kind    string `koanf:"kind"` // "http_json" or "file_drop"
	Enabled bool   `koanf:"enabled"`

	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
	Path   string `koanf:"path"`

	BatchSize         int           `koanf:"batch_size"` // 0 = ingest.batch_size
	PageSize          int           `koanf:"page_size"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
	RetryCount        int           `koanf:"retry_count"`

	// BreakerFailures is the number of consecutive request failures within
	// one run that opens the connector's circuit breaker.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Source returns the configuration of the named source.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// SourceEnabled reports whether a declared source is enabled, honoring
// Ingest.EnabledSources when it is set.
func (c *Config) SourceEnabled(s SourceConfig) bool {
	if !s.Enabled {
		return false
	}
	if len(c.Ingest.EnabledSources) == 0 {
		return true
	}
	for _, name := range c.Ingest.EnabledSources {
		if name == s.Name {
			return true
		}
	}
	return false
}

// EffectiveBatchSize returns the source batch size or the ingest default.
func (c *Config) EffectiveBatchSize(s SourceConfig) int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return c.Ingest.BatchSize
}
