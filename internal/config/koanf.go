// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/eventfold/config.yaml",
	"/etc/eventfold/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "/data/eventfold.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Server: ServerConfig{
			Port:            8480,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Ingest: IngestConfig{
			Concurrency:        4,
			DefaultLookback:    7 * 24 * time.Hour,
			BatchSize:          500,
			ErrorSampleSize:    20,
			ErrorMessageMaxLen: 500,
			StaleJobTimeout:    time.Hour,
			CacheSize:          1024,
		},
		Dedupe: DedupeConfig{
			Threshold:       0.82,
			TitleWeight:     0.4,
			TimeWeight:      0.3,
			LocationWeight:  0.3,
			Window:          24 * time.Hour,
			DistanceDecayKm: 5,
		},
		Conflict: ConflictConfig{
			AuthoritativeSource: "internal",
		},
		Health: HealthConfig{
			FailureThreshold: 3,
		},
		Schedule: ScheduleConfig{
			Enabled:      true,
			IngestSpec:   "@every 15m",
			SweepSpec:    "@every 10m",
			RunOnStartup: false,
		},
		Enrichment: EnrichmentConfig{
			Enabled:        false,
			Mode:           "direct",
			Provider:       "keyword",
			Timeout:        20 * time.Second,
			MaxTags:        8,
			AnthropicModel: "claude-3-5-haiku-latest",
			OpenAIModel:    "gpt-4o-mini",
			Keywords:       defaultKeywords(),
			Queue: QueueConfig{
				Transport:            "gochannel",
				NATSURL:              "nats://127.0.0.1:4222",
				Topic:                "catalog.enrich",
				RetryCount:           3,
				RetryInitialInterval: 500 * time.Millisecond,
				CloseTimeout:         15 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

func defaultKeywords() map[string][]string {
	return map[string][]string{
		"music":    {"concert", "live music", "band", "orchestra", "dj set", "gig"},
		"jazz":     {"jazz", "swing", "bebop"},
		"comedy":   {"comedy", "stand-up", "stand up", "improv"},
		"theatre":  {"theatre", "theater", "play", "musical", "opera"},
		"family":   {"family", "kids", "children"},
		"festival": {"festival", "fest"},
		"sports":   {"match", "tournament", "marathon", "game day"},
		"art":      {"exhibition", "gallery", "vernissage", "art show"},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults
//  2. Config File (optional)
//  3. Environment Variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// INGEST_CONCURRENCY -> ingest.concurrency, DEDUP_THRESHOLD -> dedupe.threshold
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" if none is found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
	"ingest.enabled_sources",
}

// processSliceFields converts comma-separated env values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Unmapped variables are ignored so the process environment cannot pollute
// the configuration.
var envMappings = map[string]string{
	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Server
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"cors_origins":        "server.cors_origins",

	// Ingest
	"ingest_concurrency":           "ingest.concurrency",
	"ingest_default_lookback":      "ingest.default_lookback",
	"ingest_batch_size":            "ingest.batch_size",
	"ingest_error_sample_size":     "ingest.error_sample_size",
	"ingest_error_message_max_len": "ingest.error_message_max_len",
	"ingest_stale_job_timeout":     "ingest.stale_job_timeout",
	"ingest_enabled_sources":       "ingest.enabled_sources",
	"ingest_cache_size":            "ingest.cache_size",

	// Dedupe
	"dedup_threshold":         "dedupe.threshold",
	"dedup_title_weight":      "dedupe.title_weight",
	"dedup_time_weight":       "dedupe.time_weight",
	"dedup_location_weight":   "dedupe.location_weight",
	"dedup_window":            "dedupe.window",
	"dedup_distance_decay_km": "dedupe.distance_decay_km",

	// Conflict + health
	"conflict_authoritative_source": "conflict.authoritative_source",
	"health_failure_threshold":      "health.failure_threshold",

	// Schedule
	"schedule_enabled":        "schedule.enabled",
	"schedule_ingest":         "schedule.ingest",
	"schedule_sweep":          "schedule.sweep",
	"schedule_run_on_startup": "schedule.run_on_startup",

	// Enrichment
	"enrichment_enabled":           "enrichment.enabled",
	"enrichment_mode":              "enrichment.mode",
	"enrichment_provider":          "enrichment.provider",
	"enrichment_timeout":           "enrichment.timeout",
	"enrichment_max_tags":          "enrichment.max_tags",
	"anthropic_api_key":            "enrichment.anthropic_api_key",
	"anthropic_model":              "enrichment.anthropic_model",
	"openai_api_key":               "enrichment.openai_api_key",
	"openai_model":                 "enrichment.openai_model",
	"enrichment_queue_transport":   "enrichment.queue.transport",
	"nats_url":                     "enrichment.queue.nats_url",
	"enrichment_queue_topic":       "enrichment.queue.topic",
	"enrichment_queue_retry_count": "enrichment.queue.retry_count",
	"enrichment_dead_letter_path":  "enrichment.queue.dead_letter_path",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - DEDUP_THRESHOLD -> dedupe.threshold
//   - ANTHROPIC_API_KEY -> enrichment.anthropic_api_key
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
