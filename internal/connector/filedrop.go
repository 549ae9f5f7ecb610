// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/models"
)

// FileDrop reads YAML documents dropped into a directory. Each file holds
// either a list of events or a mapping with an "events" list. Files whose
// modification time is after the watermark are read in modification order,
// so editing a file re-submits its events.
type FileDrop struct {
	name string
	dir  string
}

// NewFileDrop creates a file_drop connector from its source configuration.
func NewFileDrop(cfg config.SourceConfig) *FileDrop {
	return &FileDrop{name: cfg.Name, dir: cfg.Path}
}

func (f *FileDrop) Name() string { return f.name }

func (f *FileDrop) IsConfigured() bool { return f.dir != "" }

type dropFile struct {
	path    string
	modTime time.Time
}

// FetchSince reads every changed file in the drop directory.
func (f *FileDrop) FetchSince(ctx context.Context, since time.Time, limit int, cache *RunCache) ([]Record, error) {
	if !f.IsConfigured() {
		return nil, &FetchError{Source: f.name, Op: "configure", Err: ErrNotConfigured}
	}

	files, err := f.changedFiles(since)
	if err != nil {
		return nil, &FetchError{Source: f.name, Op: "list", Err: err}
	}

	var records []Record
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Source: f.name, Op: "read", Err: err}
		}

		docs, err := readDropFile(file.path)
		if err != nil {
			return nil, &FetchError{Source: f.name, Op: "read " + filepath.Base(file.path), Err: err}
		}

		for _, fields := range docs {
			rec := Record{Source: f.name, Fields: fields, ReceivedAt: file.modTime}
			if id := rec.ExternalID(); id != "" && cache.Seen("id:"+id) {
				continue
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				logging.Warn().Str("source", f.name).Int("limit", limit).Msg("File drop batch limit reached")
				return records, nil
			}
		}
	}
	return records, nil
}

func (f *FileDrop) changedFiles(since time.Time) ([]dropFile, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read drop directory: %w", err)
	}

	var files []dropFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		if !info.ModTime().After(since) {
			continue
		}
		files = append(files, dropFile{path: filepath.Join(f.dir, entry.Name()), modTime: info.ModTime().UTC()})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.Before(files[j].modTime)
		}
		return files[i].path < files[j].path
	})
	return files, nil
}

func readDropFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured drop directory
	if err != nil {
		return nil, err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		items = v
	case map[string]any:
		list, ok := v["events"].([]any)
		if !ok {
			return nil, fmt.Errorf("document has no events list")
		}
		items = list
	default:
		return nil, fmt.Errorf("unsupported document type %T", doc)
	}

	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("events[%d] is not a mapping", i)
		}
		out = append(out, fields)
	}
	return out, nil
}

// Normalize maps one dropped document.
func (f *FileDrop) Normalize(rec Record) (models.NormalizedEvent, error) {
	return mapRecord(f.name, rec)
}
