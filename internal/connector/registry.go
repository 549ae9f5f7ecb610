// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/eventfold/internal/config"
)

// Source kinds accepted in configuration.
const (
	KindHTTPJSON = "http_json"
	KindFileDrop = "file_drop"
)

// Registry maps source names to connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Build creates a registry holding one connector per configured source,
// enabled or not, so operators can inspect and re-enable every source.
func Build(sources []config.SourceConfig) (*Registry, error) {
	r := NewRegistry()
	for _, s := range sources {
		c, err := New(s)
		if err != nil {
			return nil, err
		}
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// New creates the connector for one source configuration.
func New(s config.SourceConfig) (Connector, error) {
	switch s.Kind {
	case KindHTTPJSON:
		return NewHTTPFeed(s), nil
	case KindFileDrop:
		return NewFileDrop(s), nil
	default:
		return nil, fmt.Errorf("source %s: unsupported connector kind %q", s.Name, s.Kind)
	}
}

// Register adds a connector; names must be unique.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[c.Name()]; exists {
		return fmt.Errorf("connector %q already registered", c.Name())
	}
	r.connectors[c.Name()] = c
	return nil
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}
