// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package connector

import (
	"sync"
)

// DefaultRunCacheSize bounds a RunCache built with a non-positive capacity.
const DefaultRunCacheSize = 1024

type runCacheEntry struct {
	key   string
	value any
	prev  *runCacheEntry
	next  *runCacheEntry
}

// RunCache is a bounded LRU cache that lives for one source run. It is
// created by the orchestrator, handed to FetchSince and dropped when the run
// ends, so nothing cached can leak between runs.
//
// Get, Add and Seen are O(1): a hashmap indexes a doubly linked list whose
// head is the most recently used entry.
type RunCache struct {
	mu       sync.Mutex
	source   string
	capacity int
	items    map[string]*runCacheEntry
	head     *runCacheEntry
	tail     *runCacheEntry

	hits      int64
	misses    int64
	evictions int64
}

// NewRunCache creates a cache for one run of source.
func NewRunCache(source string, capacity int) *RunCache {
	if capacity <= 0 {
		capacity = DefaultRunCacheSize
	}
	c := &RunCache{
		source:   source,
		capacity: capacity,
		items:    make(map[string]*runCacheEntry, capacity),
		head:     &runCacheEntry{},
		tail:     &runCacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Source returns the source the cache belongs to.
func (c *RunCache) Source() string {
	return c.source
}

// Get returns the cached value for key and marks it most recently used.
// A nil cache always misses.
func (c *RunCache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.moveToFront(e)
		c.hits++
		return e.value, true
	}
	c.misses++
	return nil, false
}

// Add stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *RunCache) Add(key string, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(key, value)
}

// Seen reports whether key was recorded before and records it otherwise.
// Connectors use it to drop records repeated across pages of one run.
func (c *RunCache) Seen(key string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.moveToFront(e)
		c.hits++
		return true
	}
	c.misses++
	c.add(key, struct{}{})
	return false
}

// Len returns the number of cached entries.
func (c *RunCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit, miss and eviction counts.
func (c *RunCache) Stats() (hits, misses, evictions int64) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// must be called with mu held
func (c *RunCache) add(key string, value any) {
	if e, ok := c.items[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}
	e := &runCacheEntry{key: key, value: value}
	c.pushFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		oldest := c.tail.prev
		if oldest == c.head {
			break
		}
		c.unlink(oldest)
		delete(c.items, oldest.key)
		c.evictions++
	}
}

func (c *RunCache) pushFront(e *runCacheEntry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *RunCache) moveToFront(e *runCacheEntry) {
	c.unlink(e)
	c.pushFront(e)
}

func (c *RunCache) unlink(e *runCacheEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}
