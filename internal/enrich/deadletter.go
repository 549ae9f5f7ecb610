// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
)

// ErrDeadLetterNotFound is returned for an unknown dead-letter id.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

var deadLetterPrefix = []byte("dl:")

// DeadLetter is an enrichment request that failed every attempt.
type DeadLetter struct {
	ID        string    `json:"id"`
	CatalogID string    `json:"catalog_id"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

// DeadLetterStore keeps failed enrichment requests in Badger until an
// operator replays or discards them.
type DeadLetterStore struct {
	db *badger.DB
}

// OpenDeadLetters opens the store at path, or an in-memory store when path
// is empty.
func OpenDeadLetters(path string) (*DeadLetterStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store: %w", err)
	}
	s := &DeadLetterStore{db: db}

	n, err := s.Count()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	metrics.EnrichmentDeadLetters.Set(float64(n))

	logging.Info().Str("path", path).Bool("in_memory", path == "").Int("pending", n).Msg("Dead-letter store opened")
	return s, nil
}

func deadLetterKey(id string) []byte {
	return append(append([]byte{}, deadLetterPrefix...), id...)
}

// Put stores dl, assigning an id and failure time when unset.
func (s *DeadLetterStore) Put(_ context.Context, dl *DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	var existed bool
	err = s.db.Update(func(txn *badger.Txn) error {
		key := deadLetterKey(dl.ID)
		if _, err := txn.Get(key); err == nil {
			existed = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("store dead letter %s: %w", dl.ID, err)
	}
	if !existed {
		metrics.EnrichmentDeadLetters.Inc()
	}
	return nil
}

// Get returns one dead letter.
func (s *DeadLetterStore) Get(_ context.Context, id string) (*DeadLetter, error) {
	var dl DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deadLetterKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrDeadLetterNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dl)
		})
	})
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

// Delete removes one dead letter.
func (s *DeadLetterStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := deadLetterKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrDeadLetterNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	metrics.EnrichmentDeadLetters.Dec()
	return nil
}

// List returns up to limit dead letters, most recent failure first. A
// limit of zero or less returns all of them.
func (s *DeadLetterStore) List(_ context.Context, limit int) ([]DeadLetter, error) {
	var out []DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(deadLetterPrefix); it.ValidForPrefix(deadLetterPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var dl DeadLetter
				if err := json.Unmarshal(val, &dl); err != nil {
					logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable dead letter")
					return nil
				}
				out = append(out, dl)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].FailedAt.After(out[j].FailedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored dead letters.
func (s *DeadLetterStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(deadLetterPrefix); it.ValidForPrefix(deadLetterPrefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *DeadLetterStore) Close() error {
	return s.db.Close()
}
