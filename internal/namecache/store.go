// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package namecache persists obfuscated-key to release-name mappings in
// Badger. The cache is the first resolver strategy and the write-back target
// of every later one; it is shared by all group workers. Badger transactions
// give per-key serialization, so concurrent upserts never need a global
// lock.
package namecache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/metrics"
)

// keyPrefix namespaces mapping entries in the shared badger directory.
const keyPrefix = "orn:"

// Mapping is one persistent key→name resolution.
type Mapping struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	UseCount   int64     `json:"use_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ImportRecord is one row of a bulk import.
type ImportRecord struct {
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// ImportResult summarizes a bulk import. Skipped counts validation rejects
// and no-op upserts; Failed counts storage errors.
type ImportResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Store is a badger-backed mapping store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory store, used by tests.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("namecache: open %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get looks up a mapping and bumps its use count on a hit.
func (s *Store) Get(key string) (*Mapping, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	var m Mapping
	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return err
		}
		found = true
		m.UseCount++
		m.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefix+key), data)
	})
	if err != nil {
		return nil, false, fmt.Errorf("namecache: get %q: %w", key, err)
	}
	if found {
		metrics.CacheHits.WithLabelValues("hit").Inc()
		return &m, true, nil
	}
	metrics.CacheHits.WithLabelValues("miss").Inc()
	return nil, false, nil
}

// Peek looks up a mapping without touching the use count.
func (s *Store) Peek(key string) (*Mapping, bool, error) {
	var m Mapping
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("namecache: peek %q: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	return &m, true, nil
}

// Put upserts a mapping. When the key already exists with equal-or-higher
// confidence the stored name is kept and only the use count is bumped;
// otherwise name, source and confidence are replaced and the running use
// count is preserved. Returns whether the stored name changed.
func (s *Store) Put(key, name, source string, confidence float64) (bool, error) {
	if key == "" || name == "" {
		return false, fmt.Errorf("namecache: empty key or name")
	}
	changed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		now := time.Now().UTC()
		entry := Mapping{
			Key:        key,
			Name:       name,
			Source:     source,
			Confidence: confidence,
			UseCount:   0,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		item, err := txn.Get([]byte(keyPrefix + key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			changed = true
		case err != nil:
			return err
		default:
			var existing Mapping
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if existing.Confidence >= confidence {
				existing.UseCount++
				existing.UpdatedAt = now
				entry = existing
				changed = false
			} else {
				entry.UseCount = existing.UseCount
				entry.CreatedAt = existing.CreatedAt
				changed = true
			}
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefix+key), data)
	})
	if err != nil {
		return false, fmt.Errorf("namecache: put %q: %w", key, err)
	}
	return changed, nil
}

// validRecord checks one import record: non-empty key and name, confidence
// within [0, 1].
func validRecord(r ImportRecord) bool {
	return r.Key != "" && r.Name != "" && r.Confidence >= 0 && r.Confidence <= 1
}

// BulkImport merges records into the store. Invalid records and no-op
// upserts count as skipped; storage errors count as failed and do not abort
// the batch.
func (s *Store) BulkImport(records []ImportRecord) ImportResult {
	var res ImportResult
	for _, r := range records {
		if !validRecord(r) {
			res.Skipped++
			continue
		}
		_, existed, err := s.Peek(r.Key)
		if err != nil {
			res.Failed++
			continue
		}
		changed, err := s.Put(r.Key, r.Name, r.Source, r.Confidence)
		if err != nil {
			res.Failed++
			continue
		}
		switch {
		case !existed:
			res.Added++
		case changed:
			res.Updated++
		default:
			res.Skipped++
		}
	}
	logging.Info().
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("name cache import finished")
	return res
}

// Export returns all mappings, for backup or sharing between indexers.
func (s *Store) Export() ([]Mapping, error) {
	var out []Mapping
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Mapping
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("namecache: export: %w", err)
	}
	return out, nil
}

// Len counts stored mappings.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
