// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ProgressStore persists operation snapshots so an interrupted backfill's
// history survives a restart and the admin UI can show past runs.
type ProgressStore interface {
	Save(snap OperationSnapshot) error
	Load(id string) (OperationSnapshot, bool, error)
	List() ([]OperationSnapshot, error)
	Close() error
}

const progressPrefix = "op:"

// BadgerProgress stores snapshots in a badger directory.
type BadgerProgress struct {
	db *badger.DB
}

// NewBadgerProgress opens (or creates) the progress store at path. An empty
// path opens an in-memory store.
func NewBadgerProgress(path string) (*BadgerProgress, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open progress store %q: %w", path, err)
	}
	return &BadgerProgress{db: db}, nil
}

func (p *BadgerProgress) Save(snap OperationSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("scheduler: marshal progress: %w", err)
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(progressPrefix+snap.ID), data)
	})
	if err != nil {
		return fmt.Errorf("scheduler: save progress %s: %w", snap.ID, err)
	}
	return nil
}

func (p *BadgerProgress) Load(id string) (OperationSnapshot, bool, error) {
	var snap OperationSnapshot
	found := false
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(progressPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return OperationSnapshot{}, false, fmt.Errorf("scheduler: load progress %s: %w", id, err)
	}
	return snap, found, nil
}

func (p *BadgerProgress) List() ([]OperationSnapshot, error) {
	var out []OperationSnapshot
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(progressPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var snap OperationSnapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: list progress: %w", err)
	}
	return out, nil
}

func (p *BadgerProgress) Close() error {
	return p.db.Close()
}

// InMemoryProgress is a map-backed ProgressStore for tests.
type InMemoryProgress struct {
	mu    sync.Mutex
	snaps map[string]OperationSnapshot
}

// NewInMemoryProgress creates an empty in-memory store.
func NewInMemoryProgress() *InMemoryProgress {
	return &InMemoryProgress{snaps: make(map[string]OperationSnapshot)}
}

func (p *InMemoryProgress) Save(snap OperationSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[snap.ID] = snap
	return nil
}

func (p *InMemoryProgress) Load(id string) (OperationSnapshot, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snaps[id]
	return snap, ok, nil
}

func (p *InMemoryProgress) List() ([]OperationSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OperationSnapshot, 0, len(p.snaps))
	for _, snap := range p.snaps {
		out = append(out, snap)
	}
	return out, nil
}

func (p *InMemoryProgress) Close() error { return nil }
