// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jskoetsier/nzbindexer/internal/metrics"
)

// OperationKind distinguishes forward scans from backfills.
type OperationKind string

const (
	KindScan     OperationKind = "scan"
	KindBackfill OperationKind = "backfill"
)

// Progress counts one operation's work. Processed counts articles fed to
// the aggregator; Promoted counts releases created; Failed counts chunk
// errors that were isolated and skipped.
type Progress struct {
	ChunksDone  int   `json:"chunks_done"`
	ChunksTotal int   `json:"chunks_total"`
	Processed   int64 `json:"processed"`
	Promoted    int64 `json:"promoted"`
	Resolved    int64 `json:"resolved"`
	Unresolved  int64 `json:"unresolved"`
	Failed      int64 `json:"failed"`
}

// Operation is one in-flight (or finished) unit of group work. Cancellation
// is cooperative: Cancel releases the operation's context, which the worker
// checks between chunks, never mid-chunk.
type Operation struct {
	ID       string        `json:"id"`
	Group    string        `json:"group"`
	Kind     OperationKind `json:"kind"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Err      string        `json:"error,omitempty"`
	Canceled bool          `json:"canceled"`

	mu       sync.Mutex
	progress Progress
	cancel   context.CancelFunc
	done     bool
}

// Snapshot returns a copy of the operation's current state.
func (o *Operation) Snapshot() OperationSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OperationSnapshot{
		ID:       o.ID,
		Group:    o.Group,
		Kind:     o.Kind,
		Started:  o.Started,
		Finished: o.Finished,
		Err:      o.Err,
		Canceled: o.Canceled,
		Done:     o.done,
		Progress: o.progress,
	}
}

// OperationSnapshot is the JSON-safe view served by the admin API.
type OperationSnapshot struct {
	ID       string        `json:"id"`
	Group    string        `json:"group"`
	Kind     OperationKind `json:"kind"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Err      string        `json:"error,omitempty"`
	Canceled bool          `json:"canceled"`
	Done     bool          `json:"done"`
	Progress Progress      `json:"progress"`
}

func (o *Operation) update(fn func(p *Progress)) {
	o.mu.Lock()
	fn(&o.progress)
	o.mu.Unlock()
}

func (o *Operation) finish(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.done = true
	o.Finished = time.Now().UTC()
	if err != nil {
		o.Err = err.Error()
	}
}

// Registry tracks operations by id so an admin action can cancel one
// specific run. Finished operations are retained briefly for status
// queries, then pruned.
type Registry struct {
	mu  sync.Mutex
	ops map[string]*Operation
	// retain bounds how long finished operations stay listable.
	retain time.Duration
}

// NewRegistry creates an operation registry.
func NewRegistry() *Registry {
	return &Registry{
		ops:    make(map[string]*Operation),
		retain: time.Hour,
	}
}

// Begin registers a new operation derived from parent. The returned context
// is canceled by Cancel(id) or by the parent.
func (r *Registry) Begin(parent context.Context, group string, kind OperationKind) (*Operation, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	op := &Operation{
		ID:      uuid.NewString(),
		Group:   group,
		Kind:    kind,
		Started: time.Now().UTC(),
		cancel:  cancel,
	}
	r.mu.Lock()
	r.pruneLocked()
	r.ops[op.ID] = op
	r.mu.Unlock()
	metrics.OperationsActive.Inc()
	return op, ctx
}

// End marks an operation finished. The context's resources are released.
func (r *Registry) End(op *Operation, err error) {
	op.finish(err)
	op.cancel()
	metrics.OperationsActive.Dec()
}

// Cancel requests cooperative cancellation of one operation. Returns false
// when the id is unknown or already finished.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	op, ok := r.ops[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	op.mu.Lock()
	if op.done {
		op.mu.Unlock()
		return false
	}
	op.Canceled = true
	op.mu.Unlock()
	op.cancel()
	return true
}

// Get returns one operation's snapshot.
func (r *Registry) Get(id string) (OperationSnapshot, bool) {
	r.mu.Lock()
	op, ok := r.ops[id]
	r.mu.Unlock()
	if !ok {
		return OperationSnapshot{}, false
	}
	return op.Snapshot(), true
}

// List returns snapshots of all known operations, newest first.
func (r *Registry) List() []OperationSnapshot {
	r.mu.Lock()
	r.pruneLocked()
	out := make([]OperationSnapshot, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op.Snapshot())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out
}

// pruneLocked drops finished operations past the retention window.
func (r *Registry) pruneLocked() {
	cutoff := time.Now().UTC().Add(-r.retain)
	for id, op := range r.ops {
		snap := op.Snapshot()
		if snap.Done && snap.Finished.Before(cutoff) {
			delete(r.ops, id)
		}
	}
}
