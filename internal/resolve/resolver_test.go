// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/jskoetsier/nzbindexer/internal/binary"
	"github.com/jskoetsier/nzbindexer/internal/namecache"
)

type fakeStrategy struct {
	name  string
	out   Outcome
	ok    bool
	err   error
	calls int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Attempt(context.Context, *binary.Binary) (Outcome, bool, error) {
	f.calls++
	return f.out, f.ok, f.err
}

func openCache(t *testing.T) *namecache.Store {
	t.Helper()
	s, err := namecache.Open("")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveShortCircuits(t *testing.T) {
	first := &fakeStrategy{
		name: "first",
		out:  Outcome{Name: "Resolved.By.First", Confidence: 0.95, Source: "first"},
		ok:   true,
	}
	second := &fakeStrategy{name: "second"}

	r := NewResolver(nil, first, second)
	b := binary.PendingStub("a8f3e9c1b2d4", "g")

	out, ok := r.Resolve(context.Background(), b)
	if !ok {
		t.Fatal("expected a resolution")
	}
	if out.Name != "Resolved.By.First" {
		t.Errorf("Name = %q, want Resolved.By.First", out.Name)
	}
	if second.calls != 0 {
		t.Errorf("second strategy called %d times after an earlier hit, want 0", second.calls)
	}
}

func TestResolveAdvancesPastErrorsAndMisses(t *testing.T) {
	erroring := &fakeStrategy{name: "erroring", err: errors.New("backend down")}
	missing := &fakeStrategy{name: "missing"}
	hit := &fakeStrategy{
		name: "hit",
		out:  Outcome{Name: "Finally.Resolved", Confidence: 0.70, Source: "hit"},
		ok:   true,
	}

	r := NewResolver(nil, erroring, missing, hit)
	out, ok := r.Resolve(context.Background(), binary.PendingStub("deadbeefcafe", "g"))
	if !ok {
		t.Fatal("expected resolution from the last strategy")
	}
	if out.Name != "Finally.Resolved" {
		t.Errorf("Name = %q, want Finally.Resolved", out.Name)
	}
	if erroring.calls != 1 || missing.calls != 1 || hit.calls != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", erroring.calls, missing.calls, hit.calls)
	}
}

func TestResolveRejectsInvalidNames(t *testing.T) {
	bogus := &fakeStrategy{
		name: "bogus",
		out:  Outcome{Name: "123", Confidence: 0.95, Source: "bogus"},
		ok:   true,
	}
	good := &fakeStrategy{
		name: "good",
		out:  Outcome{Name: "Actual.Release.Name", Confidence: 0.60, Source: "good"},
		ok:   true,
	}

	r := NewResolver(nil, bogus, good)
	out, ok := r.Resolve(context.Background(), binary.PendingStub("deadbeefcafe", "g"))
	if !ok {
		t.Fatal("expected resolution")
	}
	if out.Name != "Actual.Release.Name" {
		t.Errorf("Name = %q, want the validated candidate", out.Name)
	}
}

func TestResolveUnresolvedWhenChainExhausted(t *testing.T) {
	r := NewResolver(nil,
		&fakeStrategy{name: "a"},
		&fakeStrategy{name: "b", err: errors.New("boom")},
	)
	if _, ok := r.Resolve(context.Background(), binary.PendingStub("deadbeefcafe", "g")); ok {
		t.Error("exhausted chain must report unresolved, not a result")
	}
}

func TestResolveWritesBackToCache(t *testing.T) {
	cache := openCache(t)
	hit := &fakeStrategy{
		name: "sniff",
		out:  Outcome{Name: "Sniffed.Release", Confidence: ConfidenceSniff, Source: StrategySniff},
		ok:   true,
	}

	r := NewResolver(cache, hit)
	b := binary.PendingStub("a8f3e9c1b2d4", "g")
	if _, ok := r.Resolve(context.Background(), b); !ok {
		t.Fatal("expected resolution")
	}

	m, found, err := cache.Peek(b.Fingerprint())
	if err != nil || !found {
		t.Fatalf("cache write-back missing: found=%v err=%v", found, err)
	}
	if m.Name != "Sniffed.Release" || m.Confidence != ConfidenceSniff {
		t.Errorf("cached mapping = %+v, want the strategy outcome", m)
	}
}

func TestResolveCacheHitSkipsWriteBack(t *testing.T) {
	cache := openCache(t)
	if _, err := cache.Put("a8f3e9c1b2d4", "Cached.Release.Name", StrategySniff, ConfidenceSniff); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	chain := &fakeStrategy{name: "lookup"}
	r := NewResolver(cache, NewCacheStrategy(cache), chain)

	out, ok := r.Resolve(context.Background(), binary.PendingStub("a8f3e9c1b2d4", "g"))
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if out.Name != "Cached.Release.Name" {
		t.Errorf("Name = %q, want the cached name", out.Name)
	}
	if chain.calls != 0 {
		t.Errorf("later strategy called %d times after a cache hit, want 0", chain.calls)
	}
}

func TestResolveCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hit := &fakeStrategy{name: "hit", out: Outcome{Name: "Should.Not.Run"}, ok: true}
	r := NewResolver(nil, hit)
	if _, ok := r.Resolve(ctx, binary.PendingStub("deadbeefcafe", "g")); ok {
		t.Error("canceled context must resolve to unresolved")
	}
	if hit.calls != 0 {
		t.Errorf("strategy ran %d times under a canceled context, want 0", hit.calls)
	}
}
