// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jskoetsier/nzbindexer/internal/binary"
	"github.com/jskoetsier/nzbindexer/internal/database"
	"github.com/jskoetsier/nzbindexer/internal/nntp"
	"github.com/jskoetsier/nzbindexer/internal/resolve"
)

type fetchRange struct {
	from, to int64
}

// fakeWire serves canned group status and overview headers, recording every
// fetch so tests can assert chunk boundaries.
type fakeWire struct {
	status    nntp.GroupStatus
	selectErr error
	headers   func(from, to int64) []nntp.ArticleHeader
	fetches   []fetchRange
	onFetch   func(call int)
}

func (w *fakeWire) SelectGroup(_ context.Context, _ string) (nntp.GroupStatus, error) {
	return w.status, w.selectErr
}

func (w *fakeWire) FetchOverview(_ context.Context, _ string, from, to int64) ([]nntp.ArticleHeader, error) {
	w.fetches = append(w.fetches, fetchRange{from, to})
	if w.onFetch != nil {
		w.onFetch(len(w.fetches))
	}
	if w.headers == nil {
		return nil, nil
	}
	return w.headers(from, to), nil
}

type watermark struct {
	first, last, current, backfillTarget int64
}

type rename struct {
	fingerprint, name, source string
	confidence                float64
}

type fakeStore struct {
	groups     []*database.Group
	watermarks []watermark
	pending    []*database.Release
	renames    []rename
}

func (s *fakeStore) ListScanGroups(context.Context) ([]*database.Group, error) {
	return s.groups, nil
}

func (s *fakeStore) UpdateWatermarks(_ context.Context, _ string, first, last, current, backfillTarget int64) error {
	s.watermarks = append(s.watermarks, watermark{first, last, current, backfillTarget})
	return nil
}

func (s *fakeStore) ListPendingReleases(context.Context, int) ([]*database.Release, error) {
	return s.pending, nil
}

func (s *fakeStore) UpdateReleaseName(_ context.Context, fingerprint, name, source string, confidence float64) error {
	s.renames = append(s.renames, rename{fingerprint, name, source, confidence})
	return nil
}

type fakeResolver struct {
	out   resolve.Outcome
	ok    bool
	calls int
}

func (r *fakeResolver) Resolve(context.Context, *binary.Binary) (resolve.Outcome, bool) {
	r.calls++
	return r.out, r.ok
}

type promoted struct {
	b        *binary.Binary
	out      resolve.Outcome
	resolved bool
}

type fakePromoter struct {
	calls []promoted
	err   error
}

func (p *fakePromoter) Promote(_ context.Context, b *binary.Binary, out resolve.Outcome, resolved bool) (*database.Release, error) {
	p.calls = append(p.calls, promoted{b, out, resolved})
	if p.err != nil {
		return nil, p.err
	}
	return &database.Release{Fingerprint: b.Fingerprint(), Name: out.Name}, nil
}

func newTestScheduler(cfg Config, wire *fakeWire, store *fakeStore, res *fakeResolver, prom *fakePromoter) *Scheduler {
	return New(cfg, wire, store, res, prom, NewRegistry(), NewInMemoryProgress())
}

func TestComputeBackfillTarget(t *testing.T) {
	tests := []struct {
		name        string
		low, high   int64
		apd         float64
		days        int
		maxArticles int64
		want        int64
	}{
		{"zero days keeps head", 1, 100_000, 1000, 0, 10_000_000, 100_000},
		{"ten days at 1k/day", 1, 100_000, 1000, 10, 10_000_000, 90_000},
		{"clamped to server low", 50_000, 100_000, 1000, 90, 10_000_000, 50_000},
		{"clamped to max window", 1, 1_000_000, 50_000, 100, 100_000, 900_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBackfillTarget(tt.low, tt.high, tt.apd, tt.days, tt.maxArticles)
			if got != tt.want {
				t.Errorf("ComputeBackfillTarget = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimateArticlesPerDay(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	dated := func(offsets ...time.Duration) []nntp.ArticleHeader {
		hs := make([]nntp.ArticleHeader, len(offsets))
		for i, off := range offsets {
			hs[i] = nntp.ArticleHeader{Number: int64(i + 1), Date: base.Add(off)}
		}
		return hs
	}

	if got := EstimateArticlesPerDay(dated(0, 24*time.Hour)); got != 2 {
		t.Errorf("two headers a day apart: %v articles/day, want 2", got)
	}
	if got := EstimateArticlesPerDay(dated(0, 6*time.Hour, 12*time.Hour)); got != 6 {
		t.Errorf("three headers over 12h: %v articles/day, want 6", got)
	}
	if got := EstimateArticlesPerDay(dated(0)); got != defaultArticlesPerDay {
		t.Errorf("single dated header: %v, want the default", got)
	}
	if got := EstimateArticlesPerDay(dated(0, 30*time.Second)); got != defaultArticlesPerDay {
		t.Errorf("sub-minute span: %v, want the default", got)
	}
	undated := []nntp.ArticleHeader{{Number: 1}, {Number: 2}}
	if got := EstimateArticlesPerDay(undated); got != defaultArticlesPerDay {
		t.Errorf("undated headers: %v, want the default", got)
	}
}

func TestForwardWindow(t *testing.T) {
	s := newTestScheduler(Config{ChunkSize: 100}, &fakeWire{}, &fakeStore{}, &fakeResolver{}, &fakePromoter{})
	status := nntp.GroupStatus{Low: 1, High: 1000}

	// A never-scanned group starts one chunk below the head.
	from, to := s.forwardWindow(&database.Group{}, status)
	if from != 901 || to != 1000 {
		t.Errorf("new group window = %d-%d, want 901-1000", from, to)
	}

	from, to = s.forwardWindow(&database.Group{CurrentArticle: 500}, status)
	if from != 501 || to != 1000 {
		t.Errorf("resumed window = %d-%d, want 501-1000", from, to)
	}

	// Watermark below the server's retention floor clamps to the low mark.
	from, to = s.forwardWindow(&database.Group{CurrentArticle: 500}, nntp.GroupStatus{Low: 800, High: 1000})
	if from != 800 || to != 1000 {
		t.Errorf("clamped window = %d-%d, want 800-1000", from, to)
	}
}

func TestBackfillWindowResumesStoredTarget(t *testing.T) {
	wire := &fakeWire{}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, &fakeStore{}, &fakeResolver{}, &fakePromoter{})

	g := &database.Group{Name: "g", FirstArticle: 1001, BackfillTarget: 501}
	from, to, err := s.backfillWindow(context.Background(), g, nntp.GroupStatus{Low: 1, High: 2000})
	if err != nil {
		t.Fatalf("backfillWindow: %v", err)
	}
	if from != 501 || to != 1000 {
		t.Errorf("window = %d-%d, want 501-1000", from, to)
	}
	if len(wire.fetches) != 0 {
		t.Errorf("stored target must skip the rate probe, saw %d fetches", len(wire.fetches))
	}
}

func TestBackfillWindowComputesTarget(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	wire := &fakeWire{
		headers: func(from, to int64) []nntp.ArticleHeader {
			// Two headers a day apart: exactly 2 articles/day.
			return []nntp.ArticleHeader{
				{Number: from, Date: base},
				{Number: to, Date: base.Add(24 * time.Hour)},
			}
		},
	}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, &fakeStore{}, &fakeResolver{}, &fakePromoter{})

	g := &database.Group{Name: "g", FirstArticle: 5000, BackfillDays: 1}
	from, to, err := s.backfillWindow(context.Background(), g, nntp.GroupStatus{Low: 1, High: 5000})
	if err != nil {
		t.Fatalf("backfillWindow: %v", err)
	}
	if from != 4998 || to != 4999 {
		t.Errorf("window = %d-%d, want 4998-4999", from, to)
	}
	if len(wire.fetches) != 1 {
		t.Errorf("expected one rate probe, saw %d", len(wire.fetches))
	}
}

func TestProcessGroupForwardScanPromotes(t *testing.T) {
	wire := &fakeWire{
		status: nntp.GroupStatus{Low: 1, High: 500},
		headers: func(from, to int64) []nntp.ArticleHeader {
			var hs []nntp.ArticleHeader
			for n := from; n <= to && n <= from+9; n++ {
				i := int(n - from + 1)
				hs = append(hs, nntp.ArticleHeader{
					Number:    n,
					Subject:   fmt.Sprintf(`"Show.Name.S01E01.rar" [%02d/10] yEnc`, i),
					From:      "poster@example.com",
					MessageID: fmt.Sprintf("<p%d@example>", n),
					Bytes:     50_000,
					Date:      time.Now(),
				})
			}
			return hs
		},
	}
	store := &fakeStore{}
	res := &fakeResolver{}
	prom := &fakePromoter{}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, store, res, prom)

	g := &database.Group{Name: "alt.binaries.test", Active: true, CurrentArticle: 400}
	s.ProcessGroup(context.Background(), g)

	if len(prom.calls) != 1 {
		t.Fatalf("promoted %d binaries, want 1", len(prom.calls))
	}
	got := prom.calls[0]
	if got.out.Name != "Show.Name.S01E01" || got.out.Confidence != 1.0 || got.out.Source != "subject" {
		t.Errorf("outcome = %+v", got.out)
	}
	if !got.resolved {
		t.Error("readable subject must promote as resolved")
	}
	if res.calls != 0 {
		t.Errorf("resolver ran %d times for a readable subject, want 0", res.calls)
	}

	last := store.watermarks[len(store.watermarks)-1]
	if last.current != 500 {
		t.Errorf("final current watermark = %d, want 500", last.current)
	}

	ops := s.Registry().List()
	if len(ops) != 1 {
		t.Fatalf("registry lists %d operations, want 1", len(ops))
	}
	snap := ops[0]
	if !snap.Done || snap.Err != "" || snap.Kind != KindScan {
		t.Errorf("operation = %+v", snap)
	}
	if snap.Progress.ChunksDone != 1 || snap.Progress.Processed != 10 || snap.Progress.Promoted != 1 || snap.Progress.Resolved != 1 {
		t.Errorf("progress = %+v", snap.Progress)
	}
}

func TestProcessGroupCancelResumesAtChunkBoundary(t *testing.T) {
	wire := &fakeWire{status: nntp.GroupStatus{Low: 1, High: 1000}}
	store := &fakeStore{}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, store, &fakeResolver{}, &fakePromoter{})

	// Cancel via the registry while the third of five chunks is in flight.
	wire.onFetch = func(call int) {
		if call == 3 {
			ops := s.Registry().List()
			if !s.Registry().Cancel(ops[0].ID) {
				t.Error("Cancel must succeed for the running operation")
			}
		}
	}

	g := &database.Group{Name: "g", Active: true, CurrentArticle: 500}
	s.ProcessGroup(context.Background(), g)

	if len(wire.fetches) != 3 {
		t.Fatalf("fetched %d chunks before stopping, want 3", len(wire.fetches))
	}
	last := store.watermarks[len(store.watermarks)-1]
	if last.current != 800 {
		t.Errorf("watermark after cancel = %d, want 800 (three full chunks)", last.current)
	}
	snap := s.Registry().List()[0]
	if !snap.Canceled || !snap.Done {
		t.Errorf("operation = %+v, want canceled and done", snap)
	}
	if snap.Progress.ChunksDone != 3 || snap.Progress.ChunksTotal != 5 {
		t.Errorf("chunks = %d/%d, want 3/5", snap.Progress.ChunksDone, snap.Progress.ChunksTotal)
	}

	// A fresh run resumes from the persisted watermark, not from scratch.
	wire.onFetch = nil
	s.ProcessGroup(context.Background(), &database.Group{Name: "g", Active: true, CurrentArticle: last.current})

	if len(wire.fetches) != 5 {
		t.Fatalf("total fetches = %d, want 5", len(wire.fetches))
	}
	if got := wire.fetches[3]; got.from != 801 || got.to != 900 {
		t.Errorf("resumed chunk = %d-%d, want 801-900", got.from, got.to)
	}
	if got := wire.fetches[4]; got.from != 901 || got.to != 1000 {
		t.Errorf("final chunk = %d-%d, want 901-1000", got.from, got.to)
	}
	last = store.watermarks[len(store.watermarks)-1]
	if last.current != 1000 {
		t.Errorf("watermark after resume = %d, want 1000", last.current)
	}
}

func TestProcessGroupBackfillWatermarks(t *testing.T) {
	wire := &fakeWire{status: nntp.GroupStatus{Low: 1, High: 2000}}
	store := &fakeStore{}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, store, &fakeResolver{}, &fakePromoter{})

	g := &database.Group{
		Name:           "g",
		Active:         true,
		Backfill:       true,
		FirstArticle:   501,
		CurrentArticle: 2000,
		BackfillTarget: 201,
	}
	s.ProcessGroup(context.Background(), g)

	// The forward scan finds nothing above 2000 and writes a refresh; then
	// three backfill chunks (201-300, 301-400, 401-500) each advance the
	// target past their end, and draining the window rewinds FirstArticle
	// and clears it.
	if len(store.watermarks) != 5 {
		t.Fatalf("recorded %d watermark writes, want 5", len(store.watermarks))
	}
	if got := store.watermarks[0]; got.current != 2000 || got.backfillTarget != 201 {
		t.Errorf("scan refresh watermark = %+v", got)
	}
	wantTargets := []int64{301, 401, 501}
	for i, want := range wantTargets {
		if got := store.watermarks[i+1].backfillTarget; got != want {
			t.Errorf("chunk %d backfill target = %d, want %d", i+1, got, want)
		}
	}
	final := store.watermarks[4]
	if final.first != 201 || final.backfillTarget != 0 {
		t.Errorf("final watermark = %+v, want first=201 target=0", final)
	}

	ops := s.Registry().List()
	if len(ops) != 2 {
		t.Fatalf("registry lists %d operations, want scan plus backfill", len(ops))
	}
	if ops[0].Kind != KindBackfill || ops[1].Kind != KindScan {
		t.Errorf("operation kinds = %s, %s", ops[0].Kind, ops[1].Kind)
	}
}

func TestProcessGroupBackfillGroupStillScansForward(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	wire := &fakeWire{
		status: nntp.GroupStatus{Low: 1, High: 200},
		headers: func(from, to int64) []nntp.ArticleHeader {
			var hs []nntp.ArticleHeader
			for n := from; n <= to; n++ {
				h := nntp.ArticleHeader{
					Number:    n,
					From:      "poster@example.com",
					MessageID: fmt.Sprintf("<n%d@example>", n),
					Bytes:     50_000,
					Date:      base.Add(time.Duration(n) * time.Minute),
				}
				if n >= 101 && n <= 110 {
					h.Subject = fmt.Sprintf(`"Show.Name.S01E01.rar" [%02d/10] yEnc`, int(n-100))
				} else {
					h.Subject = fmt.Sprintf("filler post %d", n)
				}
				hs = append(hs, h)
			}
			return hs
		},
	}
	store := &fakeStore{}
	prom := &fakePromoter{}
	s := newTestScheduler(Config{ChunkSize: 500}, wire, store, &fakeResolver{}, prom)

	g := &database.Group{
		Name:           "alt.binaries.test",
		Active:         true,
		Backfill:       true,
		BackfillDays:   7,
		FirstArticle:   1,
		CurrentArticle: 100,
	}
	s.ProcessGroup(context.Background(), g)

	// New articles above the watermark must be ingested even when the group
	// also backfills: the release posted at 101-110 promotes and the
	// watermark reaches the server head.
	if len(prom.calls) != 1 {
		t.Fatalf("promoted %d binaries, want 1", len(prom.calls))
	}
	if got := prom.calls[0].out.Name; got != "Show.Name.S01E01" {
		t.Errorf("promoted name = %q", got)
	}
	last := store.watermarks[len(store.watermarks)-1]
	if last.current != 200 {
		t.Errorf("final current watermark = %d, want 200", last.current)
	}

	// History already reaches the server low mark, so the backfill pass has
	// no window; it still registers alongside the scan.
	kinds := map[OperationKind]int{}
	for _, op := range s.Registry().List() {
		kinds[op.Kind]++
	}
	if kinds[KindScan] != 1 || kinds[KindBackfill] != 1 {
		t.Errorf("operations = %v, want one scan and one backfill", kinds)
	}
}

func TestProcessGroupObfuscatedUnresolved(t *testing.T) {
	wire := &fakeWire{
		status: nntp.GroupStatus{Low: 1, High: 500},
		headers: func(from, to int64) []nntp.ArticleHeader {
			var hs []nntp.ArticleHeader
			for n := from; n <= to && n < from+5; n++ {
				hs = append(hs, nntp.ArticleHeader{
					Number:    n,
					Subject:   "a8f3e9c1b2d4",
					From:      "anon@example.com",
					MessageID: fmt.Sprintf("<o%d@example>", n),
					Bytes:     100_000,
					Date:      time.Now(),
				})
			}
			return hs
		},
	}
	res := &fakeResolver{ok: false}
	prom := &fakePromoter{}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, &fakeStore{}, res, prom)

	s.ProcessGroup(context.Background(), &database.Group{Name: "g", Active: true, CurrentArticle: 400})

	if res.calls != 1 {
		t.Fatalf("resolver ran %d times, want 1", res.calls)
	}
	if len(prom.calls) != 1 {
		t.Fatalf("promoted %d binaries, want 1 (unresolved still promotes)", len(prom.calls))
	}
	if prom.calls[0].resolved {
		t.Error("failed resolution must promote with resolved=false")
	}
	snap := s.Registry().List()[0]
	if snap.Progress.Unresolved != 1 || snap.Progress.Promoted != 1 {
		t.Errorf("progress = %+v", snap.Progress)
	}
}

func TestProcessGroupPromotionFailureIsolated(t *testing.T) {
	wire := &fakeWire{
		status: nntp.GroupStatus{Low: 1, High: 500},
		headers: func(from, to int64) []nntp.ArticleHeader {
			var hs []nntp.ArticleHeader
			for i := 1; i <= 10; i++ {
				hs = append(hs, nntp.ArticleHeader{
					Number:    from + int64(i) - 1,
					Subject:   fmt.Sprintf(`"Show.Name.S01E01.rar" [%02d/10] yEnc`, i),
					From:      "poster@example.com",
					MessageID: fmt.Sprintf("<f%d@example>", i),
					Bytes:     50_000,
					Date:      time.Now(),
				})
			}
			return hs
		},
	}
	store := &fakeStore{}
	prom := &fakePromoter{err: errors.New("constraint violation")}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, store, &fakeResolver{}, prom)

	s.ProcessGroup(context.Background(), &database.Group{Name: "g", Active: true, CurrentArticle: 400})

	snap := s.Registry().List()[0]
	if snap.Err != "" {
		t.Errorf("a failed promotion must not fail the cycle, got %q", snap.Err)
	}
	if snap.Progress.Failed != 1 || snap.Progress.Promoted != 0 {
		t.Errorf("progress = %+v", snap.Progress)
	}
	if last := store.watermarks[len(store.watermarks)-1]; last.current != 500 {
		t.Errorf("watermark = %d, want 500 despite the failed promotion", last.current)
	}
}

func TestProcessGroupSelectError(t *testing.T) {
	wire := &fakeWire{selectErr: errors.New("411 no such group")}
	store := &fakeStore{}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, store, &fakeResolver{}, &fakePromoter{})

	s.ProcessGroup(context.Background(), &database.Group{Name: "gone", Active: true})

	if len(store.watermarks) != 0 {
		t.Errorf("watermarks written on a failed select: %d", len(store.watermarks))
	}
	snap := s.Registry().List()[0]
	if !snap.Done || snap.Err == "" {
		t.Errorf("operation = %+v, want done with an error", snap)
	}
}

func TestProcessGroupNothingNew(t *testing.T) {
	wire := &fakeWire{status: nntp.GroupStatus{Low: 1, High: 1000}}
	store := &fakeStore{}
	s := newTestScheduler(Config{ChunkSize: 100}, wire, store, &fakeResolver{}, &fakePromoter{})

	s.ProcessGroup(context.Background(), &database.Group{Name: "g", Active: true, CurrentArticle: 1000})

	if len(wire.fetches) != 0 {
		t.Errorf("fetched %d chunks with nothing new, want 0", len(wire.fetches))
	}
	// The refreshed server marks still persist.
	if len(store.watermarks) != 1 {
		t.Fatalf("watermark writes = %d, want 1", len(store.watermarks))
	}
	if got := store.watermarks[0]; got.last != 1000 || got.current != 1000 {
		t.Errorf("watermark = %+v", got)
	}
}

func TestReprocessPending(t *testing.T) {
	store := &fakeStore{
		pending: []*database.Release{
			{Fingerprint: "deadbeefcafe0123", Group: "g", Name: "Obfuscated-deadbeefcafe0123"},
			{Fingerprint: "feedfacef00d4567", Group: "g", Name: "Obfuscated-feedfacef00d4567"},
		},
	}
	res := &fakeResolver{
		out: resolve.Outcome{Name: "Late.Resolution.S01E01-GRP", Confidence: 0.95, Source: "predb"},
		ok:  true,
	}
	s := newTestScheduler(Config{}, &fakeWire{}, store, res, &fakePromoter{})

	s.reprocessPending(context.Background())

	if len(store.renames) != 2 {
		t.Fatalf("renamed %d releases, want 2", len(store.renames))
	}
	got := store.renames[0]
	if got.fingerprint != "deadbeefcafe0123" || got.name != "Late.Resolution.S01E01-GRP" {
		t.Errorf("rename = %+v", got)
	}
	if got.source != "predb" || got.confidence != 0.95 {
		t.Errorf("rename provenance = %+v", got)
	}
}

func TestReprocessPendingMissLeavesPlaceholder(t *testing.T) {
	store := &fakeStore{
		pending: []*database.Release{{Fingerprint: "deadbeefcafe0123", Group: "g"}},
	}
	s := newTestScheduler(Config{}, &fakeWire{}, store, &fakeResolver{ok: false}, &fakePromoter{})

	s.reprocessPending(context.Background())

	if len(store.renames) != 0 {
		t.Errorf("renamed %d releases on a miss, want 0", len(store.renames))
	}
}
