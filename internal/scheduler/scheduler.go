// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package scheduler drives the periodic scan/backfill loop: on every tick a
// bounded worker pool walks the configured groups, fetches article overviews
// in chunks, feeds them through aggregation, resolution and promotion, and
// persists watermarks at chunk boundaries. Each in-flight group run is a
// registered operation that an admin can cancel; cancellation is checked
// between chunks, so a cancelled run always resumes from the last fully
// processed chunk.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jskoetsier/nzbindexer/internal/binary"
	"github.com/jskoetsier/nzbindexer/internal/database"
	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/metrics"
	"github.com/jskoetsier/nzbindexer/internal/nntp"
	"github.com/jskoetsier/nzbindexer/internal/resolve"
)

// WireClient is the news-server surface the scheduler needs.
type WireClient interface {
	SelectGroup(ctx context.Context, group string) (nntp.GroupStatus, error)
	FetchOverview(ctx context.Context, group string, from, to int64) ([]nntp.ArticleHeader, error)
}

// GroupStore is the relational-store surface the scheduler needs.
type GroupStore interface {
	ListScanGroups(ctx context.Context) ([]*database.Group, error)
	UpdateWatermarks(ctx context.Context, name string, first, last, current, backfillTarget int64) error
	ListPendingReleases(ctx context.Context, limit int) ([]*database.Release, error)
	UpdateReleaseName(ctx context.Context, fingerprint, name, source string, confidence float64) error
}

// Resolver runs the deobfuscation chain.
type Resolver interface {
	Resolve(ctx context.Context, b *binary.Binary) (resolve.Outcome, bool)
}

// Promoter persists completed binaries.
type Promoter interface {
	Promote(ctx context.Context, b *binary.Binary, out resolve.Outcome, resolved bool) (*database.Release, error)
}

// Config tunes the loop.
type Config struct {
	Interval            time.Duration
	Workers             int
	ChunkSize           int
	BinaryIdleWindow    time.Duration
	MaxBinariesPerGroup int
	BackfillMaxArticles int64
	// PendingBatch bounds the per-tick reprocessing of placeholder releases.
	PendingBatch int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Workers < 1 {
		c.Workers = 5
	}
	if c.Workers > 32 {
		c.Workers = 32
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.BackfillMaxArticles <= 0 {
		c.BackfillMaxArticles = 10_000_000
	}
	if c.PendingBatch <= 0 {
		c.PendingBatch = 50
	}
	return c
}

// defaultArticlesPerDay is assumed when a group's posting rate cannot be
// estimated from overview dates.
const defaultArticlesPerDay = 50_000

// Scheduler owns the periodic loop and the per-group aggregation state.
type Scheduler struct {
	cfg      Config
	wire     WireClient
	store    GroupStore
	resolver Resolver
	promoter Promoter
	registry *Registry
	progress ProgressStore

	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
	aggregators map[string]*binary.Aggregator
	activeGroup map[string]bool
}

// New creates a scheduler. progress may be nil to skip persistence.
func New(cfg Config, wire WireClient, store GroupStore, resolver Resolver, promoter Promoter, registry *Registry, progress ProgressStore) *Scheduler {
	return &Scheduler{
		cfg:         cfg.withDefaults(),
		wire:        wire,
		store:       store,
		resolver:    resolver,
		promoter:    promoter,
		registry:    registry,
		progress:    progress,
		aggregators: make(map[string]*binary.Aggregator),
		activeGroup: make(map[string]bool),
	}
}

// Registry exposes the operation registry for the admin API.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Start launches the periodic loop. Returns an error when already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler: already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)
	logging.Info().Dur("interval", s.cfg.Interval).Int("workers", s.cfg.Workers).Msg("scheduler started")
	return nil
}

// Stop signals the loop to exit and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
	logging.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// First cycle runs immediately; subsequent ones on the ticker.
	s.runCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle processes every eligible group once through the worker pool,
// then reprocesses a batch of pending placeholder releases.
func (s *Scheduler) runCycle(ctx context.Context) {
	groups, err := s.store.ListScanGroups(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("listing scan groups failed, skipping cycle")
		return
	}
	if len(groups) == 0 {
		return
	}

	jobs := make(chan *database.Group)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range jobs {
				s.ProcessGroup(ctx, g)
			}
		}()
	}
	for _, g := range groups {
		select {
		case <-ctx.Done():
		case <-s.stopChan:
		case jobs <- g:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()

	s.reprocessPending(ctx)
}

// aggregatorFor returns the group's persistent aggregator, creating it on
// first use. Only the worker holding the group's active slot touches it.
func (s *Scheduler) aggregatorFor(group string) *binary.Aggregator {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregators[group]
	if !ok {
		agg = binary.NewAggregator(group, binary.AggregatorConfig{
			IdleWindow:  s.cfg.BinaryIdleWindow,
			MaxBinaries: s.cfg.MaxBinariesPerGroup,
		})
		s.aggregators[group] = agg
	}
	return agg
}

// tryAcquireGroup reserves a group so overlapping cycles never run the same
// group concurrently.
func (s *Scheduler) tryAcquireGroup(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGroup[name] {
		return false
	}
	s.activeGroup[name] = true
	return true
}

func (s *Scheduler) releaseGroup(name string) {
	s.mu.Lock()
	delete(s.activeGroup, name)
	s.mu.Unlock()
}

// ProcessGroup runs one group's cycle: a forward scan picks up articles
// posted since the last tick, and groups flagged for backfill additionally
// extend their history downward. Each run is a registered, cancellable
// operation; an error in one never blocks the other.
func (s *Scheduler) ProcessGroup(ctx context.Context, g *database.Group) {
	if !s.tryAcquireGroup(g.Name) {
		logging.Debug().Str("group", g.Name).Msg("group cycle still running, skipped")
		return
	}
	defer s.releaseGroup(g.Name)

	s.runOperation(ctx, g, KindScan)
	if g.Backfill && (g.BackfillDays > 0 || g.BackfillTarget > 0) && ctx.Err() == nil {
		s.runOperation(ctx, g, KindBackfill)
	}
}

// runOperation wraps one scan or backfill pass in a registered operation.
// An error is contained here: it marks the operation failed and the loop
// moves on.
func (s *Scheduler) runOperation(ctx context.Context, g *database.Group, kind OperationKind) {
	op, opCtx := s.registry.Begin(ctx, g.Name, kind)

	err := s.runGroupCycle(opCtx, op, g)
	s.registry.End(op, err)
	s.saveProgress(op)

	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.GroupCycleErrors.WithLabelValues(g.Name).Inc()
		logging.Error().Err(err).Str("group", g.Name).Str("kind", string(kind)).Msg("group cycle failed, skipping until next tick")
	}
}

func (s *Scheduler) saveProgress(op *Operation) {
	if s.progress == nil {
		return
	}
	if err := s.progress.Save(op.Snapshot()); err != nil {
		logging.Warn().Err(err).Str("operation", op.ID).Msg("saving operation progress failed")
	}
}

// runGroupCycle fetches and processes the group's next article window.
func (s *Scheduler) runGroupCycle(ctx context.Context, op *Operation, g *database.Group) error {
	status, err := s.wire.SelectGroup(ctx, g.Name)
	if err != nil {
		return fmt.Errorf("group unavailable this cycle: %w", err)
	}
	if g.FirstArticle == 0 || g.FirstArticle < status.Low {
		g.FirstArticle = status.Low
	}
	g.LastArticle = status.High

	var from, to int64
	if op.Kind == KindBackfill {
		from, to, err = s.backfillWindow(ctx, g, status)
		if err != nil {
			return err
		}
	} else {
		from, to = s.forwardWindow(g, status)
	}
	if from > to {
		// Nothing new; still persist the refreshed server watermarks.
		return s.store.UpdateWatermarks(ctx, g.Name, g.FirstArticle, g.LastArticle, g.CurrentArticle, g.BackfillTarget)
	}

	chunks := int((to-from)/int64(s.cfg.ChunkSize)) + 1
	op.update(func(p *Progress) { p.ChunksTotal = chunks })

	agg := s.aggregatorFor(g.Name)
	for chunkStart := from; chunkStart <= to; chunkStart += int64(s.cfg.ChunkSize) {
		// Cooperative cancellation: checked between chunks, never mid-chunk.
		if err := ctx.Err(); err != nil {
			return err
		}
		chunkEnd := chunkStart + int64(s.cfg.ChunkSize) - 1
		if chunkEnd > to {
			chunkEnd = to
		}

		if err := s.processChunk(ctx, op, g, agg, chunkStart, chunkEnd); err != nil {
			return err
		}

		// The watermark moves only at fully processed chunk boundaries.
		if op.Kind == KindBackfill {
			g.BackfillTarget = chunkEnd + 1
		} else {
			g.CurrentArticle = chunkEnd
		}
		if err := s.store.UpdateWatermarks(ctx, g.Name, g.FirstArticle, g.LastArticle, g.CurrentArticle, g.BackfillTarget); err != nil {
			return err
		}
		op.update(func(p *Progress) { p.ChunksDone++ })
		s.saveProgress(op)
	}

	if op.Kind == KindBackfill {
		// Window drained: the group's history now reaches back to `from`.
		g.FirstArticle = from
		g.BackfillTarget = 0
		if err := s.store.UpdateWatermarks(ctx, g.Name, g.FirstArticle, g.LastArticle, g.CurrentArticle, g.BackfillTarget); err != nil {
			return err
		}
	}

	agg.Sweep()
	return nil
}

// forwardWindow returns the next ascending window for a forward scan. A
// never-scanned group starts one chunk below the server head instead of
// crawling years of history.
func (s *Scheduler) forwardWindow(g *database.Group, status nntp.GroupStatus) (int64, int64) {
	from := g.CurrentArticle + 1
	if g.CurrentArticle == 0 {
		from = status.High - int64(s.cfg.ChunkSize) + 1
	}
	if from < status.Low {
		from = status.Low
	}
	return from, status.High
}

// backfillWindow returns the ascending window for a backfill run: from the
// day-based target up to the oldest article already held. A stored
// BackfillTarget resumes an interrupted run at its last chunk boundary.
func (s *Scheduler) backfillWindow(ctx context.Context, g *database.Group, status nntp.GroupStatus) (int64, int64, error) {
	to := g.FirstArticle - 1
	if to > status.High {
		to = status.High
	}

	if g.BackfillTarget > 0 && g.BackfillTarget <= to {
		// Resume where the cancelled run stopped.
		return g.BackfillTarget, to, nil
	}

	apd, err := s.estimateArticlesPerDay(ctx, g.Name, status)
	if err != nil {
		return 0, 0, err
	}
	target := ComputeBackfillTarget(status.Low, status.High, apd, g.BackfillDays, s.cfg.BackfillMaxArticles)
	return target, to, nil
}

// estimateArticlesPerDay probes the newest chunk's overview dates.
func (s *Scheduler) estimateArticlesPerDay(ctx context.Context, group string, status nntp.GroupStatus) (float64, error) {
	probeFrom := status.High - int64(s.cfg.ChunkSize) + 1
	if probeFrom < status.Low {
		probeFrom = status.Low
	}
	headers, err := s.wire.FetchOverview(ctx, group, probeFrom, status.High)
	if err != nil {
		if errors.Is(err, nntp.ErrNoArticles) {
			return defaultArticlesPerDay, nil
		}
		return 0, fmt.Errorf("probing posting rate: %w", err)
	}
	return EstimateArticlesPerDay(headers), nil
}

// EstimateArticlesPerDay derives a posting rate from a sample of overview
// headers. Falls back to a conservative default when the sample's dates are
// missing or span less than a minute.
func EstimateArticlesPerDay(headers []nntp.ArticleHeader) float64 {
	var first, last time.Time
	n := 0
	for _, h := range headers {
		if h.Date.IsZero() {
			continue
		}
		if first.IsZero() || h.Date.Before(first) {
			first = h.Date
		}
		if h.Date.After(last) {
			last = h.Date
		}
		n++
	}
	span := last.Sub(first)
	if n < 2 || span < time.Minute {
		return defaultArticlesPerDay
	}
	return float64(n) / span.Hours() * 24
}

// ComputeBackfillTarget returns the oldest article number worth fetching:
// last - days*articlesPerDay, clamped to the server's low mark and to a
// sane maximum window.
func ComputeBackfillTarget(low, high int64, articlesPerDay float64, days int, maxArticles int64) int64 {
	if days <= 0 {
		return high
	}
	target := high - int64(articlesPerDay*float64(days))
	if maxArticles > 0 && high-target > maxArticles {
		target = high - maxArticles
	}
	if target < low {
		target = low
	}
	return target
}

// processChunk fetches one overview chunk and runs it through the pipeline.
func (s *Scheduler) processChunk(ctx context.Context, op *Operation, g *database.Group, agg *binary.Aggregator, from, to int64) error {
	start := time.Now()
	defer func() {
		metrics.ChunkDuration.WithLabelValues(g.Name).Observe(time.Since(start).Seconds())
	}()

	headers, err := s.wire.FetchOverview(ctx, g.Name, from, to)
	if err != nil {
		if errors.Is(err, nntp.ErrNoArticles) {
			// Expired or sparse range; an empty chunk is still progress.
			return nil
		}
		return fmt.Errorf("fetch overview %d-%d: %w", from, to, err)
	}

	for _, h := range headers {
		agg.Ingest(h)
	}
	op.update(func(p *Progress) { p.Processed += int64(len(headers)) })

	for _, b := range agg.TakeComplete(g.MinFiles, g.MinSize) {
		out, resolved := s.resolveBinary(ctx, b)
		op.update(func(p *Progress) {
			if resolved {
				p.Resolved++
			} else if b.Obfuscated {
				p.Unresolved++
			}
		})
		if _, err := s.promoter.Promote(ctx, b, out, resolved); err != nil {
			// One failed promotion never aborts the chunk.
			op.update(func(p *Progress) { p.Failed++ })
			logging.Warn().Err(err).Str("group", g.Name).Str("key", b.Fingerprint()).Msg("promotion failed")
			continue
		}
		op.update(func(p *Progress) { p.Promoted++ })
	}
	return nil
}

// resolveBinary runs the deobfuscation chain for opaque names; readable
// subjects promote under their own cleaned name.
func (s *Scheduler) resolveBinary(ctx context.Context, b *binary.Binary) (resolve.Outcome, bool) {
	if !b.Obfuscated {
		name := binary.BaseName(b.Name)
		if !binary.ValidName(name) {
			name = b.Name
		}
		return resolve.Outcome{Name: name, Confidence: 1.0, Source: "subject"}, true
	}
	return s.resolver.Resolve(ctx, b)
}

// reprocessPending retries resolution for releases still carrying
// placeholder names. Late cache imports and new provider data resolve
// binaries that failed at promotion time.
func (s *Scheduler) reprocessPending(ctx context.Context) {
	rels, err := s.store.ListPendingReleases(ctx, s.cfg.PendingBatch)
	if err != nil {
		logging.Warn().Err(err).Msg("listing pending releases failed")
		return
	}
	for _, rel := range rels {
		if ctx.Err() != nil {
			return
		}
		b := binary.PendingStub(rel.Fingerprint, rel.Group)
		out, ok := s.resolver.Resolve(ctx, b)
		if !ok {
			continue
		}
		if err := s.store.UpdateReleaseName(ctx, rel.Fingerprint, out.Name, out.Source, out.Confidence); err != nil {
			logging.Warn().Err(err).Str("fingerprint", rel.Fingerprint).Msg("renaming pending release failed")
			continue
		}
		logging.Info().
			Str("fingerprint", rel.Fingerprint).
			Str("name", out.Name).
			Str("source", out.Source).
			Msg("pending release resolved")
	}
}
