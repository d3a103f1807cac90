// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package metrics defines Prometheus instrumentation for the ingestion
// pipeline. All collectors are registered on the default registry via
// promauto and exposed on /metrics by the admin API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArticlesIngested counts overview headers fed to the aggregator.
	ArticlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzbindexer_articles_ingested_total",
		Help: "Number of article headers ingested, by group.",
	}, []string{"group"})

	// ArticlesDuplicate counts headers dropped as already-seen message ids.
	ArticlesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nzbindexer_articles_duplicate_total",
		Help: "Number of duplicate article headers dropped by the aggregator.",
	})

	// BinariesActive tracks the in-memory working set size per group.
	BinariesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nzbindexer_binaries_active",
		Help: "Number of in-progress binaries held in memory, by group.",
	}, []string{"group"})

	// BinariesPromoted counts binaries promoted to releases.
	BinariesPromoted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzbindexer_binaries_promoted_total",
		Help: "Number of completed binaries promoted to releases, by group.",
	}, []string{"group"})

	// BinariesEvicted counts abandoned binaries dropped by idle eviction.
	BinariesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nzbindexer_binaries_evicted_total",
		Help: "Number of idle incomplete binaries evicted without promotion.",
	})

	// ResolveAttempts counts strategy executions by strategy and result.
	ResolveAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzbindexer_resolve_attempts_total",
		Help: "Deobfuscation strategy attempts, by strategy and result.",
	}, []string{"strategy", "result"})

	// ResolveDuration observes end-to-end resolution latency.
	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nzbindexer_resolve_duration_seconds",
		Help:    "End-to-end deobfuscation chain latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	// CacheHits counts name-resolution cache hits and misses.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzbindexer_namecache_lookups_total",
		Help: "Name cache lookups, by result (hit/miss).",
	}, []string{"result"})

	// ProviderBreakerState reports the circuit breaker state per provider
	// (0=closed, 1=half-open, 2=open).
	ProviderBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nzbindexer_provider_breaker_state",
		Help: "Circuit breaker state per lookup provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})

	// ChunkDuration observes per-chunk pipeline latency.
	ChunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nzbindexer_chunk_duration_seconds",
		Help:    "Time to fetch and process one article chunk, by group.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"group"})

	// GroupCycleErrors counts group cycles that failed and were skipped.
	GroupCycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nzbindexer_group_cycle_errors_total",
		Help: "Group scan cycles aborted by an error, by group.",
	}, []string{"group"})

	// NNTPReconnects counts wire client reconnections.
	NNTPReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nzbindexer_nntp_reconnects_total",
		Help: "Number of NNTP session reconnections.",
	})

	// OperationsActive tracks in-flight backfill operations.
	OperationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nzbindexer_operations_active",
		Help: "Number of in-flight backfill operations.",
	})
)
