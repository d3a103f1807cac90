// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package resolve recovers human-readable release names for obfuscated
// binaries through an ordered chain of strategies: the local name cache,
// external name databases, encoding decode, payload header sniffing and
// embedded-metadata scanning. The chain short-circuits on the first success
// and degrades to Unresolved, never to an error, when every strategy fails.
package resolve

import (
	"context"
	"time"

	"github.com/jskoetsier/nzbindexer/internal/binary"
	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/metrics"
	"github.com/jskoetsier/nzbindexer/internal/namecache"
)

// Strategy confidence levels. External pre-databases are near-authoritative;
// the further down the chain, the weaker the signal.
const (
	ConfidenceProvider = 0.95
	ConfidenceSniff    = 0.90
	ConfidenceDecode   = 0.70
	ConfidenceNFO      = 0.60
	// ConfidenceManual marks operator-imported mappings.
	ConfidenceManual = 1.0
)

// Outcome is a successful resolution: the recovered name, how sure the
// strategy is, and which strategy produced it.
type Outcome struct {
	Name       string
	Confidence float64
	Source     string
}

// Strategy is one step of the resolution chain. ok=false with a nil error
// means "no result, try the next strategy"; an error is routine (logged at
// low severity) and also advances the chain.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, b *binary.Binary) (out Outcome, ok bool, err error)
}

// Resolver runs the strategy chain and maintains the write-back loop into
// the name cache.
type Resolver struct {
	strategies []Strategy
	cache      *namecache.Store
}

// NewResolver builds a resolver over an explicit strategy order. The cache
// store receives write-backs for successes from any non-cache strategy.
func NewResolver(cache *namecache.Store, strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies, cache: cache}
}

// NewDefaultResolver assembles the production chain in its fixed order:
// cache, external providers, token decoding, payload sniffing, NFO scanning.
func NewDefaultResolver(cache *namecache.Store, fetcher BodyFetcher, lookupTimeout time.Duration, maxBodyBytes int, providers ...Provider) *Resolver {
	return NewResolver(cache,
		NewCacheStrategy(cache),
		NewLookupStrategy(lookupTimeout, providers...),
		NewDecodeStrategy(),
		NewSniffStrategy(fetcher, maxBodyBytes),
		NewNFOStrategy(fetcher, maxBodyBytes),
	)
}

// Strategies returns the chain in execution order, for status reporting.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve runs the chain against one binary. ok=false means Unresolved: the
// caller must still promote the binary under a placeholder name, never drop
// it. On success the mapping is upserted into the cache before returning.
func (r *Resolver) Resolve(ctx context.Context, b *binary.Binary) (Outcome, bool) {
	start := time.Now()
	defer func() {
		metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	}()

	key := b.Fingerprint()
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			return Outcome{}, false
		}
		out, ok, err := s.Attempt(ctx, b)
		if err != nil {
			// Strategy errors are expected and routine; the chain moves on.
			metrics.ResolveAttempts.WithLabelValues(s.Name(), "error").Inc()
			logging.Debug().Err(err).
				Str("strategy", s.Name()).
				Str("key", key).
				Msg("resolution strategy errored")
			continue
		}
		if !ok {
			metrics.ResolveAttempts.WithLabelValues(s.Name(), "miss").Inc()
			continue
		}
		if !binary.ValidName(out.Name) {
			metrics.ResolveAttempts.WithLabelValues(s.Name(), "invalid").Inc()
			logging.Debug().
				Str("strategy", s.Name()).
				Str("name", out.Name).
				Msg("resolved name failed validation")
			continue
		}
		metrics.ResolveAttempts.WithLabelValues(s.Name(), "hit").Inc()

		if s.Name() != StrategyCache && r.cache != nil {
			if _, err := r.cache.Put(key, out.Name, out.Source, out.Confidence); err != nil {
				logging.Warn().Err(err).Str("key", key).Msg("name cache write-back failed")
			}
		}
		logging.Info().
			Str("strategy", s.Name()).
			Str("key", key).
			Str("name", out.Name).
			Float64("confidence", out.Confidence).
			Msg("binary deobfuscated")
		return out, true
	}
	metrics.ResolveAttempts.WithLabelValues("chain", "unresolved").Inc()
	return Outcome{}, false
}
