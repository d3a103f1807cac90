// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"context"

	"github.com/jskoetsier/nzbindexer/internal/binary"
	"github.com/jskoetsier/nzbindexer/internal/namecache"
)

// Strategy names, used in metrics labels and release provenance.
const (
	StrategyCache  = "cache"
	StrategyLookup = "lookup"
	StrategyDecode = "decode"
	StrategySniff  = "sniff"
	StrategyNFO    = "nfo"
)

// CacheStrategy answers from the persistent name cache. No network; this is
// always the first link of the chain.
type CacheStrategy struct {
	store *namecache.Store
}

// NewCacheStrategy wraps a cache store as a strategy.
func NewCacheStrategy(store *namecache.Store) *CacheStrategy {
	return &CacheStrategy{store: store}
}

func (s *CacheStrategy) Name() string { return StrategyCache }

func (s *CacheStrategy) Attempt(_ context.Context, b *binary.Binary) (Outcome, bool, error) {
	m, found, err := s.store.Get(b.Fingerprint())
	if err != nil {
		return Outcome{}, false, err
	}
	if !found {
		return Outcome{}, false, nil
	}
	return Outcome{Name: m.Name, Confidence: m.Confidence, Source: m.Source}, true, nil
}
