// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package binary

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/metrics"
	"github.com/jskoetsier/nzbindexer/internal/nntp"
)

// AggregatorConfig bounds the per-group working set.
type AggregatorConfig struct {
	// IdleWindow evicts a binary that received no new parts for this long.
	IdleWindow time.Duration
	// MaxBinaries caps the working set; oldest-activity binaries are evicted
	// first when the cap is hit.
	MaxBinaries int
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.IdleWindow <= 0 {
		c.IdleWindow = 30 * time.Minute
	}
	if c.MaxBinaries <= 0 {
		c.MaxBinaries = 50000
	}
	return c
}

// Aggregator groups article headers into binaries for one newsgroup.
// Aggregation state is scoped per group; the scheduler gives each group
// worker its own instance, so no locking is needed here.
type Aggregator struct {
	group    string
	cfg      AggregatorConfig
	binaries map[string]*Binary
	now      func() time.Time
}

// NewAggregator creates an aggregator for one group.
func NewAggregator(group string, cfg AggregatorConfig) *Aggregator {
	return &Aggregator{
		group:    group,
		cfg:      cfg.withDefaults(),
		binaries: make(map[string]*Binary),
		now:      time.Now,
	}
}

// Ingest feeds one overview header into the working set and returns the
// binary it was folded into. Ingesting the same message id twice is a no-op
// for size and part count. Never returns an error: malformed headers are
// normalized, not rejected.
func (a *Aggregator) Ingest(h nntp.ArticleHeader) *Binary {
	now := a.now()
	ref, stripped, hasPart := ParsePart(h.Subject)

	var (
		key        string
		name       string
		token      string
		obfuscated bool
	)
	name = CleanSubject(stripped)
	if hasPart {
		obfuscated = IsObfuscated(name)
		key = GroupingKey(stripped, h.From)
		if obfuscated {
			token = normalizeToken(name)
		}
	} else {
		// No part pattern: the subject is treated as opaque. Posts sharing
		// the same token and sender still aggregate; a truly unique hash
		// subject becomes its own binary instead of colliding.
		obfuscated = true
		token = normalizeToken(name)
		if token != "" {
			key = "tok:" + token + "|" + strings.ToLower(h.From)
		} else {
			key = "fp:" + senderSizeFingerprint(h.From, h.Bytes)
		}
	}

	b, exists := a.binaries[key]
	if !exists {
		b = newBinary(key, a.group, name, token, h.From, obfuscated, now)
		a.binaries[key] = b
		metrics.BinariesActive.WithLabelValues(a.group).Set(float64(len(a.binaries)))
	}

	part := Part{MessageID: h.MessageID, Bytes: h.Bytes}
	if hasPart {
		part.Index = ref.Index
	}
	if !b.addPart(part, h.Date, now) {
		// Duplicate message id inside one binary should not occur given the
		// key design; drop it loudly rather than double-count.
		metrics.ArticlesDuplicate.Inc()
		logging.Debug().
			Str("group", a.group).
			Str("message_id", h.MessageID).
			Msg("duplicate article dropped")
		return b
	}
	if hasPart {
		b.voteTotal(ref.Total)
	}
	metrics.ArticlesIngested.WithLabelValues(a.group).Inc()
	return b
}

// TakeComplete removes and returns binaries satisfying the completion policy
// and the group's minimum file-count and size thresholds (zero disables a
// threshold).
func (a *Aggregator) TakeComplete(minFiles int, minBytes int64) []*Binary {
	var out []*Binary
	for key, b := range a.binaries {
		if !b.Complete() {
			continue
		}
		if minFiles > 0 && b.PartCount() < minFiles {
			continue
		}
		if minBytes > 0 && b.TotalBytes < minBytes {
			continue
		}
		delete(a.binaries, key)
		out = append(out, b)
	}
	metrics.BinariesActive.WithLabelValues(a.group).Set(float64(len(a.binaries)))
	return out
}

// Sweep evicts binaries idle past the window, plus the oldest entries beyond
// the working-set cap. Evicted incomplete binaries are abandoned: no release
// is ever created for them.
func (a *Aggregator) Sweep() int {
	now := a.now()
	evicted := 0
	for key, b := range a.binaries {
		if now.Sub(b.LastActivity) >= a.cfg.IdleWindow {
			delete(a.binaries, key)
			evicted++
		}
	}
	for len(a.binaries) > a.cfg.MaxBinaries {
		oldestKey := ""
		var oldest time.Time
		for key, b := range a.binaries {
			if oldestKey == "" || b.LastActivity.Before(oldest) {
				oldestKey, oldest = key, b.LastActivity
			}
		}
		delete(a.binaries, oldestKey)
		evicted++
	}
	if evicted > 0 {
		metrics.BinariesEvicted.Add(float64(evicted))
		metrics.BinariesActive.WithLabelValues(a.group).Set(float64(len(a.binaries)))
		logging.Debug().Str("group", a.group).Int("evicted", evicted).Msg("swept idle binaries")
	}
	return evicted
}

// Len returns the current working-set size.
func (a *Aggregator) Len() int {
	return len(a.binaries)
}

// normalizeToken canonicalizes an opaque subject token for keying.
func normalizeToken(s string) string {
	return nonKeyChars.ReplaceAllString(strings.ToLower(s), "")
}

func senderSizeFingerprint(from string, bytes int64) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%d", strings.ToLower(from), bytes)))
	return hex.EncodeToString(sum[:12])
}
