// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package binary groups per-article overview headers into in-progress binary
// aggregates and decides when an aggregate is complete enough to promote.
package binary

import (
	"encoding/hex"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Part records one contributing article of a binary.
type Part struct {
	Index     int // 0 when the subject carried no part tag
	MessageID string
	Bytes     int64
}

// Binary is an in-memory aggregate of article parts believed to belong to
// one logical file set. Append-only until promoted or evicted.
type Binary struct {
	// Key is the aggregation key (derived from subject and sender).
	Key string
	// Group is the newsgroup the articles came from.
	Group string
	// Name is the best name candidate from the subject, part token stripped.
	Name string
	// Token is the raw subject token used as the cache key when obfuscated.
	Token string
	From  string
	// Obfuscated is true when no usable part/name pattern was found, or the
	// name candidate reads as an opaque hash.
	Obfuscated bool

	// TotalBytes is the sum of contributing article sizes.
	TotalBytes int64
	// ClaimedTotal is the authoritative claimed part count (most frequent
	// claim wins; claims below the observed count are ignored).
	ClaimedTotal int

	FirstSeen    time.Time
	LastSeen     time.Time
	LastActivity time.Time

	parts      []Part
	seen       map[string]struct{}
	totalVotes map[int]int
}

func newBinary(key, group, name, token, from string, obfuscated bool, now time.Time) *Binary {
	return &Binary{
		Key:          key,
		Group:        group,
		Name:         name,
		Token:        token,
		From:         from,
		Obfuscated:   obfuscated,
		FirstSeen:    now,
		LastSeen:     now,
		LastActivity: now,
		seen:         make(map[string]struct{}),
		totalVotes:   make(map[int]int),
	}
}

// PendingStub builds a minimal binary carrying only a fingerprint and
// group, used to re-run the cache and provider strategies for an
// already-promoted placeholder release. It has no parts, so body-based
// strategies skip it.
func PendingStub(fingerprint, group string) *Binary {
	b := newBinary(fingerprint, group, "", fingerprint, "", true, time.Time{})
	return b
}

// addPart appends one article. Returns false when the message id was already
// counted (idempotent ingest).
func (b *Binary) addPart(p Part, posted, now time.Time) bool {
	if _, dup := b.seen[p.MessageID]; dup {
		return false
	}
	b.seen[p.MessageID] = struct{}{}
	b.parts = append(b.parts, p)
	b.TotalBytes += p.Bytes
	b.LastActivity = now
	if len(b.totalVotes) > 0 {
		b.recomputeClaim()
	}
	if !posted.IsZero() {
		if b.FirstSeen.IsZero() || posted.Before(b.FirstSeen) {
			b.FirstSeen = posted
		}
		if posted.After(b.LastSeen) {
			b.LastSeen = posted
		}
	}
	return true
}

// voteTotal records one claimed part total.
func (b *Binary) voteTotal(total int) {
	if total < 1 {
		return
	}
	b.totalVotes[total]++
	b.recomputeClaim()
}

// recomputeClaim picks the authoritative claimed total: the most frequent
// claim, ignoring claims impossibly smaller than the observed part count.
// Ties prefer the larger total. Called after every vote and every new part
// (the observed count moving up can invalidate earlier claims).
func (b *Binary) recomputeClaim() {
	observed := b.PartCount()
	best, bestVotes := 0, 0
	for t, v := range b.totalVotes {
		if t < observed {
			continue
		}
		if v > bestVotes || (v == bestVotes && t > best) {
			best, bestVotes = t, v
		}
	}
	b.ClaimedTotal = best
}

// PartCount is the number of distinct contributing articles.
func (b *Binary) PartCount() int {
	return len(b.parts)
}

// MessageIDs returns the contributing message ids ordered by part index
// where known, then by arrival.
func (b *Binary) MessageIDs() []string {
	sorted := make([]Part, len(b.parts))
	copy(sorted, b.parts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Index != sorted[j].Index {
			return sorted[i].Index < sorted[j].Index
		}
		return false
	})
	ids := make([]string, len(sorted))
	for i, p := range sorted {
		ids[i] = p.MessageID
	}
	return ids
}

// FirstMessageID returns the lowest-indexed part's message id, used by the
// resolver to fetch a sample body. Empty when the binary has no parts.
func (b *Binary) FirstMessageID() string {
	ids := b.MessageIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Fingerprint is a stable identifier for the binary, used as the cache key
// and as the placeholder-name seed for unresolved releases. For obfuscated
// binaries carrying a hash token, the token itself is the natural key so
// that independent posts of the same content shortcut to the same mapping.
func (b *Binary) Fingerprint() string {
	if b.Obfuscated && b.Token != "" {
		return b.Token
	}
	sum := blake2b.Sum256([]byte(b.Key))
	return hex.EncodeToString(sum[:16])
}

// Completion returns the observed/claimed ratio in percent, clamped to 100.
// 0 when no total was ever claimed.
func (b *Binary) Completion() float64 {
	if b.ClaimedTotal <= 0 {
		return 0
	}
	pct := float64(b.PartCount()) / float64(b.ClaimedTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
