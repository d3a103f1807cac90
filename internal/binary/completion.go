// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package binary

// Completion thresholds. These constants are a behavioral contract: tooling
// and operators depend on binaries promoting at exactly these boundaries.
const (
	// minPartsForRatio is the observed-part floor for the ratio rule.
	minPartsForRatio = 2
	// completionRatio is the observed/claimed floor for the ratio rule.
	completionRatio = 0.25
	// minPartsAbsolute promotes regardless of the claimed total, which is
	// routinely wrong or unknowable on real posts.
	minPartsAbsolute = 5
)

// IsComplete decides whether a binary is done enough to promote. Rules are
// applied in order, first match wins:
//
//  1. observed >= claimed (all announced parts seen)
//  2. observed >= 2 and observed/claimed >= 0.25
//  3. observed >= 5, claimed total ignored
//
// A claimed total of zero means "unknown"; rules 1 and 2 never match it.
func IsComplete(observed, claimed int) bool {
	if observed < 1 {
		return false
	}
	if claimed > 0 && observed >= claimed {
		return true
	}
	if claimed > 0 && observed >= minPartsForRatio &&
		float64(observed)/float64(claimed) >= completionRatio {
		return true
	}
	return observed >= minPartsAbsolute
}

// Complete reports whether b satisfies the completion policy.
func (b *Binary) Complete() bool {
	return IsComplete(b.PartCount(), b.ClaimedTotal)
}
