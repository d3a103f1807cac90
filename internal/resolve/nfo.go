// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	bin "github.com/jskoetsier/nzbindexer/internal/binary"
)

// NFOStrategy looks for an info/description text file among the binary's
// parts and scans it for label:value lines naming the release. Scene NFOs
// reliably carry a "Release" or "Title" line even when the post subject is
// a hash.
type NFOStrategy struct {
	fetcher  BodyFetcher
	maxBytes int
}

// NewNFOStrategy builds the embedded-metadata chain step.
func NewNFOStrategy(fetcher BodyFetcher, maxBytes int) *NFOStrategy {
	if maxBytes <= 0 {
		maxBytes = 10240
	}
	return &NFOStrategy{fetcher: fetcher, maxBytes: maxBytes}
}

func (s *NFOStrategy) Name() string { return StrategyNFO }

// nfoLabelRe matches "Release....: name" style lines. Scene NFOs pad labels
// with dots or spaces before the colon.
var nfoLabelRe = regexp.MustCompile(`(?i)^\s*(?:release(?:\s*name)?|rls\s*name|title|name)\s*[.\s]*[:\]]\s*(.+?)\s*$`)

func (s *NFOStrategy) Attempt(ctx context.Context, b *bin.Binary) (Outcome, bool, error) {
	if s.fetcher == nil {
		return Outcome{}, false, nil
	}
	// The lowest-indexed part is fetched as the candidate; the text gate
	// below rejects binary payloads.
	msgID := b.FirstMessageID()
	if msgID == "" {
		return Outcome{}, false, nil
	}
	body, err := s.fetcher.FetchBody(ctx, msgID)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("nfo: fetch body %s: %w", msgID, err)
	}

	text := yencDecode(body, s.maxBytes)
	if len(text) == 0 {
		// Not yEnc framed; treat the raw body as text.
		if len(body) > s.maxBytes {
			body = body[:s.maxBytes]
		}
		text = body
	}
	if !mostlyText(text) {
		return Outcome{}, false, nil
	}

	for _, line := range strings.Split(string(text), "\n") {
		m := nfoLabelRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		candidate := bin.BaseName(strings.TrimSpace(m[1]))
		if bin.IsObfuscated(candidate) || !bin.ValidName(candidate) {
			continue
		}
		return Outcome{Name: candidate, Confidence: ConfidenceNFO, Source: StrategyNFO}, true, nil
	}
	return Outcome{}, false, nil
}

// mostlyText reports whether at least 85% of the bytes are printable ASCII
// or whitespace. NFO files use CP437 art; the threshold tolerates it.
func mostlyText(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	printable := 0
	for _, c := range p {
		if (c >= 0x20 && c < 0x7f) || c == '\n' || c == '\r' || c == '\t' {
			printable++
		}
	}
	return float64(printable)/float64(len(p)) >= 0.85
}
