// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/jskoetsier/nzbindexer/internal/binary"
)

// DecodeStrategy interprets the obfuscated token itself as base64 or hex
// encoding of a plausible name. Some posters encode the real name rather
// than hash it; this recovers those without any I/O.
type DecodeStrategy struct{}

// NewDecodeStrategy builds the encoding-decode chain step.
func NewDecodeStrategy() *DecodeStrategy { return &DecodeStrategy{} }

func (s *DecodeStrategy) Name() string { return StrategyDecode }

func (s *DecodeStrategy) Attempt(_ context.Context, b *binary.Binary) (Outcome, bool, error) {
	token := strings.TrimSpace(b.Token)
	if token == "" {
		token = strings.TrimSpace(b.Name)
	}
	if token == "" {
		return Outcome{}, false, nil
	}

	for _, decode := range decoders {
		raw, err := decode(token)
		if err != nil || len(raw) == 0 {
			continue
		}
		name := strings.TrimSpace(string(raw))
		if !printableText(name) || !binary.ValidName(name) {
			continue
		}
		return Outcome{Name: name, Confidence: ConfidenceDecode, Source: StrategyDecode}, true, nil
	}
	return Outcome{}, false, nil
}

// decoders are tried in order. Hex first: a hex string is also valid base64
// alphabet, and decoding it as base64 yields garbage that would be rejected
// anyway, but hex is the cheaper and more specific check.
var decoders = []func(string) ([]byte, error){
	func(s string) ([]byte, error) { return hex.DecodeString(s) },
	func(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) },
	func(s string) ([]byte, error) { return base64.RawStdEncoding.DecodeString(s) },
	func(s string) ([]byte, error) { return base64.URLEncoding.DecodeString(s) },
	func(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) },
}

// printableText accepts strings of printable runes only; a single decoded
// control byte means the token was binary data, not an encoded name.
func printableText(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return false
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
