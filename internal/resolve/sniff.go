// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	bin "github.com/jskoetsier/nzbindexer/internal/binary"
)

// BodyFetcher fetches one raw article body by message id. Satisfied by the
// nntp client.
type BodyFetcher interface {
	FetchBody(ctx context.Context, messageID string) ([]byte, error)
}

// SniffStrategy downloads a short prefix of the binary's first part, decodes
// the yEnc transport encoding and inspects the leading bytes for a known
// container signature (RAR, ZIP, 7z, PAR2). When the format exposes an
// internal filename, that filename names the release.
type SniffStrategy struct {
	fetcher  BodyFetcher
	maxBytes int
}

// NewSniffStrategy builds the payload-sniffing chain step. maxBytes bounds
// the decoded prefix inspected (default 10 KiB).
func NewSniffStrategy(fetcher BodyFetcher, maxBytes int) *SniffStrategy {
	if maxBytes <= 0 {
		maxBytes = 10240
	}
	return &SniffStrategy{fetcher: fetcher, maxBytes: maxBytes}
}

func (s *SniffStrategy) Name() string { return StrategySniff }

func (s *SniffStrategy) Attempt(ctx context.Context, b *bin.Binary) (Outcome, bool, error) {
	msgID := b.FirstMessageID()
	if msgID == "" || s.fetcher == nil {
		return Outcome{}, false, nil
	}
	body, err := s.fetcher.FetchBody(ctx, msgID)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("sniff: fetch body %s: %w", msgID, err)
	}

	// The yEnc header sometimes carries the real filename outright.
	if name := yencHeaderName(body); name != "" && !bin.IsObfuscated(bin.BaseName(name)) {
		if candidate := bin.BaseName(name); bin.ValidName(candidate) {
			return Outcome{Name: candidate, Confidence: ConfidenceSniff, Source: StrategySniff}, true, nil
		}
	}

	payload := yencDecode(body, s.maxBytes)
	name, ok := sniffArchiveName(payload)
	if !ok {
		return Outcome{}, false, nil
	}
	candidate := bin.BaseName(name)
	if bin.IsObfuscated(candidate) || !bin.ValidName(candidate) {
		return Outcome{}, false, nil
	}
	return Outcome{Name: candidate, Confidence: ConfidenceSniff, Source: StrategySniff}, true, nil
}

// Container signatures.
var (
	sigRAR4 = []byte("Rar!\x1a\x07\x00")
	sigRAR5 = []byte("Rar!\x1a\x07\x01\x00")
	sigZIP  = []byte("PK\x03\x04")
	sig7Z   = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
	sigPAR2 = []byte("PAR2\x00PKT")
)

// sniffArchiveName identifies the container format of a decoded payload
// prefix and extracts its first internal filename.
func sniffArchiveName(p []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(p, sigRAR5):
		return rar5FileName(p)
	case bytes.HasPrefix(p, sigRAR4):
		return rar4FileName(p)
	case bytes.HasPrefix(p, sigZIP):
		return zipFileName(p)
	case bytes.HasPrefix(p, sig7Z):
		return sevenZipFileName(p)
	case bytes.HasPrefix(p, sigPAR2):
		return par2FileName(p)
	}
	return "", false
}

// rar4FileName walks RAR 4.x block headers looking for the first file
// header (type 0x74). Block layout: crc(2) type(1) flags(2) size(2); file
// headers carry name_size at block+26 and the name at block+32.
func rar4FileName(p []byte) (string, bool) {
	off := len(sigRAR4)
	for blocks := 0; blocks < 32 && off+7 <= len(p); blocks++ {
		blockType := p[off+2]
		flags := binary.LittleEndian.Uint16(p[off+3:])
		size := int(binary.LittleEndian.Uint16(p[off+5:]))
		if size < 7 {
			return "", false
		}
		if blockType == 0x74 {
			if off+28 > len(p) {
				return "", false
			}
			nameSize := int(binary.LittleEndian.Uint16(p[off+26:]))
			start := off + 32
			if nameSize <= 0 || nameSize > 512 || start+nameSize > len(p) {
				return "", false
			}
			return cleanArchiveName(p[start : start+nameSize])
		}
		// ADD_SIZE extends the block when flag 0x8000 is set.
		if flags&0x8000 != 0 {
			if off+11 > len(p) {
				return "", false
			}
			size += int(binary.LittleEndian.Uint32(p[off+7:]))
		}
		off += size
	}
	return "", false
}

// rar5FileName scans for a printable filename run; the RAR5 header format
// uses variable-length integers that are not worth fully parsing for a
// best-effort sniff.
func rar5FileName(p []byte) (string, bool) {
	return printableRunWithDot(p[len(sigRAR5):])
}

// zipFileName reads the first local file header: filename length is the
// little-endian u16 at offset 26, the name starts at offset 30.
func zipFileName(p []byte) (string, bool) {
	if len(p) < 30 {
		return "", false
	}
	nameLen := int(binary.LittleEndian.Uint16(p[26:]))
	if nameLen <= 0 || nameLen > 512 || 30+nameLen > len(p) {
		return "", false
	}
	return cleanArchiveName(p[30 : 30+nameLen])
}

// sevenZipFileName scans for a UTF-16LE filename; 7z stores names in the
// (usually compressed) header, so this only works on uncompressed headers,
// which is acceptable for a best-effort sniff.
func sevenZipFileName(p []byte) (string, bool) {
	var run []uint16
	for i := len(sig7Z); i+1 < len(p); i += 2 {
		u := binary.LittleEndian.Uint16(p[i:])
		if u >= 0x20 && u < 0x7f {
			run = append(run, u)
			continue
		}
		if len(run) >= 5 {
			if name, ok := utf16Candidate(run); ok {
				return name, true
			}
		}
		run = run[:0]
	}
	if len(run) >= 5 {
		return utf16Candidate(run)
	}
	return "", false
}

func utf16Candidate(run []uint16) (string, bool) {
	s := string(utf16.Decode(run))
	if strings.Contains(s, ".") {
		return strings.TrimSpace(s), true
	}
	return "", false
}

// par2FileName walks PAR2 packets for a FileDesc packet. Packet header is
// 64 bytes (magic 8, length 8, hash 16, set id 16, type 16); the FileDesc
// body places the filename at body offset 40.
func par2FileName(p []byte) (string, bool) {
	fileDescType := []byte("PAR 2.0\x00FileDesc")
	off := 0
	for off+64 <= len(p) {
		if !bytes.HasPrefix(p[off:], sigPAR2) {
			break
		}
		pktLen := int(binary.LittleEndian.Uint64(p[off+8:]))
		if pktLen < 64 || pktLen > len(p)-off {
			break
		}
		pktType := p[off+48 : off+64]
		if bytes.Equal(pktType, fileDescType) {
			nameStart := off + 64 + 40
			nameEnd := off + pktLen
			if nameStart < nameEnd && nameEnd <= len(p) {
				return cleanArchiveName(p[nameStart:nameEnd])
			}
		}
		off += pktLen
	}
	return "", false
}

// cleanArchiveName trims NUL padding and rejects names with control bytes.
func cleanArchiveName(raw []byte) (string, bool) {
	name := strings.TrimRight(string(raw), "\x00")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", false
		}
	}
	// Archive members may carry paths; the release is named by the file.
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	return name, name != ""
}

// printableRunWithDot finds the first printable ASCII run of at least five
// bytes containing a dot, the shape of a filename.
func printableRunWithDot(p []byte) (string, bool) {
	start := -1
	for i := 0; i <= len(p); i++ {
		printable := i < len(p) && p[i] >= 0x20 && p[i] < 0x7f
		if printable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= 5 {
			s := string(p[start:i])
			if strings.Contains(s, ".") {
				return strings.TrimSpace(s), true
			}
		}
		start = -1
	}
	return "", false
}
