// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"bytes"
	"regexp"
	"strings"
)

// yEnc framing: the payload sits between an =ybegin (optionally =ypart)
// header line and an =yend trailer. Every payload byte was shifted +42;
// critical bytes were escaped as '=' followed by the byte shifted a further
// +64.

var yencNameRe = regexp.MustCompile(`(?i)\bname=(.+)$`)

// yencHeaderName extracts the name= attribute from an =ybegin line, if the
// body carries one. Posters of obfuscated content usually blank or hash it,
// but when present it is the actual filename.
func yencHeaderName(body []byte) string {
	for _, line := range bytes.Split(body, []byte("\n")) {
		trimmed := bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(trimmed, []byte("=ybegin")) {
			continue
		}
		if m := yencNameRe.FindSubmatch(trimmed); m != nil {
			return strings.TrimSpace(string(m[1]))
		}
		return ""
	}
	return ""
}

// yencDecode decodes up to maxBytes of yEnc payload from a raw article
// body. Lines outside the =ybegin/=yend frame are ignored. The decode is
// best-effort: a malformed body yields whatever prefix decoded cleanly.
func yencDecode(body []byte, maxBytes int) []byte {
	if maxBytes <= 0 {
		maxBytes = 10240
	}
	out := make([]byte, 0, maxBytes)
	inPayload := false
	escaped := false

	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		switch {
		case bytes.HasPrefix(line, []byte("=ybegin")):
			inPayload = true
			continue
		case bytes.HasPrefix(line, []byte("=ypart")):
			continue
		case bytes.HasPrefix(line, []byte("=yend")):
			return out
		}
		if !inPayload {
			continue
		}
		for _, c := range line {
			if escaped {
				out = append(out, c-64-42)
				escaped = false
				continue
			}
			if c == '=' {
				escaped = true
				continue
			}
			out = append(out, c-42)
			if len(out) >= maxBytes {
				return out
			}
		}
	}
	return out
}
