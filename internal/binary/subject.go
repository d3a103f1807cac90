// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package binary

import (
	"regexp"
	"strconv"
	"strings"
)

// PartReference is a parsed (index, total) pair from a subject. The total is
// claimed by the poster, not verified; articles of one binary may disagree.
type PartReference struct {
	Index int
	Total int
}

// Part patterns are tried in order; bracketed forms win over bare ones so
// that "My.File [01/15] (1/3)" yields the file-level 1/15, not the
// segment-level 1/3 as often as possible.
var partPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[(\d{1,6})\s*/\s*(\d{1,6})\]`),
	regexp.MustCompile(`\((\d{1,6})\s*/\s*(\d{1,6})\)`),
	regexp.MustCompile(`(?i)\bpart\s*(\d{1,6})\s*(?:of|/)\s*(\d{1,6})\b`),
	regexp.MustCompile(`(?:^|\s)(\d{1,6})\s*/\s*(\d{1,6})(?:\s|$)`),
}

// ParsePart extracts a part reference from a subject line. The second return
// is the subject with the matched part token removed (for grouping). ok is
// false when no pattern with 1 <= index <= total is present.
func ParsePart(subject string) (ref PartReference, stripped string, ok bool) {
	for _, re := range partPatterns {
		loc := re.FindStringSubmatchIndex(subject)
		if loc == nil {
			continue
		}
		idx, err1 := strconv.Atoi(subject[loc[2]:loc[3]])
		total, err2 := strconv.Atoi(subject[loc[4]:loc[5]])
		if err1 != nil || err2 != nil {
			continue
		}
		if idx < 1 || total < 1 || idx > total {
			// Out-of-range claims are treated as decoration, not a part tag.
			continue
		}
		stripped = subject[:loc[0]] + subject[loc[1]:]
		return PartReference{Index: idx, Total: total}, strings.TrimSpace(stripped), true
	}
	return PartReference{}, subject, false
}

var (
	yencMarker     = regexp.MustCompile(`(?i)\byenc\b.*$`)
	sizeSuffix     = regexp.MustCompile(`(?i)\b\d+\s*(?:bytes?|kb|mb|gb)\b`)
	nonKeyChars    = regexp.MustCompile(`[^a-z0-9]+`)
	quotedName     = regexp.MustCompile(`"([^"]+)"`)
	fileExtension  = regexp.MustCompile(`(?i)\.(rar|r\d{2}|zip|7z|par2|nzb|nfo|sfv|mkv|mp4|avi|vol\d+\+\d+)\b.*$`)
	alphaRun       = regexp.MustCompile(`[a-zA-Z]{3,}`)
	allDigits      = regexp.MustCompile(`^\d+$`)
	hexToken       = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	base64Token    = regexp.MustCompile(`^[A-Za-z0-9+/=_-]+$`)
	alnumToken     = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	vowelSeq       = regexp.MustCompile(`(?i)[aeiou]`)
	unprintableSeq = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// CleanSubject strips transport noise (yEnc markers, byte counts, quotes)
// from a subject, leaving the best name candidate.
func CleanSubject(subject string) string {
	s := subject
	if m := quotedName.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = yencMarker.ReplaceAllString(s, "")
	s = sizeSuffix.ReplaceAllString(s, "")
	s = strings.Trim(s, " \t-_.")
	return s
}

// GroupingKey derives the aggregation key for a subject (part token already
// stripped) and sender. The key is insensitive to case and punctuation so
// that minor subject variations between parts still aggregate.
func GroupingKey(strippedSubject, from string) string {
	name := nonKeyChars.ReplaceAllString(strings.ToLower(CleanSubject(strippedSubject)), "")
	sender := nonKeyChars.ReplaceAllString(strings.ToLower(from), "")
	return name + "|" + sender
}

// BaseName strips a trailing file extension from a name candidate.
func BaseName(name string) string {
	return strings.TrimRight(fileExtension.ReplaceAllString(name, ""), " .-_")
}

// IsObfuscated reports whether a token carries no human-readable release
// information: hash-like hex or base64 strings, long undelimited
// alphanumerics, or short vowel-less noise. This single heuristic is shared
// by the aggregator (grouping-key choice) and the resolver (strategy gating
// and output validation).
func IsObfuscated(token string) bool {
	t := strings.TrimSpace(token)
	t = strings.Trim(t, `"'`)
	if t == "" {
		return true
	}
	compact := strings.ReplaceAll(t, " ", "")

	switch {
	case hexToken.MatchString(compact) && (len(compact) == 32 || len(compact) == 40 || len(compact) == 64):
		// md5 / sha1 / sha256 widths
		return true
	case hexToken.MatchString(compact) && len(compact) >= 12:
		return true
	case base64Token.MatchString(compact) && len(compact) >= 22 && !strings.Contains(t, " "):
		return true
	case alnumToken.MatchString(compact) && len(compact) >= 18:
		return true
	}

	// Short tokens with no vowels and no separators read as noise.
	if len(compact) <= 12 && alnumToken.MatchString(compact) && !vowelSeq.MatchString(compact) {
		return true
	}
	return false
}

// ValidName reports whether a candidate resolved name is plausible: bounded
// length, printable, contains a run of at least three letters and is not
// purely numeric.
func ValidName(name string) bool {
	n := strings.TrimSpace(name)
	if len(n) < 5 || len(n) >= 200 {
		return false
	}
	if unprintableSeq.MatchString(n) {
		return false
	}
	if allDigits.MatchString(n) {
		return false
	}
	return alphaRun.MatchString(n)
}
