// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package promote converts completed binaries into persisted releases:
// best-effort category and quality extraction from the resolved name, a
// deterministic placeholder when resolution failed, and an event published
// for downstream consumers (NZB generation, UI refresh).
package promote

import (
	"regexp"
	"strconv"
	"strings"
)

// Quality holds the tags extracted from a release name. All fields are
// best-effort; empty means "not present in the name".
type Quality struct {
	Resolution    string
	SourceMedia   string
	Codec         string
	SeasonEpisode string
	Year          int
}

var (
	yearRe       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	resolutionRe = regexp.MustCompile(`(?i)\b(\d{3,4}p|UHD|4K)\b`)
	sourceRe     = regexp.MustCompile(`(?i)\b(BluRay|Blu-Ray|WEB-?DL|WEBRip|HDTV|DVDRip|BDRip|REMUX|CAM|HDRip)\b`)
	codecRe      = regexp.MustCompile(`(?i)\b(x264|x265|H\.?264|H\.?265|HEVC|AV1|XviD|DivX)\b`)
	seasonEpRe   = regexp.MustCompile(`(?i)\b(S\d{1,3}E\d{1,3}|S\d{1,3}\b|\d{1,2}x\d{2})\b`)
	audioExtRe   = regexp.MustCompile(`(?i)\.(mp3|flac|ogg|aac|wav|m4a)\b`)
	bookHintRe   = regexp.MustCompile(`(?i)\b(epub|mobi|azw3|ebook|comics?)\b`)
	appHintRe    = regexp.MustCompile(`(?i)\b(keygen|x86|x64|win(32|64)?|linux|macos|setup|portable|incl[. ]crack)\b`)
)

// ExtractQuality pulls quality tags out of a release name.
func ExtractQuality(name string) Quality {
	q := Quality{}
	if m := resolutionRe.FindString(name); m != "" {
		q.Resolution = strings.ToLower(m)
	}
	if m := sourceRe.FindString(name); m != "" {
		q.SourceMedia = normalizeSource(m)
	}
	if m := codecRe.FindString(name); m != "" {
		q.Codec = strings.ToLower(strings.ReplaceAll(m, ".", ""))
	}
	if m := seasonEpRe.FindString(name); m != "" {
		q.SeasonEpisode = strings.ToUpper(m)
	}
	if m := yearRe.FindString(name); m != "" {
		if y, err := strconv.Atoi(m); err == nil {
			q.Year = y
		}
	}
	return q
}

func normalizeSource(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))
	switch s {
	case "bluray":
		return "bluray"
	case "webdl":
		return "web-dl"
	default:
		return s
	}
}

// Category names written to releases. Matching rules live here, not in the
// store: the admin layer owns category CRUD, the pipeline only guesses.
const (
	CategoryTV     = "tv"
	CategoryMovies = "movies"
	CategoryMusic  = "music"
	CategoryBooks  = "books"
	CategoryApps   = "apps"
	CategoryOther  = "other"
)

// GuessCategory derives a category from the release name and its group.
// Order matters: an episode tag beats a year+resolution movie signature.
func GuessCategory(name, group string) string {
	g := strings.ToLower(group)
	switch {
	case seasonEpRe.MatchString(name):
		return CategoryTV
	case audioExtRe.MatchString(name) || strings.Contains(g, ".sounds") || strings.Contains(g, ".mp3") || strings.Contains(g, ".music"):
		return CategoryMusic
	case bookHintRe.MatchString(name) || strings.Contains(g, ".ebook") || strings.Contains(g, ".e-book"):
		return CategoryBooks
	case appHintRe.MatchString(name) || strings.Contains(g, ".apps") || strings.Contains(g, ".warez"):
		return CategoryApps
	case resolutionRe.MatchString(name) || sourceRe.MatchString(name) ||
		(yearRe.MatchString(name) && strings.Contains(g, "movie")):
		return CategoryMovies
	default:
		return CategoryOther
	}
}
