// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package binary

import (
	"testing"
)

func TestParsePart(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		wantOK   bool
		wantIdx  int
		wantTot  int
		stripped string
	}{
		{
			name:     "bracketed",
			subject:  "Show.Name.S01E01.rar [03/15] yEnc",
			wantOK:   true,
			wantIdx:  3,
			wantTot:  15,
			stripped: "Show.Name.S01E01.rar  yEnc",
		},
		{
			name:    "parenthesized",
			subject: "My.Release (7/20)",
			wantOK:  true,
			wantIdx: 7,
			wantTot: 20,
		},
		{
			name:    "part of",
			subject: "Some File Part 2 of 5",
			wantOK:  true,
			wantIdx: 2,
			wantTot: 5,
		},
		{
			name:    "part slash",
			subject: "Some File part 4/9",
			wantOK:  true,
			wantIdx: 4,
			wantTot: 9,
		},
		{
			name:    "bare fraction",
			subject: "archive.7z 3/12",
			wantOK:  true,
			wantIdx: 3,
			wantTot: 12,
		},
		{
			name:    "bracket wins over bare",
			subject: "file [01/15] 1/3",
			wantOK:  true,
			wantIdx: 1,
			wantTot: 15,
		},
		{
			name:    "index above total rejected",
			subject: "file [5/3]",
			wantOK:  false,
		},
		{
			name:    "zero index rejected",
			subject: "file [0/10]",
			wantOK:  false,
		},
		{
			name:    "no pattern",
			subject: "a8f3e9c1b2d4",
			wantOK:  false,
		},
		{
			name:    "empty subject",
			subject: "",
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, stripped, ok := ParsePart(tt.subject)
			if ok != tt.wantOK {
				t.Fatalf("ParsePart(%q) ok = %v, want %v", tt.subject, ok, tt.wantOK)
			}
			if !ok {
				if stripped != tt.subject {
					t.Errorf("stripped = %q, want unchanged subject", stripped)
				}
				return
			}
			if ref.Index != tt.wantIdx || ref.Total != tt.wantTot {
				t.Errorf("ref = %d/%d, want %d/%d", ref.Index, ref.Total, tt.wantIdx, tt.wantTot)
			}
		})
	}
}

func TestParsePartStripsToken(t *testing.T) {
	_, stripped, ok := ParsePart(`"Show.Name.S01E01.rar" [02/10] yEnc (1/1)`)
	if !ok {
		t.Fatal("expected a part reference")
	}
	if CleanSubject(stripped) != "Show.Name.S01E01.rar" {
		t.Errorf("CleanSubject(stripped) = %q, want Show.Name.S01E01.rar", CleanSubject(stripped))
	}
}

func TestCleanSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"My.Release.mkv" yEnc 734003200 bytes`, "My.Release.mkv"},
		{"My.Release.mkv yEnc", "My.Release.mkv"},
		{"  padded.name.rar  ", "padded.name.rar"},
		{"name 52428800 bytes", "name"},
	}
	for _, tt := range tests {
		if got := CleanSubject(tt.in); got != tt.want {
			t.Errorf("CleanSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGroupingKeyInsensitive(t *testing.T) {
	a := GroupingKey("Show.Name.S01E01.rar", "poster@example.com")
	b := GroupingKey("show name s01e01.RAR", "Poster@Example.com")
	if a != b {
		t.Errorf("keys differ for equivalent subjects: %q vs %q", a, b)
	}
	c := GroupingKey("Show.Name.S01E01.rar", "other@example.com")
	if a == c {
		t.Error("different senders must not share a key")
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Show.Name.S01E01.rar", "Show.Name.S01E01"},
		{"Show.Name.S01E01.r03", "Show.Name.S01E01"},
		{"Show.Name.S01E01.vol03+04.par2", "Show.Name.S01E01"},
		{"Show.Name.S01E01", "Show.Name.S01E01"},
		{"movie.mkv", "movie"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.in); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsObfuscated(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"a8f3e9c1b2d4", true},                                      // hex run
		{"d41d8cd98f00b204e9800998ecf8427e", true},                  // md5 width
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", true},          // sha1 width
		{"aGVsbG8gd29ybGQgdGhpcyBpcyBsb25n", true},                  // base64-ish
		{"U2hvdy5OYW1lLlMwMUUwMQ==", true},                          // padded base64
		{"XyZzTqWk", true},                                          // short, vowel-less
		{"Show.Name.S01E01.1080p.WEB-DL.x264", false},
		{"The Matrix 1999", false},
		{"Linux.ISO.Collection", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := IsObfuscated(tt.token); got != tt.want {
			t.Errorf("IsObfuscated(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Show.Name.S01E01.720p.HDTV.x264-GRP", true},
		{"The Matrix", true},
		{"ab", false},          // too short
		{"12345678", false},    // all digits
		{"a\x00b.name", false}, // unprintable
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
