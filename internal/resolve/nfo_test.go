// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"context"
	"testing"
)

func TestNFOStrategyLabelForms(t *testing.T) {
	tests := []struct {
		name string
		nfo  string
		want string
	}{
		{
			name: "dotted scene label",
			nfo:  "       ....::: GRP :::....\r\n\r\n  Release......: Show.Name.S01E01.720p.HDTV.x264-GRP\r\n  Size.........: 350 MB\r\n",
			want: "Show.Name.S01E01.720p.HDTV.x264-GRP",
		},
		{
			name: "release name label",
			nfo:  "Release Name : My.Movie.2026.1080p.BluRay.x265-TEAM\n",
			want: "My.Movie.2026.1080p.BluRay.x265-TEAM",
		},
		{
			name: "rls name label",
			nfo:  "RLS NAME.....: Another.Show.S02E05.WEB-DL.AAC2.0.H.264-GRP\n",
			want: "Another.Show.S02E05.WEB-DL.AAC2.0.H.264-GRP",
		},
		{
			name: "title label",
			nfo:  "Title: The.Documentary.2025.DVDRip.XviD-ABC\n",
			want: "The.Documentary.2025.DVDRip.XviD-ABC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewNFOStrategy(&fakeFetcher{body: []byte(tt.nfo)}, 10240)
			out, ok, err := s.Attempt(context.Background(), obfuscatedBinary(t))
			if err != nil {
				t.Fatalf("Attempt: %v", err)
			}
			if !ok {
				t.Fatal("expected an NFO hit")
			}
			if out.Name != tt.want {
				t.Errorf("Name = %q, want %q", out.Name, tt.want)
			}
			if out.Confidence != ConfidenceNFO || out.Source != StrategyNFO {
				t.Errorf("outcome = %+v", out)
			}
		})
	}
}

func TestNFOStrategyYencFramedBody(t *testing.T) {
	nfo := "Release...: Framed.Release.S01E01.720p.x264-GRP\n"
	body := yencEncode("info.nfo", []byte(nfo))
	s := NewNFOStrategy(&fakeFetcher{body: body}, 10240)

	out, ok, err := s.Attempt(context.Background(), obfuscatedBinary(t))
	if err != nil || !ok {
		t.Fatalf("Attempt: ok=%v err=%v", ok, err)
	}
	if out.Name != "Framed.Release.S01E01.720p.x264-GRP" {
		t.Errorf("Name = %q", out.Name)
	}
}

func TestNFOStrategyMisses(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"no label lines", []byte("just some prose about nothing in particular\n")},
		{"obfuscated label value", []byte("Release: d41d8cd98f00b204e9800998ecf8427e\n")},
		{"binary body", append([]byte{0x00, 0x01, 0x02, 0x03}, make([]byte, 200)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewNFOStrategy(&fakeFetcher{body: tt.body}, 10240)
			if _, ok, err := s.Attempt(context.Background(), obfuscatedBinary(t)); ok || err != nil {
				t.Errorf("ok=%v err=%v, want clean miss", ok, err)
			}
		})
	}
}
