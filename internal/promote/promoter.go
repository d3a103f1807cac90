// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package promote

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/jskoetsier/nzbindexer/internal/binary"
	"github.com/jskoetsier/nzbindexer/internal/database"
	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/metrics"
	"github.com/jskoetsier/nzbindexer/internal/resolve"
)

// TopicReleasePromoted carries ReleasePromotedEvent messages.
const TopicReleasePromoted = "release.promoted"

// ReleasePromotedEvent is published after a release row is persisted. The
// NZB generator and the admin websocket feed consume it.
type ReleasePromotedEvent struct {
	Fingerprint        string  `json:"fingerprint"`
	Name               string  `json:"name"`
	Group              string  `json:"group"`
	Category           string  `json:"category"`
	TotalBytes         int64   `json:"total_bytes"`
	PartCount          int     `json:"part_count"`
	Completion         float64 `json:"completion"`
	ObfuscationPending bool    `json:"obfuscation_pending"`
	Source             string  `json:"source,omitempty"`
	Confidence         float64 `json:"confidence,omitempty"`
}

// Promoter persists completed binaries as releases.
type Promoter struct {
	db        *database.DB
	publisher message.Publisher
}

// NewPromoter builds a promoter. publisher may be nil (tests).
func NewPromoter(db *database.DB, publisher message.Publisher) *Promoter {
	return &Promoter{db: db, publisher: publisher}
}

// PlaceholderName derives the deterministic fallback name for an unresolved
// binary from its fingerprint.
func PlaceholderName(fingerprint string) string {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	return "Obfuscated-" + fingerprint
}

// Promote persists one completed binary. When the resolver failed
// (resolved=false) the release is still created, under a placeholder name
// with the pending flag set; unresolved content is never discarded.
func (p *Promoter) Promote(ctx context.Context, b *binary.Binary, out resolve.Outcome, resolved bool) (*database.Release, error) {
	name := out.Name
	pending := false
	if !resolved || name == "" {
		name = PlaceholderName(b.Fingerprint())
		pending = true
	}

	q := ExtractQuality(name)
	category := GuessCategory(name, b.Group)
	if pending {
		// A placeholder name carries no real metadata.
		q = Quality{}
		category = CategoryOther
	}

	rel := &database.Release{
		Fingerprint:        b.Fingerprint(),
		Name:               name,
		Group:              b.Group,
		TotalBytes:         b.TotalBytes,
		PartCount:          b.PartCount(),
		Completion:         b.Completion(),
		Category:           nullIfEmpty(category),
		Resolution:         nullIfEmpty(q.Resolution),
		SourceMedia:        nullIfEmpty(q.SourceMedia),
		Codec:              nullIfEmpty(q.Codec),
		SeasonEpisode:      nullIfEmpty(q.SeasonEpisode),
		Year:               nullIfZero(q.Year),
		ObfuscationPending: pending,
		NameSource:         nullIfEmpty(out.Source),
		NameConfidence:     out.Confidence,
		PostedFirst:        nullTime(b.FirstSeen),
		PostedLast:         nullTime(b.LastSeen),
	}

	if err := p.db.InsertRelease(ctx, rel); err != nil {
		return nil, fmt.Errorf("promote: %w", err)
	}
	metrics.BinariesPromoted.WithLabelValues(b.Group).Inc()
	logging.Info().
		Str("name", name).
		Str("group", b.Group).
		Int("parts", rel.PartCount).
		Int64("bytes", rel.TotalBytes).
		Bool("pending", pending).
		Msg("release promoted")

	p.publish(rel)
	return rel, nil
}

// Reprocess re-runs metadata extraction for a release renamed by a late
// resolution (the pending queue).
func (p *Promoter) Reprocess(ctx context.Context, rel *database.Release) error {
	q := ExtractQuality(rel.Name)
	category := GuessCategory(rel.Name, rel.Group)
	err := p.db.UpdateReleaseMetadata(ctx, rel.Fingerprint,
		nullIfEmpty(category), nullIfEmpty(q.Resolution), nullIfEmpty(q.SourceMedia),
		nullIfEmpty(q.Codec), nullIfEmpty(q.SeasonEpisode), nullIfZero(q.Year))
	if err != nil {
		return fmt.Errorf("promote: reprocess %s: %w", rel.Fingerprint, err)
	}
	return nil
}

func (p *Promoter) publish(rel *database.Release) {
	if p.publisher == nil {
		return
	}
	evt := ReleasePromotedEvent{
		Fingerprint:        rel.Fingerprint,
		Name:               rel.Name,
		Group:              rel.Group,
		Category:           rel.Category.String,
		TotalBytes:         rel.TotalBytes,
		PartCount:          rel.PartCount,
		Completion:         rel.Completion,
		ObfuscationPending: rel.ObfuscationPending,
		Source:             rel.NameSource.String,
		Confidence:         rel.NameConfidence,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		logging.Warn().Err(err).Msg("marshal release event failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(TopicReleasePromoted, msg); err != nil {
		// Event delivery is advisory; the release row is already durable.
		logging.Warn().Err(err).Str("fingerprint", rel.Fingerprint).Msg("publish release event failed")
	}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIfZero(n int) sql.NullInt32 {
	return sql.NullInt32{Int32: int32(n), Valid: n != 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
