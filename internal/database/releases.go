// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Release is one promoted binary. A release is created exactly once per
// completed binary (fingerprint-unique); a later higher-confidence
// resolution may rename it, but a meaningful name is never downgraded.
type Release struct {
	ID          int64
	Fingerprint string
	Name        string
	Group       string
	TotalBytes  int64
	PartCount   int
	Completion  float64

	Category      sql.NullString
	Resolution    sql.NullString
	SourceMedia   sql.NullString
	Codec         sql.NullString
	SeasonEpisode sql.NullString
	Year          sql.NullInt32

	// ObfuscationPending marks a placeholder name awaiting resolution.
	ObfuscationPending bool
	NameSource         sql.NullString
	NameConfidence     float64

	PostedFirst sql.NullTime
	PostedLast  sql.NullTime
	CreatedAt   time.Time
}

const releaseColumns = `id, fingerprint, name, group_name, total_bytes, part_count, completion,
	category, resolution, source_media, codec, season_episode, year,
	obfuscation_pending, name_source, name_confidence, posted_first, posted_last, created_at`

func scanRelease(row interface{ Scan(...any) error }) (*Release, error) {
	r := &Release{}
	err := row.Scan(
		&r.ID, &r.Fingerprint, &r.Name, &r.Group, &r.TotalBytes, &r.PartCount, &r.Completion,
		&r.Category, &r.Resolution, &r.SourceMedia, &r.Codec, &r.SeasonEpisode, &r.Year,
		&r.ObfuscationPending, &r.NameSource, &r.NameConfidence,
		&r.PostedFirst, &r.PostedLast, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// InsertRelease persists one release. A fingerprint conflict (the same
// binary promoted twice, e.g. on overlapping rescans) is retried once as a
// rename-style update instead of surfacing the constraint violation.
func (db *DB) InsertRelease(ctx context.Context, r *Release) error {
	stmt, err := db.prepare(ctx, `
		INSERT INTO releases (fingerprint, name, group_name, total_bytes, part_count, completion,
			category, resolution, source_media, codec, season_episode, year,
			obfuscation_pending, name_source, name_confidence, posted_first, posted_last)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		r.Fingerprint, r.Name, r.Group, r.TotalBytes, r.PartCount, r.Completion,
		r.Category, r.Resolution, r.SourceMedia, r.Codec, r.SeasonEpisode, r.Year,
		r.ObfuscationPending, r.NameSource, r.NameConfidence, r.PostedFirst, r.PostedLast)
	if err == nil {
		return nil
	}
	if !isConflictError(err) {
		return fmt.Errorf("database: insert release %s: %w", r.Fingerprint, err)
	}
	// Already promoted: apply the new name only if it is a real improvement.
	if uerr := db.UpdateReleaseName(ctx, r.Fingerprint, r.Name,
		nullString(r.NameSource), r.NameConfidence); uerr != nil {
		return fmt.Errorf("database: insert release %s: conflict retry: %w", r.Fingerprint, uerr)
	}
	return nil
}

// UpdateReleaseName renames a release after a later resolution. The rename
// applies only when the new confidence is strictly higher than the stored
// one, so a meaningful name is never overwritten by a weaker guess. The
// pending flag clears on any applied rename.
func (db *DB) UpdateReleaseName(ctx context.Context, fingerprint, name, source string, confidence float64) error {
	stmt, err := db.prepare(ctx, `
		UPDATE releases SET
			name = ?,
			name_source = ?,
			name_confidence = ?,
			obfuscation_pending = false
		WHERE fingerprint = ? AND name_confidence < ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, name, source, confidence, fingerprint, confidence)
	if err != nil {
		return fmt.Errorf("database: update release name %s: %w", fingerprint, err)
	}
	return nil
}

// UpdateReleaseMetadata refreshes the extracted category/quality fields,
// used when a pending release is reprocessed after late resolution.
func (db *DB) UpdateReleaseMetadata(ctx context.Context, fingerprint string, category, resolution, sourceMedia, codec, seasonEpisode sql.NullString, year sql.NullInt32) error {
	stmt, err := db.prepare(ctx, `
		UPDATE releases SET
			category = ?, resolution = ?, source_media = ?, codec = ?, season_episode = ?, year = ?
		WHERE fingerprint = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, category, resolution, sourceMedia, codec, seasonEpisode, year, fingerprint)
	if err != nil {
		return fmt.Errorf("database: update release metadata %s: %w", fingerprint, err)
	}
	return nil
}

// GetReleaseByFingerprint fetches one release.
func (db *DB) GetReleaseByFingerprint(ctx context.Context, fingerprint string) (*Release, error) {
	stmt, err := db.prepare(ctx, `SELECT `+releaseColumns+` FROM releases WHERE fingerprint = ?`)
	if err != nil {
		return nil, err
	}
	r, err := scanRelease(stmt.QueryRowContext(ctx, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: get release %s: %w", fingerprint, err)
	}
	return r, nil
}

// ListPendingReleases returns releases still carrying placeholder names,
// oldest first, for the reprocessing pass.
func (db *DB) ListPendingReleases(ctx context.Context, limit int) ([]*Release, error) {
	if limit <= 0 {
		limit = 100
	}
	stmt, err := db.prepare(ctx, `
		SELECT `+releaseColumns+` FROM releases
		WHERE obfuscation_pending ORDER BY created_at LIMIT ?`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("database: list pending releases: %w", err)
	}
	defer rows.Close()

	var out []*Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan release row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountReleases returns total and pending release counts for status
// reporting.
func (db *DB) CountReleases(ctx context.Context) (total, pending int64, err error) {
	stmt, err := db.prepare(ctx, `
		SELECT count(*), count(*) FILTER (WHERE obfuscation_pending) FROM releases`)
	if err != nil {
		return 0, 0, err
	}
	if err := stmt.QueryRowContext(ctx).Scan(&total, &pending); err != nil {
		return 0, 0, fmt.Errorf("database: count releases: %w", err)
	}
	return total, pending, nil
}

func nullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
