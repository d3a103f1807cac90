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

// ErrGroupNotFound is returned for lookups of unconfigured groups.
var ErrGroupNotFound = errors.New("database: group not found")

// Group is one newsgroup's configuration and watermark state. The pipeline
// owns the watermark fields; everything else is admin-owned configuration.
type Group struct {
	Name     string
	Active   bool
	Backfill bool
	// MinFiles and MinSize gate release creation for this group.
	MinFiles int
	MinSize  int64
	// FirstArticle/LastArticle mirror the server's low/high marks from the
	// last scan; CurrentArticle is the forward-scan watermark.
	FirstArticle   int64
	LastArticle    int64
	CurrentArticle int64
	// BackfillDays drives the backfill target; BackfillTarget is the
	// computed oldest article number worth fetching.
	BackfillDays   int
	BackfillTarget int64
	UpdatedAt      time.Time
}

// UpsertGroup creates or replaces a group's configuration. Exposed for the
// admin layer and for seeding; the pipeline never calls it.
func (db *DB) UpsertGroup(ctx context.Context, g *Group) error {
	stmt, err := db.prepare(ctx, `
		INSERT INTO groups (name, active, backfill, min_files, min_size,
			first_article, last_article, current_article, backfill_days, backfill_target, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, current_timestamp)
		ON CONFLICT (name) DO UPDATE SET
			active = excluded.active,
			backfill = excluded.backfill,
			min_files = excluded.min_files,
			min_size = excluded.min_size,
			backfill_days = excluded.backfill_days,
			updated_at = current_timestamp`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, g.Name, g.Active, g.Backfill, g.MinFiles, g.MinSize,
		g.FirstArticle, g.LastArticle, g.CurrentArticle, g.BackfillDays, g.BackfillTarget)
	if err != nil {
		return fmt.Errorf("database: upsert group %s: %w", g.Name, err)
	}
	return nil
}

// GetGroup fetches one group by name.
func (db *DB) GetGroup(ctx context.Context, name string) (*Group, error) {
	stmt, err := db.prepare(ctx, `
		SELECT name, active, backfill, min_files, min_size,
		       first_article, last_article, current_article,
		       backfill_days, backfill_target, updated_at
		FROM groups WHERE name = ?`)
	if err != nil {
		return nil, err
	}
	g := &Group{}
	err = stmt.QueryRowContext(ctx, name).Scan(
		&g.Name, &g.Active, &g.Backfill, &g.MinFiles, &g.MinSize,
		&g.FirstArticle, &g.LastArticle, &g.CurrentArticle,
		&g.BackfillDays, &g.BackfillTarget, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("database: get group %s: %w", name, err)
	}
	return g, nil
}

// ListScanGroups returns groups flagged for active processing or backfill.
func (db *DB) ListScanGroups(ctx context.Context) ([]*Group, error) {
	stmt, err := db.prepare(ctx, `
		SELECT name, active, backfill, min_files, min_size,
		       first_article, last_article, current_article,
		       backfill_days, backfill_target, updated_at
		FROM groups WHERE active OR backfill ORDER BY name`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("database: list scan groups: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(
			&g.Name, &g.Active, &g.Backfill, &g.MinFiles, &g.MinSize,
			&g.FirstArticle, &g.LastArticle, &g.CurrentArticle,
			&g.BackfillDays, &g.BackfillTarget, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: scan group row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateWatermarks persists the scan position for a group. Called only at
// chunk boundaries so that a cancelled run resumes exactly where it stopped.
func (db *DB) UpdateWatermarks(ctx context.Context, name string, first, last, current, backfillTarget int64) error {
	stmt, err := db.prepare(ctx, `
		UPDATE groups SET
			first_article = ?,
			last_article = ?,
			current_article = ?,
			backfill_target = ?,
			updated_at = current_timestamp
		WHERE name = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, first, last, current, backfillTarget, name)
	if err != nil {
		return fmt.Errorf("database: update watermarks %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return nil
}
