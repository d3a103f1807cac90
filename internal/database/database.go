// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package database wraps the DuckDB store holding group configuration,
// article watermarks and promoted releases. The CRUD surface for groups
// belongs to the admin layer; the pipeline only reads group rows and writes
// watermarks and releases.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/jskoetsier/nzbindexer/internal/logging"
)

// Config holds DuckDB connection settings.
type Config struct {
	Path                   string
	MaxMemory              string
	Threads                int
	PreserveInsertionOrder bool
}

// DB wraps the sql.DB handle with a prepared-statement cache.
type DB struct {
	conn *sql.DB
	cfg  Config

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt
}

// Open opens the database and applies the schema.
func Open(cfg Config) (*DB, error) {
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "2GB"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	dsn := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%t",
		cfg.Path, threads, url.QueryEscape(cfg.MaxMemory), cfg.PreserveInsertionOrder)

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.Path, err)
	}

	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(runtime.NumCPU() / 2)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{
		conn:      conn,
		cfg:       cfg,
		stmtCache: make(map[string]*sql.Stmt),
	}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("database opened")
	return db, nil
}

// Close releases cached statements and the connection pool.
func (db *DB) Close() error {
	db.stmtMu.Lock()
	for _, stmt := range db.stmtCache {
		stmt.Close()
	}
	db.stmtCache = make(map[string]*sql.Stmt)
	db.stmtMu.Unlock()
	return db.conn.Close()
}

// Ping verifies connectivity, used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// prepare returns a cached prepared statement for the query.
func (db *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtMu.RLock()
	stmt, ok := db.stmtCache[query]
	db.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	db.stmtMu.Lock()
	defer db.stmtMu.Unlock()
	if stmt, ok := db.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: prepare: %w", err)
	}
	db.stmtCache[query] = stmt
	return stmt, nil
}

func (db *DB) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			name             VARCHAR PRIMARY KEY,
			active           BOOLEAN NOT NULL DEFAULT false,
			backfill         BOOLEAN NOT NULL DEFAULT false,
			min_files        INTEGER NOT NULL DEFAULT 1,
			min_size         BIGINT  NOT NULL DEFAULT 0,
			first_article    BIGINT  NOT NULL DEFAULT 0,
			last_article     BIGINT  NOT NULL DEFAULT 0,
			current_article  BIGINT  NOT NULL DEFAULT 0,
			backfill_days    INTEGER NOT NULL DEFAULT 0,
			backfill_target  BIGINT  NOT NULL DEFAULT 0,
			updated_at       TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE SEQUENCE IF NOT EXISTS releases_id_seq`,
		`CREATE TABLE IF NOT EXISTS releases (
			id                  BIGINT PRIMARY KEY DEFAULT nextval('releases_id_seq'),
			fingerprint         VARCHAR NOT NULL UNIQUE,
			name                VARCHAR NOT NULL,
			group_name          VARCHAR NOT NULL,
			total_bytes         BIGINT  NOT NULL,
			part_count          INTEGER NOT NULL,
			completion          DOUBLE  NOT NULL,
			category            VARCHAR,
			resolution          VARCHAR,
			source_media        VARCHAR,
			codec               VARCHAR,
			season_episode      VARCHAR,
			year                INTEGER,
			obfuscation_pending BOOLEAN NOT NULL DEFAULT false,
			name_source         VARCHAR,
			name_confidence     DOUBLE  NOT NULL DEFAULT 0,
			posted_first        TIMESTAMP,
			posted_last         TIMESTAMP,
			created_at          TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database: migrate: %w", err)
		}
	}
	return nil
}

// isConflictError detects unique/primary-key violations, which are retried
// once as an update rather than surfaced.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique")
}
