// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package main is the entry point for the NZBIndexer daemon.
//
// NZBIndexer watches configured Usenet newsgroups, aggregates multi-part
// binary posts from article overviews, resolves obfuscated release names
// through a layered strategy chain (cache, external providers, payload
// decoding, archive sniffing, NFO scanning) and promotes completed binaries
// into a DuckDB release catalog.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 load (defaults, YAML file, env vars)
//  2. Logging: global zerolog logger
//  3. Database: DuckDB release and group catalog
//  4. Name cache: BadgerDB-backed resolution cache
//  5. Event bus: in-process watermill pub/sub for release events
//  6. NNTP client, resolver chain and promoter
//  7. Scheduler: periodic scan/backfill loop with a worker pool
//  8. Admin API: health, status, operations, name-cache import/export,
//     Prometheus metrics and a websocket release feed
//
// All long-running components run under a suture supervisor tree; the
// pipeline layer and the API layer restart independently.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in defaults.
// Minimal example:
//
//	export NNTP_HOST=news.example.com
//	export NNTP_USERNAME=user
//	export NNTP_PASSWORD=pass
//	export SCAN_GROUPS=alt.binaries.teevee,alt.binaries.movies
//	./nzbindexer
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the scan loop drains at
// the next chunk boundary, watermarks are already persisted, and the HTTP
// server stops accepting connections.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/jskoetsier/nzbindexer/internal/api"
	"github.com/jskoetsier/nzbindexer/internal/config"
	"github.com/jskoetsier/nzbindexer/internal/database"
	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/namecache"
	"github.com/jskoetsier/nzbindexer/internal/nntp"
	"github.com/jskoetsier/nzbindexer/internal/promote"
	"github.com/jskoetsier/nzbindexer/internal/resolve"
	"github.com/jskoetsier/nzbindexer/internal/scheduler"
	"github.com/jskoetsier/nzbindexer/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("nntp_host", cfg.NNTP.Host).
		Int("groups", len(cfg.Scan.Groups)).
		Str("db_path", cfg.Database.Path).
		Msg("Starting NZBIndexer")

	db, err := database.Open(database.Config{
		Path:                   cfg.Database.Path,
		MaxMemory:              cfg.Database.MaxMemory,
		Threads:                cfg.Database.Threads,
		PreserveInsertionOrder: cfg.Database.PreserveInsertionOrder,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	cache, err := namecache.Open(cfg.Cache.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open name cache")
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing name cache")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed configured groups before the first tick. Groups already present
	// keep their watermarks; only the admin-owned fields are replaced.
	for _, name := range cfg.Scan.Groups {
		group := &database.Group{
			Name:         name,
			Active:       true,
			Backfill:     cfg.Scan.BackfillDays > 0,
			MinFiles:     1,
			BackfillDays: cfg.Scan.BackfillDays,
		}
		if err := db.UpsertGroup(ctx, group); err != nil {
			logging.Fatal().Err(err).Str("group", name).Msg("Failed to seed group")
		}
	}

	// In-process event bus carrying promoted-release events to the
	// websocket feed.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NopLogger{})
	defer func() {
		if err := pubsub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	client := nntp.NewClient(nntp.Config{
		Host:          cfg.NNTP.Host,
		Port:          cfg.NNTP.Port,
		TLS:           cfg.NNTP.TLS,
		Username:      cfg.NNTP.Username,
		Password:      cfg.NNTP.Password,
		DialTimeout:   cfg.NNTP.DialTimeout,
		ReadTimeout:   cfg.NNTP.ReadTimeout,
		RetryAttempts: cfg.NNTP.RetryAttempts,
		RetryDelay:    cfg.NNTP.RetryDelay,
	})
	defer func() {
		if err := client.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing news connection")
		}
	}()

	resolver := buildResolver(cfg, cache, client)
	promoter := promote.NewPromoter(db, pubsub)

	registry := scheduler.NewRegistry()
	progress, err := scheduler.NewBadgerProgress(progressPath(cfg.Cache.Path))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open progress store")
	}
	defer func() {
		if err := progress.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing progress store")
		}
	}()

	sched := scheduler.New(scheduler.Config{
		Interval:            cfg.Scan.Interval,
		Workers:             cfg.Scan.Workers,
		ChunkSize:           cfg.Scan.ChunkSize,
		BinaryIdleWindow:    cfg.Scan.BinaryIdleWindow,
		MaxBinariesPerGroup: cfg.Scan.MaxBinariesPerGroup,
		BackfillMaxArticles: cfg.Scan.BackfillMaxArticles,
	}, client, db, resolver, promoter, registry, progress)

	hub := api.NewHub(pubsub)
	server := api.NewServer(api.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Timeout:         cfg.Server.Timeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, db, cache, registry, progress, hub)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(supervisor.NewService("scheduler", sched))
	tree.AddPipelineService(supervisor.NewService("release-feed", hub))
	tree.AddAPIService(supervisor.NewService("admin-api", server))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	logging.Info().Msg("Stopped gracefully")
}

// buildResolver constructs the enabled providers and hands them to the
// default strategy chain.
func buildResolver(cfg *config.Config, cache *namecache.Store, client *nntp.Client) *resolve.Resolver {
	var providers []resolve.Provider
	for _, p := range cfg.Resolver.Providers {
		if !p.Enabled {
			continue
		}
		opts := resolve.ProviderOptions{
			Name:          p.Name,
			URL:           p.URL,
			APIKey:        p.APIKey,
			Timeout:       p.Timeout,
			RatePerSecond: p.RatePerSecond,
		}
		if strings.Contains(strings.ToLower(p.Name), "hydra") {
			providers = append(providers, resolve.NewHydraProvider(opts))
		} else {
			providers = append(providers, resolve.NewPredbProvider(opts))
		}
		logging.Info().Str("provider", p.Name).Str("url", p.URL).Msg("Lookup provider enabled")
	}

	return resolve.NewDefaultResolver(cache, client, cfg.Resolver.LookupTimeout, cfg.Resolver.MaxBodyBytes, providers...)
}

// progressPath places the operation history next to the name cache; an
// empty cache path keeps both in memory.
func progressPath(cachePath string) string {
	if cachePath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(cachePath), "operations")
}
