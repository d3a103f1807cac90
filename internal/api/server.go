// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package api serves the admin surface: health, pipeline status, operation
// control (progress and cancellation), name-cache import/export, metrics
// and a websocket feed of promoted releases. The public CRUD/UI layer is a
// separate application; nothing here serves end users.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jskoetsier/nzbindexer/internal/database"
	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/namecache"
	"github.com/jskoetsier/nzbindexer/internal/scheduler"
)

// Config holds the HTTP server settings.
type Config struct {
	Host            string
	Port            int
	Timeout         time.Duration
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	cfg      Config
	db       *database.DB
	cache    *namecache.Store
	registry *scheduler.Registry
	progress scheduler.ProgressStore
	hub      *Hub

	httpServer *http.Server
}

// NewServer wires the admin server. hub may be nil to disable the
// websocket feed.
func NewServer(cfg Config, db *database.DB, cache *namecache.Store, registry *scheduler.Registry, progress scheduler.ProgressStore, hub *Hub) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Server{
		cfg:      cfg,
		db:       db,
		cache:    cache,
		registry: registry,
		progress: progress,
		hub:      hub,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))

		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", s.handleListOperations)
			r.Get("/{id}", s.handleGetOperation)
			r.Post("/{id}/cancel", s.handleCancelOperation)
		})

		r.Route("/namecache", func(r chi.Router) {
			r.Get("/export", s.handleCacheExport)
			r.Post("/import", s.handleCacheImport)
		})

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})

	return r
}

// Start launches the listener.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  2 * s.cfg.Timeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("http server terminated")
		}
	}()
	logging.Info().Str("addr", addr).Msg("admin api listening")
	return nil
}

// Stop drains the server.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown failed")
	}
}
