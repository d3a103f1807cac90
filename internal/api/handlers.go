// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/namecache"
)

// maxImportBody bounds a name-cache import payload (32 MiB).
const maxImportBody = 32 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("encoding response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	total, pending, err := s.db.CountReleases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cacheLen, err := s.cache.Len()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"releases":         total,
		"releases_pending": pending,
		"name_mappings":    cacheLen,
		"operations":       s.registry.List(),
	})
}

func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if snap, ok := s.registry.Get(id); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	// Fall back to the persisted history for finished runs.
	if s.progress != nil {
		if snap, ok, err := s.progress.Load(id); err == nil && ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown operation")
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.registry.Cancel(id) {
		writeError(w, http.StatusConflict, "operation not found or already finished")
		return
	}
	logging.Info().Str("operation", id).Msg("operation cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "id": id})
}

func (s *Server) handleCacheExport(w http.ResponseWriter, _ *http.Request) {
	mappings, err := s.cache.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if mappings == nil {
		mappings = []namecache.Mapping{}
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (s *Server) handleCacheImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}
	var records []namecache.ImportRecord
	if err := json.Unmarshal(body, &records); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res := s.cache.BulkImport(records)
	writeJSON(w, http.StatusOK, res)
}
