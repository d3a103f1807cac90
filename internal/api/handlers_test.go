// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/jskoetsier/nzbindexer/internal/namecache"
	"github.com/jskoetsier/nzbindexer/internal/scheduler"
)

// newTestServer wires the admin surface without a relational store; the
// routes under test never touch it.
func newTestServer(t *testing.T) (*Server, *scheduler.Registry, *namecache.Store) {
	t.Helper()
	cache, err := namecache.Open("")
	if err != nil {
		t.Fatalf("opening in-memory cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	registry := scheduler.NewRegistry()
	srv := NewServer(Config{Port: 6789}, nil, cache, registry, scheduler.NewInMemoryProgress(), nil)
	return srv, registry, cache
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestListOperationsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/operations/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var ops []scheduler.OperationSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &ops); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("ops = %v, want empty", ops)
	}
}

func TestGetAndCancelOperation(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	op, _ := registry.Begin(context.Background(), "alt.binaries.test", scheduler.KindScan)

	w := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/operations/"+op.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var snap scheduler.OperationSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.ID != op.ID || snap.Group != "alt.binaries.test" {
		t.Errorf("snapshot = %+v", snap)
	}

	w = doRequest(t, srv.Router(), http.MethodPost, "/api/v1/operations/"+op.ID+"/cancel", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", w.Code)
	}
	if got, _ := registry.Get(op.ID); !got.Canceled {
		t.Error("registry must record the cancellation")
	}

	// A second cancel of the now-finished run conflicts.
	registry.End(op, context.Canceled)
	w = doRequest(t, srv.Router(), http.MethodPost, "/api/v1/operations/"+op.ID+"/cancel", "")
	if w.Code != http.StatusConflict {
		t.Errorf("repeat cancel status = %d, want 409", w.Code)
	}
}

func TestGetOperationFallsBackToHistory(t *testing.T) {
	srv, _, _ := newTestServer(t)
	snap := scheduler.OperationSnapshot{ID: "hist-1", Group: "g", Kind: scheduler.KindBackfill, Done: true}
	if err := srv.progress.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	w := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/operations/hist-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got scheduler.OperationSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "hist-1" || !got.Done {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestGetOperationUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/operations/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCacheImportExport(t *testing.T) {
	srv, _, _ := newTestServer(t)
	payload := `[
		{"key":"a8f3e9c1b2d4","name":"Show.Name.S01E01.720p.x264-GRP","source":"manual","confidence":1.0},
		{"key":"","name":"Broken.Record","source":"manual","confidence":1.0}
	]`
	w := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/namecache/import", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d", w.Code)
	}
	var res namecache.ImportResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Added != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}

	w = doRequest(t, srv.Router(), http.MethodGet, "/api/v1/namecache/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	var mappings []namecache.Mapping
	if err := json.Unmarshal(w.Body.Bytes(), &mappings); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(mappings) != 1 || mappings[0].Name != "Show.Name.S01E01.720p.x264-GRP" {
		t.Errorf("mappings = %+v", mappings)
	}
}

func TestCacheImportRejectsGarbage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/namecache/import", "not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
