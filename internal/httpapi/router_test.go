// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
	"github.com/esnode-project/esnode-agent/internal/tsdb"
)

func testOptions(t *testing.T, withTsdb bool, mount OrchestratorMount, loopback, allowPublic bool) Options {
	t.Helper()
	opts := Options{
		Registry:           metrics.New(),
		Store:              status.New(),
		Healthy:            func() bool { return true },
		Orchestrator:       mount,
		ListenLoopbackOnly: loopback,
		AllowPublic:        allowPublic,
	}
	if withTsdb {
		db, err := tsdb.New(tsdb.Config{Path: t.TempDir(), RetentionHours: 1, MaxDiskMB: 10})
		require.NoError(t, err)
		opts.Tsdb = db
	}
	return opts
}

func TestHandleMetricsReturnsTextExposition(t *testing.T) {
	opts := testOptions(t, false, nil, true, false)
	r := NewRouter(opts)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain; version=0.0.4")
}

func TestHandleHealthzReflectsHealthyFlag(t *testing.T) {
	opts := testOptions(t, false, nil, true, false)
	opts.Healthy = func() bool { return false }
	r := NewRouter(opts)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStatusReturnsJSONSnapshot(t *testing.T) {
	opts := testOptions(t, false, nil, true, false)
	r := NewRouter(opts)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestTsdbExportReturns404WhenDisabled(t *testing.T) {
	opts := testOptions(t, false, nil, true, false)
	r := NewRouter(opts)

	req := httptest.NewRequest(http.MethodGet, "/tsdb/export", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTsdbExportServesLinesWhenEnabled(t *testing.T) {
	opts := testOptions(t, true, nil, true, false)
	require.NoError(t, opts.Tsdb.WriteSamples([]tsdb.Sample{{Metric: "cpu_usage", TsMs: 100, Value: 1.0}}))
	require.NoError(t, opts.Tsdb.FlushCurrent())
	r := NewRouter(opts)

	req := httptest.NewRequest(http.MethodGet, "/tsdb/export", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain; charset=utf-8")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "cpu_usage")
}

type stubMount struct{ mounted bool }

func (m *stubMount) Mount(r *mux.Router) {
	m.mounted = true
	r.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestOrchestratorMountedWhenLoopback(t *testing.T) {
	mount := &stubMount{}
	opts := testOptions(t, false, mount, true, false)
	r := NewRouter(opts)

	req := httptest.NewRequest(http.MethodGet, "/orchestrator/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.True(t, mount.mounted)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrchestratorNotMountedWithoutLoopbackOrPublic(t *testing.T) {
	mount := &stubMount{}
	opts := testOptions(t, false, mount, false, false)
	r := NewRouter(opts)

	req := httptest.NewRequest(http.MethodGet, "/orchestrator/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.False(t, mount.mounted)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, IsLoopback("127.0.0.1:8080"))
	assert.True(t, IsLoopback("localhost:8080"))
	assert.True(t, IsLoopback("[::1]:8080"))
	assert.False(t, IsLoopback("0.0.0.0:8080"))
	assert.False(t, IsLoopback("10.0.0.5:8080"))
}
