// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/audit"
	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/scheduler"
)

func newTestMount(t *testing.T, token string) (*Mount, *mux.Router) {
	t.Helper()
	sched := scheduler.New(metrics.New(), nil)
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	m := New(sched, log, token)
	r := mux.NewRouter()
	m.Mount(r)
	return m, r
}

func TestRegisterRequiresTokenWhenConfigured(t *testing.T) {
	_, r := newTestMount(t, "secret")

	body := bytes.NewBufferString(`{"id":"gpu0","kind":"gpu","peak_flops_tflops":10}`)
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterSucceedsWithValidToken(t *testing.T) {
	_, r := newTestMount(t, "secret")

	body := bytes.NewBufferString(`{"id":"gpu0","kind":"gpu","peak_flops_tflops":10}`)
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitWithoutTokenConfiguredNeedsNoAuth(t *testing.T) {
	_, r := newTestMount(t, "")

	body := bytes.NewBufferString(`{"id":"t1","est_flops":1,"latency_class":"high"}`)
	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsReflectsRegisteredDevices(t *testing.T) {
	m, r := newTestMount(t, "")
	m.sched.UpdateDevice(scheduler.Device{ID: "gpu0", Kind: scheduler.DeviceGPU, PeakFlopsTFlops: 10})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpu0")
}

func TestFailedAuthWritesAuditRecord(t *testing.T) {
	m, r := newTestMount(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	records, err := m.log.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeFail, records[0].Outcome)
}
