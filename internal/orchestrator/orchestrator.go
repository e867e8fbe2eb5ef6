// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator wires the Device Scheduler onto HTTP routes
// under the /orchestrator prefix, enforcing the optional bearer token
// and writing one audit log record per authentication outcome.
package orchestrator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/esnode-project/esnode-agent/internal/audit"
	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/scheduler"
)

// Clock is overridable in tests; defaults to time.Now.
type Clock func() time.Time

// Mount implements httpapi.OrchestratorMount.
type Mount struct {
	sched *scheduler.Scheduler
	log   *audit.Log // nil disables audit writes, e.g. if sqlite failed to open
	token string      // empty means no auth required
	clock Clock
}

func New(sched *scheduler.Scheduler, log *audit.Log, token string) *Mount {
	return &Mount{sched: sched, log: log, token: token, clock: time.Now}
}

func (m *Mount) Mount(r *mux.Router) {
	r.HandleFunc("/register", m.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/submit", m.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/metrics", m.handleMetrics).Methods(http.MethodGet)
}

// authorize enforces the bearer token (if configured), writing an
// audit record for both outcomes when a Log is available. It returns
// true if the request may proceed.
func (m *Mount) authorize(w http.ResponseWriter, r *http.Request) bool {
	tokenPresent := r.Header.Get("Authorization") != ""

	if m.token == "" {
		return true
	}

	ok := r.Header.Get("Authorization") == "Bearer "+m.token
	outcome := audit.OutcomeFail
	if ok {
		outcome = audit.OutcomeOK
	}
	if m.log != nil {
		if err := m.log.Record(audit.ActionOrchestratorAuth, r.RemoteAddr, tokenPresent, outcome, m.clock().UnixMilli()); err != nil {
			elog.Warnf("orchestrator: audit write failed: %v", err)
		}
	}
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func (m *Mount) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !m.authorize(w, r) {
		return
	}
	var d scheduler.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	d.LastSeenUnixMs = m.clock().UnixMilli()
	m.sched.UpdateDevice(d)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "registered", "device_id": d.ID})
}

func (m *Mount) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !m.authorize(w, r) {
		return
	}
	var t scheduler.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	placement := m.sched.SubmitTask(t)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(placement)
}

type metricsView struct {
	DeviceCount  int                `json:"device_count"`
	PendingTasks int                `json:"pending_tasks"`
	Devices      []scheduler.Device `json:"devices"`
}

func (m *Mount) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !m.authorize(w, r) {
		return
	}
	devices, pending := m.sched.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(metricsView{DeviceCount: len(devices), PendingTasks: pending, Devices: devices})
}
