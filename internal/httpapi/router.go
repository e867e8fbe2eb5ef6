// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpapi exposes the agent's HTTP surface: the Prometheus
// text endpoint, health and status endpoints, a server-sent-events
// stream, the LTSB replay export, and (when configured) the
// orchestrator's bearer-authenticated routes.
//
// @title                      esnode-agent HTTP API
// @version                    1.0.0
// @description                Per-host telemetry agent HTTP surface.
// @contact.name               esnode-project
// @license.name               MIT License
// @host                       localhost:9400
// @basePath                   /
package httpapi

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
	"github.com/esnode-project/esnode-agent/internal/tsdb"
)

const sseInterval = 5 * time.Second

// OrchestratorMount, when non-nil, is mounted under /orchestrator and
// fully owns its own authentication and audit logging.
type OrchestratorMount interface {
	Mount(r *mux.Router)
}

// Options configures the router's optional components.
type Options struct {
	Registry  *metrics.Registry
	Store     *status.Store
	Tsdb      *tsdb.LocalTsdb // nil disables /tsdb/export
	Healthy   func() bool

	Orchestrator       OrchestratorMount
	ListenLoopbackOnly bool
	AllowPublic        bool
}

// NewRouter builds the full mux.Router per the agent's HTTP surface.
// The orchestrator routes are mounted only when an OrchestratorMount
// is configured AND (the listener is loopback-bound OR public access
// was explicitly allowed).
func NewRouter(opts Options) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/metrics", handleMetrics(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealthz(opts.Healthy)).Methods(http.MethodGet)
	r.HandleFunc("/status", handleStatus(opts.Store)).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", handleStatus(opts.Store)).Methods(http.MethodGet)
	r.HandleFunc("/events", handleEvents(opts.Store)).Methods(http.MethodGet)

	if opts.Tsdb != nil {
		r.HandleFunc("/tsdb/export", handleTsdbExport(opts.Tsdb)).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/tsdb/export", handleNotFound).Methods(http.MethodGet)
	}

	if opts.Orchestrator != nil && (opts.ListenLoopbackOnly || opts.AllowPublic) {
		sub := r.PathPrefix("/orchestrator").Subrouter()
		opts.Orchestrator.Mount(sub)
	}

	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"))).Methods(http.MethodGet)

	r.Use(handlers.CompressHandler)
	return r
}

// IsLoopback reports whether addr (a "host:port" listen address) binds
// only to loopback interfaces.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// @summary     Prometheus text-exposition metrics
// @tags        Metrics
// @produce     plain
// @success     200 {string} string "Prometheus text exposition"
// @router      /metrics [get]
func handleMetrics(reg *metrics.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := reg.EncodeText()
		if err != nil {
			elog.Errorf("encoding metrics: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// @summary     Liveness probe
// @tags        Health
// @success     200 "healthy"
// @failure     503 "degraded or unhealthy"
// @router      /healthz [get]
func handleHealthz(healthy func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if healthy == nil || healthy() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// @summary     Current status snapshot
// @tags        Status
// @produce     json
// @success     200 {object} status.StatusSnapshot
// @router      /status [get]
func handleStatus(st *status.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := st.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// @summary     Server-sent status events
// @tags        Status
// @produce     text/event-stream
// @success     200 "text/event-stream of status.StatusSnapshot"
// @router      /events [get]
func handleEvents(st *status.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ticker := time.NewTicker(sseInterval)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := st.Snapshot()
				body, err := json.Marshal(snap)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", body)
				flusher.Flush()
			}
		}
	}
}

// @summary     Replay local time-series samples
// @tags        Tsdb
// @produce     plain
// @param       from    query string false "inclusive start, unix ms"
// @param       to      query string false "inclusive end, unix ms"
// @param       metrics query string false "comma-separated metric name filter"
// @success     200 {string} string "newline-delimited samples"
// @failure     404 "local tsdb disabled"
// @router      /tsdb/export [get]
func handleTsdbExport(db *tsdb.LocalTsdb) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var fromMs, toMs *int64
		if v := q.Get("from"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				fromMs = &n
			}
		}
		if v := q.Get("to"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				toMs = &n
			}
		}
		var filters []string
		if v := q.Get("metrics"); v != "" {
			filters = strings.Split(v, ",")
		}

		lines, err := db.Export(fromMs, toMs, filters)
		if err != nil {
			elog.Errorf("tsdb export: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}
