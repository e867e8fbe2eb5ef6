// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package agent wires every subsystem together into one running
// process: the Metric Registry, the Status Store, the enabled
// collectors, the Scheduler Tick Loop, the optional LTSB and its
// pruner/archiver, the HTTP surface, the optional Device Scheduler and
// its orchestrator mount, and the optional upstream publisher. It is
// the Go analogue of the original agent-core's lib.rs entrypoint glue.
package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gopsagent "github.com/google/gops/agent"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
	"github.com/esnode-project/esnode-agent/internal/audit"
	"github.com/esnode-project/esnode-agent/internal/collectors"
	"github.com/esnode-project/esnode-agent/internal/collectors/gpu"
	"github.com/esnode-project/esnode-agent/internal/config"
	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/httpapi"
	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/orchestrator"
	"github.com/esnode-project/esnode-agent/internal/scheduler"
	"github.com/esnode-project/esnode-agent/internal/status"
	"github.com/esnode-project/esnode-agent/internal/tick"
	"github.com/esnode-project/esnode-agent/internal/tsdb"
	"github.com/esnode-project/esnode-agent/internal/upstream"
)

const ltsbWriteInterval = 30 * time.Second

// Agent owns every long-lived task the process runs.
type Agent struct {
	cfg      config.AgentConfig
	registry *metrics.Registry
	store    *status.Store
	loop     *tick.Loop
	server   *http.Server

	db        *tsdb.LocalTsdb
	pruner    *tsdb.Pruner
	archiver  *tsdb.Archiver
	sched     *scheduler.Scheduler
	auditLog  *audit.Log
	publisher *upstream.Publisher

	lastLtsbWriteMs int64
}

// New builds an Agent from cfg without starting anything. Construction
// never fails on an optional subsystem (LTSB, upstream, orchestrator):
// each degrades to disabled and logs a warning. New does not validate
// cfg; the caller runs config.Validate before it. Failing to start the
// tick loop, to bind the listener or to serve HTTP is fatal and
// surfaces from Run.
func New(cfg config.AgentConfig) *Agent {
	elog.SetLevel(string(cfg.LogLevel))

	reg := metrics.New()
	store := status.New()

	a := &Agent{cfg: cfg, registry: reg, store: store}

	a.logManagedIdentity()

	cs := a.buildCollectors()
	a.loop = tick.New(reg, store, cfg.ScrapeInterval, cs...)

	a.setupLtsb()
	a.setupScheduler()
	a.setupUpstream()

	a.loop.OnTick(a.onTick)

	return a
}

func (a *Agent) logManagedIdentity() {
	if a.cfg.ManagedServer == "" {
		return
	}
	elog.Infof("agent: managed by %s (cluster=%s node=%s)", a.cfg.ManagedServer, a.cfg.ManagedClusterID, a.cfg.ManagedNodeID)

	if a.cfg.ManagedJoinToken == "" || strings.Count(a.cfg.ManagedJoinToken, ".") != 2 {
		return
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	// Best-effort local decode only; the remote controller that would
	// verify this token is out of scope, so no keyfunc is supplied.
	if _, _, err := parser.ParseUnverified(a.cfg.ManagedJoinToken, claims); err != nil {
		elog.Warnf("agent: managed_join_token does not look like a valid JWT: %v", err)
		return
	}
	if clusterID, ok := claims["cluster_id"].(string); ok {
		elog.Infof("agent: join token claims cluster_id=%s", clusterID)
	}
	if nodeID, ok := claims["node_id"].(string); ok {
		elog.Infof("agent: join token claims node_id=%s", nodeID)
	}
}

func (a *Agent) buildCollectors() []collectors.Collector {
	var cs []collectors.Collector

	if a.cfg.EnableCPU {
		cs = append(cs, collectors.NewCPUCollector())
	}
	if a.cfg.EnableMemory {
		cs = append(cs, collectors.NewMemoryCollector())
	}
	if a.cfg.EnableDisk {
		cs = append(cs, collectors.NewDiskCollector(nil))
	}
	if a.cfg.EnableNetwork {
		cs = append(cs, collectors.NewNetworkCollector())
	}
	if a.cfg.EnablePower {
		cs = append(cs, collectors.NewPowerCollector(a.cfg.NodePowerEnvelopeWatts))
	}
	if a.cfg.EnableApp {
		cs = append(cs, collectors.NewAppCollector(a.cfg.AppMetricsURL))
	}
	// NUMA topology is only meaningful alongside CPU accounting; it
	// mirrors per-node CPU/memory splits the CPU collector doesn't.
	if a.cfg.EnableNuma && a.cfg.EnableCPU {
		cs = append(cs, collectors.NewNumaCollector())
	}
	if a.cfg.EnableGPU {
		cs = append(cs, a.buildGPUCollector())
	}

	return cs
}

func (a *Agent) buildGPUCollector() collectors.Collector {
	visible := gpu.ParseDeviceFilter(a.cfg.GPUVisibleDevices)
	migFilter := gpu.ParseDeviceFilter(a.cfg.MigConfigDevices)

	var eventCh chan gpu.EventRecord
	if a.cfg.EnableGPUEvents {
		eventCh = gpu.NewEventChannel()
		worker := gpu.NewEventWorker(gpu.NullAdapter{}, eventCh)
		go worker.Run(context.Background())
	}

	resourceName := "nvidia.com/gpu"
	return gpu.NewCollector(gpu.NullAdapter{}, visible, migFilter, a.cfg.K8sMode, resourceName, eventCh)
}

func (a *Agent) setupLtsb() {
	if !a.cfg.EnableLocalTsdb {
		return
	}
	db, err := tsdb.New(tsdb.Config{
		Path:           a.cfg.LocalTsdbPath,
		RetentionHours: uint64(a.cfg.LocalTsdbRetentionHours),
		MaxDiskMB:      uint64(a.cfg.LocalTsdbMaxDiskMB),
	})
	if err != nil {
		elog.Warnf("agent: local tsdb disabled, init failed: %v", err)
		return
	}
	a.db = db

	if a.cfg.LocalTsdbArchive {
		a.setupArchiver()
	}

	a.pruner = tsdb.NewPruner(db)
	if err := a.pruner.Start(); err != nil {
		elog.Warnf("agent: tsdb pruner failed to start: %v", err)
		a.pruner = nil
	}
}

func (a *Agent) setupArchiver() {
	var target tsdb.ArchiveTarget
	var err error
	if a.cfg.LocalTsdbArchiveS3Bucket != "" {
		target, err = tsdb.NewS3Target(a.cfg.LocalTsdbArchiveS3Bucket, "")
	} else {
		target, err = tsdb.NewFileTarget(a.cfg.LocalTsdbPath + "/archive")
	}
	if err != nil {
		elog.Warnf("agent: tsdb archive disabled, target init failed: %v", err)
		return
	}
	archiver, err := tsdb.NewArchiver(target)
	if err != nil {
		elog.Warnf("agent: tsdb archive disabled, codec init failed: %v", err)
		return
	}
	a.archiver = archiver
	a.db.OnFinalize(archiver.ArchiveBlock)
}

func (a *Agent) setupScheduler() {
	if !a.cfg.Orchestrator.Enabled {
		return
	}
	a.sched = scheduler.New(a.registry, nil)
	a.sched.SetFeatureToggles(a.cfg.Orchestrator.EnableReaper, a.cfg.Orchestrator.EnablePreemption)
	if err := a.sched.Start(); err != nil {
		elog.Warnf("agent: device scheduler tick failed to start: %v", err)
	}

	auditPath := a.cfg.LocalTsdbPath + "/audit.db"
	log, err := audit.Open(auditPath)
	if err != nil {
		elog.Warnf("agent: orchestrator audit log disabled: %v", err)
	} else {
		a.auditLog = log
	}
}

func (a *Agent) setupUpstream() {
	if a.cfg.ManagedServer == "" {
		return
	}
	pub, err := upstream.Connect(a.cfg.ManagedServer, "esnode.status."+a.cfg.ManagedNodeID)
	if err != nil {
		elog.Warnf("agent: upstream publisher disabled: %v", err)
		return
	}
	a.publisher = pub
}

// onTick runs after every collector in a tick has returned and after
// the tick loop has already advanced last_scrape: it gates a 30s LTSB
// write and mirrors the snapshot upstream, both best-effort.
func (a *Agent) onTick(nowMs int64) {
	if a.db != nil && nowMs-a.lastLtsbWriteMs >= ltsbWriteInterval.Milliseconds() {
		samples, err := tsdb.SamplesFromRegistry(a.registry, nowMs)
		if err != nil {
			elog.Warnf("agent: ltsb sample extraction failed: %v", err)
		} else if err := a.db.WriteSamples(samples); err != nil {
			elog.Warnf("agent: ltsb write failed: %v", err)
		}
		a.lastLtsbWriteMs = nowMs
	}

	if a.publisher != nil {
		if err := a.publisher.PublishSnapshot(a.store.Snapshot()); err != nil {
			elog.Warnf("agent: upstream publish failed: %v", err)
		}
	}
}

// Run starts every long-lived task and blocks serving HTTP until the
// listener is closed or bind fails.
func (a *Agent) Run() error {
	if err := a.loop.Start(); err != nil {
		return agenterr.Wrap(agenterr.Fatal, "agent: starting tick loop: "+err.Error())
	}

	var mount httpapi.OrchestratorMount
	if a.sched != nil {
		mount = orchestrator.New(a.sched, a.auditLog, a.cfg.Orchestrator.Token)
	}

	router := httpapi.NewRouter(httpapi.Options{
		Registry:           a.registry,
		Store:              a.store,
		Tsdb:               a.db,
		Healthy:            func() bool { return a.store.Snapshot().Healthy },
		Orchestrator:       mount,
		ListenLoopbackOnly: httpapi.IsLoopback(a.cfg.ListenAddress),
		AllowPublic:        a.cfg.Orchestrator.AllowPublic,
	})

	listener, err := net.Listen("tcp", a.cfg.ListenAddress)
	if err != nil {
		return agenterr.Wrap(agenterr.Fatal, fmt.Sprintf("agent: binding %s: %v", a.cfg.ListenAddress, err))
	}

	a.server = &http.Server{Handler: router}
	elog.Infof("agent: listening on %s", a.cfg.ListenAddress)
	if err := a.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return agenterr.Wrap(agenterr.Fatal, "agent: http server: "+err.Error())
	}
	return nil
}

// EnableGopsDiagnostics starts the optional gops process-diagnostics
// listener alongside the HTTP surface; callers typically gate this
// behind their own CLI debug flag.
func (a *Agent) EnableGopsDiagnostics() error {
	return gopsagent.Listen(gopsagent.Options{})
}

// Shutdown cancels the tick loop, flushes and finalises the current
// LTSB block, aborts the pruner, and closes the HTTP listener letting
// in-flight requests complete.
func (a *Agent) Shutdown(ctx context.Context) error {
	if err := a.loop.Shutdown(); err != nil {
		elog.Warnf("agent: tick loop shutdown: %v", err)
	}
	if a.sched != nil {
		if err := a.sched.Shutdown(); err != nil {
			elog.Warnf("agent: scheduler shutdown: %v", err)
		}
	}
	if a.pruner != nil {
		if err := a.pruner.Shutdown(); err != nil {
			elog.Warnf("agent: pruner shutdown: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.FlushCurrent(); err != nil {
			elog.Warnf("agent: ltsb flush on shutdown: %v", err)
		}
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			elog.Warnf("agent: audit log close: %v", err)
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
