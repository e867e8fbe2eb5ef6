// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package status holds the Status Store: the consolidated,
// atomically-readable view of a node assembled from independently
// updated scalar atomics and short-held-lock composite sections.
package status

import (
	"sync"
	"sync/atomic"
)

const errorRingCap = 10

// Store is the Status Store. Scalars are per-field atomics so a writer
// never blocks a reader for longer than a single field copy; composite
// sections (lists, the error ring) are behind their own short-held
// RWMutex so Snapshot never observes a torn list.
type Store struct {
	healthy       atomic.Bool
	cpuCoreCount  atomic.Int64
	loadAvg1x1000  atomic.Int64
	loadAvg5x1000  atomic.Int64
	loadAvg15x1000 atomic.Int64
	uptimeSeconds atomic.Uint64
	lastScrapeMs  atomic.Int64

	// node power in microwatts; 0 means "absent" per the derived-field rule.
	nodePowerMicrowatts atomic.Uint64

	diskDegraded    atomic.Bool
	networkDegraded atomic.Bool
	swapDegraded    atomic.Bool

	// app tokens/sec * 1e6, to keep the field lock-free; 0 means absent.
	appTokensPerSecX1e6 atomic.Int64

	hostMu sync.RWMutex
	host   HostMetrics

	powerMu      sync.RWMutex
	packagePower []PackagePower

	tempMu       sync.RWMutex
	temperatures []TemperatureReading

	gpuMu sync.RWMutex
	gpus  []GpuStatus

	errMu sync.RWMutex
	errs  []CollectorError
}

func New() *Store {
	return &Store{}
}

// RecordError inserts a collector error into the bounded 10-entry ring,
// dropping the oldest entry when full.
func (s *Store) RecordError(collector, message string, nowMs int64) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.errs = append(s.errs, CollectorError{Collector: collector, Message: message, TsMs: nowMs})
	if len(s.errs) > errorRingCap {
		s.errs = s.errs[len(s.errs)-errorRingCap:]
	}
}

func (s *Store) SetHealthy(ok bool)        { s.healthy.Store(ok) }
func (s *Store) SetLastScrape(nowMs int64) { s.lastScrapeMs.Store(nowMs) }

func (s *Store) SetLoadAvg(load1, load5, load15 float64) {
	s.loadAvg1x1000.Store(int64(load1 * 1000))
	s.loadAvg5x1000.Store(int64(load5 * 1000))
	s.loadAvg15x1000.Store(int64(load15 * 1000))
}

func (s *Store) SetNodePowerMicrowatts(uw uint64) {
	s.nodePowerMicrowatts.Store(uw)
}

func (s *Store) SetDiskDegraded(v bool)    { s.diskDegraded.Store(v) }
func (s *Store) SetNetworkDegraded(v bool) { s.networkDegraded.Store(v) }
func (s *Store) SetSwapDegraded(v bool)    { s.swapDegraded.Store(v) }

// SetAppMetrics records the latest application token throughput. tokensPerSec
// is the only input the snapshot-time tokens-per-watt derivation needs.
func (s *Store) SetAppMetrics(tokensPerSec float64) {
	s.appTokensPerSecX1e6.Store(int64(tokensPerSec * 1e6))
}

func (s *Store) SetCPUCoreCount(n int)          { s.cpuCoreCount.Store(int64(n)) }
func (s *Store) SetUptimeSeconds(u uint64)      { s.uptimeSeconds.Store(u) }

func (s *Store) SetCPUSummary(coreCount int, uptimeSeconds uint64) {
	s.SetCPUCoreCount(coreCount)
	s.SetUptimeSeconds(uptimeSeconds)
}

func (s *Store) SetMemorySummary(total, used, free, available, swapUsed uint64) {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()
	s.host.MemTotalBytes = total
	s.host.MemUsedBytes = used
	s.host.MemFreeBytes = free
	s.host.MemAvailableBytes = available
	s.host.SwapUsedBytes = swapUsed
}

func (s *Store) SetDiskSummary(roots []DiskRootSummary) {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()
	s.host.DiskRoots = append([]DiskRootSummary(nil), roots...)
}

func (s *Store) SetNetworkSummary(primaryIface string, rxPerSec, txPerSec float64) {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()
	s.host.PrimaryInterface = primaryIface
	s.host.RxBytesPerSec = rxPerSec
	s.host.TxBytesPerSec = txPerSec
}

func (s *Store) SetCPUPackagePower(readings []PackagePower) {
	s.powerMu.Lock()
	defer s.powerMu.Unlock()
	s.packagePower = append([]PackagePower(nil), readings...)
}

func (s *Store) SetCPUTemperatures(readings []TemperatureReading) {
	s.tempMu.Lock()
	defer s.tempMu.Unlock()
	s.temperatures = append([]TemperatureReading(nil), readings...)
}

func (s *Store) SetGPUStatuses(gpus []GpuStatus) {
	s.gpuMu.Lock()
	defer s.gpuMu.Unlock()
	s.gpus = append([]GpuStatus(nil), gpus...)
}

// UpdateDegradationScore is a no-op placeholder kept for symmetry with the
// tick loop's post-collector-pass hook; degradation_score itself is always
// derived fresh inside Snapshot, never stored, so there is nothing to
// recompute here beyond giving the tick loop an explicit call site.
func (s *Store) UpdateDegradationScore() {}

// Snapshot reads every field atomically (scalars) or under a short-held
// lock (composites) and assembles one consistent StatusSnapshot. Any
// in-flight write to a composite section is observed as either fully
// present or fully absent, never torn.
func (s *Store) Snapshot() StatusSnapshot {
	s.hostMu.RLock()
	host := s.host
	host.DiskRoots = append([]DiskRootSummary(nil), s.host.DiskRoots...)
	s.hostMu.RUnlock()

	host.CPUCoreCount = int(s.cpuCoreCount.Load())
	host.LoadAvg1 = float64(s.loadAvg1x1000.Load()) / 1000
	host.LoadAvg5 = float64(s.loadAvg5x1000.Load()) / 1000
	host.LoadAvg15 = float64(s.loadAvg15x1000.Load()) / 1000
	host.UptimeSeconds = s.uptimeSeconds.Load()

	s.powerMu.RLock()
	packagePower := append([]PackagePower(nil), s.packagePower...)
	s.powerMu.RUnlock()

	s.tempMu.RLock()
	temps := append([]TemperatureReading(nil), s.temperatures...)
	s.tempMu.RUnlock()

	s.gpuMu.RLock()
	gpus := append([]GpuStatus(nil), s.gpus...)
	s.gpuMu.RUnlock()

	s.errMu.RLock()
	errs := append([]CollectorError(nil), s.errs...)
	s.errMu.RUnlock()

	diskDegraded := s.diskDegraded.Load()
	networkDegraded := s.networkDegraded.Load()
	swapDegraded := s.swapDegraded.Load()

	score := 0
	if diskDegraded {
		score++
	}
	if networkDegraded {
		score++
	}
	if swapDegraded {
		score++
	}

	snap := StatusSnapshot{
		Healthy:          s.healthy.Load(),
		Host:             host,
		PackagePower:     packagePower,
		Temperatures:     temps,
		GPUs:             gpus,
		DiskDegraded:     diskDegraded,
		NetworkDegraded:  networkDegraded,
		SwapDegraded:     swapDegraded,
		DegradationScore: score,
		LastScrapeUnixMs: s.lastScrapeMs.Load(),
		LastErrors:       errs,
	}

	if uw := s.nodePowerMicrowatts.Load(); uw != 0 {
		w := float64(uw) / 1e6
		snap.NodePowerWatts = &w
	}

	if tx1e6 := s.appTokensPerSecX1e6.Load(); tx1e6 != 0 {
		tps := float64(tx1e6) / 1e6
		snap.AppTokensPerSec = &tps
		if snap.NodePowerWatts != nil && *snap.NodePowerWatts != 0 {
			tpw := tps / *snap.NodePowerWatts
			snap.AppTokensPerWatt = &tpw
		}
	}

	return snap
}
