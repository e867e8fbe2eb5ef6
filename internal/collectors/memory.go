// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collectors

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

const swapSpikeThresholdBytes = 10 * 1024 * 1024 // 10 MiB

// MemoryCollector reads /proc/meminfo and /proc/vmstat.
type MemoryCollector struct {
	meminfoPath string
	vmstatPath  string

	pgpgin  Delta
	pgpgout Delta
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{meminfoPath: "/proc/meminfo", vmstatPath: "/proc/vmstat"}
}

func (c *MemoryCollector) Name() string { return "memory" }

func (c *MemoryCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	meminfo, err := parseKVFile(c.meminfoPath, ":")
	if err != nil {
		st.RecordError(c.Name(), "read meminfo: "+err.Error(), nowMs)
		return err
	}
	vmstat, err := parseKVFile(c.vmstatPath, " ")
	if err != nil {
		st.RecordError(c.Name(), "read vmstat: "+err.Error(), nowMs)
		return err
	}

	totalKB := meminfoKB(meminfo, "MemTotal")
	availKB := meminfoKB(meminfo, "MemAvailable")
	buffersKB := meminfoKB(meminfo, "Buffers")
	cachedKB := meminfoKB(meminfo, "Cached")
	freeKB := meminfoKB(meminfo, "MemFree")
	usedKB := maxF(0, totalKB-freeKB-buffersKB-cachedKB)

	swapTotalKB := meminfoKB(meminfo, "SwapTotal")
	swapFreeKB := meminfoKB(meminfo, "SwapFree")
	swapUsedKB := maxF(0, swapTotalKB-swapFreeKB)

	totalGauge := registerOrGetGauge(reg, "mem_total_bytes", "total physical memory", nil)
	usedGauge := registerOrGetGauge(reg, "mem_used_bytes", "used physical memory", nil)
	freeGauge := registerOrGetGauge(reg, "mem_free_bytes", "free physical memory", nil)
	availGauge := registerOrGetGauge(reg, "mem_available_bytes", "available physical memory", nil)
	buffersGauge := registerOrGetGauge(reg, "mem_buffers_bytes", "buffer cache", nil)
	cachedGauge := registerOrGetGauge(reg, "mem_cached_bytes", "page cache", nil)
	swapTotalGauge := registerOrGetGauge(reg, "mem_swap_total_bytes", "total swap", nil)
	swapUsedGauge := registerOrGetGauge(reg, "mem_swap_used_bytes", "used swap", nil)
	swapFreeGauge := registerOrGetGauge(reg, "mem_swap_free_bytes", "free swap", nil)
	pgpginCounter := registerOrGetCounter(reg, "mem_pgpgin_bytes_total", "cumulative page-in bytes", nil)
	pgpgoutCounter := registerOrGetCounter(reg, "mem_pgpgout_bytes_total", "cumulative page-out bytes", nil)
	swapSpikeGauge := registerOrGetGauge(reg, "swap_degradation_spike", "1 if this tick's paging delta exceeded the spike threshold", nil)

	totalGauge.Set(nil, totalKB*1024)
	usedGauge.Set(nil, usedKB*1024)
	freeGauge.Set(nil, freeKB*1024)
	availGauge.Set(nil, availKB*1024)
	buffersGauge.Set(nil, buffersKB*1024)
	cachedGauge.Set(nil, cachedKB*1024)
	swapTotalGauge.Set(nil, swapTotalKB*1024)
	swapUsedGauge.Set(nil, swapUsedKB*1024)
	swapFreeGauge.Set(nil, swapFreeKB*1024)

	pgpginKB := vmstat["pgpgin"]
	pgpgoutKB := vmstat["pgpgout"]

	spike := false
	if deltaIn, _, primed := c.pgpgin.Observe(pgpginKB*1024, nowMs, 0); primed {
		pgpginCounter.Add(nil, deltaIn)
		if deltaIn > swapSpikeThresholdBytes {
			spike = true
		}
	}
	if deltaOut, _, primed := c.pgpgout.Observe(pgpgoutKB*1024, nowMs, 0); primed {
		pgpgoutCounter.Add(nil, deltaOut)
		if deltaOut > swapSpikeThresholdBytes {
			spike = true
		}
	}

	if spike {
		swapSpikeGauge.Set(nil, 1)
	} else {
		swapSpikeGauge.Set(nil, 0)
	}

	st.SetSwapDegraded(spike)
	st.SetMemorySummary(uint64(totalKB*1024), uint64(usedKB*1024), uint64(freeKB*1024), uint64(availKB*1024), uint64(swapUsedKB*1024))

	return nil
}

func meminfoKB(m map[string]float64, key string) float64 {
	return m[key]
}

// parseKVFile parses files shaped like /proc/meminfo ("Key:   123 kB") or
// /proc/vmstat ("key 123"), returning values in the file's native unit
// (kB for meminfo-style lines, raw integer for vmstat-style lines).
func parseKVFile(path, sep string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]float64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		var key string
		var rest string
		if idx := strings.Index(line, sep); idx >= 0 {
			key = strings.TrimSpace(line[:idx])
			rest = strings.TrimSpace(line[idx+len(sep):])
		} else {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		out[key] = v
	}
	return out, sc.Err()
}
