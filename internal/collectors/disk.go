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
	"syscall"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

const (
	sectorBytes        = 512
	diskBusyThreshold  = 0.8
	diskLatencyMsThresh = 50.0
)

type deviceDelta struct {
	readsCompleted  Delta
	sectorsRead     Delta
	writesCompleted Delta
	sectorsWritten  Delta
	ioTimeMs        Delta
}

// DiskCollector reports per-mount capacity and per-block-device I/O rate.
type DiskCollector struct {
	diskstatsPath string
	mounts        []string // mount points to report totals for; "/" by default

	devices map[string]*deviceDelta
}

func NewDiskCollector(mounts []string) *DiskCollector {
	if len(mounts) == 0 {
		mounts = []string{"/"}
	}
	return &DiskCollector{
		diskstatsPath: "/proc/diskstats",
		mounts:        mounts,
		devices:       make(map[string]*deviceDelta),
	}
}

func (c *DiskCollector) Name() string { return "disk" }

func (c *DiskCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	totalGauge := registerOrGetGauge(reg, "disk_total_bytes", "mount total capacity", []string{"mount"})
	usedGauge := registerOrGetGauge(reg, "disk_used_bytes", "mount used capacity", []string{"mount"})
	freeGauge := registerOrGetGauge(reg, "disk_free_bytes", "mount free capacity", []string{"mount"})

	roots := make([]status.DiskRootSummary, 0, len(c.mounts))
	for _, m := range c.mounts {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(m, &stat); err != nil {
			st.RecordError(c.Name(), "statfs "+m+": "+err.Error(), nowMs)
			continue
		}
		total := stat.Blocks * uint64(stat.Bsize)
		free := stat.Bfree * uint64(stat.Bsize)
		used := total - free
		totalGauge.Set(map[string]string{"mount": m}, float64(total))
		usedGauge.Set(map[string]string{"mount": m}, float64(used))
		freeGauge.Set(map[string]string{"mount": m}, float64(free))
		roots = append(roots, status.DiskRootSummary{Mount: m, TotalBytes: total, UsedBytes: used, FreeBytes: free})
	}

	readsCounter := registerOrGetCounter(reg, "disk_reads_completed_total", "cumulative completed reads", []string{"device"})
	readBytesCounter := registerOrGetCounter(reg, "disk_read_bytes_total", "cumulative bytes read", []string{"device"})
	writesCounter := registerOrGetCounter(reg, "disk_writes_completed_total", "cumulative completed writes", []string{"device"})
	writeBytesCounter := registerOrGetCounter(reg, "disk_write_bytes_total", "cumulative bytes written", []string{"device"})
	latencyGauge := registerOrGetGauge(reg, "disk_avg_latency_ms", "average ms/op over this tick", []string{"device"})
	busyGauge := registerOrGetGauge(reg, "disk_busy", "1 if device was >=80% busy this tick", []string{"device"})
	slowGauge := registerOrGetGauge(reg, "disk_slow", "1 if average latency exceeded 50ms this tick", []string{"device"})

	f, err := os.Open(c.diskstatsPath)
	if err != nil {
		st.RecordError(c.Name(), "open diskstats: "+err.Error(), nowMs)
		return err
	}
	defer f.Close()

	degraded := false
	var rootIoDeltaMs float64
	var dtSecondsForRoot float64
	haveRoot := false

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 14 {
			continue
		}
		name := fields[2]
		readsCompleted, _ := strconv.ParseFloat(fields[3], 64)
		sectorsRead, _ := strconv.ParseFloat(fields[5], 64)
		writesCompleted, _ := strconv.ParseFloat(fields[7], 64)
		sectorsWritten, _ := strconv.ParseFloat(fields[9], 64)
		ioTimeMs, _ := strconv.ParseFloat(fields[12], 64)

		dd, ok := c.devices[name]
		if !ok {
			dd = &deviceDelta{}
			c.devices[name] = dd
		}

		dReads, _, primedReads := dd.readsCompleted.Observe(readsCompleted, nowMs, 0)
		dSectorsRead, _, _ := dd.sectorsRead.Observe(sectorsRead, nowMs, 0)
		dWrites, _, _ := dd.writesCompleted.Observe(writesCompleted, nowMs, 0)
		dSectorsWritten, _, _ := dd.sectorsWritten.Observe(sectorsWritten, nowMs, 0)
		dIoMs, dtSeconds, _ := dd.ioTimeMs.Observe(ioTimeMs, nowMs, 0)

		if !primedReads {
			continue
		}

		readsCounter.Add(map[string]string{"device": name}, dReads)
		readBytesCounter.Add(map[string]string{"device": name}, dSectorsRead*sectorBytes)
		writesCounter.Add(map[string]string{"device": name}, dWrites)
		writeBytesCounter.Add(map[string]string{"device": name}, dSectorsWritten*sectorBytes)

		totalOps := dReads + dWrites
		avgLatency := 0.0
		if totalOps > 0 {
			avgLatency = dIoMs / totalOps
		}
		busyPct := 0.0
		if dtSeconds > 0 {
			busyPct = minF(1.0, dIoMs/(dtSeconds*1000))
		}
		busy := busyPct >= diskBusyThreshold
		slow := avgLatency > diskLatencyMsThresh

		latencyGauge.Set(map[string]string{"device": name}, avgLatency)
		setBoolGauge(busyGauge, map[string]string{"device": name}, busy)
		setBoolGauge(slowGauge, map[string]string{"device": name}, slow)

		if busy || slow {
			degraded = true
		}

		if isRootCandidate(name) && !haveRoot {
			haveRoot = true
			rootIoDeltaMs = dIoMs
			dtSecondsForRoot = dtSeconds
		}
	}
	if err := sc.Err(); err != nil {
		st.RecordError(c.Name(), "scan diskstats: "+err.Error(), nowMs)
		return err
	}
	_ = rootIoDeltaMs
	_ = dtSecondsForRoot

	st.SetDiskDegraded(degraded)
	if len(roots) > 0 {
		st.SetDiskSummary(roots)
	}
	return nil
}

func isRootCandidate(device string) bool {
	for _, p := range []string{"sd", "nvme", "vd", "xvd"} {
		if strings.HasPrefix(device, p) {
			return true
		}
	}
	return false
}

func setBoolGauge(g *metrics.Gauge, labels map[string]string, v bool) {
	if v {
		g.Set(labels, 1)
	} else {
		g.Set(labels, 0)
	}
}
