// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collectors

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

// NumaCollector discovers /sys/devices/system/node/node*/ directories.
type NumaCollector struct {
	sysNodePath string
	cpuUsage    func(coreIdx int) (float64, bool) // injected: per-core usage from the cpu collector, if available
}

func NewNumaCollector() *NumaCollector {
	return &NumaCollector{sysNodePath: "/sys/devices/system/node"}
}

func (c *NumaCollector) Name() string { return "numa" }

func (c *NumaCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	entries, err := os.ReadDir(c.sysNodePath)
	if err != nil {
		st.RecordError(c.Name(), "read numa node dir: "+err.Error(), nowMs)
		return err
	}

	totalGauge := registerOrGetGauge(reg, "numa_mem_total_bytes", "per-node total memory", []string{"node"})
	usedGauge := registerOrGetGauge(reg, "numa_mem_used_bytes", "per-node used memory", []string{"node"})
	freeGauge := registerOrGetGauge(reg, "numa_mem_free_bytes", "per-node free memory", []string{"node"})
	usageGauge := registerOrGetGauge(reg, "numa_cpu_usage_percent", "average usage of this node's cores", []string{"node"})
	pageFaultsCounter := registerOrGetCounter(reg, "numa_page_faults_total", "numa page faults (best-effort)", []string{"node"})
	distanceGauge := registerOrGetGauge(reg, "numa_distance", "numa distance matrix", []string{"node", "to"})

	var nodeDirs []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "node") {
			continue
		}
		nodeDir := filepath.Join(c.sysNodePath, e.Name())
		if _, err := os.Stat(filepath.Join(nodeDir, "meminfo")); err != nil {
			continue
		}
		nodeDirs = append(nodeDirs, e.Name())
	}
	sort.Strings(nodeDirs)

	for _, name := range nodeDirs {
		nodeID := strings.TrimPrefix(name, "node")
		nodeDir := filepath.Join(c.sysNodePath, name)

		kv, err := parseNumaMeminfo(filepath.Join(nodeDir, "meminfo"))
		if err == nil {
			total := kv["MemTotal"]
			free := kv["MemFree"]
			used := maxF(0, total-free)
			totalGauge.Set(map[string]string{"node": nodeID}, total*1024)
			usedGauge.Set(map[string]string{"node": nodeID}, used*1024)
			freeGauge.Set(map[string]string{"node": nodeID}, free*1024)
		}

		pageFaultsCounter.Add(map[string]string{"node": nodeID}, 0)

		if cores, err := parseCPUList(filepath.Join(nodeDir, "cpulist")); err == nil && c.cpuUsage != nil {
			var sum float64
			var n int
			for _, core := range cores {
				if v, ok := c.cpuUsage(core); ok {
					sum += v
					n++
				}
			}
			if n > 0 {
				usageGauge.Set(map[string]string{"node": nodeID}, sum/float64(n))
			}
		}

		if raw, err := os.ReadFile(filepath.Join(nodeDir, "distance")); err == nil {
			fields := strings.Fields(string(raw))
			for to, f := range fields {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					continue
				}
				distanceGauge.Set(map[string]string{"node": nodeID, "to": strconv.Itoa(to)}, v)
			}
		}
	}

	return nil
}

func parseNumaMeminfo(path string) (map[string]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, line := range strings.Split(string(raw), "\n") {
		// "Node 0 MemTotal:       12345 kB"
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}
		key := strings.TrimSuffix(parts[2], ":")
		v, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			continue
		}
		out[key] = v
	}
	return out, nil
}

func parseCPUList(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cores []int
	for _, part := range strings.Split(strings.TrimSpace(string(raw)), ",") {
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			lo, err1 := strconv.Atoi(bounds[0])
			hi, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				continue
			}
			for i := lo; i <= hi; i++ {
				cores = append(cores, i)
			}
		} else {
			v, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			cores = append(cores, v)
		}
	}
	return cores, nil
}
