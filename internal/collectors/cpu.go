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

// defaultTicksPerSecond is used when the host's clock-ticks-per-second
// cannot be determined; nearly every Linux platform esnode-agent targets
// runs at 100 Hz.
const defaultTicksPerSecond = 100.0

var cpuStates = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal"}

// CPUCollector reads /proc/stat and /proc/loadavg and /proc/uptime.
type CPUCollector struct {
	ticksPerSecond float64
	procStatPath   string
	loadavgPath    string
	uptimePath     string

	totals   Delta
	perState map[string]*Delta
	perCore  map[int]*coreState
	intr     Delta
	ctxt     Delta
}

type coreState struct {
	total    Delta
	prevBusy float64
}

func NewCPUCollector() *CPUCollector {
	return &CPUCollector{
		ticksPerSecond: defaultTicksPerSecond,
		procStatPath:   "/proc/stat",
		loadavgPath:    "/proc/loadavg",
		uptimePath:     "/proc/uptime",
		perState:       make(map[string]*Delta),
		perCore:        make(map[int]*coreState),
	}
}

func (c *CPUCollector) Name() string { return "cpu" }

type cpuLineCounts struct {
	values map[string]float64 // state -> raw tick value
}

func parseCPULine(fields []string) cpuLineCounts {
	vals := make(map[string]float64, len(cpuStates))
	for i, name := range cpuStates {
		idx := i + 1 // fields[0] is "cpu" or "cpuN"
		if idx >= len(fields) {
			break
		}
		v, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			continue
		}
		vals[name] = v
	}
	return cpuLineCounts{values: vals}
}

func (c *CPUCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	f, err := os.Open(c.procStatPath)
	if err != nil {
		st.RecordError(c.Name(), "open /proc/stat: "+err.Error(), nowMs)
		return err
	}
	defer f.Close()

	secondsCounter := registerOrGetCounter(reg, "cpu_seconds_total", "cumulative cpu time per state, in seconds", []string{"state"})
	usageGauge := registerOrGetGauge(reg, "cpu_usage_percent", "per-core cpu usage percent this tick", []string{"core"})
	intrCounter := registerOrGetCounter(reg, "cpu_interrupts_total", "cumulative interrupt count", nil)
	ctxtCounter := registerOrGetCounter(reg, "cpu_context_switches_total", "cumulative context switch count", nil)

	coreCount := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "cpu "):
			fields := strings.Fields(line)
			parsed := parseCPULine(fields)
			for _, state := range cpuStates {
				raw, ok := parsed.values[state]
				if !ok {
					continue
				}
				d, ok2 := c.perState[state]
				if !ok2 {
					d = &Delta{}
					c.perState[state] = d
				}
				delta, _, primed := d.Observe(raw, nowMs, 0)
				if primed {
					secondsCounter.Add(map[string]string{"state": state}, delta/c.ticksPerSecond)
				}
			}
		case strings.HasPrefix(line, "cpu") && len(line) > 3 && line[3] >= '0' && line[3] <= '9':
			fields := strings.Fields(line)
			coreIdxStr := strings.TrimPrefix(fields[0], "cpu")
			coreIdx, err := strconv.Atoi(coreIdxStr)
			if err != nil {
				continue
			}
			coreCount++
			parsed := parseCPULine(fields)
			busy := parsed.values["user"] + parsed.values["nice"] + parsed.values["system"] +
				parsed.values["iowait"] + parsed.values["irq"] + parsed.values["softirq"] + parsed.values["steal"]
			total := busy + parsed.values["idle"]
			cs, ok := c.perCore[coreIdx]
			if !ok {
				cs = &coreState{}
				c.perCore[coreIdx] = cs
			}
			prevBusy := cs.prevBusy
			deltaTotal, _, primed := cs.total.Observe(total, nowMs, 0)
			cs.prevBusy = busy
			if primed && deltaTotal > 0 {
				deltaBusy := maxF(0, busy-prevBusy)
				pct := 100 * deltaBusy / deltaTotal
				usageGauge.Set(map[string]string{"core": coreIdxStr}, pct)
			}
		case strings.HasPrefix(line, "intr "):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				v, err := strconv.ParseFloat(fields[1], 64)
				if err == nil {
					delta, _, primed := c.intr.Observe(v, nowMs, 0)
					if primed {
						intrCounter.Add(nil, delta)
					}
				}
			}
		case strings.HasPrefix(line, "ctxt "):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				v, err := strconv.ParseFloat(fields[1], 64)
				if err == nil {
					delta, _, primed := c.ctxt.Observe(v, nowMs, 0)
					if primed {
						ctxtCounter.Add(nil, delta)
					}
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		st.RecordError(c.Name(), "scan /proc/stat: "+err.Error(), nowMs)
		return err
	}

	load1, load5, load15 := c.readLoadAvg()
	st.SetLoadAvg(load1, load5, load15)

	uptime := c.readUptime()
	st.SetCPUSummary(coreCount, uptime)

	return nil
}

func (c *CPUCollector) readLoadAvg() (l1, l5, l15 float64) {
	raw, err := os.ReadFile(c.loadavgPath)
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return
}

func (c *CPUCollector) readUptime() uint64 {
	raw, err := os.ReadFile(c.uptimePath)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 1 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return uint64(v)
}

// registerOrGetCounter/Gauge are called from Collect on every tick: the
// first call registers the family, every later call (and any collector
// constructed again against the same registry, e.g. in tests) gets the
// already-registered one back instead of an AlreadyRegistered error.
func registerOrGetCounter(reg *metrics.Registry, name, help string, labels []string) *metrics.Counter {
	if c, ok := reg.Counter(name); ok {
		return c
	}
	c, err := reg.RegisterCounter(name, help, labels)
	if err != nil {
		return reg.MustCounter(name)
	}
	return c
}

func registerOrGetGauge(reg *metrics.Registry, name, help string, labels []string) *metrics.Gauge {
	if g, ok := reg.Gauge(name); ok {
		return g
	}
	g, err := reg.RegisterGauge(name, help, labels)
	if err != nil {
		return reg.MustGauge(name)
	}
	return g
}
