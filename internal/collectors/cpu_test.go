// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collectors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

func writeProcStat(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestCPUDeltaE1 reproduces spec scenario E1: two sequential reads of
// /proc/stat with ticks-per-second 100 yield +0.1s user/system/idle and
// no other state movement.
func TestCPUDeltaE1(t *testing.T) {
	dir := t.TempDir()
	reg := metrics.New()
	st := status.New()

	c := NewCPUCollector()
	c.ticksPerSecond = 100
	c.loadavgPath = filepath.Join(dir, "does-not-exist")
	c.uptimePath = filepath.Join(dir, "does-not-exist")

	c.procStatPath = writeProcStat(t, dir, "cpu 100 0 50 800 0 0 0 0\nintr 1000\nctxt 2000\n")
	require.NoError(t, c.Collect(reg, st, 1000))

	counter := reg.MustCounter("cpu_seconds_total")
	_ = counter // priming tick: no delta expected (B1), nothing to assert numerically yet

	c.procStatPath = writeProcStat(t, dir, "cpu 110 0 60 810 0 0 0 0\nintr 1005\nctxt 2010\n")
	require.NoError(t, c.Collect(reg, st, 2000))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "cpu_seconds_total" {
			continue
		}
		for _, m := range mf.Metric {
			for _, lp := range m.Label {
				if lp.GetName() == "state" {
					values[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}

	assert.InDelta(t, 0.1, values["user"], 1e-9)
	assert.InDelta(t, 0.1, values["system"], 1e-9)
	assert.InDelta(t, 0.1, values["idle"], 1e-9)
	assert.InDelta(t, 0, values["nice"], 1e-9)
	assert.InDelta(t, 0, values["iowait"], 1e-9)
}

func TestCPUPrimingEmitsNoDelta(t *testing.T) {
	dir := t.TempDir()
	reg := metrics.New()
	st := status.New()
	c := NewCPUCollector()
	c.loadavgPath = filepath.Join(dir, "absent")
	c.uptimePath = filepath.Join(dir, "absent")
	c.procStatPath = writeProcStat(t, dir, "cpu 100 0 50 800 0 0 0 0\n")

	require.NoError(t, c.Collect(reg, st, 1000))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "cpu_seconds_total" {
			assert.Empty(t, mf.Metric, "priming sample must not emit any counter child")
		}
	}
}
