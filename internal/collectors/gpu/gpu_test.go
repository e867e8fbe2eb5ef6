// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gpu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

type fakeAdapter struct {
	available bool
	uuids     []string
	samples   map[string]RawDeviceSample
}

func (f *fakeAdapter) Available() bool { return f.available }

func (f *fakeAdapter) Enumerate(context.Context) ([]string, error) { return f.uuids, nil }

func (f *fakeAdapter) Sample(_ context.Context, uuid string) (RawDeviceSample, error) {
	return f.samples[uuid], nil
}

func (f *fakeAdapter) NextEvent(ctx context.Context) (EventRecord, error) {
	<-ctx.Done()
	return EventRecord{}, ctx.Err()
}

func baseSample(uuid string, index int) RawDeviceSample {
	return RawDeviceSample{
		UUID:               uuid,
		Index:              index,
		Vendor:             status.GpuVendorNvidia,
		Topo:               status.GpuTopo{PcieGen: 4, PcieWidth: 16},
		UtilizationPercent: 42,
		MemTotalBytes:      80 << 30,
		MemUsedBytes:       10 << 30,
		EccCorrected:       map[EccScope]uint64{EccScopeVolatile: 0},
		EccUncorrected:     map[EccScope]uint64{EccScopeVolatile: 0},
	}
}

func TestDisabledAdapterSetsGauge(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	c := NewCollector(&fakeAdapter{available: false}, DeviceFilter{passAll: true}, DeviceFilter{passAll: true}, false, "", nil)

	err := c.Collect(reg, st, 1000)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() != "agent_collector_disabled" {
			continue
		}
		for _, m := range mf.Metric {
			for _, l := range m.Label {
				if l.GetName() == "name" && l.GetValue() == "gpu" {
					assert.Equal(t, float64(1), m.GetGauge().GetValue())
					found = true
				}
			}
		}
	}
	assert.True(t, found, "expected agent_collector_disabled{name=\"gpu\"} to be set")
}

func TestEccDeltaIncrementsOnSecondTick(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	uuid := "GPU-0"
	adapter := &fakeAdapter{
		available: true,
		uuids:     []string{uuid},
		samples:   map[string]RawDeviceSample{uuid: baseSample(uuid, 0)},
	}
	c := NewCollector(adapter, DeviceFilter{passAll: true}, DeviceFilter{passAll: true}, false, "", nil)

	require.NoError(t, c.Collect(reg, st, 1000))

	s := adapter.samples[uuid]
	s.EccUncorrected = map[EccScope]uint64{EccScopeVolatile: 3}
	adapter.samples[uuid] = s

	require.NoError(t, c.Collect(reg, st, 2000))

	families, err := reg.Gather()
	require.NoError(t, err)

	var degraded float64 = -1
	var delta float64 = -1
	for _, mf := range families {
		switch mf.GetName() {
		case "gpu_ecc_degraded":
			degraded = mf.Metric[0].GetGauge().GetValue()
		case "gpu_ecc_uncorrected_total":
			for _, m := range mf.Metric {
				delta = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), degraded)
	assert.Equal(t, float64(3), delta)
}

func TestPCIeReplayDeltaOnSecondTick(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	uuid := "GPU-0"
	s := baseSample(uuid, 0)
	s.PCIeReplayTotal = 10
	adapter := &fakeAdapter{available: true, uuids: []string{uuid}, samples: map[string]RawDeviceSample{uuid: s}}
	c := NewCollector(adapter, DeviceFilter{passAll: true}, DeviceFilter{passAll: true}, false, "", nil)

	require.NoError(t, c.Collect(reg, st, 1000)) // priming

	s2 := s
	s2.PCIeReplayTotal = 15
	adapter.samples[uuid] = s2
	require.NoError(t, c.Collect(reg, st, 2000))

	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() == "gpu_pcie_replay_total" {
			total = mf.Metric[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(5), total)
}

func TestEventDrainIncrementsCounterAndGauges(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	ch := NewEventChannel()
	xid := 79
	ch <- EventRecord{UUID: "GPU-0", Kind: EventXid, XidCode: &xid, TsMs: 500}

	c := NewCollector(&fakeAdapter{available: false}, DeviceFilter{passAll: true}, DeviceFilter{passAll: true}, false, "", ch)
	require.NoError(t, c.Collect(reg, st, 1000))

	families, err := reg.Gather()
	require.NoError(t, err)
	var eventsTotal, lastXid float64
	for _, mf := range families {
		switch mf.GetName() {
		case "gpu_events_total":
			eventsTotal = mf.Metric[0].GetCounter().GetValue()
		case "gpu_last_xid_code":
			lastXid = mf.Metric[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(1), eventsTotal)
	assert.Equal(t, float64(79), lastXid)
}

func TestMigPassThroughUpdatesStatusStore(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	uuid := "GPU-0"
	s := baseSample(uuid, 0)
	s.Mig = &status.MigTree{
		Supported: true,
		Enabled:   true,
		Devices: []status.MigDeviceStatus{
			{ID: 1, UUID: "MIG-1", MemTotalBytes: 1 << 30, Utilization: 10},
		},
	}
	adapter := &fakeAdapter{available: true, uuids: []string{uuid}, samples: map[string]RawDeviceSample{uuid: s}}
	c := NewCollector(adapter, DeviceFilter{passAll: true}, DeviceFilter{passAll: true}, false, "", nil)

	require.NoError(t, c.Collect(reg, st, 1000))

	snap := st.Snapshot()
	require.Len(t, snap.GPUs, 1)
	require.NotNil(t, snap.GPUs[0].Mig)
	assert.True(t, snap.GPUs[0].Mig.Enabled)
	assert.Len(t, snap.GPUs[0].Mig.Devices, 1)
}

func TestDeviceFilterExcludesUnlistedDevice(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	adapter := &fakeAdapter{
		available: true,
		uuids:     []string{"GPU-0", "GPU-1"},
		samples: map[string]RawDeviceSample{
			"GPU-0": baseSample("GPU-0", 0),
			"GPU-1": baseSample("GPU-1", 1),
		},
	}
	filter := ParseDeviceFilter("GPU-0")
	c := NewCollector(adapter, filter, DeviceFilter{passAll: true}, false, "", nil)

	require.NoError(t, c.Collect(reg, st, 1000))

	snap := st.Snapshot()
	require.Len(t, snap.GPUs, 1)
	assert.Equal(t, "GPU-0", snap.GPUs[0].UUID)
}
