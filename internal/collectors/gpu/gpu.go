// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gpu

import (
	"context"
	"fmt"

	"github.com/esnode-project/esnode-agent/internal/collectors"
	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

// pcieBytesPerLanePerSec approximates usable per-lane bandwidth in
// bytes/sec for each PCIe generation, accounting for line encoding
// overhead (8b/10b for gen 1-2, 128b/130b for gen 3+).
var pcieBytesPerLanePerSec = map[int]float64{
	1: 250e6,
	2: 500e6,
	3: 984.6e6,
	4: 1969e6,
	5: 3938e6,
}

type eccKey struct {
	uuid  string
	scope EccScope
	kind  string // "corrected" | "uncorrected"
}

type linkKey struct {
	uuid   string
	linkID int
}

// Collector implements collectors.Collector for the GPU family,
// including MIG, NVLink/PCIe fabric, ECC, and k8s-compatibility gauge
// mirroring. It composes purely over an Adapter and never calls a
// vendor library directly.
type Collector struct {
	adapter      Adapter
	visible      DeviceFilter
	migFilter    DeviceFilter
	k8sMode      bool
	resourceName string // e.g. "nvidia.com/gpu"

	eccDelta     map[eccKey]*collectors.Delta
	linkRxDelta  map[linkKey]*collectors.Delta
	linkTxDelta  map[linkKey]*collectors.Delta
	linkErrDelta map[string]*collectors.Delta // key: uuid|linkID|errKind
	replayDelta  map[string]*collectors.Delta // key: uuid
	lastXid      map[string]int
	lastEventMs  map[string]int64

	eventCh chan EventRecord
}

func NewCollector(adapter Adapter, visible, migFilter DeviceFilter, k8sMode bool, resourceName string, eventCh chan EventRecord) *Collector {
	return &Collector{
		adapter:      adapter,
		visible:      visible,
		migFilter:    migFilter,
		k8sMode:      k8sMode,
		resourceName: resourceName,
		eccDelta:     make(map[eccKey]*collectors.Delta),
		linkRxDelta:  make(map[linkKey]*collectors.Delta),
		linkTxDelta:  make(map[linkKey]*collectors.Delta),
		linkErrDelta: make(map[string]*collectors.Delta),
		replayDelta:  make(map[string]*collectors.Delta),
		lastXid:      make(map[string]int),
		lastEventMs:  make(map[string]int64),
		eventCh:      eventCh,
	}
}

func (c *Collector) Name() string { return "gpu" }

func (c *Collector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	disabledGauge := mustGauge(reg, "agent_collector_disabled", "1 if this collector could not initialise its data source", []string{"name"})

	c.drainEvents(reg, nowMs)

	if !c.adapter.Available() {
		disabledGauge.Set(map[string]string{"name": "gpu"}, 1)
		return nil
	}
	disabledGauge.Set(map[string]string{"name": "gpu"}, 0)

	ctx := context.Background()
	uuids, err := c.adapter.Enumerate(ctx)
	if err != nil {
		st.RecordError(c.Name(), "enumerate: "+err.Error(), nowMs)
		return err
	}

	utilGauge := mustGauge(reg, "gpu_utilization_percent", "per-device SM utilization", []string{"uuid", "index"})
	memTotalGauge := mustGauge(reg, "gpu_memory_total_bytes", "per-device memory total", []string{"uuid", "index"})
	memUsedGauge := mustGauge(reg, "gpu_memory_used_bytes", "per-device memory used", []string{"uuid", "index"})
	tempGauge := mustGauge(reg, "gpu_temperature_celsius", "per-device temperature", []string{"uuid", "index"})
	powerGauge := mustGauge(reg, "gpu_power_watts", "per-device instantaneous power", []string{"uuid", "index"})
	energyCounter := mustCounter(reg, "gpu_energy_joules_total", "cumulative integrated energy", []string{"uuid", "index"})
	fanGauge := mustGauge(reg, "gpu_fan_percent", "per-device fan speed", []string{"uuid", "index"})
	clockSMGauge := mustGauge(reg, "gpu_clock_sm_mhz", "SM clock", []string{"uuid", "index"})
	clockMemGauge := mustGauge(reg, "gpu_clock_mem_mhz", "memory clock", []string{"uuid", "index"})
	clockGfxGauge := mustGauge(reg, "gpu_clock_graphics_mhz", "graphics clock", []string{"uuid", "index"})
	pstateGauge := mustGauge(reg, "gpu_performance_state", "performance state (P-state index)", []string{"uuid", "index"})
	bar1TotalGauge := mustGauge(reg, "gpu_bar1_total_bytes", "BAR1 total", []string{"uuid", "index"})
	bar1UsedGauge := mustGauge(reg, "gpu_bar1_used_bytes", "BAR1 used", []string{"uuid", "index"})
	encUtilGauge := mustGauge(reg, "gpu_encoder_utilization_percent", "video encoder utilization", []string{"uuid", "index"})
	decUtilGauge := mustGauge(reg, "gpu_decoder_utilization_percent", "video decoder utilization", []string{"uuid", "index"})
	copyUtilGauge := mustGauge(reg, "gpu_copy_utilization_percent", "copy engine utilization", []string{"uuid", "index"})

	eccCorrectedCounter := mustCounter(reg, "gpu_ecc_corrected_total", "ECC corrected error delta", []string{"uuid", "index", "scope"})
	eccUncorrectedCounter := mustCounter(reg, "gpu_ecc_uncorrected_total", "ECC uncorrected error delta", []string{"uuid", "index", "scope"})
	eccDegradedGauge := mustGauge(reg, "gpu_ecc_degraded", "1 if any ECC delta was seen this tick", []string{"uuid", "index"})

	throttleThermalGauge := mustGauge(reg, "gpu_throttle_thermal", "1 if thermal throttling active", []string{"uuid", "index"})
	throttlePowerGauge := mustGauge(reg, "gpu_throttle_power", "1 if power throttling active", []string{"uuid", "index"})
	throttleOtherGauge := mustGauge(reg, "gpu_throttle_other", "1 if some other throttle reason is active", []string{"uuid", "index"})

	replayCounter := mustCounter(reg, "gpu_pcie_replay_total", "cumulative PCIe replay events", []string{"uuid", "index"})
	pcieGenGauge := mustGauge(reg, "gpu_pcie_link_gen", "current PCIe link generation", []string{"uuid", "index"})
	pcieWidthGauge := mustGauge(reg, "gpu_pcie_link_width", "current PCIe link width", []string{"uuid", "index"})
	pcieBandwidthGauge := mustGauge(reg, "gpu_pcie_bandwidth_percent", "derived pcie utilization, capped at 1.0", []string{"uuid", "index"})

	linkRxCounter := mustCounter(reg, "gpu_link_rx_bytes_total", "per-link cumulative rx bytes", []string{"uuid", "index", "link", "type"})
	linkTxCounter := mustCounter(reg, "gpu_link_tx_bytes_total", "per-link cumulative tx bytes", []string{"uuid", "index", "link", "type"})
	linkErrCounter := mustCounter(reg, "gpu_link_errors_total", "per-link cumulative errors by kind", []string{"uuid", "index", "link", "type", "kind"})

	migUtilGauge := mustGauge(reg, "gpu_mig_utilization_percent", "per-MIG-slice utilization", []string{"uuid", "mig_id"})
	migMemTotalGauge := mustGauge(reg, "gpu_mig_memory_total_bytes", "per-MIG-slice memory total", []string{"uuid", "mig_id"})
	migBar1Gauge := mustGauge(reg, "gpu_mig_bar1_used_bytes", "per-MIG-slice BAR1 used", []string{"uuid", "mig_id"})
	migEccCounter := mustCounter(reg, "gpu_mig_ecc_uncorrected_total", "per-MIG-slice cumulative ECC uncorrected", []string{"uuid", "mig_id"})

	var k8sUtilGauge, k8sMemUsedGauge *metrics.Gauge
	if c.k8sMode {
		k8sUtilGauge = mustGauge(reg, "k8s_gpu_utilization_percent", "gpu utilization mirrored under a k8s resource-name label", []string{"resource"})
		k8sMemUsedGauge = mustGauge(reg, "k8s_gpu_memory_used_bytes", "gpu memory used mirrored under a k8s resource-name label", []string{"resource"})
	}

	var snapshots []status.GpuStatus

	for _, uuid := range uuids {
		sample, err := c.adapter.Sample(ctx, uuid)
		if err != nil {
			st.RecordError(c.Name(), "sample "+uuid+": "+err.Error(), nowMs)
			continue
		}
		if !c.visible.Allows(uuid, sample.Index) {
			continue
		}
		idx := fmt.Sprintf("%d", sample.Index)
		labels := map[string]string{"uuid": uuid, "index": idx}

		utilGauge.Set(labels, sample.UtilizationPercent)
		memTotalGauge.Set(labels, float64(sample.MemTotalBytes))
		memUsedGauge.Set(labels, float64(sample.MemUsedBytes))
		tempGauge.Set(labels, sample.TemperatureC)
		powerGauge.Set(labels, sample.PowerWatts)
		fanGauge.Set(labels, sample.FanPercent)
		clockSMGauge.Set(labels, float64(sample.ClockSMMHz))
		clockMemGauge.Set(labels, float64(sample.ClockMemMHz))
		clockGfxGauge.Set(labels, float64(sample.ClockGraphicsMHz))
		pstateGauge.Set(labels, float64(sample.PerformanceState))
		bar1TotalGauge.Set(labels, float64(sample.Bar1TotalBytes))
		bar1UsedGauge.Set(labels, float64(sample.Bar1UsedBytes))
		encUtilGauge.Set(labels, sample.EncoderUtil)
		decUtilGauge.Set(labels, sample.DecoderUtil)
		copyUtilGauge.Set(labels, sample.CopyUtil)
		pcieGenGauge.Set(labels, float64(sample.Topo.PcieGen))
		pcieWidthGauge.Set(labels, float64(sample.Topo.PcieWidth))

		setBool(throttleThermalGauge, labels, sample.ThrottleReasons.Thermal)
		setBool(throttlePowerGauge, labels, sample.ThrottleReasons.Power)
		setBool(throttleOtherGauge, labels, sample.ThrottleReasons.Other)

		eccDegraded := false
		for _, scope := range []EccScope{EccScopeVolatile, EccScopeAggregate} {
			if v, ok := sample.EccCorrected[scope]; ok {
				d := c.deltaFor(c.eccDelta, eccKey{uuid: uuid, scope: scope, kind: "corrected"})
				if delta, _, primed := d.Observe(float64(v), nowMs, 0); primed {
					eccCorrectedCounter.Add(map[string]string{"uuid": uuid, "index": idx, "scope": string(scope)}, delta)
					if delta > 0 {
						eccDegraded = true
					}
				}
			}
			if v, ok := sample.EccUncorrected[scope]; ok {
				d := c.deltaFor(c.eccDelta, eccKey{uuid: uuid, scope: scope, kind: "uncorrected"})
				if delta, _, primed := d.Observe(float64(v), nowMs, 0); primed {
					eccUncorrectedCounter.Add(map[string]string{"uuid": uuid, "index": idx, "scope": string(scope)}, delta)
					if delta > 0 {
						eccDegraded = true
					}
				}
			}
		}
		setBool(eccDegradedGauge, labels, eccDegraded)

		replayD := c.replayDeltaFor(uuid)
		if delta, _, primed := replayD.Observe(float64(sample.PCIeReplayTotal), nowMs, 0); primed {
			replayCounter.Add(labels, delta)
		}

		var txRate, rxRate float64
		for _, link := range sample.Links {
			lk := linkKey{uuid: uuid, linkID: link.LinkID}
			rxD := c.linkDeltaFor(c.linkRxDelta, lk)
			txD := c.linkDeltaFor(c.linkTxDelta, lk)
			linkLabel := fmt.Sprintf("%d", link.LinkID)

			if delta, dt, primed := rxD.Observe(float64(link.RxBytes), nowMs, 0); primed {
				linkRxCounter.Add(map[string]string{"uuid": uuid, "index": idx, "link": linkLabel, "type": string(link.Type)}, delta)
				if dt > 0 {
					rxRate += collectors.Rate(delta, dt)
				}
			}
			if delta, dt, primed := txD.Observe(float64(link.TxBytes), nowMs, 0); primed {
				linkTxCounter.Add(map[string]string{"uuid": uuid, "index": idx, "link": linkLabel, "type": string(link.Type)}, delta)
				if dt > 0 {
					txRate += collectors.Rate(delta, dt)
				}
			}
			for kind, v := range link.Errors {
				ek := fmt.Sprintf("%s|%d|%s", uuid, link.LinkID, kind)
				ed := c.linkErrDeltaFor(ek)
				if delta, _, primed := ed.Observe(float64(v), nowMs, 0); primed {
					linkErrCounter.Add(map[string]string{"uuid": uuid, "index": idx, "link": linkLabel, "type": string(link.Type), "kind": kind}, delta)
				}
			}
		}

		if lanes := pcieBytesPerLanePerSec[sample.Topo.PcieGen]; lanes > 0 && sample.Topo.PcieWidth > 0 {
			capacity := lanes * float64(sample.Topo.PcieWidth)
			pct := (txRate + rxRate) / capacity
			if pct > 1.0 {
				pct = 1.0
			}
			pcieBandwidthGauge.Set(labels, pct)
		}

		if sample.Mig != nil {
			for _, md := range sample.Mig.Devices {
				migID := fmt.Sprintf("%d", md.ID)
				migLabels := map[string]string{"uuid": uuid, "mig_id": migID}
				migUtilGauge.Set(migLabels, md.Utilization)
				migMemTotalGauge.Set(migLabels, float64(md.MemTotalBytes))
				migBar1Gauge.Set(migLabels, float64(md.Bar1UsedBytes))

				eck := fmt.Sprintf("mig|%s|%d", uuid, md.ID)
				ed := c.linkErrDeltaFor(eck)
				if delta, _, primed := ed.Observe(float64(md.EccUncorrected), nowMs, 0); primed {
					migEccCounter.Add(migLabels, delta)
				}
			}
		}

		if c.k8sMode {
			k8sUtilGauge.Set(map[string]string{"resource": c.resourceName}, sample.UtilizationPercent)
			k8sMemUsedGauge.Set(map[string]string{"resource": c.resourceName}, float64(sample.MemUsedBytes))
		}

		gs := status.GpuStatus{
			UUID:             uuid,
			Index:            sample.Index,
			Vendor:           sample.Vendor,
			Capabilities:     sample.Capabilities,
			Identity:         sample.Identity,
			Topo:             sample.Topo,
			Health: status.GpuHealth{
				PerformanceState: sample.PerformanceState,
				ThrottleReasons:  throttleReasonNames(sample.ThrottleReasons),
				EccMode:          true,
				RetiredPages:     sample.RetiredPages,
				LastXid:          sample.LastXid,
				EncoderUtil:      sample.EncoderUtil,
				DecoderUtil:      sample.DecoderUtil,
				CopyUtil:         sample.CopyUtil,
				Bar1TotalBytes:   sample.Bar1TotalBytes,
				Bar1UsedBytes:    sample.Bar1UsedBytes,
			},
			Links:            toStatusLinks(sample.Links),
			Mig:              sample.Mig,
			TemperatureC:     sample.TemperatureC,
			PowerWatts:       sample.PowerWatts,
			Utilization:      sample.UtilizationPercent,
			MemTotalBytes:    sample.MemTotalBytes,
			MemUsedBytes:     sample.MemUsedBytes,
			FanPercent:       sample.FanPercent,
			ClockSmMHz:       sample.ClockSMMHz,
			ClockMemMHz:      sample.ClockMemMHz,
			ClockGraphicsMHz: sample.ClockGraphicsMHz,
			ThermalThrottle:  sample.ThrottleReasons.Thermal,
			PowerThrottle:    sample.ThrottleReasons.Power,
		}
		snapshots = append(snapshots, gs)

		if dt := c.energyDt(uuid, nowMs); dt > 0 {
			joules := sample.PowerWatts * dt
			energyCounter.Add(labels, joules)
		}
	}

	if snapshots != nil {
		st.SetGPUStatuses(snapshots)
	}

	return nil
}

// energyDt returns the elapsed seconds since the previous sample of uuid,
// integrating energy as power * elapsed rather than flooring to whole
// joules each tick.
func (c *Collector) energyDt(uuid string, nowMs int64) float64 {
	// Reuses the generic Delta primitive purely for its dt bookkeeping:
	// the "absolute value" observed is irrelevant here (always 0), only
	// the elapsed time between calls matters.
	d := c.deltaFor(c.eccDelta, eccKey{uuid: uuid, scope: "", kind: "energy_tick"})
	_, dt, primed := d.Observe(0, nowMs, 0)
	if !primed {
		return 0
	}
	return dt
}

func (c *Collector) deltaFor(m map[eccKey]*collectors.Delta, k eccKey) *collectors.Delta {
	d, ok := m[k]
	if !ok {
		d = &collectors.Delta{}
		m[k] = d
	}
	return d
}

func (c *Collector) linkDeltaFor(m map[linkKey]*collectors.Delta, k linkKey) *collectors.Delta {
	d, ok := m[k]
	if !ok {
		d = &collectors.Delta{}
		m[k] = d
	}
	return d
}

func (c *Collector) linkErrDeltaFor(key string) *collectors.Delta {
	d, ok := c.linkErrDelta[key]
	if !ok {
		d = &collectors.Delta{}
		c.linkErrDelta[key] = d
	}
	return d
}

func (c *Collector) replayDeltaFor(uuid string) *collectors.Delta {
	d, ok := c.replayDelta[uuid]
	if !ok {
		d = &collectors.Delta{}
		c.replayDelta[uuid] = d
	}
	return d
}

func (c *Collector) drainEvents(reg *metrics.Registry, nowMs int64) {
	if c.eventCh == nil {
		return
	}
	eventsCounter := mustCounter(reg, "gpu_events_total", "decoded gpu events by kind", []string{"kind"})
	lastXidGauge := mustGauge(reg, "gpu_last_xid_code", "last XID error code seen", []string{"uuid"})
	lastEventGauge := mustGauge(reg, "gpu_last_event_unix_ms", "timestamp of the last gpu event seen", []string{"uuid"})

	for {
		select {
		case rec := <-c.eventCh:
			eventsCounter.Add(map[string]string{"kind": string(rec.Kind)}, 1)
			lastEventGauge.Set(map[string]string{"uuid": rec.UUID}, float64(rec.TsMs))
			if rec.Kind == EventXid && rec.XidCode != nil {
				lastXidGauge.Set(map[string]string{"uuid": rec.UUID}, float64(*rec.XidCode))
				c.lastXid[rec.UUID] = *rec.XidCode
			}
			c.lastEventMs[rec.UUID] = rec.TsMs
		default:
			return
		}
	}
}

func throttleReasonNames(t ThrottleReasons) []string {
	var out []string
	if t.Thermal {
		out = append(out, "thermal")
	}
	if t.Power {
		out = append(out, "power")
	}
	if t.Other {
		out = append(out, "other")
	}
	return out
}

func toStatusLinks(links []RawLinkSample) []status.FabricLink {
	out := make([]status.FabricLink, 0, len(links))
	for _, l := range links {
		var errCount uint64
		for _, v := range l.Errors {
			errCount += v
		}
		out = append(out, status.FabricLink{
			Type:     l.Type,
			LinkID:   l.LinkID,
			RxBytes:  l.RxBytes,
			TxBytes:  l.TxBytes,
			ErrCount: errCount,
		})
	}
	return out
}

func setBool(g *metrics.Gauge, labels map[string]string, v bool) {
	if v {
		g.Set(labels, 1)
	} else {
		g.Set(labels, 0)
	}
}

func mustGauge(reg *metrics.Registry, name, help string, labels []string) *metrics.Gauge {
	if g, ok := reg.Gauge(name); ok {
		return g
	}
	g, err := reg.RegisterGauge(name, help, labels)
	if err != nil {
		return reg.MustGauge(name)
	}
	return g
}

func mustCounter(reg *metrics.Registry, name, help string, labels []string) *metrics.Counter {
	if c, ok := reg.Counter(name); ok {
		return c
	}
	c, err := reg.RegisterCounter(name, help, labels)
	if err != nil {
		return reg.MustCounter(name)
	}
	return c
}
