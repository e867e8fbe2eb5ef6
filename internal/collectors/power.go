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

type raplZone struct {
	name         string
	path         string
	maxRangeUJ   float64
	energy       Delta
	cumJoules    float64
}

// PowerCollector reads RAPL power-capping zones, node power (IPMI-style
// then hwmon microwatts fallback), and CPU thermal sensors. Each of the
// three sub-reads is best-effort and independent: a missing RAPL tree or
// absent node-power source does not fail the whole collector.
type PowerCollector struct {
	powercapPath   string
	hwmonPath      string
	thermalPath    string
	envelopeWatts  float64

	zones       []*raplZone
	zonesByName map[string]*raplZone

	nodePower Delta
}

func NewPowerCollector(envelopeWatts float64) *PowerCollector {
	return &PowerCollector{
		powercapPath:  "/sys/class/powercap",
		hwmonPath:     "/sys/class/hwmon",
		thermalPath:   "/sys/class/thermal",
		envelopeWatts: envelopeWatts,
		zonesByName:   make(map[string]*raplZone),
	}
}

func (c *PowerCollector) Name() string { return "power" }

func (c *PowerCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	c.discoverRaplZones()

	packageWattsGauge := registerOrGetGauge(reg, "cpu_package_power_watts", "RAPL package power", []string{"zone"})
	coreWattsGauge := registerOrGetGauge(reg, "cpu_core_power_watts", "RAPL core power", []string{"zone"})
	energyCounter := registerOrGetCounter(reg, "cpu_package_energy_joules_total", "cumulative RAPL energy", []string{"zone"})

	var readings []status.PackagePower
	for _, z := range c.zones {
		energyUJ, err := readFloatFile(filepath.Join(z.path, "energy_uj"))
		if err != nil {
			continue
		}
		deltaUJ, dtSeconds, primed := z.energy.Observe(energyUJ, nowMs, z.maxRangeUJ)
		if !primed || dtSeconds <= 0 {
			continue
		}
		watts := (deltaUJ / 1e6) / dtSeconds
		packageWattsGauge.Set(map[string]string{"zone": z.name}, watts)
		if strings.Contains(strings.ToLower(z.name), "core") {
			coreWattsGauge.Set(map[string]string{"zone": z.name}, watts)
		}
		joulesDelta := deltaUJ / 1e6
		z.cumJoules += joulesDelta
		energyCounter.Add(map[string]string{"zone": z.name}, joulesDelta)
		readings = append(readings, status.PackagePower{Zone: z.name, Watts: watts})
	}
	if readings != nil {
		st.SetCPUPackagePower(readings)
	}

	c.collectNodePower(reg, st, nowMs)
	c.collectCPUTemps(reg, st, nowMs)

	return nil
}

func (c *PowerCollector) discoverRaplZones() {
	if len(c.zones) > 0 {
		return
	}
	entries, err := os.ReadDir(c.powercapPath)
	if err != nil {
		return
	}
	for _, e := range entries {
		dir := filepath.Join(c.powercapPath, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "energy_uj")); err != nil {
			continue
		}
		maxRange, err := readFloatFile(filepath.Join(dir, "max_energy_range_uj"))
		if err != nil {
			maxRange = 0
		}
		name := e.Name()
		if raw, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
			name = strings.TrimSpace(string(raw))
		}
		z := &raplZone{name: name, path: dir, maxRangeUJ: maxRange}
		c.zones = append(c.zones, z)
		c.zonesByName[name] = z
	}
	sort.Slice(c.zones, func(i, j int) bool { return c.zones[i].name < c.zones[j].name })
}

// collectNodePower tries, in order: an IPMI-style sensor file, then a
// hwmon file reporting microwatts. Node power is "absent" (zero
// microwatts in the Status Store) if neither source is present.
func (c *PowerCollector) collectNodePower(reg *metrics.Registry, st *status.Store, nowMs int64) {
	nodeWattsGauge := registerOrGetGauge(reg, "node_power_watts", "instantaneous node power draw", nil)
	nodeEnergyCounter := registerOrGetCounter(reg, "node_energy_joules_total", "cumulative node energy", nil)
	envelopeGauge := registerOrGetGauge(reg, "node_power_envelope_exceeded", "1 if node power exceeds the configured envelope", nil)

	uw, ok := c.readIPMIStyleMicrowatts()
	if !ok {
		uw, ok = c.readHwmonMicrowatts()
	}
	if !ok {
		st.SetNodePowerMicrowatts(0)
		return
	}

	st.SetNodePowerMicrowatts(uint64(uw))
	watts := uw / 1e6
	nodeWattsGauge.Set(nil, watts)

	if _, dtSeconds, primed := c.nodePower.Observe(uw, nowMs, 0); primed && dtSeconds > 0 {
		nodeEnergyCounter.Add(nil, watts*dtSeconds)
	}

	exceeded := c.envelopeWatts > 0 && watts > c.envelopeWatts
	setBoolGauge(envelopeGauge, nil, exceeded)
}

func (c *PowerCollector) readIPMIStyleMicrowatts() (float64, bool) {
	path := "/sys/class/hwmon/ipmi/power1_input"
	v, err := readFloatFile(path)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *PowerCollector) readHwmonMicrowatts() (float64, bool) {
	entries, err := os.ReadDir(c.hwmonPath)
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		p := filepath.Join(c.hwmonPath, e.Name(), "power1_input")
		if v, err := readFloatFile(p); err == nil {
			return v, true
		}
	}
	return 0, false
}

func (c *PowerCollector) collectCPUTemps(reg *metrics.Registry, st *status.Store, nowMs int64) {
	tempGauge := registerOrGetGauge(reg, "cpu_temperature_celsius", "per-sensor CPU temperature", []string{"sensor"})

	entries, err := os.ReadDir(c.thermalPath)
	if err != nil {
		return
	}
	var readings []status.TemperatureReading
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "thermal_zone") {
			continue
		}
		dir := filepath.Join(c.thermalPath, e.Name())
		milliC, err := readFloatFile(filepath.Join(dir, "temp"))
		if err != nil {
			continue
		}
		sensorName := e.Name()
		if raw, err := os.ReadFile(filepath.Join(dir, "type")); err == nil {
			sensorName = strings.TrimSpace(string(raw))
		}
		celsius := milliC / 1000.0
		tempGauge.Set(map[string]string{"sensor": sensorName}, celsius)
		readings = append(readings, status.TemperatureReading{Sensor: sensorName, Celsius: celsius})
	}
	if readings != nil {
		st.SetCPUTemperatures(readings)
	}
}

func readFloatFile(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
}
