// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package status

// PackagePower is one RAPL/CPU-package power reading.
type PackagePower struct {
	Zone  string  `json:"zone"`
	Watts float64 `json:"watts"`
}

// TemperatureReading is one CPU thermal sensor reading.
type TemperatureReading struct {
	Sensor  string  `json:"sensor"`
	Celsius float64 `json:"celsius"`
}

// CollectorError is one entry in the bounded last-errors ring.
type CollectorError struct {
	Collector string `json:"collector"`
	Message   string `json:"message"`
	TsMs      int64  `json:"ts_ms"`
}

// GpuVendor tags the hardware vendor of a GPU record.
type GpuVendor string

const (
	GpuVendorNvidia GpuVendor = "nvidia"
	GpuVendorAmd    GpuVendor = "amd"
	GpuVendorIntel  GpuVendor = "intel"
	GpuVendorUnknown GpuVendor = "unknown"
)

// FabricLinkType identifies the kind of physical accelerator interconnect.
type FabricLinkType string

const (
	FabricLinkNVLink        FabricLinkType = "nvlink"
	FabricLinkPCIe          FabricLinkType = "pcie"
	FabricLinkInfinityFabric FabricLinkType = "infinity_fabric"
	FabricLinkXeLink        FabricLinkType = "xe_link"
)

// FabricLink is one per-link fabric counter set.
type FabricLink struct {
	Type     FabricLinkType `json:"type"`
	LinkID   int            `json:"link_id"`
	RxBytes  uint64         `json:"rx_bytes"`
	TxBytes  uint64         `json:"tx_bytes"`
	ErrCount uint64         `json:"err_count"`
}

// GpuIdentity is the stable identity of a GPU device.
type GpuIdentity struct {
	PciBusID        string `json:"pci_bus_id"`
	DriverVersion   string `json:"driver_version"`
	NvmlVersion     string `json:"nvml_version"`
	CudaVersion     string `json:"cuda_version"`
	DeviceID        string `json:"device_id"`
	SubsystemID     string `json:"subsystem_id"`
	NumaNode        int    `json:"numa_node"`
}

// GpuTopo is the current topology of a GPU device.
type GpuTopo struct {
	PcieGen   int `json:"pcie_gen"`
	PcieWidth int `json:"pcie_width"`
}

// GpuCapabilities are static feature flags of a GPU device.
type GpuCapabilities struct {
	MigCapable   bool `json:"mig_capable"`
	SrIovCapable bool `json:"sr_iov_capable"`
}

// GpuHealth is the health-related state of a GPU device.
type GpuHealth struct {
	PerformanceState int      `json:"performance_state"`
	ThrottleReasons  []string `json:"throttle_reasons"`
	EccMode          bool     `json:"ecc_mode"`
	RetiredPages     uint64   `json:"retired_pages"`
	LastXid          int      `json:"last_xid"`
	EncoderUtil      float64  `json:"encoder_util"`
	DecoderUtil      float64  `json:"decoder_util"`
	CopyUtil         float64  `json:"copy_util"`
	Bar1TotalBytes   uint64   `json:"bar1_total_bytes"`
	Bar1UsedBytes    uint64   `json:"bar1_used_bytes"`
}

// GpuInstanceNode is one MIG GPU-instance node.
type GpuInstanceNode struct {
	ID       int `json:"id"`
	ParentID int `json:"parent_id"`
}

// ComputeInstanceNode is one MIG compute-instance node.
type ComputeInstanceNode struct {
	ID       int `json:"id"`
	ParentID int `json:"parent_id"`
}

// MigDeviceStatus is one MIG device slice.
type MigDeviceStatus struct {
	ID             int     `json:"id"`
	ParentID       int     `json:"parent_id"`
	UUID           string  `json:"uuid"`
	MemTotalBytes  uint64  `json:"mem_total_bytes"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	Utilization    float64 `json:"utilization"`
	Profile        string  `json:"profile"`
	Placement      string  `json:"placement"`
	Bar1TotalBytes uint64  `json:"bar1_total_bytes"`
	Bar1UsedBytes  uint64  `json:"bar1_used_bytes"`
	EccCorrected   uint64  `json:"ecc_corrected"`
	EccUncorrected uint64  `json:"ecc_uncorrected"`
}

// MigTree is the flat, parent-id-indexed representation of a device's
// MIG hierarchy (GPU -> GI -> CI -> MIG device); see design notes on
// cyclic shape avoidance.
type MigTree struct {
	Supported bool                  `json:"supported"`
	Enabled   bool                  `json:"enabled"`
	GI        []GpuInstanceNode     `json:"gi"`
	CI        []ComputeInstanceNode `json:"ci"`
	Devices   []MigDeviceStatus     `json:"devices"`
}

// GpuStatus is the consolidated per-device record assembled by the gpu
// collector and held in the Status Store's GPU list.
type GpuStatus struct {
	UUID             string          `json:"uuid"`
	Index            int             `json:"index"`
	Vendor           GpuVendor       `json:"vendor"`
	Capabilities     GpuCapabilities `json:"capabilities"`
	Identity         GpuIdentity     `json:"identity"`
	Topo             GpuTopo         `json:"topo"`
	Health           GpuHealth       `json:"health"`
	Links            []FabricLink    `json:"links"`
	Mig              *MigTree        `json:"mig,omitempty"`
	TemperatureC     float64         `json:"temperature_c"`
	PowerWatts       float64         `json:"power_watts"`
	Utilization      float64         `json:"utilization"`
	MemTotalBytes    uint64          `json:"mem_total_bytes"`
	MemUsedBytes     uint64          `json:"mem_used_bytes"`
	FanPercent       float64         `json:"fan_percent"`
	ClockSmMHz       uint32          `json:"clock_sm_mhz"`
	ClockMemMHz      uint32          `json:"clock_mem_mhz"`
	ClockGraphicsMHz uint32          `json:"clock_graphics_mhz"`
	ThermalThrottle  bool            `json:"thermal_throttle"`
	PowerThrottle    bool            `json:"power_throttle"`
}

// HostMetrics is the flat host-summary portion of a StatusSnapshot.
type HostMetrics struct {
	CPUCoreCount int     `json:"cpu_core_count"`
	LoadAvg1     float64 `json:"load_avg_1"`
	LoadAvg5     float64 `json:"load_avg_5"`
	LoadAvg15    float64 `json:"load_avg_15"`
	UptimeSeconds uint64 `json:"uptime_seconds"`

	MemTotalBytes     uint64 `json:"mem_total_bytes"`
	MemUsedBytes      uint64 `json:"mem_used_bytes"`
	MemFreeBytes      uint64 `json:"mem_free_bytes"`
	MemAvailableBytes uint64 `json:"mem_available_bytes"`
	SwapUsedBytes     uint64 `json:"swap_used_bytes"`

	DiskRoots []DiskRootSummary `json:"disk_roots"`

	PrimaryInterface string  `json:"primary_interface"`
	RxBytesPerSec    float64 `json:"rx_bytes_per_sec"`
	TxBytesPerSec    float64 `json:"tx_bytes_per_sec"`
}

// DiskRootSummary is a per-mount total/used/free + io time summary.
type DiskRootSummary struct {
	Mount      string `json:"mount"`
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	IoTimeMs   uint64 `json:"io_time_ms"`
}

// StatusSnapshot is the single value-typed record produced by one atomic
// read of the Status Store.
type StatusSnapshot struct {
	Healthy           bool                 `json:"healthy"`
	Host              HostMetrics          `json:"host"`
	NodePowerWatts    *float64             `json:"node_power_watts,omitempty"`
	PackagePower      []PackagePower       `json:"package_power"`
	Temperatures      []TemperatureReading `json:"temperatures"`
	GPUs              []GpuStatus          `json:"gpus"`
	DiskDegraded      bool                 `json:"disk_degraded"`
	NetworkDegraded   bool                 `json:"network_degraded"`
	SwapDegraded      bool                 `json:"swap_degraded"`
	DegradationScore  int                  `json:"degradation_score"`
	AppTokensPerSec   *float64             `json:"app_tokens_per_sec,omitempty"`
	AppTokensPerWatt  *float64             `json:"app_tokens_per_watt,omitempty"`
	LastScrapeUnixMs  int64                `json:"last_scrape_unix_ms"`
	LastErrors        []CollectorError     `json:"last_errors"`
}
