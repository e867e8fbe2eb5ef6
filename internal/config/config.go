// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the agent's configuration surface: the stable
// key set, its defaults, an environment-variable overlay for local
// development, and schema validation. Loading a config file from disk
// and command-line flag parsing are owned by an external collaborator;
// this package only owns the struct and the mechanics of arriving at a
// validated instance of it.
package config

import "time"

// LogLevel mirrors the log_level configuration key.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// OrchestratorConfig is the nested `orchestrator` config block.
type OrchestratorConfig struct {
	Enabled         bool   `json:"enabled"`
	AllowPublic     bool   `json:"allow_public"`
	Token           string `json:"token"`
	EnablePreemption bool  `json:"enable_preemption"`
	EnableReaper    bool   `json:"enable_reaper"`
}

// AgentConfig is the full, validated configuration of one agent process.
type AgentConfig struct {
	ListenAddress  string        `json:"listen_address"`
	ScrapeInterval time.Duration `json:"scrape_interval"`

	EnableCPU          bool `json:"enable_cpu"`
	EnableMemory       bool `json:"enable_memory"`
	EnableDisk         bool `json:"enable_disk"`
	EnableNetwork      bool `json:"enable_network"`
	EnableGPU          bool `json:"enable_gpu"`
	EnableGPUAmd       bool `json:"enable_gpu_amd"`
	EnablePower        bool `json:"enable_power"`
	EnableMCP          bool `json:"enable_mcp"`
	EnableApp          bool `json:"enable_app"`
	EnableRackThermals bool `json:"enable_rack_thermals"`
	EnableGPUMig       bool `json:"enable_gpu_mig"`
	EnableGPUEvents    bool `json:"enable_gpu_events"`
	EnableNuma         bool `json:"enable_numa"`

	GPUVisibleDevices string `json:"gpu_visible_devices"`
	MigConfigDevices  string `json:"mig_config_devices"`
	K8sMode           bool   `json:"k8s_mode"`

	NodePowerEnvelopeWatts float64 `json:"node_power_envelope_watts"`

	EnableLocalTsdb        bool   `json:"enable_local_tsdb"`
	LocalTsdbPath          string `json:"local_tsdb_path"`
	LocalTsdbRetentionHours int   `json:"local_tsdb_retention_hours"`
	LocalTsdbMaxDiskMB     int    `json:"local_tsdb_max_disk_mb"`
	LocalTsdbArchive       bool   `json:"local_tsdb_archive"`
	LocalTsdbArchiveS3Bucket string `json:"local_tsdb_archive_s3_bucket"`

	ManagedServer          string `json:"managed_server"`
	ManagedClusterID       string `json:"managed_cluster_id"`
	ManagedNodeID          string `json:"managed_node_id"`
	ManagedJoinToken       string `json:"managed_join_token"`
	ManagedLastContactUnixMs int64 `json:"managed_last_contact_unix_ms"`

	LogLevel LogLevel `json:"log_level"`

	Orchestrator OrchestratorConfig `json:"orchestrator"`

	AppMetricsURL string `json:"app_metrics_url"`
}

// Default returns the documented default configuration.
func Default() AgentConfig {
	return AgentConfig{
		ListenAddress:  "127.0.0.1:9400",
		ScrapeInterval: 15 * time.Second,

		EnableCPU:     true,
		EnableMemory:  true,
		EnableDisk:    true,
		EnableNetwork: true,
		EnableGPU:     true,
		EnablePower:   true,
		EnableNuma:    true,

		NodePowerEnvelopeWatts: 0,

		EnableLocalTsdb:         true,
		LocalTsdbPath:           defaultTsdbPath(),
		LocalTsdbRetentionHours: 48,
		LocalTsdbMaxDiskMB:      2048,

		LogLevel: LogLevelInfo,

		AppMetricsURL: "http://127.0.0.1:8000/metrics",
	}
}

func defaultTsdbPath() string {
	if v := lookupEnvNonEmpty("XDG_DATA_HOME"); v != "" {
		return v + "/esnode/tsdb"
	}
	if v := lookupEnvNonEmpty("HOME"); v != "" {
		return v + "/.local/share/esnode/tsdb"
	}
	return "/var/lib/esnode/tsdb"
}
