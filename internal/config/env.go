// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/esnode-project/esnode-agent/internal/elog"
)

const envPrefix = "ESNODE_"

func lookupEnvNonEmpty(name string) string {
	v, ok := os.LookupEnv(name)
	if !ok {
		return ""
	}
	return v
}

// LoadDotEnvIfPresent optionally overlays a local .env file on top of
// the process environment; it is never required in production. A
// missing file is silently ignored.
func LoadDotEnvIfPresent(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		elog.Warnf("config: failed loading %s: %v", path, err)
	}
}

// ApplyEnvOverlay overrides cfg fields from ESNODE_-prefixed environment
// variables, one per stable config key, uppercased with the agent's
// prefix (e.g. ESNODE_LISTEN_ADDRESS, ESNODE_SCRAPE_INTERVAL).
func ApplyEnvOverlay(cfg *AgentConfig) {
	if v := os.Getenv(envPrefix + "LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv(envPrefix + "SCRAPE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ScrapeInterval = d
		}
	}
	overlayBool(envPrefix+"ENABLE_CPU", &cfg.EnableCPU)
	overlayBool(envPrefix+"ENABLE_MEMORY", &cfg.EnableMemory)
	overlayBool(envPrefix+"ENABLE_DISK", &cfg.EnableDisk)
	overlayBool(envPrefix+"ENABLE_NETWORK", &cfg.EnableNetwork)
	overlayBool(envPrefix+"ENABLE_GPU", &cfg.EnableGPU)
	overlayBool(envPrefix+"ENABLE_GPU_AMD", &cfg.EnableGPUAmd)
	overlayBool(envPrefix+"ENABLE_POWER", &cfg.EnablePower)
	overlayBool(envPrefix+"ENABLE_MCP", &cfg.EnableMCP)
	overlayBool(envPrefix+"ENABLE_APP", &cfg.EnableApp)
	overlayBool(envPrefix+"ENABLE_RACK_THERMALS", &cfg.EnableRackThermals)
	overlayBool(envPrefix+"ENABLE_GPU_MIG", &cfg.EnableGPUMig)
	overlayBool(envPrefix+"ENABLE_GPU_EVENTS", &cfg.EnableGPUEvents)
	overlayBool(envPrefix+"ENABLE_NUMA", &cfg.EnableNuma)
	overlayBool(envPrefix+"K8S_MODE", &cfg.K8sMode)
	overlayBool(envPrefix+"ENABLE_LOCAL_TSDB", &cfg.EnableLocalTsdb)
	overlayBool(envPrefix+"LOCAL_TSDB_ARCHIVE", &cfg.LocalTsdbArchive)

	if v := os.Getenv(envPrefix + "GPU_VISIBLE_DEVICES"); v != "" {
		cfg.GPUVisibleDevices = v
	}
	if v := os.Getenv(envPrefix + "MIG_CONFIG_DEVICES"); v != "" {
		cfg.MigConfigDevices = v
	}
	overlayFloat(envPrefix+"NODE_POWER_ENVELOPE_WATTS", &cfg.NodePowerEnvelopeWatts)
	if v := os.Getenv(envPrefix + "LOCAL_TSDB_PATH"); v != "" {
		cfg.LocalTsdbPath = v
	}
	overlayInt(envPrefix+"LOCAL_TSDB_RETENTION_HOURS", &cfg.LocalTsdbRetentionHours)
	overlayInt(envPrefix+"LOCAL_TSDB_MAX_DISK_MB", &cfg.LocalTsdbMaxDiskMB)
	if v := os.Getenv(envPrefix + "LOCAL_TSDB_ARCHIVE_S3_BUCKET"); v != "" {
		cfg.LocalTsdbArchiveS3Bucket = v
	}

	if v := os.Getenv(envPrefix + "MANAGED_SERVER"); v != "" {
		cfg.ManagedServer = v
	}
	if v := os.Getenv(envPrefix + "MANAGED_CLUSTER_ID"); v != "" {
		cfg.ManagedClusterID = v
	}
	if v := os.Getenv(envPrefix + "MANAGED_NODE_ID"); v != "" {
		cfg.ManagedNodeID = v
	}
	if v := os.Getenv(envPrefix + "MANAGED_JOIN_TOKEN"); v != "" {
		cfg.ManagedJoinToken = v
	}
	if v := os.Getenv(envPrefix + "MANAGED_LAST_CONTACT_UNIX_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ManagedLastContactUnixMs = n
		}
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = LogLevel(v)
	}
	if v := os.Getenv(envPrefix + "APP_METRICS_URL"); v != "" {
		cfg.AppMetricsURL = v
	}

	overlayBool(envPrefix+"ORCHESTRATOR_ENABLED", &cfg.Orchestrator.Enabled)
	overlayBool(envPrefix+"ORCHESTRATOR_ALLOW_PUBLIC", &cfg.Orchestrator.AllowPublic)
	overlayBool(envPrefix+"ORCHESTRATOR_ENABLE_PREEMPTION", &cfg.Orchestrator.EnablePreemption)
	overlayBool(envPrefix+"ORCHESTRATOR_ENABLE_REAPER", &cfg.Orchestrator.EnableReaper)
	if v := os.Getenv(envPrefix + "ORCHESTRATOR_TOKEN"); v != "" {
		cfg.Orchestrator.Token = v
	}
}

func overlayBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		elog.Warnf("config: %s is not a bool: %v", key, err)
		return
	}
	*dst = b
}

func overlayInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		elog.Warnf("config: %s is not an int: %v", key, err)
		return
	}
	*dst = n
}

func overlayFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		elog.Warnf("config: %s is not a float: %v", key, err)
		return
	}
	*dst = f
}
