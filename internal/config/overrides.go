// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// StringOverride distinguishes "not provided" from "provided as empty
// string" (nullable-of-nullable) for optional config fields.
type StringOverride struct {
	Set   bool
	Value string
}

// Overrides is a partial AgentConfig: every field is optional, and string
// fields additionally distinguish "omit" from "set to empty".
type Overrides struct {
	ListenAddress    *string
	ManagedServer    StringOverride
	ManagedClusterID StringOverride
	ManagedNodeID    StringOverride
	ManagedJoinToken StringOverride
	AppMetricsURL    *string
	LogLevel         *LogLevel
}

// Apply merges o onto cfg, returning the merged config. Unset fields in o
// leave cfg unchanged.
func (o Overrides) Apply(cfg AgentConfig) AgentConfig {
	if o.ListenAddress != nil {
		cfg.ListenAddress = *o.ListenAddress
	}
	if o.ManagedServer.Set {
		cfg.ManagedServer = o.ManagedServer.Value
	}
	if o.ManagedClusterID.Set {
		cfg.ManagedClusterID = o.ManagedClusterID.Value
	}
	if o.ManagedNodeID.Set {
		cfg.ManagedNodeID = o.ManagedNodeID.Value
	}
	if o.ManagedJoinToken.Set {
		cfg.ManagedJoinToken = o.ManagedJoinToken.Value
	}
	if o.AppMetricsURL != nil {
		cfg.AppMetricsURL = *o.AppMetricsURL
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	return cfg
}
