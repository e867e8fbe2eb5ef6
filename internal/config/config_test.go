// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
}

func TestValidateRejectsZeroRetention(t *testing.T) {
	cfg := Default()
	cfg.LocalTsdbRetentionHours = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ConfigInvalid)
}

func TestValidateRejectsOrchestratorWithNoTokenAndNotPublic(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.Enabled = true
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ConfigInvalid)

	cfg.Orchestrator.AllowPublic = true
	require.NoError(t, Validate(cfg))
}

func TestOverridesApply(t *testing.T) {
	cfg := Default()
	addr := "0.0.0.0:9400"
	o := Overrides{
		ListenAddress:    &addr,
		ManagedServer:    StringOverride{Set: true, Value: "controller.example.com"},
		ManagedJoinToken: StringOverride{Set: true, Value: ""},
	}
	merged := o.Apply(cfg)
	assert.Equal(t, addr, merged.ListenAddress)
	assert.Equal(t, "controller.example.com", merged.ManagedServer)
	assert.Equal(t, "", merged.ManagedJoinToken)
}

func TestApplyEnvOverlay(t *testing.T) {
	t.Setenv("ESNODE_LISTEN_ADDRESS", "10.0.0.1:9400")
	t.Setenv("ESNODE_ENABLE_GPU", "false")
	cfg := Default()
	ApplyEnvOverlay(&cfg)
	assert.Equal(t, "10.0.0.1:9400", cfg.ListenAddress)
	assert.False(t, cfg.EnableGPU)
}
