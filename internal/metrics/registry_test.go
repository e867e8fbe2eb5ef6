// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
)

func TestRegisterCounterDuplicateFails(t *testing.T) {
	r := New()
	_, err := r.RegisterCounter("cpu_seconds_total", "cpu time", []string{"state"})
	require.NoError(t, err)

	_, err = r.RegisterCounter("cpu_seconds_total", "cpu time", []string{"state"})
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.AlreadyRegistered)
}

func TestCounterWithLabelCardinalityMismatch(t *testing.T) {
	r := New()
	c, err := r.RegisterCounter("net_rx_bytes_total", "rx bytes", []string{"iface"})
	require.NoError(t, err)

	err = c.Add(map[string]string{"iface": "eth0", "extra": "x"}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.LabelCardinalityMismatch)
}

func TestCounterAddAndEncode(t *testing.T) {
	r := New()
	c, err := r.RegisterCounter("gpu_events_total", "gpu events", []string{"kind"})
	require.NoError(t, err)
	require.NoError(t, c.Add(map[string]string{"kind": "xid"}, 3))
	require.NoError(t, c.Add(map[string]string{"kind": "xid"}, 2))

	g, err := r.RegisterGauge("gpu_power_watts", "gpu power", []string{"uuid", "index"})
	require.NoError(t, err)
	require.NoError(t, g.Set(map[string]string{"uuid": "U", "index": "0"}, 120.5))

	text, err := r.EncodeText()
	require.NoError(t, err)
	body := string(text)
	assert.True(t, strings.Contains(body, "gpu_events_total"))
	assert.True(t, strings.Contains(body, `kind="xid"`))
	assert.True(t, strings.Contains(body, "5"))
	assert.True(t, strings.Contains(body, "gpu_power_watts"))
}

func TestGatherReturnsFamilies(t *testing.T) {
	r := New()
	_, err := r.RegisterGauge("node_power_watts", "node power", nil)
	require.NoError(t, err)
	g := r.MustGauge("node_power_watts")
	require.NoError(t, g.Set(nil, 42))

	families, err := r.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "node_power_watts", families[0].GetName())
}
