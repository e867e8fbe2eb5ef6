// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegradationScoreMatchesFlags(t *testing.T) {
	s := New()
	s.SetDiskDegraded(true)
	s.SetNetworkDegraded(false)
	s.SetSwapDegraded(true)

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.DegradationScore)
	assert.Equal(t, snap.DegradationScore,
		boolToInt(snap.DiskDegraded)+boolToInt(snap.NetworkDegraded)+boolToInt(snap.SwapDegraded))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestErrorRingBoundedAt10(t *testing.T) {
	s := New()
	for i := 0; i < 15; i++ {
		s.RecordError("cpu", "boom", int64(i))
	}
	snap := s.Snapshot()
	require.Len(t, snap.LastErrors, 10)
	assert.Equal(t, int64(5), snap.LastErrors[0].TsMs)
	assert.Equal(t, int64(14), snap.LastErrors[9].TsMs)
}

func TestNodePowerWattsAbsentWhenZero(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	assert.Nil(t, snap.NodePowerWatts)

	s.SetNodePowerMicrowatts(5_000_000)
	snap = s.Snapshot()
	require.NotNil(t, snap.NodePowerWatts)
	assert.InDelta(t, 5.0, *snap.NodePowerWatts, 1e-9)
}

func TestAppTokensPerWattDerivation(t *testing.T) {
	s := New()
	s.SetAppMetrics(100)
	snap := s.Snapshot()
	require.NotNil(t, snap.AppTokensPerSec)
	assert.Nil(t, snap.AppTokensPerWatt, "absent until node power is known")

	s.SetNodePowerMicrowatts(10_000_000) // 10W
	snap = s.Snapshot()
	require.NotNil(t, snap.AppTokensPerWatt)
	assert.InDelta(t, 10.0, *snap.AppTokensPerWatt, 1e-9)
}

func TestLoadAvgScaling(t *testing.T) {
	s := New()
	s.SetLoadAvg(0.5, 1.25, 2.0)
	snap := s.Snapshot()
	assert.InDelta(t, 0.5, snap.Host.LoadAvg1, 1e-9)
	assert.InDelta(t, 1.25, snap.Host.LoadAvg5, 1e-9)
	assert.InDelta(t, 2.0, snap.Host.LoadAvg15, 1e-9)
}
