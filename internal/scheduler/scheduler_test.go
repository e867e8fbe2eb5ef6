// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/metrics"
)

func gpuDevice(id string, load float64) Device {
	return Device{
		ID:              id,
		Kind:            DeviceGPU,
		PeakFlopsTFlops: 100,
		MemGB:           80,
		PowerWattsIdle:  50,
		PowerWattsMax:   400,
		CurrentLoad:     load,
	}
}

func TestPickDevicePrefersLowerLoad(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.8), gpuDevice("gpu1", 0.1)})
	task := Task{ID: "t1", EstFlops: 1e12, EstBytes: 1e6, LatencyClass: LatencyHigh}

	id := s.PickDevice(&task)
	assert.Equal(t, "gpu1", id)
}

func TestPickDeviceFiltersByPreferredKind(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.1)})
	task := Task{ID: "t1", EstFlops: 1e12, LatencyClass: LatencyLow, PreferredKinds: []DeviceKind{DeviceCPU}}

	assert.Equal(t, "", s.PickDevice(&task))
}

func TestPickDeviceSkipsOverloadedDevice(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.96)})
	task := Task{ID: "t1", EstFlops: 1e12, LatencyClass: LatencyHigh}

	assert.Equal(t, "", s.PickDevice(&task))
}

func TestSubmitTaskAssignsAndIncreasesLoad(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.0)})
	task := Task{ID: "t1", EstFlops: 10e12, EstBytes: 1e6, LatencyClass: LatencyHigh}

	placement := s.SubmitTask(task)
	require.Equal(t, StatusAssigned, placement.Status)
	assert.Equal(t, "gpu0", placement.AssignedDevice)

	devices, pending := s.Snapshot()
	require.Len(t, devices, 1)
	assert.Equal(t, 0, pending)
	assert.InDelta(t, 0.1, devices[0].CurrentLoad, 1e-9)
}

func TestSubmitTaskQueuesWhenNoDeviceFits(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.99)})
	task := Task{ID: "t1", EstFlops: 1e12, LatencyClass: LatencyMedium}

	placement := s.SubmitTask(task)
	assert.Equal(t, StatusQueued, placement.Status)
	assert.Empty(t, placement.AssignedDevice)

	_, pending := s.Snapshot()
	assert.Equal(t, 1, pending)
}

func TestTickRetriesPendingQueue(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.99)})
	task := Task{ID: "t1", EstFlops: 1e12, LatencyClass: LatencyMedium}
	require.Equal(t, StatusQueued, s.SubmitTask(task).Status)

	s.UpdateDevice(gpuDevice("gpu0", 0.0))
	s.Tick()

	_, pending := s.Snapshot()
	assert.Equal(t, 0, pending)
}

func TestLoadIncreaseCappedAtHalf(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.0)})
	task := Task{ID: "huge", EstFlops: 1000e12, LatencyClass: LatencyHigh}

	s.RegisterAssignment("gpu0", &task)
	devices, _ := s.Snapshot()
	assert.InDelta(t, 0.5, devices[0].CurrentLoad, 1e-9)
}

func TestExprScorerOverridesBuiltinFormula(t *testing.T) {
	s := New(metrics.New(), []Device{gpuDevice("gpu0", 0.1), gpuDevice("gpu1", 0.9)})
	scorer, err := NewExprScorer("current_load")
	require.NoError(t, err)
	s.UseExprScorer(scorer)

	task := Task{ID: "t1", EstFlops: 1e12, LatencyClass: LatencyHigh}
	assert.Equal(t, "gpu1", s.PickDevice(&task))
}
