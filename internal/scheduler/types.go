// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler implements the Device Scheduler: a task queue and
// scoring-based placement of tasks onto local compute devices (GPU,
// CPU, NPU, memory accelerators). It is the Go analogue of the
// original orchestrator's in-process placement loop, stripped of its
// own HTTP transport since that lives in internal/orchestrator.
package scheduler

// DeviceKind enumerates the classes of placeable compute device.
type DeviceKind string

const (
	DeviceCPU         DeviceKind = "cpu"
	DeviceGPU         DeviceKind = "gpu"
	DeviceNPU         DeviceKind = "npu"
	DeviceMemoryAccel DeviceKind = "memory_accel"
)

// Device is a placement target known to the scheduler. CurrentLoad is
// mutated by RegisterAssignment and must stay within [0, 1].
type Device struct {
	ID              string     `json:"id"`
	Kind            DeviceKind `json:"kind"`
	PeakFlopsTFlops float64    `json:"peak_flops_tflops"`
	MemGB           float64    `json:"mem_gb"`
	PowerWattsIdle  float64    `json:"power_watts_idle"`
	PowerWattsMax   float64    `json:"power_watts_max"`
	CurrentLoad     float64    `json:"current_load"`
	LastSeenUnixMs  int64      `json:"-"`
}

// LatencyClass weights how harshly a task's estimated completion time
// is penalized in the performance term of the score.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"
	LatencyMedium LatencyClass = "medium"
	LatencyHigh   LatencyClass = "high"
)

var latencyWeight = map[LatencyClass]float64{
	LatencyHigh:   1.0,
	LatencyMedium: 0.7,
	LatencyLow:    0.4,
}

// Task is a unit of placeable work.
type Task struct {
	ID              string       `json:"id"`
	EstFlops        float64      `json:"est_flops"`
	EstBytes        float64      `json:"est_bytes"`
	LatencyClass    LatencyClass `json:"latency_class"`
	PreferredKinds  []DeviceKind `json:"preferred_kinds,omitempty"`
}

// PlacementStatus is the outcome of SubmitTask.
type PlacementStatus string

const (
	StatusAssigned PlacementStatus = "Assigned"
	StatusQueued   PlacementStatus = "Queued"
)

// Placement is returned by SubmitTask.
type Placement struct {
	Status          PlacementStatus `json:"status"`
	AssignedDevice  string          `json:"assigned_device,omitempty"`
}
