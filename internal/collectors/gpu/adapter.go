// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gpu implements the gpu and gpu-events collectors. Per the
// design notes, all vendor-library calls (NVML, ROCm-SMI, and similar)
// are isolated behind one adapter interface; the collector itself only
// ever sees this package's own types. The out-of-the-box adapter is
// Null, which enumerates zero devices — the production binding point is
// github.com/NVIDIA/go-nvml, wired in exactly the shape this interface
// already expects (enumerate/identity/counters/events), but calling into
// it is explicitly out of scope for this agent (spec treats "calling the
// vendor GPU library" as an external collaborator).
package gpu

import (
	"context"

	"github.com/esnode-project/esnode-agent/internal/status"
)

// ThrottleReasons is the raw vendor throttle-reason bitmask, already
// classified into the three buckets the status layer exposes as flags.
type ThrottleReasons struct {
	Thermal bool
	Power   bool
	Other   bool
}

// EccScope distinguishes the volatile (since-boot) and aggregate
// (lifetime) ECC counter scopes a vendor library typically exposes.
type EccScope string

const (
	EccScopeVolatile  EccScope = "volatile"
	EccScopeAggregate EccScope = "aggregate"
)

// RawLinkSample is one fabric link's cumulative counters as read this
// tick, before delta bookkeeping.
type RawLinkSample struct {
	Type     status.FabricLinkType
	LinkID   int
	RxBytes  uint64
	TxBytes  uint64
	// Errors is keyed by error kind (replay, recovery, crc, other for
	// NVLink; a single "other" bucket for PCIe fallback links).
	Errors map[string]uint64
}

// RawDeviceSample is one device's full set of cumulative/instantaneous
// readings for one tick, as produced by an Adapter. Counters here (ECC,
// PCIe replay, link bytes/errors) are cumulative device totals; the
// collector is responsible for all delta bookkeeping.
type RawDeviceSample struct {
	UUID         string
	Index        int
	Vendor       status.GpuVendor
	Capabilities status.GpuCapabilities
	Identity     status.GpuIdentity
	Topo         status.GpuTopo

	UtilizationPercent float64
	MemTotalBytes      uint64
	MemUsedBytes       uint64
	TemperatureC       float64
	PowerWatts         float64
	FanPercent         float64
	ClockSMMHz         uint32
	ClockMemMHz        uint32
	ClockGraphicsMHz   uint32
	PerformanceState   int
	Bar1TotalBytes     uint64
	Bar1UsedBytes      uint64
	EncoderUtil        float64
	DecoderUtil        float64
	CopyUtil           float64

	EccCorrected   map[EccScope]uint64
	EccUncorrected map[EccScope]uint64

	ThrottleReasons ThrottleReasons
	PCIeReplayTotal uint64
	RetiredPages    uint64
	LastXid         int

	Links []RawLinkSample

	// Mig is nil when the device has no MIG capability or MIG is disabled.
	Mig *status.MigTree
}

// EventKind classifies one asynchronous GPU event.
type EventKind string

const (
	EventXid       EventKind = "xid"
	EventEccSingle EventKind = "ecc_single"
	EventEccDouble EventKind = "ecc_double"
	EventPstate    EventKind = "pstate"
	EventClock     EventKind = "clock"
	EventOther     EventKind = "other"
)

// EventRecord is one decoded asynchronous device event.
type EventRecord struct {
	UUID    string
	Index   int
	Kind    EventKind
	XidCode *int
	TsMs    int64
}

// Adapter is the one vendor-library isolation boundary. Enumerate lists
// currently visible devices; Sample reads one device's full counter set;
// NextEvent blocks (bounded by ctx) for the next asynchronous event.
type Adapter interface {
	// Available reports whether the underlying vendor library was found
	// and initialised; false means the gpu collector disables itself.
	Available() bool
	Enumerate(ctx context.Context) ([]string, error) // returns UUIDs
	Sample(ctx context.Context, uuid string) (RawDeviceSample, error)
	NextEvent(ctx context.Context) (EventRecord, error)
}

// NullAdapter is used whenever no vendor GPU library is present on the
// host; Enumerate always returns zero devices and NextEvent blocks until
// ctx is done, matching the "never fatal, mark disabled" design note.
type NullAdapter struct{}

func (NullAdapter) Available() bool { return false }

func (NullAdapter) Enumerate(context.Context) ([]string, error) { return nil, nil }

func (NullAdapter) Sample(context.Context, string) (RawDeviceSample, error) {
	return RawDeviceSample{}, nil
}

func (NullAdapter) NextEvent(ctx context.Context) (EventRecord, error) {
	<-ctx.Done()
	return EventRecord{}, ctx.Err()
}
