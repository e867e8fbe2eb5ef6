// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package collectors implements the pluggable sensor adapters driven by
// the Scheduler Tick Loop. Each collector is a value type owning its own
// previous-sample state behind a minimal two-method interface; the
// differences between collectors live in their internal state machines,
// not in a deep interface hierarchy.
package collectors

import (
	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

// Collector is the general contract every sensor adapter satisfies.
// Collect must never panic; on failure it records the error via the
// status store itself (callers pass nowMs for that purpose) and returns
// an error so the tick loop can count it, without writing any partial
// state that would violate monotonic-counter invariants.
type Collector interface {
	Name() string
	Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error
}

// Delta is the shared previous-absolute/previous-instant bookkeeping
// used by every collector that converts a monotonically increasing
// external counter into a per-tick delta (network, disk, power, CPU
// ticks, PCIe/NVLink counters). The zero value is "never primed".
type Delta struct {
	primed   bool
	prevAbs  float64
	prevInst int64
}

// Observe computes the delta for a new absolute reading at instant
// nowMs. If wrapRange > 0 and the new value is smaller than the previous
// one, the delta is recovered as wrapRange - (prev - curr); otherwise a
// backward move with no declared range yields delta 0. The first
// observation for a given Delta is a priming sample: it stores state and
// returns ok=false so callers emit no rate/delta this tick.
func (d *Delta) Observe(curr float64, nowMs int64, wrapRange float64) (delta float64, dtSeconds float64, ok bool) {
	if !d.primed {
		d.primed = true
		d.prevAbs = curr
		d.prevInst = nowMs
		return 0, 0, false
	}

	if curr >= d.prevAbs {
		delta = curr - d.prevAbs
	} else if wrapRange > 0 {
		delta = wrapRange - (d.prevAbs - curr)
		if delta < 0 {
			delta = 0
		}
	} else {
		delta = 0
	}

	dtMs := nowMs - d.prevInst
	if dtMs < 0 {
		dtMs = 0
	}
	dtSeconds = float64(dtMs) / 1000.0

	d.prevAbs = curr
	d.prevInst = nowMs
	return delta, dtSeconds, true
}

// Rate divides delta by dtSeconds, returning 0 when dtSeconds is
// non-positive (guards against a division by zero on same-millisecond
// observations).
func Rate(delta, dtSeconds float64) float64 {
	if dtSeconds <= 0 {
		return 0
	}
	return delta / dtSeconds
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
