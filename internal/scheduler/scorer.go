// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
)

// Weights are the default score coefficients, matching the original
// orchestrator's defaults exactly.
type Weights struct {
	AlphaPerf       float64
	BetaEnergy      float64
	GammaCongestion float64
	DeltaData       float64
}

// DefaultWeights are the scorer's built-in coefficients.
var DefaultWeights = Weights{AlphaPerf: 1.0, BetaEnergy: 0.7, GammaCongestion: 0.5, DeltaData: 0.3}

const (
	overloadThreshold  = 0.95
	loadHeadroom       = 0.2
	minEffFlopsRatio   = 0.1
	minEffFlops        = 1e-6
	tflopsToFlops      = 1e12
	bytesPerGigabyte   = 1e9
	maxLoadIncreasePer = 0.5
)

func deviceAllowed(t *Task, d *Device) bool {
	if len(t.PreferredKinds) == 0 {
		return true
	}
	for _, k := range t.PreferredKinds {
		if k == d.Kind {
			return true
		}
	}
	return false
}

// perfTime returns the estimated wall-clock time (seconds) for t to run
// on d, given d's current load.
func perfTime(t *Task, d *Device) float64 {
	peakFlops := d.PeakFlopsTFlops * tflopsToFlops
	headroom := 1.0 - d.CurrentLoad
	if headroom < minEffFlopsRatio {
		headroom = minEffFlopsRatio
	}
	effFlops := peakFlops * headroom
	if effFlops < minEffFlops {
		effFlops = minEffFlops
	}
	return t.EstFlops / effFlops
}

func perfScore(t *Task, d *Device, timeSeconds float64) float64 {
	weight, ok := latencyWeight[t.LatencyClass]
	if !ok {
		weight = latencyWeight[LatencyMedium]
	}
	return -timeSeconds * weight
}

func energyScore(d *Device, timeSeconds float64) float64 {
	effectiveLoad := d.CurrentLoad + loadHeadroom
	if effectiveLoad > 1.0 {
		effectiveLoad = 1.0
	}
	powerWatts := d.PowerWattsIdle + (d.PowerWattsMax-d.PowerWattsIdle)*effectiveLoad
	return powerWatts * timeSeconds
}

func congestionPenalty(d *Device) float64 {
	return d.CurrentLoad * d.CurrentLoad
}

func dataMovementCost(t *Task) float64 {
	return t.EstBytes / bytesPerGigabyte
}

// score computes the weighted placement score for (t, d); higher is
// better. It does not check eligibility (overload, kind filter) — the
// caller filters before scoring.
func score(t *Task, d *Device, w Weights) float64 {
	timeSeconds := perfTime(t, d)
	perf := perfScore(t, d, timeSeconds)
	energy := energyScore(d, timeSeconds)
	congestion := congestionPenalty(d)
	dataCost := dataMovementCost(t)
	return w.AlphaPerf*perf - w.BetaEnergy*energy - w.GammaCongestion*congestion - w.DeltaData*dataCost
}

// loadIncrease returns the clamped load delta register_assignment
// applies to d after placing t.
func loadIncrease(t *Task, d *Device) float64 {
	peakFlops := d.PeakFlopsTFlops * tflopsToFlops
	inc := t.EstFlops / peakFlops
	if inc > maxLoadIncreasePer {
		inc = maxLoadIncreasePer
	}
	if inc < 0 {
		inc = 0
	}
	return inc
}

// ExprScorer evaluates a user-supplied expr-lang expression in place of
// the built-in weighted formula. The expression is compiled once and
// evaluated per candidate device, receiving the same named terms the
// built-in scorer computes (perf, energy, congestion, data_cost) plus
// task/device fields, so operators can re-weight or replace the
// formula without a rebuild.
type ExprScorer struct {
	program *vm.Program
}

// NewExprScorer compiles expression, which must evaluate to a float.
func NewExprScorer(expression string) (*ExprScorer, error) {
	program, err := expr.Compile(expression, expr.AsFloat64())
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "scheduler: compiling scorer expression: "+err.Error())
	}
	return &ExprScorer{program: program}, nil
}

func (s *ExprScorer) score(t *Task, d *Device) (float64, error) {
	timeSeconds := perfTime(t, d)
	env := map[string]any{
		"perf":            perfScore(t, d, timeSeconds),
		"energy":          energyScore(d, timeSeconds),
		"congestion":      congestionPenalty(d),
		"data_cost":       dataMovementCost(t),
		"time_seconds":    timeSeconds,
		"current_load":    d.CurrentLoad,
		"peak_flops":      d.PeakFlopsTFlops,
		"mem_gb":          d.MemGB,
		"est_flops":       t.EstFlops,
		"est_bytes":       t.EstBytes,
	}
	out, err := expr.Run(s.program, env)
	if err != nil {
		return 0, agenterr.Wrap(agenterr.TransientIO, "scheduler: evaluating scorer expression: "+err.Error())
	}
	v, _ := out.(float64)
	return v, nil
}
