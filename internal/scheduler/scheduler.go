// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"math"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/metrics"
)

const tickInterval = 5 * time.Second

// Scheduler holds the known devices and the pending task queue, and
// places tasks onto devices by score. All public methods are
// goroutine-safe; a single mutex guards both maps since tasks are
// placed one at a time and contention is expected to be low.
type Scheduler struct {
	mu            sync.Mutex
	devices       map[string]*Device
	order         []string // first-seen device order, for score-tie breaking
	pending       []Task
	weights       Weights
	exprScorer    *ExprScorer // optional, overrides the built-in formula when set
	registry      *metrics.Registry
	sched         gocron.Scheduler

	assignedTotal *metrics.Counter
	queuedTotal   *metrics.Counter
	pendingGauge  *metrics.Gauge

	enableReaper     bool
	enablePreemption bool
}

// New constructs a Scheduler with the built-in weighted scorer. Pass
// devices already known at startup, if any.
func New(reg *metrics.Registry, initial []Device) *Scheduler {
	s := &Scheduler{
		devices:  make(map[string]*Device, len(initial)),
		weights:  DefaultWeights,
		registry: reg,
	}
	for i := range initial {
		d := initial[i]
		s.devices[d.ID] = &d
		s.order = append(s.order, d.ID)
	}
	if reg != nil {
		s.assignedTotal = mustCounter(reg, "scheduler_assigned_total", "Tasks placed immediately on submission.")
		s.queuedTotal = mustCounter(reg, "scheduler_queued_total", "Tasks that could not be placed immediately.")
		s.pendingGauge = mustGauge(reg, "scheduler_pending_tasks", "Current pending-queue depth.")
	}
	return s
}

// UseExprScorer switches the scorer used by PickDevice to an
// expr-lang expression, in place of the built-in weighted formula.
func (s *Scheduler) UseExprScorer(scorer *ExprScorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exprScorer = scorer
}

// UseWeights overrides the built-in scorer's coefficients.
func (s *Scheduler) UseWeights(w Weights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = w
}

// SetFeatureToggles enables the zombie-reaper and flash-preemption
// ticks; both are no-op hooks (see reaper.go, preemption.go) left
// unimplemented in the original, but callers still gate whether they
// fire at all per the orchestrator config block.
func (s *Scheduler) SetFeatureToggles(reaper, preemption bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enableReaper = reaper
	s.enablePreemption = preemption
}

// UpdateDevice upserts d by ID.
func (s *Scheduler) UpdateDevice(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateDeviceLocked(d)
}

func (s *Scheduler) updateDeviceLocked(d Device) {
	if _, exists := s.devices[d.ID]; !exists {
		s.order = append(s.order, d.ID)
	}
	cp := d
	s.devices[d.ID] = &cp
}

// PickDevice returns the best-scoring device ID for t, or "" if none
// qualifies. Devices are visited in first-seen order so ties resolve
// to the first candidate encountered.
func (s *Scheduler) PickDevice(t *Task) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickDeviceLocked(t)
}

func (s *Scheduler) pickDeviceLocked(t *Task) string {
	bestID := ""
	bestScore := math.Inf(-1)
	for _, id := range s.order {
		d, ok := s.devices[id]
		if !ok {
			continue
		}
		if !deviceAllowed(t, d) {
			continue
		}
		if d.CurrentLoad >= overloadThreshold {
			continue
		}

		var sc float64
		if s.exprScorer != nil {
			v, err := s.exprScorer.score(t, d)
			if err != nil {
				elog.Warnf("scheduler: expr scorer: %v", err)
				continue
			}
			sc = v
		} else {
			sc = score(t, d, s.weights)
		}

		if sc > bestScore {
			bestScore = sc
			bestID = id
		}
	}
	return bestID
}

// RegisterAssignment mutates deviceID's expected load to reflect
// having just been assigned t.
func (s *Scheduler) RegisterAssignment(deviceID string, t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerAssignmentLocked(deviceID, t)
}

func (s *Scheduler) registerAssignmentLocked(deviceID string, t *Task) {
	d, ok := s.devices[deviceID]
	if !ok {
		return
	}
	inc := loadIncrease(t, d)
	d.CurrentLoad += inc
	if d.CurrentLoad > 1.0 {
		d.CurrentLoad = 1.0
	}
	elog.Infof("scheduler: assigned %s to %s (load now %.1f%%)", t.ID, deviceID, d.CurrentLoad*100)
}

// SubmitTask attempts immediate placement; on failure the task is
// enqueued for retry on the next Tick.
func (s *Scheduler) SubmitTask(t Task) Placement {
	s.mu.Lock()
	defer s.mu.Unlock()

	if devID := s.pickDeviceLocked(&t); devID != "" {
		s.registerAssignmentLocked(devID, &t)
		if s.assignedTotal != nil {
			_ = s.assignedTotal.Add(nil, 1)
		}
		return Placement{Status: StatusAssigned, AssignedDevice: devID}
	}

	s.pending = append(s.pending, t)
	if s.queuedTotal != nil {
		_ = s.queuedTotal.Add(nil, 1)
	}
	s.setPendingGaugeLocked()
	return Placement{Status: StatusQueued}
}

// Tick drains the pending queue in a single pass: every currently
// queued task gets one placement attempt; tasks that still don't fit
// are pushed back to the tail in their original relative order.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	remaining := s.pending[:0:0]
	for i := 0; i < n; i++ {
		t := s.pending[i]
		if devID := s.pickDeviceLocked(&t); devID != "" {
			s.registerAssignmentLocked(devID, &t)
			if s.assignedTotal != nil {
				_ = s.assignedTotal.Add(nil, 1)
			}
		} else {
			remaining = append(remaining, t)
		}
	}
	s.pending = remaining
	s.setPendingGaugeLocked()

	if s.enableReaper {
		runReaperCheck(s)
	}
	if s.enablePreemption {
		runPreemptionCheck(s)
	}
}

func (s *Scheduler) setPendingGaugeLocked() {
	if s.pendingGauge != nil {
		_ = s.pendingGauge.Set(nil, float64(len(s.pending)))
	}
}

func mustCounter(reg *metrics.Registry, name, help string) *metrics.Counter {
	if c, ok := reg.Counter(name); ok {
		return c
	}
	c, err := reg.RegisterCounter(name, help, nil)
	if err != nil {
		elog.Warnf("scheduler: registering counter %s: %v", name, err)
		return nil
	}
	return c
}

func mustGauge(reg *metrics.Registry, name, help string) *metrics.Gauge {
	if g, ok := reg.Gauge(name); ok {
		return g
	}
	g, err := reg.RegisterGauge(name, help, nil)
	if err != nil {
		elog.Warnf("scheduler: registering gauge %s: %v", name, err)
		return nil
	}
	return g
}

// Snapshot returns a point-in-time copy of devices and the pending
// queue length, for the orchestrator's GET /metrics view.
func (s *Scheduler) Snapshot() (devices []Device, pendingTasks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices = make([]Device, 0, len(s.devices))
	for _, id := range s.order {
		if d, ok := s.devices[id]; ok {
			devices = append(devices, *d)
		}
	}
	return devices, len(s.pending)
}

// Start runs Tick on a fixed cadence via its own gocron scheduler,
// independent of the collector tick loop, matching the original
// orchestrator's 5 s run_loop.
func (s *Scheduler) Start() error {
	sc, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.sched = sc
	_, err = sc.NewJob(gocron.DurationJob(tickInterval), gocron.NewTask(s.Tick))
	if err != nil {
		return err
	}
	sc.Start()
	return nil
}

func (s *Scheduler) Shutdown() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}
