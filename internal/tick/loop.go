// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tick implements the Scheduler Tick Loop: the single
// sequential driver that invokes every registered collector once per
// interval, in registration order, and never overlaps one tick with
// the next.
package tick

import (
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/esnode-project/esnode-agent/internal/collectors"
	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

// Clock abstracts time.Now so tests can control elapsed time without
// sleeping.
type Clock func() time.Time

// Loop owns the ordered collector list and the gocron scheduler that
// drives it.
type Loop struct {
	collectors []collectors.Collector
	registry   *metrics.Registry
	store      *status.Store
	interval   time.Duration
	clock      Clock

	onTick func(nowMs int64)

	running atomic.Bool // B2: guards against overlapping ticks
	sched   gocron.Scheduler
}

func New(reg *metrics.Registry, st *status.Store, interval time.Duration, cs ...collectors.Collector) *Loop {
	return &Loop{
		collectors: cs,
		registry:   reg,
		store:      st,
		interval:   interval,
		clock:      time.Now,
	}
}

// OnTick registers a hook invoked after every collector pass with the
// tick's timestamp, used to gate the LTSB's 30-second flush cadence.
func (l *Loop) OnTick(fn func(nowMs int64)) { l.onTick = fn }

// Start creates and starts the underlying gocron scheduler. Start is
// idempotent only in the sense that calling it twice creates two
// schedulers; callers must not call it more than once per Loop.
func (l *Loop) Start() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	l.sched = s

	_, err = s.NewJob(
		gocron.DurationJob(l.interval),
		gocron.NewTask(l.tick),
	)
	if err != nil {
		return err
	}

	s.Start()
	return nil
}

func (l *Loop) Shutdown() error {
	if l.sched == nil {
		return nil
	}
	return l.sched.Shutdown()
}

// tick is the gocron task body. If a previous tick is still running
// (should never happen with a single-threaded DurationJob, but gocron
// does not itself guarantee this across scheduler implementations) it
// skips this firing rather than running two ticks concurrently (B2).
func (l *Loop) tick() {
	if !l.running.CompareAndSwap(false, true) {
		elog.Warn("tick: previous tick still running, skipping this firing")
		return
	}
	defer l.running.Store(false)

	l.RunOnce()
}

// RunOnce executes exactly one collector pass. It is exported so the
// agent wiring layer and tests can drive a tick without the scheduler.
func (l *Loop) RunOnce() {
	nowMs := l.clock().UnixMilli()

	durationGauge, ok := l.registry.Gauge("scrape_duration_seconds")
	if !ok {
		durationGauge = mustRegisterGauge(l.registry, "scrape_duration_seconds", "time spent in one collector's Collect call", []string{"collector"})
	}
	errorsCounter, ok := l.registry.Counter("errors_total")
	if !ok {
		errorsCounter = mustRegisterCounter(l.registry, "errors_total", "collector errors by collector name", []string{"collector"})
	}

	allHealthy := true

	for _, c := range l.collectors {
		start := l.clock()
		err := c.Collect(l.registry, l.store, nowMs)
		elapsed := l.clock().Sub(start).Seconds()

		durationGauge.Set(map[string]string{"collector": c.Name()}, elapsed)

		if err != nil {
			allHealthy = false
			errorsCounter.Add(map[string]string{"collector": c.Name()}, 1)
			elog.Warnf("collector %s: %v", c.Name(), err)
		}
	}

	l.store.SetLastScrape(nowMs)
	l.store.SetHealthy(allHealthy)
	l.store.UpdateDegradationScore()

	if l.onTick != nil {
		l.onTick(nowMs)
	}
}

func mustRegisterGauge(reg *metrics.Registry, name, help string, labels []string) *metrics.Gauge {
	g, err := reg.RegisterGauge(name, help, labels)
	if err != nil {
		return reg.MustGauge(name)
	}
	return g
}

func mustRegisterCounter(reg *metrics.Registry, name, help string, labels []string) *metrics.Counter {
	c, err := reg.RegisterCounter(name, help, labels)
	if err != nil {
		return reg.MustCounter(name)
	}
	return c
}
