// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tsdb

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/esnode-project/esnode-agent/internal/elog"
)

const prunerInterval = 60 * time.Second

// Pruner drives LocalTsdb.Prune on a fixed cadence via its own gocron
// scheduler, independent of the collector tick loop.
type Pruner struct {
	tsdb  *LocalTsdb
	clock func() time.Time
	sched gocron.Scheduler
}

func NewPruner(t *LocalTsdb) *Pruner {
	return &Pruner{tsdb: t, clock: time.Now}
}

func (p *Pruner) Start() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	p.sched = s

	_, err = s.NewJob(
		gocron.DurationJob(prunerInterval),
		gocron.NewTask(func() {
			nowMs := p.clock().UnixMilli()
			if err := p.tsdb.Prune(nowMs); err != nil {
				elog.Warnf("tsdb pruner: %v", err)
			}
		}),
	)
	if err != nil {
		return err
	}

	s.Start()
	return nil
}

func (p *Pruner) Shutdown() error {
	if p.sched == nil {
		return nil
	}
	return p.sched.Shutdown()
}
