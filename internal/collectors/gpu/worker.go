// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gpu

import (
	"context"
	"errors"
	"time"

	"github.com/esnode-project/esnode-agent/internal/elog"
)

const eventPollTimeout = 5 * time.Second

// EventWorker is the cooperative task that registers for critical
// error/ECC/P-state/clock events and forwards decoded records over a
// bounded channel. It is the only task allowed to call into a foreign
// library that may take process-global locks; it never talks to the
// tick loop except through ch.
type EventWorker struct {
	adapter Adapter
	ch      chan EventRecord
}

func NewEventWorker(adapter Adapter, ch chan EventRecord) *EventWorker {
	return &EventWorker{adapter: adapter, ch: ch}
}

// Run blocks until ctx is cancelled. Each poll is bounded by
// eventPollTimeout; a timeout is not an error and the loop simply polls
// again. Any other error is logged and ends the worker quietly: it is
// never fatal to the agent.
func (w *EventWorker) Run(ctx context.Context) {
	if !w.adapter.Available() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, eventPollTimeout)
		rec, err := w.adapter.NextEvent(pollCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			elog.Warnf("gpu event worker: %v", err)
			return
		}

		SendNonBlocking(w.ch, rec)
	}
}
