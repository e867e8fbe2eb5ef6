// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import "github.com/esnode-project/esnode-agent/internal/elog"

// runPreemptionCheck is the flash-preemption hook, called once per
// Tick. The source this was distilled from left it unimplemented
// (detect interactive usage and SIGSTOP training jobs to make room);
// this port keeps it unimplemented for the same reason.
func runPreemptionCheck(s *Scheduler) {
	elog.Debug("scheduler: flash preemption tick (no-op)")
}
