// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gpu

// eventChannelCapacity is the bounded, drop-oldest-on-full channel size
// between the event worker and the main tick loop.
const eventChannelCapacity = 256

// NewEventChannel allocates the bounded channel the event worker and the
// gpu collector share.
func NewEventChannel() chan EventRecord {
	return make(chan EventRecord, eventChannelCapacity)
}

// SendNonBlocking forwards rec on ch without ever blocking the caller.
// If ch is full, the oldest queued record is dropped to make room; the
// drop itself is only observable downstream as a gap in the
// gpu_events_total counter, never as a decreasing counter (B3).
func SendNonBlocking(ch chan EventRecord, rec EventRecord) {
	select {
	case ch <- rec:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- rec:
	default:
	}
}
