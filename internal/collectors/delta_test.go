// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltaPrimingEmitsNoDelta(t *testing.T) {
	var d Delta
	delta, _, ok := d.Observe(10, 1000, 0)
	assert.False(t, ok)
	assert.Zero(t, delta)
}

// TestDeltaWrapAroundE4 reproduces spec scenario E4: external counter
// goes 10 -> 5 with declared range R=256; expected delta 251.
func TestDeltaWrapAroundE4(t *testing.T) {
	var d Delta
	_, _, _ = d.Observe(10, 1000, 256)
	delta, _, ok := d.Observe(5, 2000, 256)
	assert.True(t, ok)
	assert.InDelta(t, 251, delta, 1e-9)
}

func TestDeltaBackwardWithoutRangeIsZero(t *testing.T) {
	var d Delta
	_, _, _ = d.Observe(10, 1000, 0)
	delta, _, ok := d.Observe(5, 2000, 0)
	assert.True(t, ok)
	assert.Zero(t, delta)
}

func TestDeltaMonotonicForwardSequence(t *testing.T) {
	var d Delta
	seq := []float64{0, 5, 12, 20}
	var total float64
	for i, v := range seq {
		delta, _, ok := d.Observe(v, int64(1000*(i+1)), 0)
		if ok {
			total += delta
		}
	}
	assert.InDelta(t, 20, total, 1e-9)
}
