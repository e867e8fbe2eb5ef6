// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tick

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

type stubCollector struct {
	name  string
	err   error
	n     int
	order *[]string
}

func (s *stubCollector) Name() string { return s.name }

func (s *stubCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	s.n++
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	return s.err
}

func TestRunOnceCallsCollectorsInOrderAndMarksHealthy(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	var order []string
	a := &stubCollector{name: "a", order: &order}
	b := &stubCollector{name: "b", order: &order}

	l := New(reg, st, time.Second, a, b)
	l.RunOnce()

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
	assert.True(t, st.Snapshot().Healthy)
}

func TestRunOnceMarksUnhealthyOnCollectorError(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	bad := &stubCollector{name: "bad", err: errors.New("boom")}

	l := New(reg, st, time.Second, bad)
	l.RunOnce()

	assert.False(t, st.Snapshot().Healthy)

	families, err := reg.Gather()
	require.NoError(t, err)
	var errTotal float64
	for _, mf := range families {
		if mf.GetName() == "errors_total" {
			errTotal = mf.Metric[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), errTotal)
}

func TestOnTickHookFiresAfterCollectors(t *testing.T) {
	reg := metrics.New()
	st := status.New()
	c := &stubCollector{name: "a"}
	l := New(reg, st, time.Second, c)

	var gotTick bool
	l.OnTick(func(nowMs int64) {
		gotTick = true
		assert.Equal(t, 1, c.n) // collectors already ran
	})
	l.RunOnce()
	assert.True(t, gotTick)
}
