// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tsdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTsdb(t *testing.T) *LocalTsdb {
	t.Helper()
	dir := t.TempDir()
	db, err := New(Config{Path: dir, RetentionHours: 1, MaxDiskMB: 100})
	require.NoError(t, err)
	return db
}

func TestWriteSamplesRollsBlockOnWindowBoundary(t *testing.T) {
	db := newTestTsdb(t)

	require.NoError(t, db.WriteSamples([]Sample{
		{Metric: "cpu_usage", TsMs: 0, Value: 1.0},
		{Metric: "cpu_usage", TsMs: blockDurationMs + 1, Value: 2.0},
	}))
	require.NoError(t, db.FlushCurrent())

	lines, err := db.Export(nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestExportFiltersByExactMetricName(t *testing.T) {
	db := newTestTsdb(t)
	require.NoError(t, db.WriteSamples([]Sample{
		{Metric: "cpu_usage", TsMs: 100, Value: 1.0},
		{Metric: "gpu_power_watts", TsMs: 100, Value: 200.0},
	}))
	require.NoError(t, db.FlushCurrent())

	lines, err := db.Export(nil, nil, []string{"gpu_power_watts"})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "gpu_power_watts")
}

func TestExportFiltersByWildcardPrefix(t *testing.T) {
	db := newTestTsdb(t)
	require.NoError(t, db.WriteSamples([]Sample{
		{Metric: "gpu_power_watts", TsMs: 100, Value: 1.0},
		{Metric: "gpu_temperature_celsius", TsMs: 100, Value: 2.0},
		{Metric: "cpu_usage", TsMs: 100, Value: 3.0},
	}))
	require.NoError(t, db.FlushCurrent())

	lines, err := db.Export(nil, nil, []string{"gpu_*"})
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestExportRespectsTimeRange(t *testing.T) {
	db := newTestTsdb(t)
	require.NoError(t, db.WriteSamples([]Sample{
		{Metric: "cpu_usage", TsMs: 100, Value: 1.0},
		{Metric: "cpu_usage", TsMs: 5000, Value: 2.0},
	}))
	require.NoError(t, db.FlushCurrent())

	from := int64(1000)
	lines, err := db.Export(&from, nil, nil)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "5000")
}

func TestPruneRemovesExpiredBlockButKeepsCurrent(t *testing.T) {
	db := newTestTsdb(t)
	require.NoError(t, db.WriteSamples([]Sample{{Metric: "cpu_usage", TsMs: 0, Value: 1.0}}))
	require.NoError(t, db.FlushCurrent())

	require.NoError(t, db.WriteSamples([]Sample{{Metric: "cpu_usage", TsMs: blockDurationMs + 100, Value: 2.0}}))

	const farFuture = int64(1_000_000_000_000) // well past the 1h retention window
	require.NoError(t, db.Prune(farFuture))

	lines, err := db.Export(nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "2.000000")
}

func TestLabelsHashIsOrderIndependent(t *testing.T) {
	a := labelsHash(map[string]string{"a": "1", "b": "2"})
	b := labelsHash(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
}
