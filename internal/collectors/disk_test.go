// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collectors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

func TestDiskBusyAndSlowFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diskstats")

	line := func(reads, sectorsRead, writes, sectorsWritten, ioTimeMs int) string {
		return "   8       0 sda " +
			itoaHelper(reads) + " 0 " + itoaHelper(sectorsRead) + " 0 " +
			itoaHelper(writes) + " 0 " + itoaHelper(sectorsWritten) + " 0 0 " + itoaHelper(ioTimeMs) + " 0\n"
	}

	require.NoError(t, os.WriteFile(path, []byte(line(0, 0, 0, 0, 0)), 0o644))

	c := NewDiskCollector(nil)
	c.diskstatsPath = path
	reg := metrics.New()
	st := status.New()
	require.NoError(t, c.Collect(reg, st, 1000))

	// second tick: 900ms of the 1000ms window spent busy -> busy flag set
	require.NoError(t, os.WriteFile(path, []byte(line(10, 100, 5, 50, 900)), 0o644))
	require.NoError(t, c.Collect(reg, st, 2000))

	snap := st.Snapshot()
	assert.True(t, snap.DiskDegraded)
}

func itoaHelper(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
