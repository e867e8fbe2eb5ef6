// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrationAndRecordsEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(dbPath)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Record(ActionOrchestratorAuth, "127.0.0.1", true, OutcomeOK, 1000))
	require.NoError(t, log.Record(ActionOrchestratorAuth, "10.0.0.5", false, OutcomeFail, 2000))

	records, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, OutcomeFail, records[0].Outcome)
	assert.Equal(t, int64(2000), records[0].TsMs)
	assert.Equal(t, OutcomeOK, records[1].Outcome)
}

func TestRecentRespectsLimit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(dbPath)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record(ActionOrchestratorAuth, "127.0.0.1", true, OutcomeOK, int64(i)))
	}

	records, err := log.Recent(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
