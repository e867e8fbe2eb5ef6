// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package audit persists one record per orchestrator authentication
// success or failure to a local sqlite file: a sqlhooks-wrapped
// sqlite3 driver opened through sqlx, migrated once with
// golang-migrate, queried with squirrel.
package audit

import (
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
)

const (
	ActionOrchestratorAuth = "orchestrator_auth"

	OutcomeOK   = "ok"
	OutcomeFail = "fail"
)

var driverRegisterOnce sync.Once

// Record is one audit log entry.
type Record struct {
	ID           int64  `db:"id"`
	TsMs         int64  `db:"ts_ms"`
	Action       string `db:"action"`
	RemoteAddr   string `db:"remote_addr"`
	TokenPresent bool   `db:"token_present"`
	Outcome      string `db:"outcome"`
}

// Log is a handle to the sqlite-backed audit log.
type Log struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite file at path, runs the
// single audit-table migration, and returns a ready Log. sqlite does
// not multithread usefully under concurrent writers, so the
// connection pool is capped at one.
func Open(path string) (*Log, error) {
	driverRegisterOnce.Do(func() {
		sql.Register("sqlite3_audit_hooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, queryHooks{}))
	})

	db, err := sqlx.Open("sqlite3_audit_hooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "audit: open sqlite: "+err.Error())
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		return nil, err
	}

	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts one audit entry. Failures are returned to the caller
// (an HTTP handler) rather than swallowed, since a broken audit trail
// on an auth-sensitive path is itself worth surfacing.
func (l *Log) Record(action, remoteAddr string, tokenPresent bool, outcome string, nowMs int64) error {
	_, err := sq.Insert("audit_log").
		Columns("ts_ms", "action", "remote_addr", "token_present", "outcome").
		Values(nowMs, action, remoteAddr, tokenPresent, outcome).
		RunWith(l.db).
		Exec()
	if err != nil {
		return agenterr.Wrap(agenterr.TransientIO, "audit: insert record: "+err.Error())
	}
	return nil
}

// Recent returns up to limit most recent records, newest first.
func (l *Log) Recent(limit int) ([]Record, error) {
	query, args, err := sq.Select("id", "ts_ms", "action", "remote_addr", "token_present", "outcome").
		From("audit_log").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, agenterr.Wrap(agenterr.TransientIO, "audit: build query: "+err.Error())
	}

	var records []Record
	if err := l.db.Select(&records, query, args...); err != nil {
		return nil, agenterr.Wrap(agenterr.TransientIO, "audit: select: "+err.Error())
	}
	return records, nil
}
