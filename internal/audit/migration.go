// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
)

//go:embed migrations/sqlite3
var migrationFiles embed.FS

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, "audit: sqlite3 migrate driver: "+err.Error())
	}
	source, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, "audit: migration source: "+err.Error())
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, "audit: migrate init: "+err.Error())
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return agenterr.Wrap(agenterr.ConfigInvalid, "audit: migrate up: "+err.Error())
	}
	return nil
}
