// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/dialect"
)

// openSQLite opens an embedded database at the given path. The ":memory:"
// sentinel opens a transient in-memory database; such a pool is pinned to a
// single connection because every connection would otherwise see its own
// empty database.
func openSQLite(path string, opts *Options) (Querier, error) {
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, dberr.Connectf("error opening sqlite database %q: %s", path, err)
	}
	if strings.Contains(path, ":memory:") {
		sqldb.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, dberr.Connectf("error connecting to sqlite database %q: %s", path, err)
	}
	logger.WithField("path", path).Debug("opened sqlite database")
	return newDatabase(sqldb, SQLite, dialect.NewSQLite(opts.MaxParams)), nil
}
