// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/dialect"
)

// openPostgres opens a pool against the client/server engine. The url is
// passed to the driver unchanged, so forms like postgresql:///dbname that
// rely on local defaults work as the server configures them.
func openPostgres(url string, opts *Options) (Querier, error) {
	sqldb, err := sql.Open("postgres", url)
	if err != nil {
		return nil, dberr.Connectf("error opening postgresql database: %s", err)
	}
	if opts.MaxOpenConns > 0 {
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
		return nil, dberr.Connectf("error connecting to postgresql database: %s", err)
	}
	logger.Debug("opened postgresql database")
	return newDatabase(sqldb, PostgreSQL, dialect.NewPostgres(opts.MaxParams)), nil
}
