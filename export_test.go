// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson

import (
	"database/sql"

	"github.com/rltbl/sqljson/internal/dialect"
)

// NewPostgresTestDB wraps an externally opened pool, such as a sqlmock
// connection, in a PostgreSQL-dialect Querier.
func NewPostgresTestDB(sqldb *sql.DB, maxParams int) Querier {
	return newDatabase(sqldb, PostgreSQL, dialect.NewPostgres(maxParams))
}

// DriverParams exposes parameter conversion for white-box tests.
var DriverParams = driverParams
