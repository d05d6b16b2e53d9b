// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package sqljson is a dialect-neutral query and edit layer that moves JSON
values in and out of relational databases. It speaks to two engines, the
embedded SQLite and the client/server PostgreSQL, behind one operation set,
generating parameter-bound SQL for whichever engine a connection was opened
against.

# Basics

A connection is opened with a URL. Anything starting with postgresql:// (or
postgres://) selects PostgreSQL; any other string, including ":memory:", is
a SQLite path:

	db, err := sqljson.Open(":memory:", nil)
	if err != nil {
		...
	}
	defer db.Close()

Rows cross the interface as JSON rows, insertion-ordered mappings from
column name to JSON scalar:

	row := sqljson.NewRow()
	row.Set("id", 1)
	row.Set("name", "jim")
	err = db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{row})

Reads return the same shape:

	rows, err := db.Query(ctx, `SELECT "id", "name" FROM "person"`)

Typed scalar getters perform checked conversions and fail rather than
truncate:

	n, err := db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)

# Edits

Insert, Update and Upsert each take a list of JSON rows. Inserts and
upserts are split into as many statements as the engine's bound-parameter
ceiling requires; when several statements are needed they run inside a
single transaction. Updates are issued as one CASE-WHEN statement covering
all rows, keyed on the caller-named key columns; when two rows target the
same key the first submitted row wins.

All cell values are bound as parameters. SQL text produced by this package
never embeds a literal value.

# Caching

Query results can be cached in a "cache" table inside the database itself.
Caching is off until both a CachingStrategy is set and the cache-aware flag
is enabled. Under CachingTrigger, per-table triggers evict stale entries
whenever a table is mutated, including by other processes; the truncate
strategies instead evict when a write is issued through this connection.
*/
package sqljson
