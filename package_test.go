// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson_test

import (
	"context"
	"errors"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/rltbl/sqljson"
)

// Hook up gocheck into the "go test" runner.
func TestPackage(t *testing.T) { TestingT(t) }

// ErrorIs wraps errors.Is as a gocheck checker.
var ErrorIs Checker = &errorIsChecker{
	&CheckerInfo{Name: "ErrorIs", Params: []string{"obtained", "target"}},
}

type errorIsChecker struct {
	*CheckerInfo
}

func (checker *errorIsChecker) Check(params []any, names []string) (bool, string) {
	err, ok := params[0].(error)
	if !ok {
		return false, "obtained is not an error"
	}
	target, ok := params[1].(error)
	if !ok {
		return false, "target is not an error"
	}
	return errors.Is(err, target), ""
}

type PackageSuite struct{}

var _ = Suite(&PackageSuite{})

var ctx = context.Background()

func setupDB(c *C, opts *sqljson.Options) sqljson.Querier {
	db, err := sqljson.Open(":memory:", opts)
	c.Assert(err, IsNil)
	return db
}

func createPersonDB(c *C, opts *sqljson.Options) sqljson.Querier {
	db := setupDB(c, opts)
	err := db.ExecuteBatch(ctx, `
CREATE TABLE person (
	id INTEGER PRIMARY KEY,
	name TEXT,
	alive BOOL
);
CREATE TABLE address (
	id INTEGER PRIMARY KEY,
	street TEXT
);
`)
	c.Assert(err, IsNil)
	return db
}

func person(id int64, name string) *sqljson.Row {
	row := sqljson.NewRow()
	row.Set("id", id)
	row.Set("name", name)
	return row
}

func (s *PackageSuite) TestOpenSelectsSQLite(c *C) {
	db := setupDB(c, nil)
	defer db.Close()
	c.Assert(db.Kind(), Equals, sqljson.SQLite)
	c.Assert(db.CachingStrategy(), Equals, sqljson.CachingNone)
	c.Assert(db.CacheAwareQuery(), Equals, false)
}

func (s *PackageSuite) TestRoundTrip(c *C) {
	db := setupDB(c, nil)
	defer db.Close()
	err := db.Execute(ctx, `CREATE TABLE sample (
		text_value TEXT,
		int_value INTEGER,
		float_value REAL,
		bool_value BOOL,
		numeric_value NUMERIC
	)`)
	c.Assert(err, IsNil)

	row := sqljson.NewRow()
	row.Set("text_value", "jim")
	row.Set("int_value", int64(42))
	row.Set("float_value", 1.5)
	row.Set("bool_value", true)
	row.Set("numeric_value", 10.5)
	columns := []string{"text_value", "int_value", "float_value", "bool_value", "numeric_value"}
	err = db.Insert(ctx, "sample", columns, []*sqljson.Row{row})
	c.Assert(err, IsNil)

	rows, err := db.Query(ctx, `SELECT * FROM "sample"`)
	c.Assert(err, IsNil)
	c.Assert(rows, HasLen, 1)
	c.Assert(rows[0].Columns(), DeepEquals, columns)
	get := func(column string) any {
		v, ok := rows[0].Get(column)
		c.Assert(ok, Equals, true)
		return v
	}
	c.Assert(get("text_value"), Equals, "jim")
	c.Assert(get("int_value"), Equals, int64(42))
	c.Assert(get("float_value"), Equals, 1.5)
	c.Assert(get("bool_value"), Equals, true)
	c.Assert(get("numeric_value"), Equals, 10.5)
}

func (s *PackageSuite) TestQueryWithParams(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"},
		[]*sqljson.Row{person(1, "jim"), person(2, "fred")})
	c.Assert(err, IsNil)

	rows, err := db.Query(ctx, `SELECT "name" FROM "person" WHERE "id" = ?1`, 2)
	c.Assert(err, IsNil)
	c.Assert(rows, HasLen, 1)
	name, _ := rows[0].Get("name")
	c.Assert(name, Equals, "fred")
}

func (s *PackageSuite) TestQueryRowContract(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"},
		[]*sqljson.Row{person(1, "jim"), person(2, "fred")})
	c.Assert(err, IsNil)

	_, err = db.QueryRow(ctx, `SELECT * FROM "person"`)
	c.Assert(err, ErrorMatches, `sqljson: expected a single row, got 2`)
	c.Assert(err, ErrorIs, sqljson.ErrData)

	_, err = db.QueryRow(ctx, `SELECT * FROM "person" WHERE "id" = ?1`, 99)
	c.Assert(err, ErrorMatches, `sqljson: expected a single row, got 0`)

	row, err := db.QueryRow(ctx, `SELECT "name" FROM "person" WHERE "id" = ?1`, 1)
	c.Assert(err, IsNil)
	name, _ := row.Get("name")
	c.Assert(name, Equals, "jim")
}

func (s *PackageSuite) TestQueryValueContract(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(1, "jim")})
	c.Assert(err, IsNil)

	_, err = db.QueryValue(ctx, `SELECT "id", "name" FROM "person"`)
	c.Assert(err, ErrorMatches, `sqljson: expected a single column, got 2`)
	c.Assert(err, ErrorIs, sqljson.ErrData)

	v, err := db.QueryValue(ctx, `SELECT "name" FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(v, Equals, "jim")
}

func (s *PackageSuite) TestTypedGetters(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(-7, "jim")})
	c.Assert(err, IsNil)

	str, err := db.QueryString(ctx, `SELECT "name" FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(str, Equals, "jim")

	_, err = db.QueryString(ctx, `SELECT "id" FROM "person"`)
	c.Assert(err, ErrorIs, sqljson.ErrData)

	i, err := db.QueryInt64(ctx, `SELECT "id" FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(i, Equals, int64(-7))

	// Negative values are rejected on unsigned retrieval rather than
	// silently wrapped.
	_, err = db.QueryUint64(ctx, `SELECT "id" FROM "person"`)
	c.Assert(err, ErrorMatches, `sqljson: value -7 is not an unsigned integer`)
	c.Assert(err, ErrorIs, sqljson.ErrData)

	n, err := db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, uint64(1))

	f, err := db.QueryFloat64(ctx, `SELECT "id" FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(f, Equals, -7.0)
}

func (s *PackageSuite) TestInsertBatchesAtParamCeiling(c *C) {
	// Two columns per row against a six parameter ceiling forces the
	// four rows into two statements.
	db := createPersonDB(c, &sqljson.Options{MaxParams: 6})
	defer db.Close()
	rows := []*sqljson.Row{person(1, "a"), person(2, "b"), person(3, "c"), person(4, "d")}
	err := db.Insert(ctx, "person", []string{"id", "name"}, rows)
	c.Assert(err, IsNil)

	n, err := db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, uint64(4))

	got, err := db.Query(ctx, `SELECT "name" FROM "person" ORDER BY "id"`)
	c.Assert(err, IsNil)
	var names []any
	for _, row := range got {
		name, _ := row.Get("name")
		names = append(names, name)
	}
	c.Assert(names, DeepEquals, []any{"a", "b", "c", "d"})
}

func (s *PackageSuite) TestInsertBatchedReturning(c *C) {
	db := createPersonDB(c, &sqljson.Options{MaxParams: 4})
	defer db.Close()
	rows := []*sqljson.Row{person(1, "a"), person(2, "b"), person(3, "c")}
	returned, err := db.InsertReturning(ctx, "person", []string{"id", "name"}, rows, []string{"id"})
	c.Assert(err, IsNil)
	// Rows from every batch are collected.
	c.Assert(returned, HasLen, 3)
	c.Assert(returned[0].Columns(), DeepEquals, []string{"id"})
	id, _ := returned[2].Get("id")
	c.Assert(id, Equals, int64(3))
}

func (s *PackageSuite) TestInsertErrors(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()

	err := db.Insert(ctx, "no_such_table", []string{"id"}, []*sqljson.Row{person(1, "jim")})
	c.Assert(err, ErrorMatches, `sqljson: table "no_such_table" does not exist`)
	c.Assert(err, ErrorIs, sqljson.ErrInput)

	err = db.Insert(ctx, "person", []string{"id", "shoe_size"}, []*sqljson.Row{person(1, "jim")})
	c.Assert(err, ErrorIs, sqljson.ErrInput)

	err = db.Insert(ctx, "bad; DROP TABLE person", []string{"id"}, nil)
	c.Assert(err, ErrorIs, sqljson.ErrInput)

	err = db.Insert(ctx, "person", nil, []*sqljson.Row{person(1, "jim")})
	c.Assert(err, ErrorMatches, `sqljson: unable to INSERT table "person" without any columns`)
	c.Assert(err, ErrorIs, sqljson.ErrInput)
}

func (s *PackageSuite) TestUpsert(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(1, "jim")})
	c.Assert(err, IsNil)

	// The conflicting row is overwritten, the fresh row inserted.
	err = db.Upsert(ctx, "person", []string{"id", "name"},
		[]*sqljson.Row{person(1, "james"), person(2, "fred")})
	c.Assert(err, IsNil)

	name, err := db.QueryString(ctx, `SELECT "name" FROM "person" WHERE "id" = ?1`, 1)
	c.Assert(err, IsNil)
	c.Assert(name, Equals, "james")
	n, err := db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, uint64(2))

	// An upsert that omits the primary key cannot resolve conflicts.
	row := sqljson.NewRow()
	row.Set("name", "joe")
	err = db.Upsert(ctx, "person", []string{"name"}, []*sqljson.Row{row})
	c.Assert(err, ErrorMatches, `sqljson: cannot upsert into table "person" without its primary key column "id"`)
	c.Assert(err, ErrorIs, sqljson.ErrInput)
}

func (s *PackageSuite) TestBulkUpdate(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"},
		[]*sqljson.Row{person(1, "a"), person(2, "b"), person(3, "c")})
	c.Assert(err, IsNil)

	// Updating disjoint keys in one call matches per-row updates;
	// untouched rows keep their values.
	err = db.Update(ctx, "person", []string{"id"},
		[]*sqljson.Row{person(1, "x"), person(3, "z")})
	c.Assert(err, IsNil)

	rows, err := db.Query(ctx, `SELECT "name" FROM "person" ORDER BY "id"`)
	c.Assert(err, IsNil)
	var names []any
	for _, row := range rows {
		name, _ := row.Get("name")
		names = append(names, name)
	}
	c.Assert(names, DeepEquals, []any{"x", "b", "z"})
}

func (s *PackageSuite) TestBulkUpdateFirstRowWins(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(1, "a")})
	c.Assert(err, IsNil)

	err = db.Update(ctx, "person", []string{"id"},
		[]*sqljson.Row{person(1, "first"), person(1, "second")})
	c.Assert(err, IsNil)

	name, err := db.QueryString(ctx, `SELECT "name" FROM "person" WHERE "id" = ?1`, 1)
	c.Assert(err, IsNil)
	c.Assert(name, Equals, "first")
}

func (s *PackageSuite) TestUpdateReturning(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Insert(ctx, "person", []string{"id", "name"},
		[]*sqljson.Row{person(1, "a"), person(2, "b")})
	c.Assert(err, IsNil)

	returned, err := db.UpdateReturning(ctx, "person", []string{"id"},
		[]*sqljson.Row{person(1, "x")}, []string{"id", "name"})
	c.Assert(err, IsNil)
	// The CASE statement touches every row, so every row comes back.
	c.Assert(returned, HasLen, 2)
}

func (s *PackageSuite) TestBoolReadIsStrict(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	err := db.Execute(ctx, `INSERT INTO "person" ("id", "alive") VALUES (1, 2)`)
	c.Assert(err, IsNil)

	_, err = db.Query(ctx, `SELECT "alive" FROM "person"`)
	c.Assert(err, ErrorMatches, `sqljson: column "alive": cannot read 2 as a boolean`)
	c.Assert(err, ErrorIs, sqljson.ErrData)
}

func (s *PackageSuite) TestTableMetadata(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()

	exists, err := db.TableExists(ctx, "person")
	c.Assert(err, IsNil)
	c.Assert(exists, Equals, true)
	exists, err = db.TableExists(ctx, "no_such_table")
	c.Assert(err, IsNil)
	c.Assert(exists, Equals, false)

	columns, err := db.Columns(ctx, "person")
	c.Assert(err, IsNil)
	c.Assert(columns, DeepEquals, []sqljson.Column{
		{Name: "id", Type: "integer"},
		{Name: "name", Type: "text"},
		{Name: "alive", Type: "bool"},
	})

	keys, err := db.PrimaryKeys(ctx, "person")
	c.Assert(err, IsNil)
	c.Assert(keys, DeepEquals, []string{"id"})
}

func (s *PackageSuite) TestDropTable(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()

	err := db.DropTable(ctx, "person")
	c.Assert(err, IsNil)
	exists, err := db.TableExists(ctx, "person")
	c.Assert(err, IsNil)
	c.Assert(exists, Equals, false)

	// Dropping an absent table is not an error, an invalid name is.
	c.Assert(db.DropTable(ctx, "person"), IsNil)
	err = db.DropTable(ctx, "person; --")
	c.Assert(err, ErrorIs, sqljson.ErrInput)
}

func (s *PackageSuite) TestExecuteBadSQL(c *C) {
	db := setupDB(c, nil)
	defer db.Close()
	err := db.Execute(ctx, `SELEC nonsense`)
	c.Assert(err, ErrorIs, sqljson.ErrDatabase)
}
