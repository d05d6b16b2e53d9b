// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson_test

import (
	"errors"

	"github.com/DATA-DOG/go-sqlmock"
	. "gopkg.in/check.v1"

	"github.com/rltbl/sqljson"
)

var (
	errDuplicateKey = errors.New(`pq: duplicate key value violates unique constraint "person_pkey"`)
	errSyntax       = errors.New(`pq: syntax error at or near "DELETE"`)
)

// The PostgreSQL statement flow is exercised against a mocked driver; the
// SQL this package generates for PostgreSQL is asserted without a running
// server.

type PostgresSuite struct{}

var _ = Suite(&PostgresSuite{})

func mockPostgres(c *C, maxParams int) (sqljson.Querier, sqlmock.Sqlmock) {
	sqldb, mock, err := sqlmock.New()
	c.Assert(err, IsNil)
	return sqljson.NewPostgresTestDB(sqldb, maxParams), mock
}

func expectPersonColumns(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`"information_schema"."columns"`).
		WithArgs("person").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "integer").
			AddRow("name", "text"))
}

func (s *PostgresSuite) TestKind(c *C) {
	db, _ := mockPostgres(c, 0)
	defer db.Close()
	c.Assert(db.Kind(), Equals, sqljson.PostgreSQL)
}

func (s *PostgresSuite) TestInsertStatement(c *C) {
	db, mock := mockPostgres(c, 0)
	defer db.Close()

	expectPersonColumns(mock)
	mock.ExpectExec(`INSERT INTO "person" \("id", "name"\)`).
		WithArgs(int64(1), "jim").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(1, "jim")})
	c.Assert(err, IsNil)
	c.Assert(mock.ExpectationsWereMet(), IsNil)
}

func (s *PostgresSuite) TestUpsertStatement(c *C) {
	db, mock := mockPostgres(c, 0)
	defer db.Close()

	expectPersonColumns(mock)
	mock.ExpectQuery(`"key_column_usage"`).
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectExec(`ON CONFLICT \("id"\) DO UPDATE SET "name" = "excluded"."name"`).
		WithArgs(int64(1), "jim").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.Upsert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(1, "jim")})
	c.Assert(err, IsNil)
	c.Assert(mock.ExpectationsWereMet(), IsNil)
}

func (s *PostgresSuite) TestBatchedInsertRunsInTransaction(c *C) {
	// Two columns per row against a four parameter ceiling forces two
	// statements, which must run inside one transaction.
	db, mock := mockPostgres(c, 4)
	defer db.Close()

	expectPersonColumns(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "person"`).
		WithArgs(int64(1), "a", int64(2), "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO "person"`).
		WithArgs(int64(3), "c").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := []*sqljson.Row{person(1, "a"), person(2, "b"), person(3, "c")}
	err := db.Insert(ctx, "person", []string{"id", "name"}, rows)
	c.Assert(err, IsNil)
	c.Assert(mock.ExpectationsWereMet(), IsNil)
}

func (s *PostgresSuite) TestBatchedInsertRollsBackOnFailure(c *C) {
	db, mock := mockPostgres(c, 4)
	defer db.Close()

	expectPersonColumns(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "person"`).
		WithArgs(int64(1), "a", int64(2), "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO "person"`).
		WithArgs(int64(3), "c").
		WillReturnError(errDuplicateKey)
	mock.ExpectRollback()

	rows := []*sqljson.Row{person(1, "a"), person(2, "b"), person(3, "c")}
	err := db.Insert(ctx, "person", []string{"id", "name"}, rows)
	c.Assert(err, ErrorIs, sqljson.ErrDatabase)
	c.Assert(mock.ExpectationsWereMet(), IsNil)
}

func (s *PostgresSuite) TestQueryRows(c *C) {
	db, mock := mockPostgres(c, 0)
	defer db.Close()

	mock.ExpectQuery(`SELECT \* FROM "person"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "jim").
			AddRow(int64(2), "fred"))

	rows, err := db.Query(ctx, `SELECT * FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(rows, HasLen, 2)
	c.Assert(rows[0].Columns(), DeepEquals, []string{"id", "name"})
	id, _ := rows[1].Get("id")
	c.Assert(id, Equals, int64(2))
	c.Assert(mock.ExpectationsWereMet(), IsNil)
}

func (s *PostgresSuite) TestExecuteDatabaseError(c *C) {
	db, mock := mockPostgres(c, 0)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM "person"`).WillReturnError(errSyntax)

	err := db.Execute(ctx, `DELETE FROM "person"`)
	c.Assert(err, ErrorIs, sqljson.ErrDatabase)
	c.Assert(mock.ExpectationsWereMet(), IsNil)
}
