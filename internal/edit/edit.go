// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package edit builds fully-bound INSERT, UPSERT and bulk UPDATE statements
// from JSON rows. Insert and upsert plans are batched against the active
// dialect's maximum bound-parameter count; the bulk update generator emits a
// single CASE-WHEN statement covering all touched columns.
package edit

import (
	"fmt"
	"strings"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/dialect"
	"github.com/rltbl/sqljson/internal/pvalue"
)

// Op selects which statement shape the planner emits.
type Op int

const (
	Insert Op = iota
	Update
	Upsert
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Upsert:
		return "UPSERT"
	}
	return "UNKNOWN"
}

// Statement is one fully-bound SQL statement ready for execution.
type Statement struct {
	SQL  string
	Args []any
}

// returningClause renders the RETURNING clause, defaulting to '*' when no
// subset is requested. A requested subset is filtered to columns that
// actually exist; if none survive the filter the default is used.
func returningClause(table string, returning []string, cols *dialect.Columns, withReturning bool) string {
	if !withReturning {
		return ""
	}
	var kept []string
	for _, column := range returning {
		if cols.Has(column) {
			kept = append(kept, fmt.Sprintf("%q.%q", table, column))
		}
	}
	if len(kept) == 0 {
		return "\nRETURNING *"
	}
	return "\nRETURNING " + strings.Join(kept, ", ")
}

// cellValue coerces one cell of an input row for the named column. A missing
// cell binds NULL; JSON arrays and objects are unsupported as cell values.
func cellValue(d dialect.Dialect, table string, cols *dialect.Columns, row *pvalue.Row, column string) (pvalue.Value, error) {
	sqlType, ok := cols.Type(column)
	if !ok {
		return pvalue.Null(), dberr.Inputf("column %q does not exist in table %q", column, table)
	}
	value, ok := row.Get(column)
	if !ok {
		return pvalue.Null(), nil
	}
	switch value.(type) {
	case []any, map[string]any:
		return pvalue.Null(), dberr.Inputf("column %q: arrays and objects are not supported as cell values", column)
	}
	return d.Coerce(sqlType, value)
}

// PlanInsert builds the batched statement sequence for an insert or upsert
// of the given rows. Statements are flushed whenever adding another row
// would exceed the dialect's maximum bound-parameter count, so a plan may
// contain several statements; the caller executes them strictly in order.
func PlanInsert(d dialect.Dialect, op Op, table string, columns []string, cols *dialect.Columns, primaryKeys []string, rows []*pvalue.Row, withReturning bool, returning []string) ([]Statement, error) {
	if op != Insert && op != Upsert {
		return nil, dberr.Inputf("cannot plan %s as an insert", op)
	}
	table, err := dialect.ValidateTableName(table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, dberr.Inputf("unable to %s table %q without any columns", op, table)
	}
	maxParams := d.MaxParams()
	// A single row alone cannot fit.
	if len(columns) > maxParams {
		return nil, dberr.Inputf(
			"unable to %s table %q, which has more columns (%d) than the maximum number of parameters (%d) allowed in a statement",
			op, table, len(columns), maxParams)
	}
	for _, column := range columns {
		if !cols.Has(column) {
			return nil, dberr.Inputf("column %q does not exist in table %q", column, table)
		}
	}
	if op == Upsert {
		named := map[string]bool{}
		for _, column := range columns {
			named[column] = true
		}
		for _, pk := range primaryKeys {
			if !named[pk] {
				return nil, dberr.Inputf("cannot upsert into table %q without its primary key column %q", table, pk)
			}
		}
	}

	header := fmt.Sprintf("INSERT INTO %q (%s)\nVALUES\n",
		table, strings.Join(dialect.QuoteColumns(columns), ", "))
	footer := ""
	if op == Upsert {
		footer = upsertConflictClause(table, columns, primaryKeys)
	}
	footer += returningClause(table, returning, cols, withReturning)

	var (
		statements []Statement
		fragments  []string
		args       []any
		paramIdx   int
	)
	flush := func() {
		if len(fragments) == 0 {
			return
		}
		statements = append(statements, Statement{
			SQL:  header + strings.Join(fragments, ",\n") + footer,
			Args: args,
		})
		fragments = nil
		args = nil
		paramIdx = 0
	}

	for _, row := range rows {
		if paramIdx+len(columns) > maxParams {
			flush()
		}
		cells := make([]string, 0, len(columns))
		for _, column := range columns {
			value, err := cellValue(d, table, cols, row, column)
			if err != nil {
				return nil, err
			}
			paramIdx++
			cells = append(cells, d.Placeholder(paramIdx))
			args = append(args, value.Driver())
		}
		fragments = append(fragments, "("+strings.Join(cells, ", ")+")")
	}
	flush()
	return statements, nil
}

// upsertConflictClause renders the ON CONFLICT clause that turns an insert
// into an upsert keyed on the table's primary key constraint.
func upsertConflictClause(table string, columns, primaryKeys []string) string {
	isKey := map[string]bool{}
	for _, pk := range primaryKeys {
		isKey[pk] = true
	}
	var set []string
	for _, column := range columns {
		if !isKey[column] {
			set = append(set, fmt.Sprintf(`%q = "excluded".%q`, column, column))
		}
	}
	constraint := strings.Join(dialect.QuoteColumns(primaryKeys), ", ")
	if len(set) == 0 {
		// Every column is part of the key; there is nothing to update.
		return fmt.Sprintf("\nON CONFLICT (%s) DO NOTHING", constraint)
	}
	return fmt.Sprintf("\nON CONFLICT (%s) DO UPDATE SET %s", constraint, strings.Join(set, ", "))
}
