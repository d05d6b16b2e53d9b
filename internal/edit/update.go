// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package edit

import (
	"fmt"
	"strings"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/dialect"
	"github.com/rltbl/sqljson/internal/pvalue"
)

// PlanUpdate builds a single CASE-WHEN bulk update statement. Each input row
// carries the key columns identifying the target row plus zero or more
// non-key columns to change. Per changed column, WHEN arms appear in row
// submission order, so when two rows address the same target the first
// submitted row wins; rows that leave a column unmentioned fall through to
// the ELSE arm and keep their current value. Every value is bound, the SQL
// text contains no literals.
func PlanUpdate(d dialect.Dialect, table string, keys []string, cols *dialect.Columns, rows []*pvalue.Row, withReturning bool, returning []string) (Statement, error) {
	table, err := dialect.ValidateTableName(table)
	if err != nil {
		return Statement{}, err
	}
	if len(keys) == 0 {
		return Statement{}, dberr.Inputf("cannot update table %q with an empty key column list", table)
	}
	for _, key := range keys {
		if !cols.Has(key) {
			return Statement{}, dberr.Inputf("key column %q does not exist in table %q", key, table)
		}
	}
	for i, row := range rows {
		for _, key := range keys {
			if !row.Has(key) {
				return Statement{}, dberr.Inputf("row %d is missing key column %q", i, key)
			}
		}
	}

	isKey := map[string]bool{}
	for _, key := range keys {
		isKey[key] = true
	}
	// Changed columns in first-appearance order across the rows.
	var targets []string
	seen := map[string]bool{}
	for _, row := range rows {
		for _, column := range row.Columns() {
			if isKey[column] || seen[column] {
				continue
			}
			seen[column] = true
			targets = append(targets, column)
		}
	}
	if len(targets) == 0 {
		return Statement{}, dberr.Inputf("rows specify no columns to update in table %q", table)
	}

	var (
		set      []string
		args     []any
		paramIdx int
	)
	bind := func(column string, row *pvalue.Row) (string, error) {
		value, err := cellValue(d, table, cols, row, column)
		if err != nil {
			return "", err
		}
		paramIdx++
		args = append(args, value.Driver())
		return d.Placeholder(paramIdx), nil
	}
	for _, column := range targets {
		var arms []string
		for _, row := range rows {
			if !row.Has(column) {
				continue
			}
			conds := make([]string, 0, len(keys))
			for _, key := range keys {
				placeholder, err := bind(key, row)
				if err != nil {
					return Statement{}, err
				}
				conds = append(conds, fmt.Sprintf("%q = %s", key, placeholder))
			}
			placeholder, err := bind(column, row)
			if err != nil {
				return Statement{}, err
			}
			arms = append(arms, fmt.Sprintf("    WHEN %s THEN %s",
				strings.Join(conds, " AND "), placeholder))
		}
		set = append(set, fmt.Sprintf("%q = CASE\n%s\n    ELSE %q\n  END",
			column, strings.Join(arms, "\n"), column))
	}
	if paramIdx > d.MaxParams() {
		return Statement{}, dberr.Inputf(
			"unable to update table %q: the update requires more parameters (%d) than the maximum (%d) allowed in a statement",
			table, paramIdx, d.MaxParams())
	}

	sql := fmt.Sprintf("UPDATE %q\nSET %s", table, strings.Join(set, ",\n  "))
	sql += returningClause(table, returning, cols, withReturning)
	return Statement{SQL: sql, Args: args}, nil
}
