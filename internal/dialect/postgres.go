// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/pvalue"
)

// MaxParamsPostgres is the maximum number of parameters that can be bound
// to a single PostgreSQL statement (the wire protocol Bind message carries a
// 16-bit parameter count).
const MaxParamsPostgres = 65535

// Postgres is the dialect descriptor for the client/server engine. Catalog
// queries are filtered to the schemas on the active search_path.
type Postgres struct {
	maxParams int
}

// NewPostgres returns the PostgreSQL descriptor. A maxParams of zero selects
// the engine default; tests pass a small value to exercise batching.
func NewPostgres(maxParams int) *Postgres {
	if maxParams <= 0 {
		maxParams = MaxParamsPostgres
	}
	return &Postgres{maxParams: maxParams}
}

// Name implements Dialect.
func (d *Postgres) Name() string {
	return "postgres"
}

// ParamPrefix implements Dialect.
func (d *Postgres) ParamPrefix() string {
	return "$"
}

// Placeholder implements Dialect.
func (d *Postgres) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// MaxParams implements Dialect.
func (d *Postgres) MaxParams() int {
	return d.maxParams
}

// Parse implements Dialect. Boolean text that is not "true" or "1" parses
// as false without error, unlike the SQLite rule. NUMERIC values are parsed
// through a 64-bit float before conversion to decimal; the precision loss is
// an accepted, documented limitation.
func (d *Postgres) Parse(sqlType, text string) (pvalue.Value, error) {
	switch strings.ToLower(sqlType) {
	case "text":
		return pvalue.Text(text), nil
	case "bool", "boolean":
		return pvalue.Boolean(text == "true" || text == "1"), nil
	case "smallint":
		i, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return pvalue.Null(), dberr.Parsef("cannot parse %q as a smallint", text)
		}
		return pvalue.SmallInteger(int16(i)), nil
	case "int", "integer":
		i, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return pvalue.Null(), dberr.Parsef("cannot parse %q as an integer", text)
		}
		return pvalue.Integer(int32(i)), nil
	case "bigint", "biginteger":
		return parseBigInteger(text)
	case "real":
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return pvalue.Null(), dberr.Parsef("cannot parse %q as a real", text)
		}
		return pvalue.Real(float32(f)), nil
	case "bigreal":
		return parseBigReal(text)
	case "numeric":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return pvalue.Null(), dberr.Parsef("cannot parse %q as a numeric", text)
		}
		return pvalue.Numeric(decimal.NewFromFloat(f)), nil
	}
	return pvalue.Null(), dberr.Datatypef("unrecognized PostgreSQL type %q", sqlType)
}

// Coerce implements Dialect.
func (d *Postgres) Coerce(sqlType string, value any) (pvalue.Value, error) {
	if value == nil {
		return pvalue.Null(), nil
	}
	if b, ok := value.(bool); ok {
		switch strings.ToLower(sqlType) {
		case "bool", "boolean":
			return pvalue.Boolean(b), nil
		}
	}
	text, err := scalarText(value)
	if err != nil {
		return pvalue.Null(), err
	}
	return d.Parse(sqlType, text)
}

// searchPathFilter restricts a catalog query to the schemas on the active
// search path.
const searchPathFilter = `(
  SELECT REGEXP_SPLIT_TO_TABLE("setting", ', ')
  FROM "pg_settings"
  WHERE "name" = 'search_path'
)`

// ColumnsSQL implements Dialect.
func (d *Postgres) ColumnsSQL(table string) (string, []any) {
	sql := `SELECT
  "columns"."column_name"::TEXT,
  "columns"."data_type"::TEXT
FROM "information_schema"."columns" "columns"
WHERE "columns"."table_schema" IN ` + searchPathFilter + `
  AND "columns"."table_name" = $1
ORDER BY "columns"."ordinal_position"`
	return sql, []any{table}
}

// PrimaryKeysSQL implements Dialect.
func (d *Postgres) PrimaryKeysSQL(table string) (string, []any) {
	sql := `SELECT "kcu"."column_name"
FROM "information_schema"."table_constraints" "tco"
JOIN "information_schema"."key_column_usage" "kcu"
  ON "kcu"."constraint_name" = "tco"."constraint_name"
 AND "kcu"."constraint_schema" = "tco"."constraint_schema"
 AND "kcu"."table_name" = $1
 AND "tco"."constraint_type" ILIKE 'primary key'
WHERE "kcu"."table_schema" IN ` + searchPathFilter + `
ORDER BY "kcu"."ordinal_position"`
	return sql, []any{table}
}

// TableExistsSQL implements Dialect.
func (d *Postgres) TableExistsSQL(table string) (string, []any) {
	sql := `SELECT 1
FROM "information_schema"."tables"
WHERE "table_type" LIKE '%TABLE'
  AND "table_name" = $1
  AND "table_schema" IN ` + searchPathFilter
	return sql, []any{table}
}

// CreateCacheTableSQL implements Dialect.
func (d *Postgres) CreateCacheTableSQL() string {
	return CacheTableSQL
}

// TriggersExistSQL implements Dialect.
func (d *Postgres) TriggersExistSQL(table string) (string, []any) {
	sql := `SELECT 1
FROM "information_schema"."triggers"
WHERE "trigger_name" IN ($1, $2, $3)
  AND "trigger_schema" IN ` + searchPathFilter
	names := triggerNames(table)
	return sql, []any{names[0], names[1], names[2]}
}

// CreateCachingTriggersSQL implements Dialect. PostgreSQL triggers must
// invoke a named procedure rather than inline statements, so a supporting
// function is defined first. Seven statements are returned: the function
// definition, then a drop and a create for each of the three triggers.
// Parameters are not allowed in trigger definitions, so the validated table
// name is interpolated.
func (d *Postgres) CreateCachingTriggersSQL(table string) ([]string, error) {
	table, err := ValidateTableName(table)
	if err != nil {
		return nil, err
	}
	stmts := []string{fmt.Sprintf(`CREATE OR REPLACE FUNCTION "clean_cache_for_%s"()
  RETURNS TRIGGER
  LANGUAGE PLPGSQL
AS
$$
BEGIN
  DELETE FROM "cache" WHERE "tables" LIKE '%%%s%%';
  RETURN NEW;
END;
$$`, table, table)}
	for _, event := range []string{"INSERT", "UPDATE", "DELETE"} {
		name := fmt.Sprintf("%s_cache_after_%s", table, strings.ToLower(event))
		stmts = append(stmts,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %q ON %q`, name, table),
			fmt.Sprintf(`CREATE TRIGGER %q
  AFTER %s ON %q
  EXECUTE FUNCTION "clean_cache_for_%s"()`, name, event, table, table),
		)
	}
	return stmts, nil
}

// DropTableSQL implements Dialect. CASCADE removes dependent foreign-key
// constraints instead of blocking the drop.
func (d *Postgres) DropTableSQL(table string) (string, error) {
	table, err := ValidateTableName(table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`DROP TABLE IF EXISTS %q CASCADE`, table), nil
}
