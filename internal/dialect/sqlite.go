// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"fmt"
	"strings"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/pvalue"
)

// MaxParamsSQLite is the maximum number of parameters that can be bound to
// a single SQLite statement (SQLITE_MAX_VARIABLE_NUMBER).
const MaxParamsSQLite = 32766

// SQLite is the dialect descriptor for the embedded engine.
type SQLite struct {
	maxParams int
}

// NewSQLite returns the SQLite descriptor. A maxParams of zero selects the
// engine default; tests pass a small value to exercise batching.
func NewSQLite(maxParams int) *SQLite {
	if maxParams <= 0 {
		maxParams = MaxParamsSQLite
	}
	return &SQLite{maxParams: maxParams}
}

// Name implements Dialect.
func (d *SQLite) Name() string {
	return "sqlite"
}

// ParamPrefix implements Dialect. Although SQLite also accepts '$', the
// integer-suffixed form requires '?' (see https://sqlite.org/c3ref/bind_blob.html).
func (d *SQLite) ParamPrefix() string {
	return "?"
}

// Placeholder implements Dialect.
func (d *SQLite) Placeholder(n int) string {
	return fmt.Sprintf("?%d", n)
}

// MaxParams implements Dialect.
func (d *SQLite) MaxParams() int {
	return d.maxParams
}

// Parse implements Dialect. Note that SQLite is strict about boolean text:
// anything other than "true", "false", "1" or "0" is a parse error. The
// equivalent PostgreSQL rule silently defaults to false instead; the
// asymmetry is deliberate and preserved.
func (d *SQLite) Parse(sqlType, text string) (pvalue.Value, error) {
	switch strings.ToLower(sqlType) {
	case "text":
		return pvalue.Text(text), nil
	case "bool":
		switch text {
		case "true", "1":
			return pvalue.Boolean(true), nil
		case "false", "0":
			return pvalue.Boolean(false), nil
		}
		return pvalue.Null(), dberr.Parsef("cannot parse %q as a boolean", text)
	case "int", "integer", "int8", "bigint":
		return parseBigInteger(text)
	case "real", "numeric":
		return parseBigReal(text)
	}
	return pvalue.Null(), dberr.Datatypef("unrecognized SQLite type %q", sqlType)
}

// Coerce implements Dialect. Native JSON booleans and numbers skip the
// textual round trip where the declared type allows it.
func (d *SQLite) Coerce(sqlType string, value any) (pvalue.Value, error) {
	if value == nil {
		return pvalue.Null(), nil
	}
	if b, ok := value.(bool); ok && strings.ToLower(sqlType) == "bool" {
		return pvalue.Boolean(b), nil
	}
	text, err := scalarText(value)
	if err != nil {
		return pvalue.Null(), err
	}
	return d.Parse(sqlType, text)
}

// ColumnsSQL implements Dialect using the table_info pragma.
func (d *SQLite) ColumnsSQL(table string) (string, []any) {
	sql := `SELECT "name", "type"
FROM pragma_table_info(?1)
ORDER BY "cid"`
	return sql, []any{table}
}

// PrimaryKeysSQL implements Dialect.
func (d *SQLite) PrimaryKeysSQL(table string) (string, []any) {
	sql := `SELECT "name"
FROM pragma_table_info(?1)
WHERE "pk" > 0
ORDER BY "pk"`
	return sql, []any{table}
}

// TableExistsSQL implements Dialect.
func (d *SQLite) TableExistsSQL(table string) (string, []any) {
	sql := `SELECT 1 FROM "sqlite_master"
WHERE "type" = 'table' AND "name" = ?1`
	return sql, []any{table}
}

// CreateCacheTableSQL implements Dialect.
func (d *SQLite) CreateCacheTableSQL() string {
	return CacheTableSQL
}

// TriggersExistSQL implements Dialect.
func (d *SQLite) TriggersExistSQL(table string) (string, []any) {
	sql := `SELECT 1
FROM "sqlite_master"
WHERE "type" = 'trigger' AND "name" IN (?1, ?2, ?3)`
	names := triggerNames(table)
	return sql, []any{names[0], names[1], names[2]}
}

// CreateCachingTriggersSQL implements Dialect. SQLite does not allow
// parameters in trigger bodies, so the validated table name is interpolated.
// Six statements are returned: a drop and a create for each of the three
// triggers.
func (d *SQLite) CreateCachingTriggersSQL(table string) ([]string, error) {
	table, err := ValidateTableName(table)
	if err != nil {
		return nil, err
	}
	var stmts []string
	for _, event := range []string{"INSERT", "UPDATE", "DELETE"} {
		name := fmt.Sprintf("%s_cache_after_%s", table, strings.ToLower(event))
		stmts = append(stmts,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %q`, name),
			fmt.Sprintf(`CREATE TRIGGER %q
AFTER %s ON %q
BEGIN
  DELETE FROM "cache" WHERE "tables" LIKE '%%%s%%';
END`, name, event, table, table),
		)
	}
	return stmts, nil
}

// DropTableSQL implements Dialect. SQLite has no CASCADE clause; foreign
// keys referencing the table do not block the drop.
func (d *SQLite) DropTableSQL(table string) (string, error) {
	table, err := ValidateTableName(table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table), nil
}
