// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dialect isolates every syntactic difference between the two
// supported engines behind one descriptor value. The descriptor generates
// engine-specific SQL fragments (parameter placeholders, catalog queries,
// cache table DDL, caching triggers) and parses literal text into typed
// parameters according to the engine's declared-type rules.
package dialect

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/pvalue"
)

// CacheTableSQL is the dialect-independent DDL for the result cache table.
const CacheTableSQL = `CREATE TABLE IF NOT EXISTS "cache" (
  "tables" TEXT,
  "statement" TEXT,
  "parameters" TEXT,
  "value" TEXT,
  PRIMARY KEY ("tables", "statement", "parameters")
)`

// Dialect describes one of the two supported relational engines. A single
// descriptor value is passed explicitly wherever SQL is generated; it is
// never inferred from global state.
type Dialect interface {
	// Name returns the engine name, e.g. "sqlite" or "postgres".
	Name() string
	// ParamPrefix returns the placeholder marker used for bound
	// parameters.
	ParamPrefix() string
	// Placeholder returns the placeholder for the n-th bound parameter,
	// starting at 1.
	Placeholder(n int) string
	// MaxParams returns the maximum number of parameters that may be
	// bound to a single statement.
	MaxParams() int
	// Parse parses a literal string into a typed parameter given a
	// declared column type name.
	Parse(sqlType, text string) (pvalue.Value, error)
	// Coerce converts a JSON scalar into a typed parameter consistent
	// with the declared column type.
	Coerce(sqlType string, value any) (pvalue.Value, error)
	// ColumnsSQL returns the catalog query for a table's column names and
	// declared types.
	ColumnsSQL(table string) (string, []any)
	// PrimaryKeysSQL returns the catalog query for a table's primary key
	// columns, in key order.
	PrimaryKeysSQL(table string) (string, []any)
	// TableExistsSQL returns the catalog query that yields a row iff the
	// table exists.
	TableExistsSQL(table string) (string, []any)
	// CreateCacheTableSQL returns the idempotent DDL for the cache table.
	CreateCacheTableSQL() string
	// TriggersExistSQL returns the catalog query that yields one row per
	// existing cache invalidation trigger on the table.
	TriggersExistSQL(table string) (string, []any)
	// CreateCachingTriggersSQL returns the statements that (re)create the
	// three per-table cache invalidation triggers.
	CreateCachingTriggersSQL(table string) ([]string, error)
	// DropTableSQL returns the statement that drops the table together
	// with dependent foreign-key constraints.
	DropTableSQL(table string) (string, error)
}

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateTableName checks that table is a legal identifier, stripping one
// pair of enclosing double quotes if present. Anything else, including
// unbalanced or embedded quotes, is an input error. The validated name is
// safe for interpolation into generated SQL.
func ValidateTableName(table string) (string, error) {
	name := table
	if strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) && len(name) >= 2 {
		name = name[1 : len(name)-1]
	}
	if strings.Contains(name, `"`) {
		return "", dberr.Inputf("invalid table name %q", table)
	}
	if name == "" || len(name) > 128 || !identifierRe.MatchString(name) {
		return "", dberr.Inputf("invalid table name %q", table)
	}
	return name, nil
}

// QuoteColumns double-quotes each column name to avoid clashes with
// database keywords.
func QuoteColumns(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return quoted
}

// triggerNames returns the three per-table cache trigger names in
// insert, update, delete order.
func triggerNames(table string) []string {
	return []string{
		table + "_cache_after_insert",
		table + "_cache_after_update",
		table + "_cache_after_delete",
	}
}

// Columns is an insertion-ordered mapping from column name to its declared
// SQL type, as reported by the engine's catalog. It is fetched fresh per
// edit call and never cached across calls.
type Columns struct {
	names []string
	types map[string]string
}

// NewColumns returns an empty column set.
func NewColumns() *Columns {
	return &Columns{types: map[string]string{}}
}

// Add records a column and its declared type. Types are normalized to
// lower case.
func (c *Columns) Add(name, sqlType string) {
	if _, ok := c.types[name]; !ok {
		c.names = append(c.names, name)
	}
	c.types[name] = strings.ToLower(sqlType)
}

// Type returns the declared type of the named column.
func (c *Columns) Type(name string) (string, bool) {
	t, ok := c.types[name]
	return t, ok
}

// Has reports whether the column exists.
func (c *Columns) Has(name string) bool {
	_, ok := c.types[name]
	return ok
}

// Names returns the column names in catalog order.
func (c *Columns) Names() []string {
	return c.names
}

// Len returns the number of columns.
func (c *Columns) Len() int {
	return len(c.names)
}

// scalarText renders a JSON scalar as the literal text handed to Parse.
// Arrays and objects are not scalars and are rejected.
func scalarText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	}
	return "", dberr.Inputf("unsupported JSON value %v (%T)", value, value)
}

func parseBigInteger(text string) (pvalue.Value, error) {
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return pvalue.Null(), dberr.Parsef("cannot parse %q as an integer", text)
	}
	return pvalue.BigInteger(i), nil
}

func parseBigReal(text string) (pvalue.Value, error) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return pvalue.Null(), dberr.Parsef("cannot parse %q as a float", text)
	}
	return pvalue.BigReal(f), nil
}
