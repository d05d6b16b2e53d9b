// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson

import (
	"context"
	"strings"
	"time"

	"github.com/rltbl/sqljson/internal/pvalue"
)

// Kind identifies which relational engine a connection talks to.
type Kind int

const (
	// SQLite is the embedded, file-based engine.
	SQLite Kind = iota
	// PostgreSQL is the client/server engine.
	PostgreSQL
)

func (k Kind) String() string {
	switch k {
	case SQLite:
		return "sqlite"
	case PostgreSQL:
		return "postgresql"
	}
	return "unknown"
}

// CachingStrategy selects how the result cache is kept consistent with
// writes issued through this package.
type CachingStrategy int

const (
	// CachingNone disables the result cache entirely.
	CachingNone CachingStrategy = iota
	// CachingTrigger installs per-table database triggers that evict
	// stale cache rows whenever the table is mutated, including by
	// writers outside this process.
	CachingTrigger
	// CachingTruncate evicts cache rows mentioning a table whenever a
	// write to that table is issued through this connection.
	CachingTruncate
	// CachingTruncateAll empties the whole cache on any write issued
	// through this connection.
	CachingTruncateAll
)

func (s CachingStrategy) String() string {
	switch s {
	case CachingNone:
		return "none"
	case CachingTrigger:
		return "trigger"
	case CachingTruncate:
		return "truncate"
	case CachingTruncateAll:
		return "truncate_all"
	}
	return "unknown"
}

// Row is an insertion-ordered mapping from column name to JSON scalar. It is
// both the input record type for edits and the result row type for queries.
type Row = pvalue.Row

// NewRow returns an empty Row.
func NewRow() *Row {
	return pvalue.NewRow()
}

// Column describes one column of a table: its name and its declared SQL
// type, lowercased.
type Column struct {
	Name string
	Type string
}

// Options configures a connection pool opened with Open. The zero value
// leaves the pool and parameter limits at their defaults.
type Options struct {
	// MaxOpenConns bounds the number of open connections; zero means
	// unlimited. In-memory SQLite databases are always pinned to a
	// single connection regardless of this setting.
	MaxOpenConns int
	// MaxIdleConns bounds the idle connection count; zero keeps the
	// database/sql default.
	MaxIdleConns int
	// ConnMaxLifetime bounds how long a connection may be reused.
	ConnMaxLifetime time.Duration
	// MaxParams overrides the engine's maximum number of bound
	// parameters per statement. Intended for tests; zero keeps the
	// engine default (32766 for SQLite, 65535 for PostgreSQL).
	MaxParams int
}

// Querier is the operation set shared by both engines. All SQL accepted and
// produced is parameter-bound; all values crossing the interface are JSON
// scalars.
type Querier interface {
	// Kind reports which engine this connection talks to.
	Kind() Kind

	// CachingStrategy and SetCachingStrategy access the cache
	// maintenance policy for this connection.
	CachingStrategy() CachingStrategy
	SetCachingStrategy(CachingStrategy)
	// CacheAwareQuery and SetCacheAwareQuery access the flag gating
	// whether reads consult and populate the result cache and whether
	// writes are scanned for cache maintenance.
	CacheAwareQuery() bool
	SetCacheAwareQuery(bool)

	// Execute runs a single statement without returning rows.
	Execute(ctx context.Context, sql string, params ...any) error
	// ExecuteBatch sequentially runs a semicolon-delimited list of
	// statements. Per-statement parameters are not supported.
	ExecuteBatch(ctx context.Context, sql string) error

	// Query runs a statement and returns all result rows as JSON rows.
	Query(ctx context.Context, sql string, params ...any) ([]*Row, error)
	// QueryRow runs a statement that must return exactly one row.
	QueryRow(ctx context.Context, sql string, params ...any) (*Row, error)
	// QueryValue runs a statement that must return exactly one row with
	// exactly one column.
	QueryValue(ctx context.Context, sql string, params ...any) (any, error)
	// QueryString, QueryUint64, QueryInt64 and QueryFloat64 are typed
	// forms of QueryValue with checked conversions.
	QueryString(ctx context.Context, sql string, params ...any) (string, error)
	QueryUint64(ctx context.Context, sql string, params ...any) (uint64, error)
	QueryInt64(ctx context.Context, sql string, params ...any) (int64, error)
	QueryFloat64(ctx context.Context, sql string, params ...any) (float64, error)

	// Insert adds the given rows to the table, batching statements as
	// needed to respect the engine's bound-parameter limit.
	Insert(ctx context.Context, table string, columns []string, rows []*Row) error
	// InsertReturning is Insert with a RETURNING clause; an empty
	// returning list means all columns.
	InsertReturning(ctx context.Context, table string, columns []string, rows []*Row, returning []string) ([]*Row, error)
	// Update changes many rows in one statement. Each row must contain
	// every key column plus the columns to change; when two rows target
	// the same key the first submitted row wins.
	Update(ctx context.Context, table string, keys []string, rows []*Row) error
	UpdateReturning(ctx context.Context, table string, keys []string, rows []*Row, returning []string) ([]*Row, error)
	// Upsert is Insert with conflict resolution on the table's primary
	// key: conflicting rows are overwritten instead of rejected.
	Upsert(ctx context.Context, table string, columns []string, rows []*Row) error
	UpsertReturning(ctx context.Context, table string, columns []string, rows []*Row, returning []string) ([]*Row, error)

	// DropTable validates the table name and drops the table together
	// with dependent foreign-key constraints.
	DropTable(ctx context.Context, table string) error

	// TableExists reports whether the table exists in the connected
	// schema.
	TableExists(ctx context.Context, table string) (bool, error)
	// Columns returns the table's columns in declaration order.
	Columns(ctx context.Context, table string) ([]Column, error)
	// PrimaryKeys returns the table's primary key column names in key
	// order.
	PrimaryKeys(ctx context.Context, table string) ([]string, error)

	// Close closes the underlying connection pool.
	Close() error
}

// Open connects to the database named by url. A url prefixed postgresql://
// or postgres:// selects the PostgreSQL engine; any other string, including
// the ":memory:" sentinel, is treated as a SQLite database path.
func Open(url string, opts *Options) (Querier, error) {
	if opts == nil {
		opts = &Options{}
	}
	if strings.HasPrefix(url, "postgresql://") || strings.HasPrefix(url, "postgres://") {
		return openPostgres(url, opts)
	}
	return openSQLite(url, opts)
}
