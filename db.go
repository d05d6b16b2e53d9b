// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/dialect"
	"github.com/rltbl/sqljson/internal/edit"
	"github.com/rltbl/sqljson/internal/pvalue"
	"github.com/rltbl/sqljson/internal/rescache"
)

// database implements Querier for both engines. All engine differences are
// carried by the dialect value; no method branches on the engine kind except
// where result conversion genuinely differs.
type database struct {
	sqldb    *sql.DB
	kind     Kind
	dialect  dialect.Dialect
	triggers *rescache.Tracker

	// mutex guards the caching settings and the cacheReady flag.
	mutex      sync.RWMutex
	strategy   CachingStrategy
	cacheAware bool
	cacheReady bool
}

func newDatabase(sqldb *sql.DB, kind Kind, d dialect.Dialect) *database {
	return &database{
		sqldb:    sqldb,
		kind:     kind,
		dialect:  d,
		triggers: rescache.NewTracker(),
	}
}

func (db *database) Kind() Kind {
	return db.kind
}

func (db *database) CachingStrategy() CachingStrategy {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.strategy
}

func (db *database) SetCachingStrategy(s CachingStrategy) {
	db.mutex.Lock()
	db.strategy = s
	db.mutex.Unlock()
}

func (db *database) CacheAwareQuery() bool {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.cacheAware
}

func (db *database) SetCacheAwareQuery(flag bool) {
	db.mutex.Lock()
	db.cacheAware = flag
	db.mutex.Unlock()
}

// cacheSettings snapshots the caching configuration for one operation.
func (db *database) cacheSettings() (CachingStrategy, bool) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.strategy, db.cacheAware
}

func (db *database) Close() error {
	return db.sqldb.Close()
}

func (db *database) Execute(ctx context.Context, sqlText string, params ...any) error {
	args, err := driverParams(params)
	if err != nil {
		return err
	}
	if err := db.beforeWrite(ctx, rescache.WriteTables(sqlText)); err != nil {
		return err
	}
	if _, err := db.sqldb.ExecContext(ctx, sqlText, args...); err != nil {
		return dberr.Databasef("error during execute: %s", err)
	}
	return db.afterWrite(ctx, rescache.WriteTables(sqlText))
}

func (db *database) ExecuteBatch(ctx context.Context, sqlText string) error {
	if err := db.beforeWrite(ctx, rescache.WriteTables(sqlText)); err != nil {
		return err
	}
	// Both drivers run multiple semicolon-delimited statements in a
	// single exec when no parameters are bound.
	if _, err := db.sqldb.ExecContext(ctx, sqlText); err != nil {
		return dberr.Databasef("error during batch execute: %s", err)
	}
	return db.afterWrite(ctx, rescache.WriteTables(sqlText))
}

func (db *database) Query(ctx context.Context, sqlText string, params ...any) ([]*Row, error) {
	args, err := driverParams(params)
	if err != nil {
		return nil, err
	}
	strategy, aware := db.cacheSettings()
	if !aware || strategy == CachingNone {
		return db.queryArgs(ctx, sqlText, args)
	}
	return db.queryCached(ctx, strategy, sqlText, args)
}

// queryCached consults the result cache before executing and stores the
// result after a miss. Under the trigger strategy it also makes sure the
// invalidation triggers exist for every table the statement reads, so later
// writes evict what is stored now.
func (db *database) queryCached(ctx context.Context, strategy CachingStrategy, sqlText string, args []any) ([]*Row, error) {
	tables := rescache.ReadTables(sqlText)
	tablesJSON, paramsJSON, err := rescache.Key(tables, args)
	if err != nil {
		return nil, err
	}
	if err := db.ensureCacheTable(ctx); err != nil {
		return nil, err
	}
	if strategy == CachingTrigger {
		for _, table := range tables {
			if err := db.ensureTriggers(ctx, table); err != nil {
				return nil, err
			}
		}
	}

	var value string
	err = db.sqldb.QueryRowContext(ctx, rescache.SelectSQL(db.dialect),
		tablesJSON, sqlText, paramsJSON).Scan(&value)
	switch {
	case err == nil:
		logger.WithField("tables", tablesJSON).Debug("cache hit")
		var rows []*Row
		if err := json.Unmarshal([]byte(value), &rows); err != nil {
			return nil, dberr.Dataf("error deserializing cached result: %s", err)
		}
		return rows, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, dberr.Databasef("error during cache lookup: %s", err)
	}

	logger.WithField("tables", tablesJSON).Debug("cache miss")
	rows, err := db.queryArgs(ctx, sqlText, args)
	if err != nil {
		return nil, err
	}
	serialized, err := json.Marshal(rows)
	if err != nil {
		return nil, dberr.Dataf("error serializing result for cache: %s", err)
	}
	if _, err := db.sqldb.ExecContext(ctx, rescache.UpsertSQL(db.dialect),
		tablesJSON, sqlText, paramsJSON, string(serialized)); err != nil {
		return nil, dberr.Databasef("error storing cache entry: %s", err)
	}
	return rows, nil
}

// queryArgs executes the statement directly against the pool with
// pre-converted driver arguments.
func (db *database) queryArgs(ctx context.Context, sqlText string, args []any) ([]*Row, error) {
	rows, err := db.sqldb.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, dberr.Databasef("error during query: %s", err)
	}
	return db.rowsToJSON(rows)
}

func (db *database) QueryRow(ctx context.Context, sqlText string, params ...any) (*Row, error) {
	rows, err := db.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, dberr.Dataf("expected a single row, got %d", len(rows))
	}
	return rows[0], nil
}

func (db *database) QueryValue(ctx context.Context, sqlText string, params ...any) (any, error) {
	row, err := db.QueryRow(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	columns := row.Columns()
	if len(columns) != 1 {
		return nil, dberr.Dataf("expected a single column, got %d", len(columns))
	}
	value, _ := row.Get(columns[0])
	return value, nil
}

func (db *database) QueryString(ctx context.Context, sqlText string, params ...any) (string, error) {
	value, err := db.QueryValue(ctx, sqlText, params...)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", dberr.Dataf("value %v is not a string", value)
	}
	return s, nil
}

func (db *database) QueryUint64(ctx context.Context, sqlText string, params ...any) (uint64, error) {
	value, err := db.QueryValue(ctx, sqlText, params...)
	if err != nil {
		return 0, err
	}
	i, err := asInt64(value)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, dberr.Dataf("value %d is not an unsigned integer", i)
	}
	return uint64(i), nil
}

func (db *database) QueryInt64(ctx context.Context, sqlText string, params ...any) (int64, error) {
	value, err := db.QueryValue(ctx, sqlText, params...)
	if err != nil {
		return 0, err
	}
	return asInt64(value)
}

func (db *database) QueryFloat64(ctx context.Context, sqlText string, params ...any) (float64, error) {
	value, err := db.QueryValue(ctx, sqlText, params...)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, dberr.Dataf("value %v is not a float: %s", v, err)
		}
		return f, nil
	}
	return 0, dberr.Dataf("value %v is not a float", value)
}

func (db *database) Insert(ctx context.Context, table string, columns []string, rows []*Row) error {
	_, err := db.edit(ctx, edit.Insert, table, columns, rows, false, nil)
	return err
}

func (db *database) InsertReturning(ctx context.Context, table string, columns []string, rows []*Row, returning []string) ([]*Row, error) {
	return db.edit(ctx, edit.Insert, table, columns, rows, true, returning)
}

func (db *database) Upsert(ctx context.Context, table string, columns []string, rows []*Row) error {
	_, err := db.edit(ctx, edit.Upsert, table, columns, rows, false, nil)
	return err
}

func (db *database) UpsertReturning(ctx context.Context, table string, columns []string, rows []*Row, returning []string) ([]*Row, error) {
	return db.edit(ctx, edit.Upsert, table, columns, rows, true, returning)
}

func (db *database) Update(ctx context.Context, table string, keys []string, rows []*Row) error {
	_, err := db.bulkUpdate(ctx, table, keys, rows, false, nil)
	return err
}

func (db *database) UpdateReturning(ctx context.Context, table string, keys []string, rows []*Row, returning []string) ([]*Row, error) {
	return db.bulkUpdate(ctx, table, keys, rows, true, returning)
}

// edit plans and executes a batched insert or upsert against fresh table
// metadata, so a schema change between calls is always picked up.
func (db *database) edit(ctx context.Context, op edit.Op, table string, columns []string, rows []*Row, withReturning bool, returning []string) ([]*Row, error) {
	cols, err := db.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	var pks []string
	if op == edit.Upsert {
		if pks, err = db.PrimaryKeys(ctx, table); err != nil {
			return nil, err
		}
		if len(pks) == 0 {
			return nil, dberr.Inputf("cannot upsert into table %q, which has no primary key", table)
		}
	}
	stmts, err := edit.PlanInsert(db.dialect, op, table, columns, cols, pks, rows, withReturning, returning)
	if err != nil {
		return nil, err
	}
	if err := db.beforeWrite(ctx, []string{table}); err != nil {
		return nil, err
	}
	out, err := db.runStatements(ctx, stmts, withReturning)
	if err != nil {
		return nil, err
	}
	return out, db.afterWrite(ctx, []string{table})
}

func (db *database) bulkUpdate(ctx context.Context, table string, keys []string, rows []*Row, withReturning bool, returning []string) ([]*Row, error) {
	cols, err := db.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	stmt, err := edit.PlanUpdate(db.dialect, table, keys, cols, rows, withReturning, returning)
	if err != nil {
		return nil, err
	}
	if err := db.beforeWrite(ctx, []string{table}); err != nil {
		return nil, err
	}
	out, err := db.runStatements(ctx, []edit.Statement{stmt}, withReturning)
	if err != nil {
		return nil, err
	}
	return out, db.afterWrite(ctx, []string{table})
}

// sqlRunner is satisfied by both sql.DB and sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// runStatements executes an edit plan strictly in order. Plans with more
// than one statement run inside a single transaction so a failing batch
// never leaves earlier batches committed.
func (db *database) runStatements(ctx context.Context, stmts []edit.Statement, collect bool) ([]*pvalue.Row, error) {
	var out []*pvalue.Row
	run := func(r sqlRunner) error {
		for _, stmt := range stmts {
			if collect {
				rows, err := r.QueryContext(ctx, stmt.SQL, stmt.Args...)
				if err != nil {
					return dberr.Databasef("error during edit: %s", err)
				}
				converted, err := db.rowsToJSON(rows)
				if err != nil {
					return err
				}
				out = append(out, converted...)
			} else if _, err := r.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
				return dberr.Databasef("error during edit: %s", err)
			}
		}
		return nil
	}
	if len(stmts) <= 1 {
		if err := run(db.sqldb); err != nil {
			return nil, err
		}
		return out, nil
	}
	logger.WithField("statements", len(stmts)).Debug("running batched edit in a transaction")
	tx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, dberr.Databasef("error starting transaction: %s", err)
	}
	if err := run(tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, dberr.Databasef("error committing transaction: %s", err)
	}
	return out, nil
}

func (db *database) DropTable(ctx context.Context, table string) error {
	sqlText, err := db.dialect.DropTableSQL(table)
	if err != nil {
		return err
	}
	if _, err := db.sqldb.ExecContext(ctx, sqlText); err != nil {
		return dberr.Databasef("error dropping table %q: %s", table, err)
	}
	// Dropping a table does not fire its row triggers, so stale cache
	// entries mentioning it are evicted here.
	db.triggers.Forget(table)
	strategy, aware := db.cacheSettings()
	if !aware || strategy == CachingNone {
		return nil
	}
	if err := db.ensureCacheTable(ctx); err != nil {
		return err
	}
	return db.truncateCache(ctx, []string{table})
}

func (db *database) TableExists(ctx context.Context, table string) (bool, error) {
	table, err := dialect.ValidateTableName(table)
	if err != nil {
		return false, err
	}
	sqlText, args := db.dialect.TableExistsSQL(table)
	rows, err := db.sqldb.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return false, dberr.Databasef("error checking table %q: %s", table, err)
	}
	defer rows.Close()
	exists := rows.Next()
	return exists, rows.Err()
}

func (db *database) Columns(ctx context.Context, table string) ([]Column, error) {
	cols, err := db.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make([]Column, 0, cols.Len())
	for _, name := range cols.Names() {
		sqlType, _ := cols.Type(name)
		out = append(out, Column{Name: name, Type: sqlType})
	}
	return out, nil
}

func (db *database) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	table, err := dialect.ValidateTableName(table)
	if err != nil {
		return nil, err
	}
	sqlText, args := db.dialect.PrimaryKeysSQL(table)
	rows, err := db.sqldb.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, dberr.Databasef("error reading primary keys of %q: %s", table, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dberr.Dataf("error reading primary keys of %q: %s", table, err)
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}

// tableColumns reads the table's column metadata from the engine catalog.
func (db *database) tableColumns(ctx context.Context, table string) (*dialect.Columns, error) {
	table, err := dialect.ValidateTableName(table)
	if err != nil {
		return nil, err
	}
	sqlText, args := db.dialect.ColumnsSQL(table)
	rows, err := db.sqldb.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, dberr.Databasef("error reading columns of %q: %s", table, err)
	}
	defer rows.Close()
	cols := dialect.NewColumns()
	for rows.Next() {
		var name, sqlType string
		if err := rows.Scan(&name, &sqlType); err != nil {
			return nil, dberr.Dataf("error reading columns of %q: %s", table, err)
		}
		cols.Add(name, sqlType)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Databasef("error reading columns of %q: %s", table, err)
	}
	if cols.Len() == 0 {
		return nil, dberr.Inputf("table %q does not exist", table)
	}
	return cols, nil
}

// ensureCacheTable creates the cache table once per pool.
func (db *database) ensureCacheTable(ctx context.Context) error {
	db.mutex.RLock()
	ready := db.cacheReady
	db.mutex.RUnlock()
	if ready {
		return nil
	}
	if _, err := db.sqldb.ExecContext(ctx, db.dialect.CreateCacheTableSQL()); err != nil {
		return dberr.Databasef("error creating cache table: %s", err)
	}
	db.mutex.Lock()
	db.cacheReady = true
	db.mutex.Unlock()
	return nil
}

// ensureTriggers installs the three invalidation triggers for a table
// unless this pool already did so.
func (db *database) ensureTriggers(ctx context.Context, table string) error {
	return db.triggers.Ensure(table, func() error {
		sqlText, args := db.dialect.TriggersExistSQL(table)
		rows, err := db.sqldb.QueryContext(ctx, sqlText, args...)
		if err != nil {
			return dberr.Databasef("error checking triggers of %q: %s", table, err)
		}
		count := 0
		for rows.Next() {
			count++
		}
		if err := rows.Close(); err != nil {
			return dberr.Databasef("error checking triggers of %q: %s", table, err)
		}
		if count == 3 {
			return nil
		}
		logger.WithField("table", table).Debug("installing cache invalidation triggers")
		stmts, err := db.dialect.CreateCachingTriggersSQL(table)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := db.sqldb.ExecContext(ctx, stmt); err != nil {
				return dberr.Databasef("error creating triggers of %q: %s", table, err)
			}
		}
		return nil
	})
}

// beforeWrite prepares cache maintenance that must be in place before a
// mutation runs: under the trigger strategy, the triggers themselves.
func (db *database) beforeWrite(ctx context.Context, tables []string) error {
	strategy, aware := db.cacheSettings()
	if !aware || strategy != CachingTrigger || len(tables) == 0 {
		return nil
	}
	if err := db.ensureCacheTable(ctx); err != nil {
		return err
	}
	for _, table := range tables {
		if err := db.ensureTriggers(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// afterWrite evicts cache entries dirtied by a mutation under the truncate
// strategies. The trigger strategy needs no work here.
func (db *database) afterWrite(ctx context.Context, tables []string) error {
	strategy, aware := db.cacheSettings()
	if !aware || len(tables) == 0 {
		return nil
	}
	switch strategy {
	case CachingTruncate:
		if err := db.ensureCacheTable(ctx); err != nil {
			return err
		}
		return db.truncateCache(ctx, tables)
	case CachingTruncateAll:
		if err := db.ensureCacheTable(ctx); err != nil {
			return err
		}
		return db.truncateCache(ctx, nil)
	}
	return nil
}

func (db *database) truncateCache(ctx context.Context, tables []string) error {
	sqlText, args := rescache.DeleteSQL(db.dialect, tables)
	if _, err := db.sqldb.ExecContext(ctx, sqlText, args...); err != nil {
		return dberr.Databasef("error evicting cache entries: %s", err)
	}
	return nil
}

// rowsToJSON converts a driver result set into JSON rows, closing it. The
// declared column types steer the conversion: boolean columns surface as
// JSON booleans even when the engine stores them as integers, and numeric
// columns surface as JSON numbers rather than strings.
func (db *database) rowsToJSON(rows *sql.Rows) ([]*pvalue.Row, error) {
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, dberr.Dataf("error reading column names: %s", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, dberr.Dataf("error reading column types: %s", err)
	}
	out := []*pvalue.Row{}
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dberr.Dataf("error scanning row: %s", err)
		}
		row := pvalue.NewRow()
		for i, name := range names {
			value, err := db.cellToJSON(name, raw[i], types[i].DatabaseTypeName())
			if err != nil {
				return nil, err
			}
			row.Set(name, value)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Databasef("error iterating rows: %s", err)
	}
	return out, nil
}

// cellToJSON converts one raw driver value to a JSON scalar.
func (db *database) cellToJSON(name string, value any, typeName string) (any, error) {
	if value == nil {
		return nil, nil
	}
	typeName = strings.ToLower(typeName)
	isBool := typeName == "bool" || typeName == "boolean"
	isNumeric := typeName == "numeric" || typeName == "decimal"
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		if isBool {
			return db.intToBool(name, v)
		}
		return v, nil
	case float64:
		return v, nil
	case string:
		if isBool {
			return db.textToBool(name, v)
		}
		if isNumeric {
			return numericToJSON(name, v)
		}
		return v, nil
	case []byte:
		if isNumeric {
			return numericToJSON(name, string(v))
		}
		if isBool {
			return db.textToBool(name, string(v))
		}
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	}
	return nil, dberr.Dataf("column %q: unsupported driver value of type %T", name, value)
}

// intToBool applies the engine's boolean reading rule to an integer-stored
// boolean: SQLite accepts only 0 and 1, PostgreSQL treats anything that is
// not 1 as false.
func (db *database) intToBool(name string, v int64) (any, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	if db.kind == SQLite {
		return nil, dberr.Dataf("column %q: cannot read %d as a boolean", name, v)
	}
	return false, nil
}

func (db *database) textToBool(name, s string) (any, error) {
	switch s {
	case "true", "1", "t":
		return true, nil
	case "false", "0", "f":
		return false, nil
	}
	if db.kind == SQLite {
		return nil, dberr.Dataf("column %q: cannot read %q as a boolean", name, s)
	}
	return false, nil
}

// numericToJSON renders a NUMERIC column value as a JSON number, preferring
// an integer when the value has no fractional part.
func numericToJSON(name, s string) (any, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, dberr.Dataf("column %q: cannot read %q as a number", name, s)
	}
	if d.IsInteger() {
		if i := d.IntPart(); d.Equal(decimal.NewFromInt(i)) {
			return i, nil
		}
	}
	f, _ := d.Float64()
	return f, nil
}

// asInt64 performs the checked conversion behind the signed and unsigned
// integer getters.
func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, dberr.Dataf("value %v is not an integer", v)
		}
		return i, nil
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v <= math.MaxInt64 {
			return int64(v), nil
		}
	}
	return 0, dberr.Dataf("value %v is not an integer", value)
}

// driverParams converts caller-supplied JSON scalars into driver-bindable
// arguments. Arrays and objects are rejected.
func driverParams(params []any) ([]any, error) {
	args := make([]any, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case nil, bool, string, int64, float64:
			args[i] = v
		case int:
			args[i] = int64(v)
		case int16:
			args[i] = int64(v)
		case int32:
			args[i] = int64(v)
		case uint32:
			args[i] = int64(v)
		case float32:
			args[i] = float64(v)
		case uint64:
			if v > math.MaxInt64 {
				return nil, dberr.Inputf("parameter %d overflows a signed integer", i+1)
			}
			args[i] = int64(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				args[i] = n
			} else if f, err := v.Float64(); err == nil {
				args[i] = f
			} else {
				return nil, dberr.Inputf("parameter %d: cannot bind number %q", i+1, v.String())
			}
		case decimal.Decimal:
			args[i] = v.String()
		default:
			return nil, dberr.Inputf("parameter %d: unsupported type %T", i+1, p)
		}
	}
	return args, nil
}
