// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package rescache implements the persistent result cache: key
// serialization, the SQL issued against the "cache" table, extraction of
// table names from caller SQL, and bookkeeping of which tables already have
// their invalidation triggers installed.
package rescache

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rltbl/sqljson/internal/dberr"
	"github.com/rltbl/sqljson/internal/dialect"
)

// Key serializes a cache key. The tables are deduplicated and sorted before
// serialization so that logically equal keys compare equal as text, which is
// what the cache table's primary key requires.
func Key(tables []string, params []any) (tablesJSON string, paramsJSON string, err error) {
	set := map[string]bool{}
	for _, table := range tables {
		set[table] = true
	}
	sorted := make([]string, 0, len(set))
	for table := range set {
		sorted = append(sorted, table)
	}
	sort.Strings(sorted)
	tb, err := json.Marshal(sorted)
	if err != nil {
		return "", "", dberr.Inputf("cannot serialize cache key tables: %s", err)
	}
	if params == nil {
		params = []any{}
	}
	pb, err := json.Marshal(params)
	if err != nil {
		return "", "", dberr.Inputf("cannot serialize cache key parameters: %s", err)
	}
	return string(tb), string(pb), nil
}

var (
	readTableRe  = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+"?([a-zA-Z_][a-zA-Z0-9_]*)"?`)
	writeTableRe = regexp.MustCompile(`(?i)\b(?:INSERT\s+INTO|UPDATE|DELETE\s+FROM|DROP\s+TABLE(?:\s+IF\s+EXISTS)?)\s+"?([a-zA-Z_][a-zA-Z0-9_]*)"?`)
)

// ReadTables extracts the table names a SELECT statement reads, i.e. the
// identifiers following FROM and JOIN keywords. The scan is deliberately
// lexical: it can over-approximate (e.g. on table-valued functions), which
// only makes caching coarser, never incorrect.
func ReadTables(sql string) []string {
	return extract(readTableRe, sql)
}

// WriteTables extracts the table names a statement mutates: the targets of
// INSERT INTO, UPDATE, DELETE FROM and DROP TABLE.
func WriteTables(sql string) []string {
	return extract(writeTableRe, sql)
}

func extract(re *regexp.Regexp, sql string) []string {
	var tables []string
	seen := map[string]bool{}
	for _, match := range re.FindAllStringSubmatch(sql, -1) {
		table := match[1]
		if seen[table] || strings.EqualFold(table, "cache") {
			continue
		}
		seen[table] = true
		tables = append(tables, table)
	}
	return tables
}

// SelectSQL returns the lookup query for one cache entry.
func SelectSQL(d dialect.Dialect) string {
	return fmt.Sprintf(
		`SELECT "value" FROM "cache" WHERE "tables" = %s AND "statement" = %s AND "parameters" = %s`,
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
}

// UpsertSQL returns the statement that stores one cache entry, overwriting
// any previous value under the same key.
func UpsertSQL(d dialect.Dialect) string {
	return fmt.Sprintf(
		`INSERT INTO "cache" ("tables", "statement", "parameters", "value")
VALUES (%s, %s, %s, %s)
ON CONFLICT ("tables", "statement", "parameters") DO UPDATE SET "value" = "excluded"."value"`,
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))
}

// DeleteSQL returns the statement that evicts cache entries mentioning any
// of the given tables, with its bound arguments. With no tables the whole
// cache is truncated. The match is a substring match on the serialized table
// set, the same coarse rule the invalidation triggers apply.
func DeleteSQL(d dialect.Dialect, tables []string) (string, []any) {
	if len(tables) == 0 {
		return `DELETE FROM "cache"`, nil
	}
	conds := make([]string, 0, len(tables))
	args := make([]any, 0, len(tables))
	for i, table := range tables {
		conds = append(conds, fmt.Sprintf(`"tables" LIKE %s`, d.Placeholder(i+1)))
		args = append(args, "%"+table+"%")
	}
	return `DELETE FROM "cache" WHERE ` + strings.Join(conds, " OR "), args
}

// Tracker records which tables have had their cache invalidation triggers
// installed on this connection pool, so the catalog is not re-queried on
// every write.
//
// The mutex must be locked when accessing the ensured map.
type Tracker struct {
	ensured map[string]bool
	mutex   sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{ensured: map[string]bool{}}
}

// Ensure runs install for the table unless a previous call already
// succeeded for it. Concurrent callers may both observe the table as not
// yet ensured; the second install must therefore be idempotent, which the
// dialect's trigger DDL guarantees.
func (t *Tracker) Ensure(table string, install func() error) error {
	t.mutex.RLock()
	done := t.ensured[table]
	t.mutex.RUnlock()
	if done {
		return nil
	}
	if err := install(); err != nil {
		return err
	}
	t.mutex.Lock()
	// Check if someone else finished installing since we last checked.
	if !t.ensured[table] {
		t.ensured[table] = true
	}
	t.mutex.Unlock()
	return nil
}

// Forget drops the table from the tracker, e.g. after the table itself has
// been dropped.
func (t *Tracker) Forget(table string) {
	t.mutex.Lock()
	delete(t.ensured, table)
	t.mutex.Unlock()
}
