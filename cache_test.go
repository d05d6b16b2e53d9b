// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson_test

import (
	. "gopkg.in/check.v1"

	"github.com/rltbl/sqljson"
)

type CacheSuite struct{}

var _ = Suite(&CacheSuite{})

// cacheCount reads the cache table row count directly, bypassing the cache
// so the inspection query is not itself cached.
func cacheCount(c *C, db sqljson.Querier) uint64 {
	aware := db.CacheAwareQuery()
	db.SetCacheAwareQuery(false)
	defer db.SetCacheAwareQuery(aware)
	n, err := db.QueryUint64(ctx, `SELECT count(*) FROM "cache"`)
	c.Assert(err, IsNil)
	return n
}

func setupCachingDB(c *C, strategy sqljson.CachingStrategy) sqljson.Querier {
	db := createPersonDB(c, nil)
	err := db.Insert(ctx, "person", []string{"id", "name"},
		[]*sqljson.Row{person(1, "jim"), person(2, "fred")})
	c.Assert(err, IsNil)
	db.SetCachingStrategy(strategy)
	db.SetCacheAwareQuery(true)
	return db
}

func (s *CacheSuite) TestCachingOffByDefault(c *C) {
	db := createPersonDB(c, nil)
	defer db.Close()
	_, err := db.Query(ctx, `SELECT * FROM "person"`)
	c.Assert(err, IsNil)

	// No cache table appears until caching is switched on.
	exists, err := db.TableExists(ctx, "cache")
	c.Assert(err, IsNil)
	c.Assert(exists, Equals, false)
}

func (s *CacheSuite) TestCacheMissThenHit(c *C) {
	db := setupCachingDB(c, sqljson.CachingTrigger)
	defer db.Close()

	rows, err := db.Query(ctx, `SELECT "name" FROM "person" ORDER BY "id"`)
	c.Assert(err, IsNil)
	c.Assert(rows, HasLen, 2)
	c.Assert(cacheCount(c, db), Equals, uint64(1))

	// The second read is served from the cache and returns the same
	// rows.
	rows, err = db.Query(ctx, `SELECT "name" FROM "person" ORDER BY "id"`)
	c.Assert(err, IsNil)
	c.Assert(rows, HasLen, 2)
	name, _ := rows[0].Get("name")
	c.Assert(name, Equals, "jim")
	c.Assert(cacheCount(c, db), Equals, uint64(1))

	// Different parameters are a different cache key.
	_, err = db.Query(ctx, `SELECT "name" FROM "person" WHERE "id" = ?1`, 1)
	c.Assert(err, IsNil)
	_, err = db.Query(ctx, `SELECT "name" FROM "person" WHERE "id" = ?1`, 2)
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(3))
}

func (s *CacheSuite) TestCacheHitServesStoredResult(c *C) {
	db := setupCachingDB(c, sqljson.CachingTruncate)
	defer db.Close()

	n, err := db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, uint64(2))

	// Mutate the table with cache awareness off, so nothing is evicted.
	db.SetCacheAwareQuery(false)
	err = db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(3, "mary")})
	c.Assert(err, IsNil)
	db.SetCacheAwareQuery(true)

	// The stored result is served, proving the hit.
	n, err = db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, uint64(2))
}

func (s *CacheSuite) TestTriggerInvalidation(c *C) {
	db := setupCachingDB(c, sqljson.CachingTrigger)
	defer db.Close()

	n, err := db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, uint64(2))
	c.Assert(cacheCount(c, db), Equals, uint64(1))

	// The insert fires the after-insert trigger, which evicts the
	// entry; the next read sees the new row.
	err = db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(3, "mary")})
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(0))

	n, err = db.QueryUint64(ctx, `SELECT count(*) FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, uint64(3))
}

func (s *CacheSuite) TestTriggerInvalidationIsCoarse(c *C) {
	db := setupCachingDB(c, sqljson.CachingTrigger)
	defer db.Close()
	err := db.Execute(ctx, `CREATE TABLE person_audit (id INTEGER PRIMARY KEY, note TEXT)`)
	c.Assert(err, IsNil)

	// Cache an entry keyed only to person_audit.
	_, err = db.Query(ctx, `SELECT * FROM "person_audit"`)
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(1))

	// A write to person evicts it anyway: the trigger matches any
	// cache entry whose table set contains "person" as a substring.
	err = db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(4, "ada")})
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(0))
}

func (s *CacheSuite) TestTruncateStrategy(c *C) {
	db := setupCachingDB(c, sqljson.CachingTruncate)
	defer db.Close()

	_, err := db.Query(ctx, `SELECT * FROM "person"`)
	c.Assert(err, IsNil)
	_, err = db.Query(ctx, `SELECT * FROM "address"`)
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(2))

	// Only entries mentioning the written table are evicted.
	err = db.Insert(ctx, "person", []string{"id", "name"}, []*sqljson.Row{person(5, "eve")})
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(1))
}

func (s *CacheSuite) TestTruncateAllStrategy(c *C) {
	db := setupCachingDB(c, sqljson.CachingTruncateAll)
	defer db.Close()

	_, err := db.Query(ctx, `SELECT * FROM "person"`)
	c.Assert(err, IsNil)
	_, err = db.Query(ctx, `SELECT * FROM "address"`)
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(2))

	// Any write empties the whole cache.
	address := sqljson.NewRow()
	address.Set("id", int64(1))
	address.Set("street", "Main Street")
	err = db.Insert(ctx, "address", []string{"id", "street"}, []*sqljson.Row{address})
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(0))
}

func (s *CacheSuite) TestDropTableEvictsEntries(c *C) {
	db := setupCachingDB(c, sqljson.CachingTrigger)
	defer db.Close()

	_, err := db.Query(ctx, `SELECT * FROM "person"`)
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(1))

	// DROP TABLE does not fire row triggers, so the entries are
	// evicted explicitly.
	err = db.DropTable(ctx, "person")
	c.Assert(err, IsNil)
	c.Assert(cacheCount(c, db), Equals, uint64(0))
}
