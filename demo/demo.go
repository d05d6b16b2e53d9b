// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package demo

import (
	"context"
	"fmt"

	"github.com/rltbl/sqljson"
)

func personRow(name string, height int64, homeTown string) *sqljson.Row {
	row := sqljson.NewRow()
	row.Set("name", name)
	row.Set("height_cm", height)
	row.Set("home_town", homeTown)
	return row
}

func placeRow(town string, population int64) *sqljson.Row {
	row := sqljson.NewRow()
	row.Set("town_name", town)
	row.Set("population", population)
	return row
}

func example() error {
	ctx := context.Background()

	db, err := sqljson.Open(":memory:", nil)
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.ExecuteBatch(ctx, `
		CREATE TABLE people (
			name TEXT PRIMARY KEY,
			height_cm INTEGER,
			home_town TEXT
		);
		CREATE TABLE location (
			town_name TEXT PRIMARY KEY,
			population INTEGER
		);`)
	if err != nil {
		return err
	}

	var people = []*sqljson.Row{
		personRow("Jim", 150, "Kabul"),
		personRow("Saba", 162, "Berlin"),
		personRow("Dave", 169, "Brasília"),
		personRow("Sophie", 174, "Berlin"),
		personRow("Kiri", 168, "Cape Town"),
	}
	var places = []*sqljson.Row{
		placeRow("Kabul", 13000000),
		placeRow("Berlin", 3677472),
		placeRow("Brasília", 3039444),
		placeRow("Cape Town", 4710000),
	}

	err = db.Insert(ctx, "people", []string{"name", "height_cm", "home_town"}, people)
	if err != nil {
		return err
	}
	err = db.Insert(ctx, "location", []string{"town_name", "population"}, places)
	if err != nil {
		return err
	}

	// Repeated lookups are served from the result cache once enabled.
	db.SetCachingStrategy(sqljson.CachingTrigger)
	db.SetCacheAwareQuery(true)

	// Find people taller than Jim.
	jimHeight, err := db.QueryInt64(ctx, `SELECT height_cm FROM people WHERE name = ?1`, "Jim")
	if err != nil {
		return err
	}
	taller, err := db.Query(ctx, `SELECT name FROM people WHERE height_cm > ?1 ORDER BY name`, jimHeight)
	if err != nil {
		return err
	}
	for _, p := range taller {
		name, _ := p.Get("name")
		fmt.Printf("%s is taller than Jim.\n", name)
	}

	// Find cities with people taller than Jim.
	cities, err := db.Query(ctx, `
		SELECT DISTINCT l.town_name AS town
		FROM people AS p, location AS l
		WHERE p.home_town = l.town_name
		AND p.height_cm > ?1
		ORDER BY town`, jimHeight)
	if err != nil {
		return err
	}
	for _, c := range cities {
		town, _ := c.Get("town")
		fmt.Printf("Someone taller than Jim lives in %s.\n", town)
	}

	// Dave and Kiri have been remeasured. The update is keyed on the
	// primary key and applied in a single statement.
	remeasured := []*sqljson.Row{
		personRow("Dave", 171, "Brasília"),
		personRow("Kiri", 170, "Cape Town"),
	}
	err = db.Update(ctx, "people", []string{"name"}, remeasured)
	if err != nil {
		return err
	}

	// The edit above invalidated the cached query, so this reruns it.
	taller, err = db.Query(ctx, `SELECT name FROM people WHERE height_cm > ?1 ORDER BY name`, jimHeight)
	if err != nil {
		return err
	}
	fmt.Printf("%d people are taller than Jim after remeasuring.\n", len(taller))
	return nil
}

func main() {
	err := example()
	if err != nil {
		panic(err)
	}
}
