// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package example

import (
	"context"
	"fmt"

	"github.com/rltbl/sqljson"
)

func person(id int64, name, team string) *sqljson.Row {
	row := sqljson.NewRow()
	row.Set("id", id)
	row.Set("name", name)
	row.Set("team", team)
	return row
}

func location(roomID int64, name, team string) *sqljson.Row {
	row := sqljson.NewRow()
	row.Set("room_id", roomID)
	row.Set("name", name)
	row.Set("team", team)
	return row
}

func example() {
	ctx := context.Background()

	db, err := sqljson.Open(":memory:", nil)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	err = db.ExecuteBatch(ctx, `
	CREATE TABLE person (
		id INTEGER PRIMARY KEY,
		name TEXT,
		team TEXT
	);
	CREATE TABLE location (
		room_id INTEGER PRIMARY KEY,
		name TEXT,
		team TEXT
	)`)
	if err != nil {
		panic(err)
	}

	var people = []*sqljson.Row{
		person(1, "Alastair", "engineering"),
		person(2, "Ed", "engineering"),
		person(3, "Marco", "engineering"),
		person(4, "Pedro", "management"),
		person(5, "Serdar", "presentation engineering"),
		person(6, "Joe", "marketing"),
		person(7, "Ben", "legal"),
		person(8, "Sam", "hr"),
		person(9, "Paul", "sales"),
		person(10, "Mark", "leadership"),
		person(11, "Gustavo", "leadership"),
	}
	err = db.Insert(ctx, "person", []string{"id", "name", "team"}, people)
	if err != nil {
		panic(err)
	}

	var locations = []*sqljson.Row{
		location(1, "Basement", "engineering"),
		location(34, "Floor 2", "presentation engineering"),
		location(19, "Floor 3", "management"),
		location(66, "The Market", "marketing"),
		location(7, "Court", "legal"),
		location(9, "Floors 4 to 89", "hr"),
		location(73, "Bar", "sales"),
		location(32, "Penthouse", "leadership"),
	}
	err = db.Insert(ctx, "location", []string{"room_id", "name", "team"}, locations)
	if err != nil {
		panic(err)
	}

	// Find someone on the engineering team.
	name, err := db.QueryString(ctx, `SELECT name FROM person WHERE team = ?1 ORDER BY id LIMIT 1`, "engineering")
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s is on the engineering team.\n", name)

	// Find out who sits in the Basement.
	dwellers, err := db.Query(ctx, `
		SELECT p.name FROM person AS p
		JOIN location AS l ON p.team = l.team
		WHERE l.name = ?1
		ORDER BY p.id`, "Basement")
	if err != nil {
		panic(err)
	}
	for _, p := range dwellers {
		n, _ := p.Get("name")
		fmt.Printf("%s, ", n)
	}
	fmt.Println("are in the Basement.")

	// Print out who is in which room.
	seated, err := db.Query(ctx, `
		SELECT p.name AS person, l.name AS room
		FROM location AS l
		JOIN person AS p ON p.team = l.team
		ORDER BY p.id`)
	if err != nil {
		panic(err)
	}
	for _, s := range seated {
		p, _ := s.Get("person")
		room, _ := s.Get("room")
		fmt.Printf("%s is in %s\n", p, room)
	}

	err = db.DropTable(ctx, "person")
	if err != nil {
		panic(err)
	}
	err = db.DropTable(ctx, "location")
	if err != nil {
		panic(err)
	}
}
