// Command query-kb prints a quick view of a fact knowledge base: its tables, the most
// frequent predicates and a few statements per predicate.
//
//	query-kb <database.db> [predicate] [limit]
package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"

	_ "modernc.org/sqlite"

	"factaudit/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: query-kb <database.db> [predicate] [limit]")
		os.Exit(1)
	}

	dbPath := os.Args[1]
	predicate := ""
	limit := 10
	if len(os.Args) > 2 {
		predicate = os.Args[2]
	}
	if len(os.Args) > 3 {
		if n, err := strconv.Atoi(os.Args[3]); err == nil && n > 0 {
			limit = n
		}
	}
	queryDB(dbPath, predicate, limit)
}

func queryDB(dbPath, predicate string, limit int) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Printf("Error opening DB: %v\n", err)
		return
	}

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		fmt.Printf("Error querying tables: %v\n", err)
		db.Close()
		return
	}
	var tables []string
	for rows.Next() {
		var name string
		rows.Scan(&name)
		tables = append(tables, name)
	}
	rows.Close()
	db.Close()
	fmt.Printf("Tables: %v\n", tables)

	ctx := context.Background()
	opts := store.DefaultOptions()
	opts.ReadOnly = true
	kb, err := store.Open(ctx, dbPath, opts)
	if err != nil {
		fmt.Printf("Not a fact base: %v\n", err)
		return
	}
	defer kb.Close()

	total, err := kb.Count(ctx)
	if err != nil {
		fmt.Printf("Error counting facts: %v\n", err)
		return
	}
	fmt.Printf("Total facts: %d\n", total)

	counts, err := kb.PredicateCounts(ctx)
	if err != nil {
		fmt.Printf("Error counting predicates: %v\n", err)
		return
	}
	fmt.Printf("Predicates: %d\n", len(counts))
	fmt.Println("─────────────────────────────────────────────────────────────")
	for i, c := range counts {
		if i == limit {
			fmt.Printf("  ... %d more\n", len(counts)-limit)
			break
		}
		fmt.Printf("  %-40s %d\n", c.Predicate, c.Count)
	}

	if predicate == "" {
		return
	}
	statements, err := kb.SamplePredicate(ctx, predicate, limit, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		fmt.Printf("Error sampling %s: %v\n", predicate, err)
		return
	}
	fmt.Printf("\n%s statements:\n", predicate)
	for i, s := range statements {
		if len(s) > 100 {
			s = s[:100] + "..."
		}
		fmt.Printf("%d. %s\n", i+1, s)
	}
}
