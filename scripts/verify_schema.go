package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := "./data/gateway.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	fmt.Println("\n1. Verifying tables...")
	for _, table := range []string{"orders", "fills", "positions", "account_snapshots"} {
		rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if rows.Next() {
			fmt.Printf("✓ %s table exists\n", table)
		} else {
			fmt.Printf("❌ %s table MISSING\n", table)
		}
		rows.Close()
	}

	fmt.Println("\n2. Verifying migrated columns...")
	checks := []struct{ table, column string }{
		{"orders", "reason"},
		{"fills", "commission_approx"},
		{"account_snapshots", "equity"},
	}
	for _, c := range checks {
		var sqlSchema string
		err := db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name=?", c.table).Scan(&sqlSchema)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if strings.Contains(sqlSchema, c.column) {
			fmt.Printf("✓ %s.%s column exists\n", c.table, c.column)
		} else {
			fmt.Printf("❌ %s.%s column MISSING\n", c.table, c.column)
		}
	}
}
