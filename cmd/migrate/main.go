package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"schoolbus-backend/internal/database"
)

// Applies the schema, then optionally runs a SQL file such as a roster
// import exported from a school information system.
func main() {
	file := flag.String("file", "", "SQL file to execute after migrating (e.g. migrations/import_students.sql)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *file != "" {
		migrationSQL, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("Failed to read migration file: %v", err)
		}

		log.Printf("Executing migration: %s\n", *file)
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	}

	var result struct {
		Students       int `db:"students"`
		WithoutCoords  int `db:"without_coords"`
		ParentLinks    int `db:"parent_links"`
		PendingChanges int `db:"pending_changes"`
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM students) AS students,
			(SELECT COUNT(*) FROM students WHERE latitude IS NULL OR longitude IS NULL) AS without_coords,
			(SELECT COUNT(*) FROM parent_students) AS parent_links,
			(SELECT COUNT(*) FROM status_change_events WHERE processed_at IS NULL) AS pending_changes
	`
	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Students:                %d\n", result.Students)
	fmt.Printf("Students without coords: %d (left out of route ordering)\n", result.WithoutCoords)
	fmt.Printf("Parent links:            %d\n", result.ParentLinks)
	fmt.Printf("Pending status changes:  %d\n", result.PendingChanges)
	fmt.Println("============================================================")
}
