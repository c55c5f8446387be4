package localstore

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// SchemaVersion is the current on-device schema, stored in PRAGMA user_version
const SchemaVersion = 1

// migrations[i] upgrades the schema from version i to i+1
var migrations = [][]string{
	{
		// Cached roster (one row per student)
		`CREATE TABLE IF NOT EXISTS students (
			id TEXT PRIMARY KEY,
			school_id TEXT NOT NULL,
			route_id TEXT,
			name TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			status TEXT NOT NULL DEFAULT 'pending',
			last_updated INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_students_school_id ON students(school_id)`,
		`CREATE INDEX IF NOT EXISTS idx_students_route_id ON students(route_id)`,

		// Scan log, append-only apart from the synced flag
		`CREATE TABLE IF NOT EXISTS scan_history (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			student_name TEXT NOT NULL,
			action TEXT NOT NULL CHECK(action IN ('boarding', 'dropping')),
			trip_id TEXT,
			captured_at INTEGER NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_history_student_id ON scan_history(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_history_trip_id ON scan_history(trip_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_history_synced ON scan_history(synced)`,

		// Single metadata row
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			last_sync INTEGER,
			schema_version INTEGER NOT NULL,
			school_id TEXT
		)`,
	},
}

// migrate brings the database up to SchemaVersion inside one transaction
func migrate(db *sqlx.DB) error {
	var current int
	if err := db.Get(&current, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if current > SchemaVersion {
		return fmt.Errorf("local cache schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	if current == SchemaVersion {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for v := current; v < SchemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration to version %d failed: %w", v+1, err)
			}
		}
	}

	// PRAGMA does not accept bind parameters
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	log.Printf("✅ Local cache schema migrated: v%d → v%d", current, SchemaVersion)
	return nil
}
