package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// StatusChangeChannel is the NOTIFY channel raised for every passenger_status write
const StatusChangeChannel = "status_change_events"

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Println("❌ DATABASE CONNECTION FAILED AT sqlx.Connect()")
		log.Printf("   Error type: %T", err)
		log.Printf("   Error message: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.Println("❌ DATABASE CONNECTION FAILED AT Ping()")
		log.Printf("   Error message: %v", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Create users table (drivers, parents, school admins)
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('driver', 'parent', 'admin')),
			school_id TEXT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create students table
		// Name columns are all optional: records come from several school systems
		`CREATE TABLE IF NOT EXISTS students (
			id TEXT PRIMARY KEY,
			school_id TEXT NOT NULL,
			route_id TEXT,
			name TEXT,
			full_name TEXT,
			display_name TEXT,
			first_name TEXT,
			last_name TEXT,
			address TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Parent <-> student links (one row per link, scoped by school)
		`CREATE TABLE IF NOT EXISTS parent_students (
			parent_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			school_id TEXT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			PRIMARY KEY (parent_id, student_id),
			FOREIGN KEY (parent_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE CASCADE
		)`,

		// Passenger status, one row per (trip, student)
		`CREATE TABLE IF NOT EXISTS passenger_status (
			trip_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			school_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('pending', 'boarded', 'dropped', 'absent')),
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (trip_id, student_id)
		)`,

		// Uploaded scans; the id makes replayed uploads a no-op
		`CREATE TABLE IF NOT EXISTS scan_events (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			student_name TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL CHECK(action IN ('boarding', 'dropping')),
			trip_id TEXT,
			captured_at BIGINT NOT NULL,
			driver_id TEXT,
			received_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Change log written by the passenger_status trigger
		`CREATE TABLE IF NOT EXISTS status_change_events (
			id BIGSERIAL PRIMARY KEY,
			op TEXT NOT NULL,
			trip_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			before JSONB,
			after JSONB,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			processed_at BIGINT,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT
		)`,

		// Parent inbox
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			student_id TEXT NOT NULL,
			student_name TEXT NOT NULL,
			trip_id TEXT NOT NULL,
			school_id TEXT NOT NULL,
			FOREIGN KEY (parent_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create FCM tokens table
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android', 'web')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Trigger: record every passenger_status write and wake listeners
		`CREATE OR REPLACE FUNCTION record_passenger_status_change() RETURNS trigger AS $$
		DECLARE
			event_id BIGINT;
		BEGIN
			INSERT INTO status_change_events (op, trip_id, student_id, before, after)
			VALUES (
				TG_OP,
				COALESCE(NEW.trip_id, OLD.trip_id),
				COALESCE(NEW.student_id, OLD.student_id),
				CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE to_jsonb(OLD) END,
				CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE to_jsonb(NEW) END
			)
			RETURNING id INTO event_id;

			PERFORM pg_notify('` + StatusChangeChannel + `', event_id::TEXT);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS passenger_status_change ON passenger_status`,
		`CREATE TRIGGER passenger_status_change
			AFTER INSERT OR UPDATE OR DELETE ON passenger_status
			FOR EACH ROW EXECUTE FUNCTION record_passenger_status_change()`,

		// Create indexes
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_students_school_id ON students(school_id)`,
		`CREATE INDEX IF NOT EXISTS idx_students_route_id ON students(route_id)`,
		`CREATE INDEX IF NOT EXISTS idx_parent_students_student ON parent_students(student_id, school_id)`,
		`CREATE INDEX IF NOT EXISTS idx_passenger_status_student ON passenger_status(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_events_trip_id ON scan_events(trip_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_events_student_id ON scan_events(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_status_change_events_pending ON status_change_events(id) WHERE processed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_parent ON notifications(parent_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}
