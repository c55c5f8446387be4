// Package localstore is the on-device cache for the bus agent: the student
// roster, the scan log and sync metadata, kept in an embedded SQLite file so
// scans survive restarts and connectivity loss.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"schoolbus-backend/internal/models"
)

const (
	metadataKey = "cache"

	// SQLite caps bound variables per statement
	markSyncedChunk = 500

	// How many times RecordScan bumps the capture millis on an id collision
	maxIDCollisions = 1000
)

var (
	ErrInvalidAction  = errors.New("invalid scan action")
	ErrMissingStudent = errors.New("student id is required")
)

// CacheMetadata describes the last successful roster sync
type CacheMetadata struct {
	LastSync      *int64  `json:"last_sync,omitempty" db:"last_sync"` // Unix millis
	SchemaVersion int     `json:"schema_version" db:"schema_version"`
	SchoolID      *string `json:"school_id,omitempty" db:"school_id"`
}

// Stats is what the UI needs to decide whether offline mode is usable
type Stats struct {
	StudentCount  int    `json:"student_count"`
	UnsyncedCount int    `json:"unsynced_count"`
	LastSync      *int64 `json:"last_sync,omitempty"`
	ApproxBytes   int64  `json:"approx_bytes"`
}

// Store is the local cache. All writes run in transactions on a single
// connection, so readers never see a half-applied upsert.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for scan ids and timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (or creates) the cache file at path and migrates it
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping local cache: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	log.Printf("✅ Local cache opened: %s (schema v%d)", path, SchemaVersion)
	return s, nil
}

// Close releases the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// CacheStudents upserts the roster and stamps metadata.last_sync in one
// transaction. A student with unsynced scans keeps its local status so a
// stale download cannot undo a scan that has not reached the server yet.
func (s *Store) CacheStudents(ctx context.Context, students []models.Student, schoolID string, routeID *string) error {
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin roster cache: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO students (id, school_id, route_id, name, latitude, longitude, status, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			school_id = excluded.school_id,
			route_id = excluded.route_id,
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			status = CASE
				WHEN EXISTS (SELECT 1 FROM scan_history WHERE student_id = excluded.id AND synced = 0)
				THEN students.status
				ELSE excluded.status
			END,
			last_updated = excluded.last_updated
	`

	for _, st := range students {
		studentSchool := st.SchoolID
		if studentSchool == "" {
			studentSchool = schoolID
		}
		studentRoute := st.RouteID
		if studentRoute == nil {
			studentRoute = routeID
		}
		status := st.Status
		if status == "" {
			status = models.StatusPending
		}

		if _, err := tx.ExecContext(ctx, query,
			st.ID, studentSchool, studentRoute, st.Name, st.Latitude, st.Longitude, status, now,
		); err != nil {
			return fmt.Errorf("failed to cache student %s: %w", st.ID, err)
		}
	}

	metaQuery := `
		INSERT INTO metadata (key, last_sync, schema_version, school_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			last_sync = excluded.last_sync,
			schema_version = excluded.schema_version,
			school_id = excluded.school_id
	`
	if _, err := tx.ExecContext(ctx, metaQuery, metadataKey, now, SchemaVersion, schoolID); err != nil {
		return fmt.Errorf("failed to update cache metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit roster cache: %w", err)
	}

	log.Printf("📦 Cached %d students for school %s", len(students), schoolID)
	return nil
}

// RecordScan appends a new unsynced scan and returns its id. The cached
// student's status follows the scan so the route view is current offline.
func (s *Store) RecordScan(ctx context.Context, studentID, studentName, action string, tripID *string) (string, error) {
	if studentID == "" {
		return "", ErrMissingStudent
	}
	if !models.IsValidAction(action) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	capturedAt := s.now().UnixMilli()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin scan insert: %w", err)
	}
	defer tx.Rollback()

	var scanID string
	for i := 0; i < maxIDCollisions; i++ {
		candidate := models.ScanID(studentID, capturedAt)
		result, err := tx.ExecContext(ctx, `
			INSERT INTO scan_history (id, student_id, student_name, action, trip_id, captured_at, synced)
			VALUES (?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(id) DO NOTHING`,
			candidate, studentID, studentName, action, tripID, capturedAt,
		)
		if err != nil {
			return "", fmt.Errorf("failed to record scan: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 1 {
			scanID = candidate
			break
		}
		// Two captures in the same millisecond: keep both
		capturedAt++
	}
	if scanID == "" {
		return "", fmt.Errorf("failed to allocate scan id for student %s", studentID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE students SET status = ? WHERE id = ?`,
		models.StatusForAction(action), studentID,
	); err != nil {
		return "", fmt.Errorf("failed to update cached student status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit scan: %w", err)
	}

	log.Printf("📝 Scan recorded: %s %s (%s)", studentName, action, scanID)
	return scanID, nil
}

const scanColumns = `id, student_id, student_name, action, trip_id, captured_at, synced`

// UnsyncedScans returns every scan not yet uploaded, in insertion order
func (s *Store) UnsyncedScans(ctx context.Context) ([]models.ScanEvent, error) {
	scans := []models.ScanEvent{}
	query := `SELECT ` + scanColumns + ` FROM scan_history WHERE synced = 0 ORDER BY rowid ASC`
	if err := s.db.SelectContext(ctx, &scans, query); err != nil {
		return nil, fmt.Errorf("failed to get unsynced scans: %w", err)
	}
	return scans, nil
}

// MarkSynced flips synced for the given ids in one transaction. Unknown ids
// are ignored.
func (s *Store) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mark synced: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(ids); start += markSyncedChunk {
		end := start + markSyncedChunk
		if end > len(ids) {
			end = len(ids)
		}

		query, args, err := sqlx.In(`UPDATE scan_history SET synced = 1 WHERE id IN (?)`, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to build mark synced query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to mark scans synced: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark synced: %w", err)
	}
	return nil
}

// ScansByStudent returns the scan history of one student, oldest first
func (s *Store) ScansByStudent(ctx context.Context, studentID string) ([]models.ScanEvent, error) {
	scans := []models.ScanEvent{}
	query := `SELECT ` + scanColumns + ` FROM scan_history WHERE student_id = ? ORDER BY captured_at ASC`
	if err := s.db.SelectContext(ctx, &scans, query, studentID); err != nil {
		return nil, fmt.Errorf("failed to get scans for student: %w", err)
	}
	return scans, nil
}

// ScansByTrip returns the scans captured on one trip, oldest first
func (s *Store) ScansByTrip(ctx context.Context, tripID string) ([]models.ScanEvent, error) {
	scans := []models.ScanEvent{}
	query := `SELECT ` + scanColumns + ` FROM scan_history WHERE trip_id = ? ORDER BY captured_at ASC`
	if err := s.db.SelectContext(ctx, &scans, query, tripID); err != nil {
		return nil, fmt.Errorf("failed to get scans for trip: %w", err)
	}
	return scans, nil
}

const studentColumns = `id, school_id, route_id, name, latitude, longitude, status, last_updated`

// Students returns the whole cached roster
func (s *Store) Students(ctx context.Context) ([]models.Student, error) {
	students := []models.Student{}
	if err := s.db.SelectContext(ctx, &students, `SELECT `+studentColumns+` FROM students ORDER BY rowid ASC`); err != nil {
		return nil, fmt.Errorf("failed to get students: %w", err)
	}
	return students, nil
}

// StudentsBySchool returns the cached roster of one school
func (s *Store) StudentsBySchool(ctx context.Context, schoolID string) ([]models.Student, error) {
	students := []models.Student{}
	query := `SELECT ` + studentColumns + ` FROM students WHERE school_id = ? ORDER BY rowid ASC`
	if err := s.db.SelectContext(ctx, &students, query, schoolID); err != nil {
		return nil, fmt.Errorf("failed to get students by school: %w", err)
	}
	return students, nil
}

// StudentsByRoute returns the cached roster of one route
func (s *Store) StudentsByRoute(ctx context.Context, routeID string) ([]models.Student, error) {
	students := []models.Student{}
	query := `SELECT ` + studentColumns + ` FROM students WHERE route_id = ? ORDER BY rowid ASC`
	if err := s.db.SelectContext(ctx, &students, query, routeID); err != nil {
		return nil, fmt.Errorf("failed to get students by route: %w", err)
	}
	return students, nil
}

// Metadata returns the sync metadata row, or a zero value before the first sync
func (s *Store) Metadata(ctx context.Context) (CacheMetadata, error) {
	var meta CacheMetadata
	err := s.db.GetContext(ctx, &meta,
		`SELECT last_sync, schema_version, school_id FROM metadata WHERE key = ?`, metadataKey)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheMetadata{SchemaVersion: SchemaVersion}, nil
	}
	if err != nil {
		return CacheMetadata{}, fmt.Errorf("failed to get cache metadata: %w", err)
	}
	return meta, nil
}

// Clear empties every region. Only for explicit logout or reset.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"students", "scan_history", "metadata"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	log.Println("🗑️  Local cache cleared")
	return nil
}

// Stats reports roster size, pending uploads, last sync and file size
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := s.db.GetContext(ctx, &stats.StudentCount, `SELECT COUNT(*) FROM students`); err != nil {
		return Stats{}, fmt.Errorf("failed to count students: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.UnsyncedCount, `SELECT COUNT(*) FROM scan_history WHERE synced = 0`); err != nil {
		return Stats{}, fmt.Errorf("failed to count unsynced scans: %w", err)
	}

	meta, err := s.Metadata(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.LastSync = meta.LastSync

	if err := s.db.GetContext(ctx, &stats.ApproxBytes,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`); err != nil {
		return Stats{}, fmt.Errorf("failed to read cache size: %w", err)
	}

	return stats, nil
}
