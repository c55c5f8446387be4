package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/models"
)

var ErrStudentNotFound = errors.New("student not found")

// IngestResult counts what one uploaded batch changed
type IngestResult struct {
	Stored  int // scans not seen before
	Updated int // passenger_status rows written
}

// IngestScans stores an uploaded batch in one transaction. Scans already
// stored (same id) are skipped, so replaying a batch changes nothing. Each
// new scan carrying a trip moves that passenger's status, unless a newer
// capture already did.
func IngestScans(ctx context.Context, db *sqlx.DB, driverID string, scans []models.ScanEvent) (IngestResult, error) {
	var result IngestResult

	ordered := make([]models.ScanEvent, len(scans))
	copy(ordered, scans)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CapturedAt < ordered[j].CapturedAt
	})

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertScan := `
		INSERT INTO scan_events (id, student_id, student_name, action, trip_id, captured_at, driver_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	upsertStatus := `
		INSERT INTO passenger_status (trip_id, student_id, school_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trip_id, student_id) DO UPDATE SET
			school_id = EXCLUDED.school_id,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		WHERE passenger_status.updated_at <= EXCLUDED.updated_at
	`

	for _, scan := range ordered {
		res, err := tx.ExecContext(ctx, insertScan,
			scan.ID, scan.StudentID, scan.StudentName, scan.Action, scan.TripID, scan.CapturedAt, driverID,
		)
		if err != nil {
			return result, fmt.Errorf("failed to store scan %s: %w", scan.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		result.Stored++

		if scan.TripID == nil || *scan.TripID == "" {
			continue
		}

		var schoolID string
		err = tx.GetContext(ctx, &schoolID, `SELECT school_id FROM students WHERE id = $1`, scan.StudentID)
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("⚠️  Scan %s references unknown student %s, status not updated", scan.ID, scan.StudentID)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to look up student %s: %w", scan.StudentID, err)
		}

		res, err = tx.ExecContext(ctx, upsertStatus,
			*scan.TripID, scan.StudentID, schoolID, models.StatusForAction(scan.Action), scan.CapturedAt,
		)
		if err != nil {
			return result, fmt.Errorf("failed to update passenger status: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit scans: %w", err)
	}

	return result, nil
}

// SetPassengerStatus writes a status directly (e.g. marking a student
// absent). The school always comes from the student row so the change event
// reaches that school's parents; status.SchoolID is overwritten with it.
func SetPassengerStatus(ctx context.Context, db *sqlx.DB, status *models.PassengerStatus) error {
	query := `
		INSERT INTO passenger_status (trip_id, student_id, school_id, status, updated_at)
		SELECT $1, s.id, s.school_id, $3, $4
		FROM students s
		WHERE s.id = $2
		ON CONFLICT (trip_id, student_id) DO UPDATE SET
			school_id = EXCLUDED.school_id,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING school_id
	`
	var schoolID string
	err := db.GetContext(ctx, &schoolID, query, status.TripID, status.StudentID, status.Status, status.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStudentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to set passenger status: %w", err)
	}
	status.SchoolID = schoolID
	return nil
}

// GetPassengerStatus returns the status row for one trip/student
func GetPassengerStatus(ctx context.Context, db *sqlx.DB, tripID, studentID string) (*models.PassengerStatus, error) {
	var status models.PassengerStatus
	query := `SELECT trip_id, student_id, school_id, status, updated_at
	          FROM passenger_status WHERE trip_id = $1 AND student_id = $2`
	if err := db.GetContext(ctx, &status, query, tripID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get passenger status: %w", err)
	}
	return &status, nil
}

const studentRecordColumns = `s.id, s.school_id, s.route_id, s.name, s.full_name, s.display_name,
	s.first_name, s.last_name, s.latitude, s.longitude`

// GetStudentRecord loads one student row
func GetStudentRecord(ctx context.Context, db *sqlx.DB, studentID string) (*models.StudentRecord, error) {
	var record models.StudentRecord
	query := `SELECT ` + studentRecordColumns + ` FROM students s WHERE s.id = $1`
	if err := db.GetContext(ctx, &record, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &record, nil
}

type rosterRow struct {
	models.StudentRecord
	Status string `db:"status"`
}

// GetRoster returns a school's students, optionally limited to one route,
// with their status on the given trip (pending when there is none)
func GetRoster(ctx context.Context, db *sqlx.DB, schoolID string, routeID, tripID *string) ([]models.Student, error) {
	trip := ""
	if tripID != nil {
		trip = *tripID
	}

	query := `
		SELECT ` + studentRecordColumns + `, COALESCE(ps.status, 'pending') AS status
		FROM students s
		LEFT JOIN passenger_status ps ON ps.student_id = s.id AND ps.trip_id = $2
		WHERE s.school_id = $1`
	args := []interface{}{schoolID, trip}

	if routeID != nil && *routeID != "" {
		query += ` AND s.route_id = $3`
		args = append(args, *routeID)
	}
	query += ` ORDER BY s.id ASC`

	var rows []rosterRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get roster: %w", err)
	}

	students := make([]models.Student, len(rows))
	for i := range rows {
		students[i] = rows[i].StudentRecord.ToStudent(rows[i].Status)
	}
	return students, nil
}

// StudentStop is the geocoding view of a student row
type StudentStop struct {
	ID        string   `db:"id"`
	Address   *string  `db:"address"`
	Latitude  *float64 `db:"latitude"`
	Longitude *float64 `db:"longitude"`
}

// GetStudentStop loads the stored home address and coordinates of a student
func GetStudentStop(ctx context.Context, db *sqlx.DB, studentID string) (*StudentStop, error) {
	var stop StudentStop
	query := `SELECT id, address, latitude, longitude FROM students WHERE id = $1`
	if err := db.GetContext(ctx, &stop, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student stop: %w", err)
	}
	return &stop, nil
}

// UpdateStudentStop stores a geocoded home stop
func UpdateStudentStop(ctx context.Context, db *sqlx.DB, studentID, address string, lat, lng float64) error {
	query := `UPDATE students
	          SET address = $2, latitude = $3, longitude = $4, updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
	          WHERE id = $1`
	if _, err := db.ExecContext(ctx, query, studentID, address, lat, lng); err != nil {
		return fmt.Errorf("failed to update student stop: %w", err)
	}
	return nil
}
