package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func strPtr(s string) *string { return &s }

func TestIngestScans_StoresAndUpdatesStatus(t *testing.T) {
	db, mock := newMockDB(t)

	scans := []models.ScanEvent{
		{ID: "s2-2000", StudentID: "s2", StudentName: "Bo", Action: models.ActionDropping, TripID: strPtr("t1"), CapturedAt: 2000},
		{ID: "s1-1000", StudentID: "s1", StudentName: "Al", Action: models.ActionBoarding, TripID: strPtr("t1"), CapturedAt: 1000},
	}

	mock.ExpectBegin()
	// Applied in capture order regardless of batch order
	mock.ExpectExec(`INSERT INTO scan_events`).
		WithArgs("s1-1000", "s1", "Al", "boarding", "t1", int64(1000), "driver-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT school_id FROM students`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"school_id"}).AddRow("school-1"))
	mock.ExpectExec(`INSERT INTO passenger_status`).
		WithArgs("t1", "s1", "school-1", "boarded", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scan_events`).
		WithArgs("s2-2000", "s2", "Bo", "dropping", "t1", int64(2000), "driver-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT school_id FROM students`).
		WithArgs("s2").
		WillReturnRows(sqlmock.NewRows([]string{"school_id"}).AddRow("school-1"))
	// A newer capture already won: no row written
	mock.ExpectExec(`INSERT INTO passenger_status`).
		WithArgs("t1", "s2", "school-1", "dropped", int64(2000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := IngestScans(context.Background(), db, "driver-1", scans)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stored != 2 || result.Updated != 1 {
		t.Errorf("got %+v, want stored=2 updated=1", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIngestScans_ReplayedScanIsSkipped(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO scan_events`).
		WithArgs("s1-1000", "s1", "Al", "boarding", "t1", int64(1000), "driver-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := IngestScans(context.Background(), db, "driver-1", []models.ScanEvent{
		{ID: "s1-1000", StudentID: "s1", StudentName: "Al", Action: models.ActionBoarding, TripID: strPtr("t1"), CapturedAt: 1000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stored != 0 || result.Updated != 0 {
		t.Errorf("got %+v, want nothing stored", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIngestScans_WithoutTripOnlyAudits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO scan_events`).
		WithArgs("s1-1000", "s1", "Al", "boarding", nil, int64(1000), "driver-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := IngestScans(context.Background(), db, "driver-1", []models.ScanEvent{
		{ID: "s1-1000", StudentID: "s1", StudentName: "Al", Action: models.ActionBoarding, CapturedAt: 1000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stored != 1 || result.Updated != 0 {
		t.Errorf("got %+v, want stored=1 updated=0", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIngestScans_UnknownStudent(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO scan_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT school_id FROM students`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"school_id"}))
	mock.ExpectCommit()

	result, err := IngestScans(context.Background(), db, "driver-1", []models.ScanEvent{
		{ID: "ghost-1", StudentID: "ghost", Action: models.ActionBoarding, TripID: strPtr("t1"), CapturedAt: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stored != 1 || result.Updated != 0 {
		t.Errorf("got %+v, want stored=1 updated=0", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIngestScans_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO scan_events`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := IngestScans(context.Background(), db, "driver-1", []models.ScanEvent{
		{ID: "s1-1", StudentID: "s1", Action: models.ActionBoarding, CapturedAt: 1},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetRoster_ResolvesNamesAndDefaultsStatus(t *testing.T) {
	db, mock := newMockDB(t)

	columns := []string{"id", "school_id", "route_id", "name", "full_name", "display_name",
		"first_name", "last_name", "latitude", "longitude", "status"}
	rows := sqlmock.NewRows(columns).
		AddRow("s1", "school-1", "r1", nil, nil, nil, "Ada", "Lovelace", 1.5, 2.5, "boarded").
		AddRow("s2", "school-1", "r1", nil, nil, nil, nil, nil, nil, nil, "pending")

	mock.ExpectQuery(`FROM students s\s+LEFT JOIN passenger_status ps`).
		WithArgs("school-1", "t1", "r1").
		WillReturnRows(rows)

	students, err := GetRoster(context.Background(), db, "school-1", strPtr("r1"), strPtr("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("got %d students, want 2", len(students))
	}
	if students[0].Name != "Ada Lovelace" || students[0].Status != models.StatusBoarded {
		t.Errorf("unexpected first student %+v", students[0])
	}
	if students[1].Name != "s2" || students[1].Latitude != nil {
		t.Errorf("unexpected second student %+v", students[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetRoster_WholeSchool(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`FROM students s`).
		WithArgs("school-1", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "school_id", "status"}))

	students, err := GetRoster(context.Background(), db, "school-1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(students) != 0 {
		t.Errorf("got %d students, want 0", len(students))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetStudentRecord_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`FROM students s WHERE s.id = `).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := GetStudentRecord(context.Background(), db, "missing")
	if !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("got %v, want ErrStudentNotFound", err)
	}
}
