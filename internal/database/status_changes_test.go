package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"schoolbus-backend/internal/models"
)

var changeColumns = []string{"id", "op", "trip_id", "student_id", "before", "after", "attempts", "last_error"}

func changeRow(id int64, op, studentID string, before, after []byte) *sqlmock.Rows {
	return sqlmock.NewRows(changeColumns).AddRow(id, op, "t1", studentID, before, after, 0, nil)
}

func TestProcessPendingChanges_MarksOnlySuccesses(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM status_change_events`).
		WithArgs(maxChangeAttempts, int64(0)).
		WillReturnRows(changeRow(7, "UPDATE", "s1",
			[]byte(`{"trip_id":"t1","student_id":"s1","school_id":"school-1","status":"pending","updated_at":1}`),
			[]byte(`{"trip_id":"t1","student_id":"s1","school_id":"school-1","status":"boarded","updated_at":2}`)))
	mock.ExpectExec(`UPDATE status_change_events SET processed_at`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM status_change_events`).
		WithArgs(maxChangeAttempts, int64(7)).
		WillReturnRows(changeRow(8, "INSERT", "s2", nil,
			[]byte(`{"trip_id":"t1","student_id":"s2","school_id":"school-1","status":"absent","updated_at":3}`)))
	mock.ExpectExec(`UPDATE status_change_events SET attempts`).
		WithArgs(int64(8), "push provider down").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM status_change_events`).
		WithArgs(maxChangeAttempts, int64(8)).
		WillReturnRows(sqlmock.NewRows(changeColumns))
	mock.ExpectRollback()

	var seen []models.StatusChange
	processed, err := ProcessPendingChanges(context.Background(), db, 50, func(_ context.Context, change models.StatusChange) error {
		seen = append(seen, change)
		if change.EventID == 8 {
			return errors.New("push provider down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}
	if len(seen) != 2 {
		t.Fatalf("handled %d changes, want 2", len(seen))
	}
	if seen[0].Before == nil || seen[0].Before.Status != "pending" || seen[0].After.Status != "boarded" {
		t.Errorf("unexpected first change %+v", seen[0])
	}
	if seen[1].Before != nil || seen[1].After.Status != "absent" {
		t.Errorf("unexpected second change %+v", seen[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// A failed mark must not undo events already committed in the same call
func TestProcessPendingChanges_FailedMarkKeepsEarlierEvents(t *testing.T) {
	db, mock := newMockDB(t)
	after := []byte(`{"trip_id":"t1","student_id":"s1","school_id":"school-1","status":"boarded","updated_at":2}`)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM status_change_events`).
		WithArgs(maxChangeAttempts, int64(0)).
		WillReturnRows(changeRow(1, "INSERT", "s1", nil, after))
	mock.ExpectExec(`UPDATE status_change_events SET processed_at`).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM status_change_events`).
		WithArgs(maxChangeAttempts, int64(1)).
		WillReturnRows(changeRow(2, "INSERT", "s1", nil, after))
	mock.ExpectExec(`UPDATE status_change_events SET processed_at`).
		WithArgs(int64(2), sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	handled := 0
	processed, err := ProcessPendingChanges(context.Background(), db, 50, func(context.Context, models.StatusChange) error {
		handled++
		return nil
	})
	if err == nil {
		t.Fatal("expected mark failure")
	}
	if processed != 1 || handled != 2 {
		t.Errorf("got processed=%d handled=%d, want 1 and 2", processed, handled)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessPendingChanges_StopsAtLimit(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM status_change_events`).
		WillReturnRows(changeRow(3, "INSERT", "s1", nil,
			[]byte(`{"trip_id":"t1","student_id":"s1","school_id":"school-1","status":"boarded","updated_at":2}`)))
	mock.ExpectExec(`UPDATE status_change_events SET processed_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	processed, err := ProcessPendingChanges(context.Background(), db, 1, func(context.Context, models.StatusChange) error {
		return nil
	})
	if err != nil || processed != 1 {
		t.Fatalf("got (%d, %v), want (1, nil)", processed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessPendingChanges_Empty(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM status_change_events`).
		WillReturnRows(sqlmock.NewRows(changeColumns))
	mock.ExpectRollback()

	processed, err := ProcessPendingChanges(context.Background(), db, 50, func(context.Context, models.StatusChange) error {
		t.Fatal("handler should not run")
		return nil
	})
	if err != nil || processed != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", processed, err)
	}
}
