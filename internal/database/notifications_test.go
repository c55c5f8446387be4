package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"schoolbus-backend/internal/models"
)

func TestParentIDsForStudent(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT parent_id FROM parent_students`).
		WithArgs("s1", "school-1").
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}).AddRow("p1").AddRow("p2"))

	parents, err := ParentIDsForStudent(context.Background(), db, "s1", "school-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parents) != 2 || parents[0] != "p1" || parents[1] != "p2" {
		t.Errorf("got %v, want [p1 p2]", parents)
	}
}

func sampleNotification(id, parentID string) models.Notification {
	return models.Notification{
		ID: id, ParentID: parentID, Title: "On Bus 🚌", Body: "Al is boarded.", CreatedAt: 10,
		Data: models.NotificationData{
			Kind: models.NotificationKindPassengerStatus, Status: "boarded",
			StudentID: "s1", StudentName: "Al", TripID: "t1", SchoolID: "school-1",
		},
	}
}

func TestInsertNotifications_AllInOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs("n1", "p1", "On Bus 🚌", "Al is boarded.", int64(10), false,
			"passengerStatus", "boarded", "s1", "Al", "t1", "school-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs("n2", "p2", "On Bus 🚌", "Al is boarded.", int64(10), false,
			"passengerStatus", "boarded", "s1", "Al", "t1", "school-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := InsertNotifications(context.Background(), db, []models.Notification{
		sampleNotification("n1", "p1"),
		sampleNotification("n2", "p2"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertNotifications_FailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO notifications`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := InsertNotifications(context.Background(), db, []models.Notification{
		sampleNotification("n1", "p1"),
		sampleNotification("n2", "p2"),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertNotifications_EmptyIsNoop(t *testing.T) {
	db, mock := newMockDB(t)

	if err := InsertNotifications(context.Background(), db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListNotifications_UnreadOnly(t *testing.T) {
	db, mock := newMockDB(t)

	columns := []string{"id", "parent_id", "title", "body", "created_at", "read",
		"kind", "status", "student_id", "student_name", "trip_id", "school_id"}
	mock.ExpectQuery(`WHERE parent_id = \$1 AND read = FALSE ORDER BY created_at DESC`).
		WithArgs("p1", 20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("n1", "p1", "Marked Absent", "Al is absent.", int64(5), false,
				"passengerStatus", "absent", "s1", "Al", "t1", "school-1"))

	list, err := ListNotifications(context.Background(), db, "p1", true, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Data.Status != "absent" || list[0].Data.Kind != models.NotificationKindPassengerStatus {
		t.Errorf("unexpected notifications %+v", list)
	}
}

func TestMarkNotificationRead_OtherParent(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE notifications SET read = TRUE`).
		WithArgs("n1", "p2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := MarkNotificationRead(context.Background(), db, "p2", "n1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no row to be updated")
	}
}
