package notifier

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/database"
	"schoolbus-backend/internal/models"
)

// PostgresStore backs the notifier with the server database
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) StudentRecord(ctx context.Context, studentID string) (*models.StudentRecord, error) {
	record, err := database.GetStudentRecord(ctx, s.db, studentID)
	if errors.Is(err, database.ErrStudentNotFound) {
		return nil, nil
	}
	return record, err
}

func (s *PostgresStore) ParentIDs(ctx context.Context, studentID, schoolID string) ([]string, error) {
	return database.ParentIDsForStudent(ctx, s.db, studentID, schoolID)
}

func (s *PostgresStore) InsertNotifications(ctx context.Context, notifications []models.Notification) error {
	return database.InsertNotifications(ctx, s.db, notifications)
}

func (s *PostgresStore) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	return database.DeviceTokens(ctx, s.db, userID)
}

func (s *PostgresStore) DeleteToken(ctx context.Context, token string) error {
	return database.DeleteFCMToken(ctx, s.db, token)
}
