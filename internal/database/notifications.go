package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/models"
)

// ParentIDsForStudent returns the parents linked to a student within a school
func ParentIDsForStudent(ctx context.Context, db *sqlx.DB, studentID, schoolID string) ([]string, error) {
	var parentIDs []string
	query := `SELECT parent_id FROM parent_students
	          WHERE student_id = $1 AND school_id = $2
	          ORDER BY parent_id ASC`
	if err := db.SelectContext(ctx, &parentIDs, query, studentID, schoolID); err != nil {
		return nil, fmt.Errorf("failed to get parents: %w", err)
	}
	return parentIDs, nil
}

// InsertNotifications writes every inbox record of one change in a single
// transaction, so either all parents get the record or none do
func InsertNotifications(ctx context.Context, db *sqlx.DB, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO notifications (
			id, parent_id, title, body, created_at, read,
			kind, status, student_id, student_name, trip_id, school_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	for _, n := range notifications {
		_, err := tx.ExecContext(ctx, query,
			n.ID, n.ParentID, n.Title, n.Body, n.CreatedAt, n.Read,
			n.Data.Kind, n.Data.Status, n.Data.StudentID, n.Data.StudentName, n.Data.TripID, n.Data.SchoolID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification for parent %s: %w", n.ParentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notifications: %w", err)
	}
	return nil
}

// ListNotifications returns a parent's inbox, newest first
func ListNotifications(ctx context.Context, db *sqlx.DB, parentID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, parent_id, title, body, created_at, read,
		       kind, status, student_id, student_name, trip_id, school_id
		FROM notifications
		WHERE parent_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	var rows []models.NotificationRow
	if err := db.SelectContext(ctx, &rows, query, parentID, limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	notifications := make([]models.Notification, len(rows))
	for i := range rows {
		notifications[i] = rows[i].ToNotification()
	}
	return notifications, nil
}

// MarkNotificationRead flags one inbox record as read. It reports false when
// the record does not exist or belongs to another parent.
func MarkNotificationRead(ctx context.Context, db *sqlx.DB, parentID, notificationID string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND parent_id = $2`,
		notificationID, parentID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n > 0, nil
}

// DeviceTokens returns the FCM tokens registered by a user
func DeviceTokens(ctx context.Context, db *sqlx.DB, userID string) ([]string, error) {
	var tokens []string
	if err := db.SelectContext(ctx, &tokens, `SELECT token FROM fcm_tokens WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("failed to get FCM tokens: %w", err)
	}
	return tokens, nil
}

// RegisterFCMToken stores a device token, moving it to userID if another
// account registered it before
func RegisterFCMToken(ctx context.Context, db *sqlx.DB, userID, token, deviceType string) error {
	now := time.Now().Unix()
	query := `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_type = EXCLUDED.device_type,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := db.ExecContext(ctx, query, userID, token, deviceType, now); err != nil {
		return fmt.Errorf("failed to save FCM token: %w", err)
	}
	return nil
}

// DeleteFCMToken drops a token the push provider reported as unregistered
func DeleteFCMToken(ctx context.Context, db *sqlx.DB, token string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM fcm_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete FCM token: %w", err)
	}
	return nil
}
