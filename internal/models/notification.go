package models

// NotificationKindPassengerStatus tags inbox and push payloads produced by
// passenger status transitions
const NotificationKindPassengerStatus = "passengerStatus"

// NotificationData is the structured part of an inbox record
type NotificationData struct {
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	TripID      string `json:"tripId"`
	SchoolID    string `json:"schoolId"`
}

// Notification is one parent inbox record
type Notification struct {
	ID        string           `json:"id" db:"id"`
	ParentID  string           `json:"parent_id" db:"parent_id"`
	Title     string           `json:"title" db:"title"`
	Body      string           `json:"body" db:"body"`
	CreatedAt int64            `json:"created_at" db:"created_at"`
	Read      bool             `json:"read" db:"read"`
	Data      NotificationData `json:"data" db:"-"`
}

// NotificationRow is the flattened notifications table row
type NotificationRow struct {
	ID          string `db:"id"`
	ParentID    string `db:"parent_id"`
	Title       string `db:"title"`
	Body        string `db:"body"`
	CreatedAt   int64  `db:"created_at"`
	Read        bool   `db:"read"`
	Kind        string `db:"kind"`
	Status      string `db:"status"`
	StudentID   string `db:"student_id"`
	StudentName string `db:"student_name"`
	TripID      string `db:"trip_id"`
	SchoolID    string `db:"school_id"`
}

// ToNotification expands a table row into the API shape
func (r *NotificationRow) ToNotification() Notification {
	return Notification{
		ID:        r.ID,
		ParentID:  r.ParentID,
		Title:     r.Title,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
		Read:      r.Read,
		Data: NotificationData{
			Kind:        r.Kind,
			Status:      r.Status,
			StudentID:   r.StudentID,
			StudentName: r.StudentName,
			TripID:      r.TripID,
			SchoolID:    r.SchoolID,
		},
	}
}
