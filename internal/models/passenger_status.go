package models

// PassengerStatus is the remote per-(trip, student) status record.
// JSON tags match the column names because change events carry rows
// serialized by Postgres.
type PassengerStatus struct {
	TripID    string `json:"trip_id" db:"trip_id"`
	StudentID string `json:"student_id" db:"student_id"`
	SchoolID  string `json:"school_id" db:"school_id"`
	Status    string `json:"status" db:"status"`
	UpdatedAt int64  `json:"updated_at" db:"updated_at"`
}

// StatusChange is one committed write to a passenger_status record.
// Before is nil on insert, After is nil on delete.
type StatusChange struct {
	EventID   int64            `json:"event_id"`
	Operation string           `json:"op"`
	TripID    string           `json:"trip_id"`
	StudentID string           `json:"student_id"`
	Before    *PassengerStatus `json:"before,omitempty"`
	After     *PassengerStatus `json:"after,omitempty"`
}

// IsTerminalStatus reports whether status is one a pending passenger can move to
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusBoarded, StatusDropped, StatusAbsent:
		return true
	}
	return false
}

// SetStatusRequest is the body of PUT /api/driver/trips/{tripId}/students/{studentId}/status
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending boarded dropped absent"`
}
