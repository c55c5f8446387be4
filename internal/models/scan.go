package models

import "fmt"

// Scan actions captured by the driver
const (
	ActionBoarding = "boarding"
	ActionDropping = "dropping"
)

// ScanEvent is a badge scan captured on the bus device.
// Only Synced ever changes after creation.
type ScanEvent struct {
	ID          string  `json:"id" db:"id" validate:"required"`
	StudentID   string  `json:"student_id" db:"student_id" validate:"required"`
	StudentName string  `json:"student_name" db:"student_name"`
	Action      string  `json:"action" db:"action" validate:"required,oneof=boarding dropping"`
	TripID      *string `json:"trip_id,omitempty" db:"trip_id"`
	CapturedAt  int64   `json:"captured_at" db:"captured_at" validate:"required,gt=0"` // Unix millis
	Synced      bool    `json:"synced" db:"synced"`
}

// ScanID builds the scan identifier from the student and the capture time
func ScanID(studentID string, capturedAtMillis int64) string {
	return fmt.Sprintf("%s-%d", studentID, capturedAtMillis)
}

// IsValidAction reports whether action is a known scan action
func IsValidAction(action string) bool {
	return action == ActionBoarding || action == ActionDropping
}

// StatusForAction maps a scan action to the passenger status it produces
func StatusForAction(action string) string {
	switch action {
	case ActionBoarding:
		return StatusBoarded
	case ActionDropping:
		return StatusDropped
	default:
		return ""
	}
}

// MaxScanBatch is the most scans one upload request may carry. It must
// match the max tag on ScanUploadRequest.Scans.
const MaxScanBatch = 500

// ScanUploadRequest is the body of POST /api/driver/scans
type ScanUploadRequest struct {
	Scans []ScanEvent `json:"scans" validate:"required,min=1,max=500,dive"`
}

// ScanUploadResponse reports how many scans in the batch were new
type ScanUploadResponse struct {
	Success  bool `json:"success"`
	Received int  `json:"received"`
	Stored   int  `json:"stored"`
	Updated  int  `json:"updated"` // passenger_status rows written
}
