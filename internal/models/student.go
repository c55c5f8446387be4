package models

import "strings"

// Passenger statuses shared by the local roster cache and the remote
// passenger_status records.
const (
	StatusPending = "pending"
	StatusBoarded = "boarded"
	StatusDropped = "dropped"
	StatusAbsent  = "absent"
)

// Student is a roster row as cached on the bus device and served by the
// roster download endpoint.
type Student struct {
	ID          string   `json:"id" db:"id"`
	SchoolID    string   `json:"school_id" db:"school_id"`
	RouteID     *string  `json:"route_id,omitempty" db:"route_id"`
	Name        string   `json:"name" db:"name"`
	Latitude    *float64 `json:"latitude,omitempty" db:"latitude"`   // Home stop; nil when not geocoded
	Longitude   *float64 `json:"longitude,omitempty" db:"longitude"` // Home stop; nil when not geocoded
	Status      string   `json:"status" db:"status"`
	LastUpdated int64    `json:"last_updated,omitempty" db:"last_updated"` // Unix millis, set by the local cache
}

// StudentLocation is the optimizer's view of a student.
type StudentLocation struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Status    string   `json:"status"`
}

// ToStudentLocation converts a roster row for route ordering
func (s *Student) ToStudentLocation() StudentLocation {
	return StudentLocation{
		ID:        s.ID,
		Name:      s.Name,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Status:    s.Status,
	}
}

// StudentRecord is the server-side student row. Name columns are all
// optional because records are imported from several school systems.
type StudentRecord struct {
	ID          string   `db:"id"`
	SchoolID    string   `db:"school_id"`
	RouteID     *string  `db:"route_id"`
	Name        *string  `db:"name"`
	FullName    *string  `db:"full_name"`
	DisplayName *string  `db:"display_name"`
	FirstName   *string  `db:"first_name"`
	LastName    *string  `db:"last_name"`
	Latitude    *float64 `db:"latitude"`
	Longitude   *float64 `db:"longitude"`
}

// RosterResponse is the body of GET /api/driver/roster
type RosterResponse struct {
	Success  bool      `json:"success"`
	SchoolID string    `json:"school_id"`
	RouteID  *string   `json:"route_id,omitempty"`
	TripID   *string   `json:"trip_id,omitempty"`
	Students []Student `json:"students"`
}

// ResolveName picks the best human-readable name:
// name, full name, display name, "first last", then the raw id.
func (s *StudentRecord) ResolveName() string {
	for _, candidate := range []*string{s.Name, s.FullName, s.DisplayName} {
		if candidate != nil && strings.TrimSpace(*candidate) != "" {
			return strings.TrimSpace(*candidate)
		}
	}

	parts := make([]string, 0, 2)
	for _, part := range []*string{s.FirstName, s.LastName} {
		if part != nil && strings.TrimSpace(*part) != "" {
			parts = append(parts, strings.TrimSpace(*part))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}

	return s.ID
}

// ToStudent converts a server row into the roster shape
func (s *StudentRecord) ToStudent(status string) Student {
	if status == "" {
		status = StatusPending
	}
	return Student{
		ID:        s.ID,
		SchoolID:  s.SchoolID,
		RouteID:   s.RouteID,
		Name:      s.ResolveName(),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Status:    status,
	}
}
