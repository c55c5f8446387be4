package models

// DriverPosition is the latest GPS fix from the bus device.
// It is kept in memory only and replaced on every fix.
type DriverPosition struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"` // GPS accuracy in meters
	Heading   *float64 `json:"heading,omitempty"`  // Direction of travel (0-360 degrees)
	Timestamp int64    `json:"timestamp"`          // Client-side Unix millis
}

// SchoolLocation is where every route ends
type SchoolLocation struct {
	ID        string  `json:"id,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
