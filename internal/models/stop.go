package models

// OptimizedStop is one student stop in the computed pickup/drop-off order
type OptimizedStop struct {
	Student            StudentLocation `json:"student"`
	DistanceFromSchool float64         `json:"distance_from_school"`           // km
	DistanceFromDriver *float64        `json:"distance_from_driver,omitempty"` // km, display only
	Order              int             `json:"order"`                          // 1-based
}

// RouteStats counts roster entries by passenger status
type RouteStats struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	Boarded         int `json:"boarded"`
	Dropped         int `json:"dropped"`
	Absent          int `json:"absent"`
	WithoutLocation int `json:"without_location"`
}

// RouteSummary is the reporting view of an ordered route
type RouteSummary struct {
	Stops            []OptimizedStop `json:"stops"`
	TotalDistanceKm  float64         `json:"total_distance_km"`
	EstimatedMinutes float64         `json:"estimated_minutes"`
	Stats            RouteStats      `json:"stats"`
}
