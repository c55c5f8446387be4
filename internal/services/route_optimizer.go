package services

import (
	"log"
	"sort"

	"schoolbus-backend/internal/geo"
	"schoolbus-backend/internal/models"
)

// AverageBusSpeedKmh is the flat speed used for duration estimates
const AverageBusSpeedKmh = 30.0

// RouteOptimizer orders student stops for a trip.
//
// The order is driver -> farthest student -> ... -> nearest student -> school.
// Distance from the school is the only sort key, so the list does not
// reshuffle as the bus moves; the driver position only annotates each stop.
type RouteOptimizer struct {
	// Verbose enables per-stop logging (server previews only, the bus agent
	// reorders on every GPS fix)
	Verbose bool
}

// NewRouteOptimizer creates a new route optimizer
func NewRouteOptimizer() *RouteOptimizer {
	return &RouteOptimizer{}
}

// Optimize builds the full stop sequence. Students with missing or invalid
// coordinates are skipped.
func (ro *RouteOptimizer) Optimize(
	students []models.StudentLocation,
	school models.SchoolLocation,
	driver *models.DriverPosition,
) []models.OptimizedStop {
	stops := make([]models.OptimizedStop, 0, len(students))
	skipped := 0

	for _, student := range students {
		if !geo.ValidPointer(student.Latitude, student.Longitude) {
			skipped++
			continue
		}

		stop := models.OptimizedStop{
			Student: student,
			DistanceFromSchool: geo.Distance(
				school.Latitude,
				school.Longitude,
				*student.Latitude,
				*student.Longitude,
			),
		}

		if driver != nil && geo.ValidCoordinate(driver.Latitude, driver.Longitude) {
			d := geo.Distance(driver.Latitude, driver.Longitude, *student.Latitude, *student.Longitude)
			stop.DistanceFromDriver = &d
		}

		stops = append(stops, stop)
	}

	// Farthest from school first; ties keep input order
	sort.SliceStable(stops, func(i, j int) bool {
		return stops[i].DistanceFromSchool > stops[j].DistanceFromSchool
	})

	for i := range stops {
		stops[i].Order = i + 1
	}

	if skipped > 0 {
		log.Printf("⚠️  Route optimization skipped %d student(s) without valid coordinates", skipped)
	}

	if ro.Verbose {
		log.Printf("✅ Route optimized: %d stops", len(stops))
		for _, stop := range stops {
			log.Printf("      %d. %s (%.2f km from school)", stop.Order, stop.Student.Name, stop.DistanceFromSchool)
		}
	}

	return stops
}

// TotalDistance sums the great-circle legs between consecutive stops,
// starting from the driver when a position is given
func TotalDistance(stops []models.OptimizedStop, driver *models.DriverPosition) float64 {
	if len(stops) == 0 {
		return 0
	}

	total := 0.0
	if driver != nil && geo.ValidCoordinate(driver.Latitude, driver.Longitude) {
		first := stops[0].Student
		total += geo.Distance(driver.Latitude, driver.Longitude, *first.Latitude, *first.Longitude)
	}

	for i := 1; i < len(stops); i++ {
		prev := stops[i-1].Student
		curr := stops[i].Student
		total += geo.Distance(*prev.Latitude, *prev.Longitude, *curr.Latitude, *curr.Longitude)
	}

	return total
}

// EstimatedDurationMinutes converts a distance to minutes at AverageBusSpeedKmh
func EstimatedDurationMinutes(distanceKm float64) float64 {
	return distanceKm / AverageBusSpeedKmh * 60
}

// Stats counts students by passenger status
func Stats(students []models.StudentLocation) models.RouteStats {
	stats := models.RouteStats{Total: len(students)}
	for _, s := range students {
		switch s.Status {
		case models.StatusBoarded:
			stats.Boarded++
		case models.StatusDropped:
			stats.Dropped++
		case models.StatusAbsent:
			stats.Absent++
		default:
			stats.Pending++
		}
		if !geo.ValidPointer(s.Latitude, s.Longitude) {
			stats.WithoutLocation++
		}
	}
	return stats
}

// Summarize orders the students and attaches distance, duration and counts
func (ro *RouteOptimizer) Summarize(
	students []models.StudentLocation,
	school models.SchoolLocation,
	driver *models.DriverPosition,
) models.RouteSummary {
	stops := ro.Optimize(students, school, driver)
	distance := TotalDistance(stops, driver)

	return models.RouteSummary{
		Stops:            stops,
		TotalDistanceKm:  distance,
		EstimatedMinutes: EstimatedDurationMinutes(distance),
		Stats:            Stats(students),
	}
}
