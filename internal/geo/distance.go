// Package geo holds the great-circle math shared by route ordering and
// position handling.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for every distance
const EarthRadiusKm = 6371.0

// Distance calculates the haversine distance between two GPS coordinates in
// kilometers. NaN inputs yield NaN; callers filter invalid coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// ValidCoordinate reports whether lat/lon is a finite point on the globe
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ValidPointer is ValidCoordinate for optional columns
func ValidPointer(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	return ValidCoordinate(*lat, *lon)
}
