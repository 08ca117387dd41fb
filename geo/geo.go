// Package geo provides great-circle distance and travel time estimation.
package geo

import "math"

const (
	// EarthRadiusKm is the mean radius of a spherical Earth
	EarthRadiusKm = 6371.0

	// DefaultSpeedKmh is the assumed ground travel speed for ETA display.
	// Roughly urban driving with traffic.
	DefaultSpeedKmh = 30.0
)

// DistanceKm calculates the great-circle distance between two points in km
// using the haversine formula. Symmetric in its arguments and exactly zero
// for identical points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// EtaMinutes estimates travel time in minutes for a distance at a given
// speed. Zero distance returns 0. A zero or negative speed is a caller
// contract violation and returns +Inf; callers own any display policy
// such as "at least 1 minute".
func EtaMinutes(distanceKm, speedKmh float64) float64 {
	if distanceKm == 0 {
		return 0
	}
	if speedKmh <= 0 {
		return math.Inf(1)
	}
	return distanceKm / speedKmh * 60
}
