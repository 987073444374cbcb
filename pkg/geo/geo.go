// Package geo provides great-circle distance helpers. All distances are in miles.
package geo

import "math"

// EarthRadiusMiles is the mean earth radius used for every distance in the system.
const EarthRadiusMiles = 3958.8

// MetersPerMile converts between the metric values reported by devices and miles.
const MetersPerMile = 1609.344

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the haversine distance in miles between two coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLon*sinLon

	// Rounding can push a slightly outside [0,1] near antipodal points.
	a = math.Min(1, math.Max(0, a))

	return EarthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceBetween is Distance for two points.
func DistanceBetween(a, b Point) float64 {
	return Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Valid reports whether the point lies within the legal coordinate ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// MilesToMeters converts a distance in miles to meters.
func MilesToMeters(miles float64) float64 {
	return miles * MetersPerMile
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
