// Package geo provides the pure geometry primitives used across the
// simulation: great-circle distance, bearings, polyline snapping, polygon
// containment and the degree-aligned grid used by the route reservoir.
//
// All distances are meters, all coordinates WGS84 degrees. Every function is
// deterministic and performs no I/O.
package geo

import "math"

// earthRadiusM is the mean Earth radius used for haversine distances.
const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceMeters calculates the great-circle distance between two points
// using the haversine formula.
func DistanceMeters(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// BearingDegrees returns the initial bearing from a to b, normalized to [0, 360).
func BearingDegrees(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	bearing := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}
