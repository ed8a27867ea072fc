package geo

import "math"

// Snap is the result of projecting a point onto a polyline.
type Snap struct {
	Point         Point   // nearest point on the polyline
	SegmentIndex  int     // index of the segment the point falls on
	T             float64 // position within the segment, 0 at its start, 1 at its end
	DistanceAlong float64 // arc length from the polyline start to Point, meters
	Distance      float64 // distance from the query point to Point, meters
}

// metersPerDegreeLat is the approximate north-south extent of one degree.
const metersPerDegreeLat = 111320.0

// snapTieEpsilonM absorbs sub-micrometer haversine noise so that equidistant
// segments resolve to the lower index instead of whichever float came out
// smaller.
const snapTieEpsilonM = 1e-6

// SnapToPolyline projects p onto the nearest segment of the polyline and
// returns the foot of the perpendicular, clamped to the segment. Ties between
// equidistant segments go to the lower segment index.
//
// The projection works on the local equirectangular tangent plane, scaling
// longitude by the cosine of the segment midpoint latitude. Accuracy is better
// than half a meter for segments up to roughly 50 km.
func SnapToPolyline(p Point, polyline []Point) (Snap, bool) {
	if len(polyline) < 2 {
		return Snap{}, false
	}

	best := Snap{Distance: math.Inf(1), SegmentIndex: -1}
	along := 0.0

	for i := 0; i < len(polyline)-1; i++ {
		a, b := polyline[i], polyline[i+1]
		segLen := DistanceMeters(a, b)

		midLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
		lonScale := math.Cos(midLat)

		// Plane coordinates in meters relative to a.
		bx := (b.Lon - a.Lon) * metersPerDegreeLat * lonScale
		by := (b.Lat - a.Lat) * metersPerDegreeLat
		px := (p.Lon - a.Lon) * metersPerDegreeLat * lonScale
		py := (p.Lat - a.Lat) * metersPerDegreeLat

		t := 0.0
		if d2 := bx*bx + by*by; d2 > 0 {
			t = (px*bx + py*by) / d2
			t = math.Max(0, math.Min(1, t))
		}

		foot := Point{
			Lat: a.Lat + (b.Lat-a.Lat)*t,
			Lon: a.Lon + (b.Lon-a.Lon)*t,
		}
		dist := DistanceMeters(p, foot)

		// A later segment must beat the incumbent by more than the tie
		// epsilon; equidistant segments keep the lower index.
		if dist < best.Distance-snapTieEpsilonM {
			best = Snap{
				Point:         foot,
				SegmentIndex:  i,
				T:             t,
				DistanceAlong: along + segLen*t,
				Distance:      dist,
			}
		}
		along += segLen
	}

	return best, true
}

// PolylineLength returns the total arc length of the polyline in meters.
func PolylineLength(polyline []Point) float64 {
	total := 0.0
	for i := 0; i < len(polyline)-1; i++ {
		total += DistanceMeters(polyline[i], polyline[i+1])
	}
	return total
}

// CumulativeLengths returns the arc length from the polyline start to each
// vertex. The first entry is always 0 and the last equals PolylineLength.
func CumulativeLengths(polyline []Point) []float64 {
	if len(polyline) == 0 {
		return nil
	}
	out := make([]float64, len(polyline))
	for i := 1; i < len(polyline); i++ {
		out[i] = out[i-1] + DistanceMeters(polyline[i-1], polyline[i])
	}
	return out
}

// PointAtDistance walks the polyline and returns the point at the given arc
// length from the start. Distances are clamped to [0, length].
func PointAtDistance(polyline []Point, cumulative []float64, distance float64) Point {
	if len(polyline) == 0 {
		return Point{}
	}
	if len(polyline) == 1 || distance <= 0 {
		return polyline[0]
	}
	total := cumulative[len(cumulative)-1]
	if distance >= total {
		return polyline[len(polyline)-1]
	}

	for i := 1; i < len(cumulative); i++ {
		if cumulative[i] >= distance {
			segLen := cumulative[i] - cumulative[i-1]
			t := 0.0
			if segLen > 0 {
				t = (distance - cumulative[i-1]) / segLen
			}
			a, b := polyline[i-1], polyline[i]
			return Point{
				Lat: a.Lat + (b.Lat-a.Lat)*t,
				Lon: a.Lon + (b.Lon-a.Lon)*t,
			}
		}
	}
	return polyline[len(polyline)-1]
}
