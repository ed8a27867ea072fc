package geo

// BBox is an inclusive bounding box in degrees.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether p lies inside the box. Edges count as inside.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Intersects reports whether the two boxes overlap. Touching edges count.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat &&
		b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon
}

// Inflate grows the box by the given number of meters on every side.
func (b BBox) Inflate(meters float64) BBox {
	dLat := meters / metersPerDegreeLat
	// Longitude degrees shrink with latitude; use the wider edge so the box
	// never under-covers.
	dLon := dLat
	if c := cosDeg((b.MinLat + b.MaxLat) / 2); c > 0.01 {
		dLon = dLat / c
	}
	return BBox{
		MinLat: b.MinLat - dLat,
		MinLon: b.MinLon - dLon,
		MaxLat: b.MaxLat + dLat,
		MaxLon: b.MaxLon + dLon,
	}
}

// BBoxOf computes the bounding box of a set of points.
func BBoxOf(points []Point) BBox {
	if len(points) == 0 {
		return BBox{}
	}
	box := BBox{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
	}
	for _, p := range points[1:] {
		if p.Lat < box.MinLat {
			box.MinLat = p.Lat
		}
		if p.Lat > box.MaxLat {
			box.MaxLat = p.Lat
		}
		if p.Lon < box.MinLon {
			box.MinLon = p.Lon
		}
		if p.Lon > box.MaxLon {
			box.MaxLon = p.Lon
		}
	}
	return box
}

// PointInPolygon reports whether p is inside the ring using ray casting.
// Points on the boundary count as inside. Rings with fewer than three
// vertices contain nothing.
func PointInPolygon(p Point, ring []Point) bool {
	if len(ring) < 3 {
		return false
	}

	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		a, b := ring[i], ring[j]

		if onSegment(p, a, b) {
			return true
		}

		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// onSegment reports whether p lies on the segment ab, within a small degree
// epsilon to absorb floating-point noise.
func onSegment(p, a, b Point) bool {
	const eps = 1e-12
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if cross > eps || cross < -eps {
		return false
	}
	if p.Lat < minf(a.Lat, b.Lat)-eps || p.Lat > maxf(a.Lat, b.Lat)+eps {
		return false
	}
	if p.Lon < minf(a.Lon, b.Lon)-eps || p.Lon > maxf(a.Lon, b.Lon)+eps {
		return false
	}
	return true
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
