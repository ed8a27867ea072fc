package geo

import "math"

// Cell identifies a degree-aligned grid square. Row is floor(lat/size),
// Col is floor(lon/size).
type Cell struct {
	Row int64
	Col int64
}

// GridCellOf maps a point to its grid cell for the given cell size in
// degrees. Values that land exactly on a cell boundary belong to the
// lower-indexed cell: floor already resolves the ambiguity downward.
func GridCellOf(p Point, cellSizeDegrees float64) Cell {
	return Cell{
		Row: int64(math.Floor(p.Lat / cellSizeDegrees)),
		Col: int64(math.Floor(p.Lon / cellSizeDegrees)),
	}
}

// CellBBox returns the bounding box of a cell.
func CellBBox(c Cell, cellSizeDegrees float64) BBox {
	return BBox{
		MinLat: float64(c.Row) * cellSizeDegrees,
		MinLon: float64(c.Col) * cellSizeDegrees,
		MaxLat: float64(c.Row+1) * cellSizeDegrees,
		MaxLon: float64(c.Col+1) * cellSizeDegrees,
	}
}

// CellsCoveringDisc returns every cell whose bounding box intersects the disc
// of the given radius around center. For radii up to ~2 km at 0.01 degree
// cells this is a 3x3 to 5x5 block.
func CellsCoveringDisc(center Point, radiusM float64, cellSizeDegrees float64) []Cell {
	dLat := radiusM / metersPerDegreeLat
	dLon := dLat
	if c := cosDeg(center.Lat); c > 0.01 {
		dLon = dLat / c
	}

	minCell := GridCellOf(Point{Lat: center.Lat - dLat, Lon: center.Lon - dLon}, cellSizeDegrees)
	maxCell := GridCellOf(Point{Lat: center.Lat + dLat, Lon: center.Lon + dLon}, cellSizeDegrees)

	cells := make([]Cell, 0, (maxCell.Row-minCell.Row+1)*(maxCell.Col-minCell.Col+1))
	for row := minCell.Row; row <= maxCell.Row; row++ {
		for col := minCell.Col; col <= maxCell.Col; col++ {
			cells = append(cells, Cell{Row: row, Col: col})
		}
	}
	return cells
}

func cosDeg(deg float64) float64 {
	return math.Cos(deg * math.Pi / 180)
}
