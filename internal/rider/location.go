package rider

import (
	"encoding/json"
	"fmt"

	"github.com/citygrid/transit-sim/pkg/geo"
)

// Location is the single coordinate value type used inside the core. External
// inputs arrive in three shapes (a [lat, lon] pair, {lat, lon} and
// {latitude, longitude}) and are normalized here at the boundary; no other
// shape exists past this point.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point converts to the geometry package's point type.
func (l Location) Point() geo.Point {
	return geo.Point{Lat: l.Lat, Lon: l.Lon}
}

// FromPoint converts a geometry point to a Location.
func FromPoint(p geo.Point) Location {
	return Location{Lat: p.Lat, Lon: p.Lon}
}

// UnmarshalJSON accepts the three external shapes. Normalization is
// idempotent: a normalized {lat, lon} round-trips unchanged.
func (l *Location) UnmarshalJSON(data []byte) error {
	// Array shape: [lat, lon].
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("location pair must have 2 elements, got %d", len(pair))
		}
		l.Lat, l.Lon = pair[0], pair[1]
		return nil
	}

	// Object shapes: {lat, lon} or {latitude, longitude}.
	var obj struct {
		Lat       *float64 `json:"lat"`
		Lon       *float64 `json:"lon"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unrecognized location shape: %w", err)
	}

	switch {
	case obj.Lat != nil && obj.Lon != nil:
		l.Lat, l.Lon = *obj.Lat, *obj.Lon
	case obj.Latitude != nil && obj.Longitude != nil:
		l.Lat, l.Lon = *obj.Latitude, *obj.Longitude
	default:
		return fmt.Errorf("location object missing lat/lon fields")
	}
	return nil
}
