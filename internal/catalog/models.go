// Package catalog loads the geographic inputs of the simulation (routes,
// depots, POIs, landuse zones) from the headless data store and derives the
// geometry the spawner and reservoirs work against.
package catalog

import (
	"github.com/citygrid/transit-sim/pkg/geo"
)

// ZoneType classifies a landuse polygon.
type ZoneType string

const (
	ZoneResidential ZoneType = "residential"
	ZoneCommercial  ZoneType = "commercial"
	ZoneIndustrial  ZoneType = "industrial"
	ZoneFarmland    ZoneType = "farmland"
	ZoneGrass       ZoneType = "grass"
	ZoneEducational ZoneType = "educational"
	ZoneOther       ZoneType = "other"
)

// Route is an ordered polyline with a single forward direction (OUTBOUND,
// first point to last). The shape points are the single source of truth; the
// arc-length table and length are derived once at load.
type Route struct {
	ID            string
	Code          string
	Shape         []geo.Point
	Cumulative    []float64 // arc length to each vertex, meters
	LengthM       float64
	ActivityLevel float64 // 0.5 - 2.0
	DepotIDs      []string
	BBox          geo.BBox
}

// Endpoints returns the first and last shape points.
func (r *Route) Endpoints() (geo.Point, geo.Point) {
	return r.Shape[0], r.Shape[len(r.Shape)-1]
}

// Snap projects p onto the route polyline.
func (r *Route) Snap(p geo.Point) (geo.Snap, bool) {
	return geo.SnapToPolyline(p, r.Shape)
}

// PointAt returns the point at the given arc length from the route start.
func (r *Route) PointAt(distance float64) geo.Point {
	return geo.PointAtDistance(r.Shape, r.Cumulative, distance)
}

// ConnectedTo reports whether the depot is among the route's connected depots.
func (r *Route) ConnectedTo(depotID string) bool {
	for _, id := range r.DepotIDs {
		if id == depotID {
			return true
		}
	}
	return false
}

// Depot is a terminus or hub.
type Depot struct {
	ID            string
	Name          string
	Location      geo.Point
	ActivityLevel float64
	RouteIDs      []string // derived from the endpoint connectivity test
}

// Zone is a landuse polygon with demand weight and hourly multipliers.
type Zone struct {
	ID          string
	Type        ZoneType
	Centroid    geo.Point
	BBox        geo.BBox
	Ring        []geo.Point
	BaseWeight  float64
	HourFactors [24]float64
}

// TimeMultiplier returns the zone's demand multiplier for the given hour.
func (z *Zone) TimeMultiplier(hour int) float64 {
	if hour < 0 || hour > 23 {
		return 1.0
	}
	return z.HourFactors[hour]
}

// Contains reports whether p is inside the zone polygon, bbox-prefiltered.
func (z *Zone) Contains(p geo.Point) bool {
	return z.BBox.Contains(p) && geo.PointInPolygon(p, z.Ring)
}

// POI is a point of interest modulating local demand.
type POI struct {
	ID          string
	Location    geo.Point
	Category    string
	SpawnWeight float64
}

// Country bounds the playable area.
type Country struct {
	ID   string
	Code string
	BBox geo.BBox
}

// NewRoute derives the arc-length table, length and bounding box from the
// shape points. Routes with fewer than two distinct points are degenerate;
// the caller skips them.
func NewRoute(id, code string, shape []geo.Point, activity float64) *Route {
	cumulative := geo.CumulativeLengths(shape)
	length := 0.0
	if len(cumulative) > 0 {
		length = cumulative[len(cumulative)-1]
	}
	if activity <= 0 {
		activity = 1.0
	}
	return &Route{
		ID:            id,
		Code:          code,
		Shape:         shape,
		Cumulative:    cumulative,
		LengthM:       length,
		ActivityLevel: activity,
		BBox:          geo.BBoxOf(shape),
	}
}

// ConnectDepots links every depot to every route with an endpoint within
// connectivityM, filling both sides of the relation. This is the single rule
// that keeps geographically distant depots from spawning riders for
// unrelated routes.
func ConnectDepots(routes []*Route, depots []*Depot, connectivityM float64) {
	for _, route := range routes {
		if len(route.Shape) < 2 {
			continue
		}
		first, last := route.Endpoints()
		for _, depot := range depots {
			if geo.DistanceMeters(first, depot.Location) <= connectivityM ||
				geo.DistanceMeters(last, depot.Location) <= connectivityM {
				route.DepotIDs = append(route.DepotIDs, depot.ID)
				depot.RouteIDs = append(depot.RouteIDs, route.ID)
			}
		}
	}
}
