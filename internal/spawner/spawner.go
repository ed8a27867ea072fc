// Package spawner turns the geographic inputs (zones, POIs, depots, routes)
// plus time-of-day patterns into individual spawn requests anchored on route
// geometry. Demand is a time-and-geography-modulated Poisson process; given a
// fixed seed, clock and snapshot it is deterministic.
package spawner

import (
	"math"
	"math/rand"
	"time"

	"github.com/citygrid/transit-sim/internal/catalog"
	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/config"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// SourceKind says where a spawn request originated.
type SourceKind string

const (
	SourceDepot SourceKind = "DEPOT"
	SourceRoute SourceKind = "ROUTE"
)

// Source identifies the depot or zone/POI behind a spawn request.
type Source struct {
	Kind SourceKind
	ID   string
}

// SpawnRequest is one rider to be created. Origin and destination both lie on
// the route polyline; the trip is feasible by construction.
type SpawnRequest struct {
	Origin      geo.Point
	Destination geo.Point
	RouteID     string
	Direction   rider.Direction
	Source      Source
}

// ZoneSource supplies the cached zones and POIs scoped to a route's buffered
// corridor, normally the zone cache.
type ZoneSource interface {
	ZonesForRoute(route *catalog.Route) []*catalog.Zone
	POIsForRoute(route *catalog.Route) []*catalog.POI
}

// Spawner draws spawn requests for the active route and depot set.
type Spawner struct {
	cfg    config.SpawnerConfig
	zones  ZoneSource
	routes []*catalog.Route
	depots map[string]*catalog.Depot
	rng    *rand.Rand
}

// New creates a spawner over the given geography. The PRNG is injectable so
// tests can fix the seed.
func New(cfg config.SpawnerConfig, zones ZoneSource, routes []*catalog.Route, depots []*catalog.Depot, rng *rand.Rand) *Spawner {
	depotIndex := make(map[string]*catalog.Depot, len(depots))
	for _, d := range depots {
		depotIndex[d.ID] = d
	}
	return &Spawner{
		cfg:    cfg,
		zones:  zones,
		routes: routes,
		depots: depotIndex,
		rng:    rng,
	}
}

// SetRoutes swaps the active route set.
func (s *Spawner) SetRoutes(routes []*catalog.Route) {
	s.routes = routes
}

// Generate draws one window's worth of spawn requests. An empty active-route
// set yields an empty slice.
func (s *Spawner) Generate(now time.Time, window time.Duration) []SpawnRequest {
	if len(s.routes) == 0 {
		return nil
	}
	windowHours := window.Hours()
	hour := now.Hour()

	var requests []SpawnRequest
	for _, route := range s.routes {
		nearby := s.zones.ZonesForRoute(route)
		requests = append(requests, s.generateForRoute(route, nearby, hour, windowHours)...)
		requests = append(requests, s.generateForDepots(route, nearby, hour, windowHours)...)
	}
	return requests
}

// generateForRoute draws the along-route spawns for one route. nearby is the
// zone set for the route's whole buffered corridor.
func (s *Spawner) generateForRoute(route *catalog.Route, nearby []*catalog.Zone, hour int, windowHours float64) []SpawnRequest {
	if route.LengthM <= 0 {
		// Coincident shape points: a zero-length run spawns nothing.
		return nil
	}

	lambda := s.cfg.BaseRatePerHourPerRoute *
		sanitize(route.ActivityLevel) *
		s.patternMultiplier(s.cfg.TimePatterns.Route, hour) *
		s.demandFactor(nearby, route, hour)

	n := s.poisson(lambda * windowHours)

	var requests []SpawnRequest
	for i := 0; i < n; i++ {
		if req, ok := s.routeSpawn(route, nearby, hour); ok {
			requests = append(requests, req)
		}
	}
	return requests
}

// routeSpawn draws a single zone-anchored spawn on the route.
func (s *Spawner) routeSpawn(route *catalog.Route, nearby []*catalog.Zone, hour int) (SpawnRequest, bool) {
	zone := s.pickZone(nearby, hour)

	var candidate geo.Point
	var sourceID string
	if zone != nil {
		candidate = s.samplePointInZone(zone)
		sourceID = zone.ID
	} else {
		// No zone coverage: fall back to a uniform point along the route.
		candidate = route.PointAt(s.rng.Float64() * route.LengthM)
	}

	snap, ok := route.Snap(candidate)
	if !ok {
		return SpawnRequest{}, false
	}
	origin := snap.Point
	originArc := snap.DistanceAlong

	destArc, ok := s.pickDestinationArc(route, originArc)
	if !ok {
		return SpawnRequest{}, false
	}

	// Feasibility bound; snapping makes violations rare but the check stays.
	if math.Abs(destArc-originArc) > 1.2*route.LengthM {
		return SpawnRequest{}, false
	}

	direction := rider.Outbound
	if destArc < originArc {
		direction = rider.Inbound
	}

	return SpawnRequest{
		Origin:      origin,
		Destination: route.PointAt(destArc),
		RouteID:     route.ID,
		Direction:   direction,
		Source:      Source{Kind: SourceRoute, ID: sourceID},
	}, true
}

// generateForDepots draws the depot-anchored spawns for one route. Only
// depots connected by the endpoint rule ever spawn against the route.
func (s *Spawner) generateForDepots(route *catalog.Route, nearby []*catalog.Zone, hour int, windowHours float64) []SpawnRequest {
	var requests []SpawnRequest
	for _, depotID := range route.DepotIDs {
		depot, ok := s.depots[depotID]
		if !ok {
			continue
		}

		lambda := s.cfg.BaseRatePerHourPerRoute *
			sanitize(depot.ActivityLevel) *
			sanitize(route.ActivityLevel) *
			s.patternMultiplier(s.cfg.TimePatterns.Depot, hour) *
			s.demandFactor(nearby, route, hour)

		n := s.poisson(lambda * windowHours)
		for i := 0; i < n; i++ {
			if req, ok := s.depotSpawn(route, depot); ok {
				requests = append(requests, req)
			}
		}
	}
	return requests
}

// depotSpawn anchors a rider at the depot's nearest point on the route, with
// a destination beyond the depot in the OUTBOUND direction. Depot riders are
// always OUTBOUND.
func (s *Spawner) depotSpawn(route *catalog.Route, depot *catalog.Depot) (SpawnRequest, bool) {
	snap, ok := route.Snap(depot.Location)
	if !ok {
		return SpawnRequest{}, false
	}
	originArc := snap.DistanceAlong

	room := route.LengthM - originArc
	if room < 50 {
		// Depot sits at the far end of the forward traversal; nothing ahead.
		return SpawnRequest{}, false
	}

	trip := clamp(s.tripLength(), 0.05*route.LengthM, room)
	destArc := originArc + trip
	if destArc-originArc > 1.2*route.LengthM {
		return SpawnRequest{}, false
	}

	return SpawnRequest{
		Origin:      snap.Point,
		Destination: route.PointAt(destArc),
		RouteID:     route.ID,
		Direction:   rider.Outbound,
		Source:      Source{Kind: SourceDepot, ID: depot.ID},
	}, true
}

// pickDestinationArc draws a trip length and places the destination along the
// route, choosing whichever side of the origin has room (both sides feasible:
// random pick).
func (s *Spawner) pickDestinationArc(route *catalog.Route, originArc float64) (float64, bool) {
	trip := clamp(s.tripLength(), 0.05*route.LengthM, route.LengthM)

	forwardOK := originArc+trip <= route.LengthM
	backwardOK := originArc-trip >= 0

	switch {
	case forwardOK && backwardOK:
		if s.rng.Float64() < 0.5 {
			return originArc + trip, true
		}
		return originArc - trip, true
	case forwardOK:
		return originArc + trip, true
	case backwardOK:
		return originArc - trip, true
	default:
		// Trip longer than either side: clamp to the longer side.
		if originArc >= route.LengthM-originArc {
			return 0, originArc > 0
		}
		return route.LengthM, originArc < route.LengthM
	}
}

// tripLength draws from the configured log-normal distribution, in meters.
func (s *Spawner) tripLength() float64 {
	return math.Exp(s.cfg.TripLength.MuM + s.cfg.TripLength.Sigma*s.rng.NormFloat64())
}

// pickZone makes a weighted choice over the nearby zones; weight is the base
// weight times the hour multiplier. Nil when no zones are near.
func (s *Spawner) pickZone(zones []*catalog.Zone, hour int) *catalog.Zone {
	if len(zones) == 0 {
		return nil
	}
	total := 0.0
	weights := make([]float64, len(zones))
	for i, zone := range zones {
		w := sanitize(zone.BaseWeight) * sanitize(zone.TimeMultiplier(hour))
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return zones[s.rng.Intn(len(zones))]
	}

	r := s.rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r <= cum {
			return zones[i]
		}
	}
	return zones[len(zones)-1]
}

// samplePointInZone rejection-samples a point inside the zone polygon,
// falling back to the centroid after a bounded number of misses.
func (s *Spawner) samplePointInZone(zone *catalog.Zone) geo.Point {
	const maxAttempts = 16
	for i := 0; i < maxAttempts; i++ {
		p := geo.Point{
			Lat: zone.BBox.MinLat + s.rng.Float64()*(zone.BBox.MaxLat-zone.BBox.MinLat),
			Lon: zone.BBox.MinLon + s.rng.Float64()*(zone.BBox.MaxLon-zone.BBox.MinLon),
		}
		if geo.PointInPolygon(p, zone.Ring) {
			return p
		}
	}
	return zone.Centroid
}

// demandFactor modulates the rate by the corridor's land use: the mean
// weighted zone demand plus a small POI attraction term, clamped to
// [0.5, 2.0].
func (s *Spawner) demandFactor(zones []*catalog.Zone, route *catalog.Route, hour int) float64 {
	if len(zones) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, zone := range zones {
		sum += sanitize(zone.BaseWeight) * sanitize(zone.TimeMultiplier(hour))
	}
	factor := sum / float64(len(zones))

	for _, poi := range s.zones.POIsForRoute(route) {
		factor += 0.05 * sanitize(poi.SpawnWeight)
	}
	return clamp(factor, 0.5, 2.0)
}

// patternMultiplier looks up the hourly multiplier, falling back to 1.0 on a
// missing, negative or NaN entry.
func (s *Spawner) patternMultiplier(pattern []float64, hour int) float64 {
	if hour < 0 || hour >= len(pattern) {
		return 1.0
	}
	m := pattern[hour]
	if math.IsNaN(m) || m < 0 {
		logger.Warn("invalid time pattern multiplier, using 1.0",
			zap.Int("hour", hour),
			zap.Float64("value", m),
		)
		return 1.0
	}
	return m
}

// poisson draws from Poisson(lambda) by Knuth's method. Large lambdas use a
// normal approximation to keep the draw O(1).
func (s *Spawner) poisson(lambda float64) int {
	if lambda <= 0 || math.IsNaN(lambda) {
		return 0
	}
	if lambda > 100 {
		n := int(math.Round(lambda + math.Sqrt(lambda)*s.rng.NormFloat64()))
		if n < 0 {
			return 0
		}
		return n
	}

	limit := math.Exp(-lambda)
	product := s.rng.Float64()
	n := 0
	for product > limit {
		n++
		product *= s.rng.Float64()
	}
	return n
}

// sanitize replaces NaN or non-positive multipliers with 1.0.
func sanitize(m float64) float64 {
	if math.IsNaN(m) || m <= 0 {
		return 1.0
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
