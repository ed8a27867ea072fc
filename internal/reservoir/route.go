package reservoir

import (
	"sort"
	"sync"
	"time"

	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// segmentKey identifies one (route, direction) pool.
type segmentKey struct {
	RouteID   string
	Direction rider.Direction
}

// segment holds one direction's waiting riders, bucketed by grid cell for
// radius queries. riderCell remembers each rider's cell so removal never
// rescans the grid.
type segment struct {
	mu        sync.Mutex
	cells     map[geo.Cell]map[string]*rider.Rider
	riderCell map[string]geo.Cell
}

func newSegment() *segment {
	return &segment{
		cells:     make(map[geo.Cell]map[string]*rider.Rider),
		riderCell: make(map[string]geo.Cell),
	}
}

func (s *segment) add(r *rider.Rider, cell geo.Cell) {
	bucket := s.cells[cell]
	if bucket == nil {
		bucket = make(map[string]*rider.Rider)
		s.cells[cell] = bucket
	}
	bucket[r.ID] = r
	s.riderCell[r.ID] = cell
}

func (s *segment) remove(id string) {
	cell, ok := s.riderCell[id]
	if !ok {
		return
	}
	delete(s.riderCell, id)
	if bucket := s.cells[cell]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(s.cells, cell)
		}
	}
}

// RouteReservoir holds riders waiting along route polylines, indexed by
// (route, direction) and within each by grid cell.
type RouteReservoir struct {
	mu       sync.RWMutex
	segments map[segmentKey]*segment

	cellSizeDegrees float64
	registry        *rider.Registry
	stats           *Stats
}

// NewRouteReservoir creates an empty route reservoir with the given grid
// cell size in degrees.
func NewRouteReservoir(registry *rider.Registry, cellSizeDegrees float64) *RouteReservoir {
	if cellSizeDegrees <= 0 {
		cellSizeDegrees = 0.01
	}
	return &RouteReservoir{
		segments:        make(map[segmentKey]*segment),
		cellSizeDegrees: cellSizeDegrees,
		registry:        registry,
		stats:           NewStats("route"),
	}
}

func (rr *RouteReservoir) segmentFor(key segmentKey, create bool) *segment {
	rr.mu.RLock()
	seg := rr.segments[key]
	rr.mu.RUnlock()
	if seg != nil || !create {
		return seg
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	if seg = rr.segments[key]; seg == nil {
		seg = newSegment()
		rr.segments[key] = seg
	}
	return seg
}

// AddRider indexes the rider into its (route, direction) segment by origin
// grid cell and registers it. The rider's Home records the cell so boarding
// and expiry can find it again. A rider without a route or direction is
// rejected and never indexed.
func (rr *RouteReservoir) AddRider(r *rider.Rider) error {
	if r.RouteID == "" || r.Direction == "" {
		rr.reject(r)
		return common.NewStateError("route reservoir: rider " + r.ID + " has no route segment")
	}
	cell := geo.GridCellOf(r.Origin.Point(), rr.cellSizeDegrees)
	r.Home = rider.Home{RouteID: r.RouteID, Direction: r.Direction, GridCell: cell}

	seg := rr.segmentFor(segmentKey{RouteID: r.RouteID, Direction: r.Direction}, true)
	seg.mu.Lock()
	seg.add(r, cell)
	seg.mu.Unlock()

	rr.registry.Add(r)
	rr.stats.IncSpawned()
	return nil
}

func (rr *RouteReservoir) reject(r *rider.Rider) {
	if err := r.Transition(rider.StateRejected, time.Now()); err != nil {
		logger.Debug("reject transition failed", zap.String("rider_id", r.ID), zap.Error(err))
	}
	rr.stats.IncRejected()
	logger.Warn("rider rejected by route reservoir",
		zap.String("rider_id", r.ID),
		zap.String("route_id", r.RouteID),
		zap.String("direction", string(r.Direction)),
	)
}

// QueryForVehicle returns up to maxCount waiting riders travelling in the
// vehicle's direction within both maxDistanceM and their own walking budget
// of the vehicle, nearest first. A zero direction matches nobody. Queries
// mutate nothing.
func (rr *RouteReservoir) QueryForVehicle(routeID string, direction rider.Direction, vehicleLoc geo.Point, maxDistanceM float64, maxCount int) []*rider.Rider {
	if maxCount <= 0 || direction == "" {
		return nil
	}
	seg := rr.segmentFor(segmentKey{RouteID: routeID, Direction: direction}, false)
	if seg == nil {
		return nil
	}

	type candidate struct {
		r    *rider.Rider
		dist float64
	}

	seg.mu.Lock()
	var candidates []candidate
	for _, cell := range geo.CellsCoveringDisc(vehicleLoc, maxDistanceM, rr.cellSizeDegrees) {
		for _, r := range seg.cells[cell] {
			if r.State != rider.StateWaiting {
				continue
			}
			limit := maxDistanceM
			if r.MaxWalkingDistanceM < limit {
				limit = r.MaxWalkingDistanceM
			}
			dist := geo.DistanceMeters(r.Origin.Point(), vehicleLoc)
			if dist <= limit {
				candidates = append(candidates, candidate{r: r, dist: dist})
			}
		}
	}
	seg.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].r.ID < candidates[j].r.ID
	})
	if len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}

	out := make([]*rider.Rider, len(candidates))
	for i, c := range candidates {
		out[i] = c.r
	}
	return out
}

// MarkBoarded atomically transitions the given riders WAITING -> BOARDED and
// removes them from their segments. Unknown or already-boarded ids are
// ignored. Returns the riders actually boarded.
func (rr *RouteReservoir) MarkBoarded(riderIDs []string, vehicleID string, now time.Time) []*rider.Rider {
	var boarded []*rider.Rider
	for _, id := range riderIDs {
		r := rr.registry.Get(id)
		if r == nil || r.Home.AtDepot() {
			continue
		}
		seg := rr.segmentFor(segmentKey{RouteID: r.Home.RouteID, Direction: r.Home.Direction}, false)
		if seg == nil {
			continue
		}

		seg.mu.Lock()
		if err := r.Transition(rider.StateBoarded, now); err != nil {
			seg.mu.Unlock()
			continue
		}
		r.VehicleID = vehicleID
		seg.remove(r.ID)
		seg.mu.Unlock()

		rr.registry.Remove(r.ID)
		rr.stats.IncBoarded()
		boarded = append(boarded, r)
	}
	return boarded
}

// FindExpired returns the ids of riders whose wait budget has run out.
func (rr *RouteReservoir) FindExpired(now time.Time) []string {
	rr.mu.RLock()
	segs := make([]*segment, 0, len(rr.segments))
	for _, seg := range rr.segments {
		segs = append(segs, seg)
	}
	rr.mu.RUnlock()

	var ids []string
	for _, seg := range segs {
		seg.mu.Lock()
		for _, bucket := range seg.cells {
			for _, r := range bucket {
				if r.Expired(now) {
					ids = append(ids, r.ID)
				}
			}
		}
		seg.mu.Unlock()
	}
	return ids
}

// Expire transitions one rider WAITING -> EXPIRED and removes it.
func (rr *RouteReservoir) Expire(id string, now time.Time) (*rider.Rider, error) {
	r := rr.registry.Get(id)
	if r == nil {
		return nil, nil
	}
	seg := rr.segmentFor(segmentKey{RouteID: r.Home.RouteID, Direction: r.Home.Direction}, false)
	if seg == nil {
		return nil, nil
	}

	seg.mu.Lock()
	if err := r.Transition(rider.StateExpired, now); err != nil {
		seg.mu.Unlock()
		logger.Debug("expire skipped", zap.String("rider_id", id), zap.Error(err))
		return nil, nil
	}
	seg.remove(r.ID)
	seg.mu.Unlock()

	rr.registry.Remove(r.ID)
	rr.stats.IncExpired()
	return r, nil
}

// Name identifies the reservoir in logs and events.
func (rr *RouteReservoir) Name() string { return "route" }

// Stats returns the reservoir's counters.
func (rr *RouteReservoir) Stats() *Stats { return rr.stats }

// SegmentLen reports how many riders wait in one (route, direction) segment.
func (rr *RouteReservoir) SegmentLen(routeID string, direction rider.Direction) int {
	seg := rr.segmentFor(segmentKey{RouteID: routeID, Direction: direction}, false)
	if seg == nil {
		return 0
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	return len(seg.riderCell)
}
