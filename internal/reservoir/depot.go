package reservoir

import (
	"container/list"
	"sync"
	"time"

	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// queueKey identifies one depot FIFO.
type queueKey struct {
	DepotID string
	RouteID string
}

// depotQueue is a FIFO of waiting riders with O(1) removal by id.
type depotQueue struct {
	mu    sync.Mutex
	order *list.List // of *rider.Rider, spawn order
	index map[string]*list.Element
}

func newDepotQueue() *depotQueue {
	return &depotQueue{order: list.New(), index: make(map[string]*list.Element)}
}

// DepotReservoir holds outbound riders waiting at depots, one strict FIFO per
// (depot, route). Each queue has its own mutex; the map of queues is guarded
// separately.
type DepotReservoir struct {
	mu       sync.RWMutex
	queues   map[queueKey]*depotQueue
	registry *rider.Registry
	stats    *Stats
}

// NewDepotReservoir creates an empty depot reservoir.
func NewDepotReservoir(registry *rider.Registry) *DepotReservoir {
	return &DepotReservoir{
		queues:   make(map[queueKey]*depotQueue),
		registry: registry,
		stats:    NewStats("depot"),
	}
}

func (d *DepotReservoir) queueFor(key queueKey, create bool) *depotQueue {
	d.mu.RLock()
	q := d.queues[key]
	d.mu.RUnlock()
	if q != nil || !create {
		return q
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if q = d.queues[key]; q == nil {
		q = newDepotQueue()
		d.queues[key] = q
	}
	return q
}

// AddRider appends the rider to its (depot, route) FIFO and registers it.
// A rider without a depot home or route is rejected and never queued.
func (d *DepotReservoir) AddRider(r *rider.Rider) error {
	if r.Home.DepotID == "" || r.RouteID == "" {
		d.reject(r)
		return common.NewStateError("depot reservoir: rider " + r.ID + " has no depot home")
	}
	q := d.queueFor(queueKey{DepotID: r.Home.DepotID, RouteID: r.RouteID}, true)

	q.mu.Lock()
	q.index[r.ID] = q.order.PushBack(r)
	q.mu.Unlock()

	d.registry.Add(r)
	d.stats.IncSpawned()
	return nil
}

func (d *DepotReservoir) reject(r *rider.Rider) {
	if err := r.Transition(rider.StateRejected, time.Now()); err != nil {
		logger.Debug("reject transition failed", zap.String("rider_id", r.ID), zap.Error(err))
	}
	d.stats.IncRejected()
	logger.Warn("rider rejected by depot reservoir",
		zap.String("rider_id", r.ID),
		zap.String("home", r.Home.String()),
	)
}

// QueryForVehicle returns the FIFO-ordered prefix (up to maxCount) of riders
// whose origin is within both maxDistanceM and their own walking budget of
// the vehicle. Non-matching riders are skipped, not removed; nothing is
// mutated by a query.
func (d *DepotReservoir) QueryForVehicle(depotID, routeID string, vehicleLoc geo.Point, maxDistanceM float64, maxCount int) []*rider.Rider {
	if maxCount <= 0 {
		return nil
	}
	q := d.queueFor(queueKey{DepotID: depotID, RouteID: routeID}, false)
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*rider.Rider
	for e := q.order.Front(); e != nil && len(out) < maxCount; e = e.Next() {
		r := e.Value.(*rider.Rider)
		if r.State != rider.StateWaiting {
			continue
		}
		limit := maxDistanceM
		if r.MaxWalkingDistanceM < limit {
			limit = r.MaxWalkingDistanceM
		}
		if geo.DistanceMeters(r.Origin.Point(), vehicleLoc) <= limit {
			out = append(out, r)
		}
	}
	return out
}

// MarkBoarded atomically transitions the given riders WAITING -> BOARDED and
// removes them from their queues. Unknown or already-boarded ids are ignored,
// which makes the call idempotent. Returns the riders actually boarded.
func (d *DepotReservoir) MarkBoarded(riderIDs []string, vehicleID string, now time.Time) []*rider.Rider {
	var boarded []*rider.Rider
	for _, id := range riderIDs {
		r := d.registry.Get(id)
		if r == nil || !r.Home.AtDepot() {
			continue
		}
		q := d.queueFor(queueKey{DepotID: r.Home.DepotID, RouteID: r.RouteID}, false)
		if q == nil {
			continue
		}

		q.mu.Lock()
		if err := r.Transition(rider.StateBoarded, now); err != nil {
			q.mu.Unlock()
			continue
		}
		r.VehicleID = vehicleID
		if e := q.index[r.ID]; e != nil {
			q.order.Remove(e)
			delete(q.index, r.ID)
		}
		q.mu.Unlock()

		d.registry.Remove(r.ID)
		d.stats.IncBoarded()
		boarded = append(boarded, r)
	}
	return boarded
}

// FindExpired returns the ids of riders whose wait budget has run out.
func (d *DepotReservoir) FindExpired(now time.Time) []string {
	d.mu.RLock()
	queues := make([]*depotQueue, 0, len(d.queues))
	for _, q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.RUnlock()

	var ids []string
	for _, q := range queues {
		q.mu.Lock()
		for e := q.order.Front(); e != nil; e = e.Next() {
			if r := e.Value.(*rider.Rider); r.Expired(now) {
				ids = append(ids, r.ID)
			}
		}
		q.mu.Unlock()
	}
	return ids
}

// Expire transitions one rider WAITING -> EXPIRED and removes it.
func (d *DepotReservoir) Expire(id string, now time.Time) (*rider.Rider, error) {
	r := d.registry.Get(id)
	if r == nil {
		return nil, nil
	}
	q := d.queueFor(queueKey{DepotID: r.Home.DepotID, RouteID: r.RouteID}, false)
	if q == nil {
		return nil, nil
	}

	q.mu.Lock()
	if err := r.Transition(rider.StateExpired, now); err != nil {
		q.mu.Unlock()
		// Boarded in the meantime; not an expiry.
		logger.Debug("expire skipped", zap.String("rider_id", id), zap.Error(err))
		return nil, nil
	}
	if e := q.index[r.ID]; e != nil {
		q.order.Remove(e)
		delete(q.index, r.ID)
	}
	q.mu.Unlock()

	d.registry.Remove(r.ID)
	d.stats.IncExpired()
	return r, nil
}

// Name identifies the reservoir in logs and events.
func (d *DepotReservoir) Name() string { return "depot" }

// Stats returns the reservoir's counters.
func (d *DepotReservoir) Stats() *Stats { return d.stats }

// QueueLen reports the current length of one FIFO.
func (d *DepotReservoir) QueueLen(depotID, routeID string) int {
	q := d.queueFor(queueKey{DepotID: depotID, RouteID: routeID}, false)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}
