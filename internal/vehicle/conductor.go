package vehicle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/citygrid/transit-sim/internal/catalog"
	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/config"
	"github.com/citygrid/transit-sim/pkg/eventbus"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/citygrid/transit-sim/pkg/logger"
	"github.com/citygrid/transit-sim/pkg/resilience"
	"go.uber.org/zap"
)

// depotProximityM is how close the vehicle must be to a connected depot for
// pickups to come from the depot queue instead of the route grid. Inclusive.
const depotProximityM = 100.0

// degradedThreshold is how many consecutive tick failures escalate to a
// system:degraded event.
const degradedThreshold = 5

// DepotPool is the depot reservoir surface the conductor calls.
type DepotPool interface {
	QueryForVehicle(depotID, routeID string, vehicleLoc geo.Point, maxDistanceM float64, maxCount int) []*rider.Rider
	MarkBoarded(riderIDs []string, vehicleID string, now time.Time) []*rider.Rider
}

// RoutePool is the route reservoir surface the conductor calls.
type RoutePool interface {
	QueryForVehicle(routeID string, direction rider.Direction, vehicleLoc geo.Point, maxDistanceM float64, maxCount int) []*rider.Rider
	MarkBoarded(riderIDs []string, vehicleID string, now time.Time) []*rider.Rider
}

// BusAPI is the event bus surface the conductor uses: announcements plus the
// request/response pickup query.
type BusAPI interface {
	EventSink
	Request(ctx context.Context, ch eventbus.Channel, event *eventbus.Event) (*eventbus.Event, error)
}

// poolKind remembers which reservoir a pending boarding came from, so the
// boarded marks go back to the pool that returned the candidates.
type poolKind int

const (
	poolDepot poolKind = iota
	poolRoute
)

// candidate is one rider considered for boarding, whichever path (bus or
// local) it arrived by.
type candidate struct {
	ID        string
	Priority  float64
	SpawnedAt time.Time
	Origin    geo.Point
}

// Conductor couples one vehicle to the reservoirs: it queries for pickups,
// decides boarding under the capacity policy, tracks the onboard manifest and
// signals the driver to stop and depart.
type Conductor struct {
	mu sync.Mutex

	id     string
	route  *catalog.Route
	depots map[string]*catalog.Depot // connected depots only
	cfg    config.ConductorConfig

	driver    DriverControl
	depotPool DepotPool
	routePool RoutePool
	bus       BusAPI // nil means local-only

	state   ConductorState
	onboard map[string]*rider.Rider

	pendingBoard  []candidate
	pendingSource poolKind
	pendingAlight []*rider.Rider

	dwellStart  time.Time
	departAt    *time.Time // optional schedule
	failures    int
	degradedSet bool

	engineRetry resilience.RetryConfig
	now         func() time.Time
}

// NewConductor wires a conductor to its driver and reservoirs. depots must be
// the route's connected depots.
func NewConductor(id string, route *catalog.Route, depots []*catalog.Depot, driver DriverControl, depotPool DepotPool, routePool RoutePool, bus BusAPI, cfg config.ConductorConfig) *Conductor {
	index := make(map[string]*catalog.Depot, len(depots))
	for _, d := range depots {
		if route.ConnectedTo(d.ID) {
			index[d.ID] = d
		}
	}
	return &Conductor{
		id:        id,
		route:     route,
		depots:    index,
		cfg:       cfg,
		driver:    driver,
		depotPool: depotPool,
		routePool: routePool,
		bus:       bus,
		state:     ConductorIdle,
		onboard:   make(map[string]*rider.Rider),
		engineRetry: resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 1.0,
			RetryableChecker:  IsEngineFailure,
		},
		now: time.Now,
	}
}

// ScheduleDeparture sets an optional departure time for the current depot
// dwell.
func (c *Conductor) ScheduleDeparture(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.departAt = &at
}

// State returns the current conductor state.
func (c *Conductor) State() ConductorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PassengerCount returns the onboard manifest size.
func (c *Conductor) PassengerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.onboard)
}

// Run ticks the conductor loop until the context is cancelled.
func (c *Conductor) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.TickSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("conductor started", zap.String("vehicle_id", c.id), zap.String("route_id", c.route.ID))
	for {
		select {
		case <-ctx.Done():
			logger.Info("conductor stopped", zap.String("vehicle_id", c.id))
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one pass of the conductor loop. Individual tick failures are
// tolerated; repeated ones escalate with a system:degraded event.
func (c *Conductor) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tickLocked(ctx); err != nil {
		c.failures++
		logger.Warn("conductor tick failed",
			zap.String("vehicle_id", c.id),
			zap.Int("consecutive", c.failures),
			zap.Error(err),
		)
		if c.failures >= degradedThreshold && !c.degradedSet {
			c.degradedSet = true
			c.emit(ctx, eventbus.ChannelSystem, eventbus.TypeSystemDegraded, eventbus.SystemDegradedData{
				Component: "conductor:" + c.id,
				Reason:    err.Error(),
			})
		}
		return
	}
	c.failures = 0
	c.degradedSet = false
}

func (c *Conductor) tickLocked(ctx context.Context) error {
	status := c.driver.Status()

	switch c.state {
	case ConductorIdle:
		// The driver finishing its boarding delay starts the dwell.
		if status.State == DriverWaiting {
			c.state = ConductorMonitoring
			c.dwellStart = c.now()
		}
		return nil

	case ConductorMonitoring:
		return c.tickAtDepot(ctx, status)

	case ConductorEnRoute, ConductorFullExpress:
		return c.tickEnRoute(ctx, status)

	case ConductorApproachingStop:
		return c.performStop(ctx, status)

	case ConductorCleanup:
		return nil
	}
	return nil
}

// tickAtDepot handles the initial depot dwell: keep boarding from the depot
// FIFO and depart when a trigger fires. A vehicle that starts outside depot
// range has no queue to dwell for and goes straight en route.
func (c *Conductor) tickAtDepot(ctx context.Context, status Status) error {
	depot := c.nearestDepot(status.Location)
	if depot == nil {
		return c.depart(ctx)
	}
	seats := c.seatsAvailable()

	if seats > 0 {
		found, source, err := c.queryPickups(ctx, status, depot, seats)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			c.boardNow(ctx, c.selectForBoarding(found, status.Location, seats), source)
		}
	}

	if c.shouldDepart() {
		return c.depart(ctx)
	}
	return nil
}

// shouldDepart evaluates the depot departure triggers: full vehicle, minimum
// dwell with minimum passengers, or a scheduled time.
func (c *Conductor) shouldDepart() bool {
	now := c.now()
	if len(c.onboard) >= c.cfg.EffectiveCapacity() {
		return true
	}
	minDwell := time.Duration(c.cfg.MinDwellSeconds) * time.Second
	if now.Sub(c.dwellStart) >= minDwell && len(c.onboard) >= c.cfg.MinPassengers {
		return true
	}
	if c.departAt != nil && !now.Before(*c.departAt) {
		return true
	}
	return false
}

// tickEnRoute evaluates alighting and pickups while the vehicle travels.
func (c *Conductor) tickEnRoute(ctx context.Context, status Status) error {
	if len(c.onboard) >= c.cfg.EffectiveCapacity() {
		if c.state != ConductorFullExpress {
			c.state = ConductorFullExpress
			logger.Info("vehicle full, running express",
				zap.String("vehicle_id", c.id),
				zap.Int("passengers", len(c.onboard)),
			)
		}
	} else if c.state == ConductorFullExpress {
		c.state = ConductorEnRoute
	}

	c.pendingAlight = c.dueAlights(status.Location)

	c.pendingBoard = nil
	if c.state != ConductorFullExpress {
		if seats := c.seatsAvailable(); seats > 0 {
			found, source, err := c.queryPickups(ctx, status, c.nearestDepot(status.Location), seats)
			if err != nil {
				return err
			}
			c.pendingBoard = c.selectForBoarding(found, status.Location, seats)
			c.pendingSource = source
		}
	}

	if len(c.pendingBoard) == 0 && len(c.pendingAlight) == 0 {
		return nil
	}

	duration := c.cfg.BoardingSecsEach*float64(len(c.pendingBoard)) +
		c.cfg.AlightingSecsEach*float64(len(c.pendingAlight))
	if err := c.driver.Stop(duration); err != nil {
		return err
	}
	c.state = ConductorApproachingStop
	c.emit(ctx, eventbus.ChannelVehicle, eventbus.TypeStopRequest, eventbus.StopRequestData{
		VehicleID: c.id,
		DurationS: duration,
	})
	return nil
}

// performStop executes the decided boarding, then alighting, then departs.
func (c *Conductor) performStop(ctx context.Context, status Status) error {
	c.state = ConductorStopped

	if len(c.pendingBoard) > 0 {
		c.boardNow(ctx, c.pendingBoard, c.pendingSource)
		c.pendingBoard = nil
	}

	now := c.now()
	for _, r := range c.pendingAlight {
		if err := r.Transition(rider.StateCompleted, now); err != nil {
			logger.Warn("alight transition failed",
				zap.String("rider_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		delete(c.onboard, r.ID)
		c.emit(ctx, eventbus.ChannelRoute, eventbus.TypeRiderAlight, eventbus.RiderAlightedData{
			RiderID:   r.ID,
			VehicleID: c.id,
			Timestamp: now,
		})
	}
	c.pendingAlight = nil

	if err := c.depart(ctx); err != nil {
		return err
	}
	if len(c.onboard) >= c.cfg.EffectiveCapacity() {
		c.state = ConductorFullExpress
	}
	return nil
}

// depart signals the driver with the engine-start retry policy: 3 attempts,
// 2 s apart. Exhausting them parks the conductor in CLEANUP.
func (c *Conductor) depart(ctx context.Context) error {
	err := resilience.Retry(ctx, c.engineRetry, "engine start "+c.id, func(context.Context) error {
		return c.driver.Depart()
	})
	if err != nil {
		c.state = ConductorCleanup
		if breakErr := c.driver.TakeBreak(); breakErr != nil {
			logger.Warn("driver break failed",
				zap.String("vehicle_id", c.id),
				zap.Error(breakErr),
			)
		}
		c.emit(ctx, eventbus.ChannelSystem, eventbus.TypeSystemDegraded, eventbus.SystemDegradedData{
			Component: "vehicle:" + c.id,
			Reason:    err.Error(),
		})
		logger.Error("engine start exhausted, entering cleanup",
			zap.String("vehicle_id", c.id),
			zap.Error(err),
		)
		return nil
	}

	c.state = ConductorEnRoute
	c.emit(ctx, eventbus.ChannelVehicle, eventbus.TypeDepart, eventbus.DepartData{
		VehicleID:      c.id,
		PassengerCount: len(c.onboard),
	})
	return nil
}

// queryPickups finds boarding candidates, preferring the bus request/response
// path and falling back to direct reservoir calls on a bus timeout. Within
// depotProximityM of a connected depot the depot FIFO is queried, otherwise
// the route grid.
func (c *Conductor) queryPickups(ctx context.Context, status Status, depot *catalog.Depot, seats int) ([]candidate, poolKind, error) {
	source := poolRoute
	query := eventbus.QueryPassengersData{
		RouteID:        c.route.ID,
		VehicleLoc:     status.Location,
		Direction:      string(status.Direction),
		RadiusM:        c.cfg.RouteQueryRadiusM,
		SeatsAvailable: seats,
	}
	if depot != nil {
		source = poolDepot
		query.DepotID = depot.ID
		query.RadiusM = c.cfg.DepotQueryRadiusM
	}

	if c.bus != nil {
		found, err := c.queryViaBus(ctx, source, query)
		if err == nil {
			return found, source, nil
		}
		if !errors.Is(err, common.ErrBusTimeout) {
			return nil, source, err
		}
		logger.Warn("pickup query timed out, using local reservoirs",
			zap.String("vehicle_id", c.id),
		)
	}

	var riders []*rider.Rider
	if source == poolDepot {
		riders = c.depotPool.QueryForVehicle(depot.ID, c.route.ID, status.Location, c.cfg.DepotQueryRadiusM, seats)
	} else {
		riders = c.routePool.QueryForVehicle(c.route.ID, status.Direction, status.Location, c.cfg.RouteQueryRadiusM, seats)
	}

	found := make([]candidate, len(riders))
	for i, r := range riders {
		found[i] = candidate{ID: r.ID, Priority: r.Priority, SpawnedAt: r.SpawnedAt, Origin: r.Origin.Point()}
	}
	return found, source, nil
}

func (c *Conductor) queryViaBus(ctx context.Context, source poolKind, query eventbus.QueryPassengersData) ([]candidate, error) {
	event, err := eventbus.NewEvent(eventbus.TypeQueryPassengers, "conductor:"+c.id, query)
	if err != nil {
		return nil, err
	}
	channel := eventbus.ChannelRoute
	if source == poolDepot {
		channel = eventbus.ChannelDepot
	}

	resp, err := c.bus.Request(ctx, channel, event)
	if err != nil {
		return nil, err
	}
	var data eventbus.PassengersFoundData
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}

	found := make([]candidate, len(data.Riders))
	for i, r := range data.Riders {
		found[i] = candidate{ID: r.RiderID, Priority: r.Priority, SpawnedAt: r.SpawnedAt, Origin: r.Origin}
	}
	return found, nil
}

// selectForBoarding applies the boarding policy: priority descending, wait
// time ascending, distance ascending, capped by the available seats. The
// excess stays WAITING untouched.
func (c *Conductor) selectForBoarding(found []candidate, vehicleLoc geo.Point, seats int) []candidate {
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Priority != found[j].Priority {
			return found[i].Priority > found[j].Priority
		}
		if !found[i].SpawnedAt.Equal(found[j].SpawnedAt) {
			return found[i].SpawnedAt.After(found[j].SpawnedAt)
		}
		return geo.DistanceMeters(found[i].Origin, vehicleLoc) < geo.DistanceMeters(found[j].Origin, vehicleLoc)
	})
	if len(found) > seats {
		found = found[:seats]
	}
	return found
}

// boardNow marks the selection boarded at the owning reservoir and adds the
// riders it actually won to the manifest. Riders claimed by another vehicle
// in the meantime are simply absent from the result.
func (c *Conductor) boardNow(ctx context.Context, selection []candidate, source poolKind) {
	if len(selection) == 0 {
		return
	}
	ids := make([]string, len(selection))
	for i, cand := range selection {
		ids[i] = cand.ID
	}

	now := c.now()
	var boarded []*rider.Rider
	if source == poolDepot {
		boarded = c.depotPool.MarkBoarded(ids, c.id, now)
	} else {
		boarded = c.routePool.MarkBoarded(ids, c.id, now)
	}

	for _, r := range boarded {
		c.onboard[r.ID] = r
		c.emit(ctx, eventbus.ChannelVehicle, eventbus.TypeRiderBoarded, eventbus.RiderBoardedData{
			RiderID:   r.ID,
			VehicleID: c.id,
			Timestamp: now,
		})
	}
	if len(boarded) > 0 {
		logger.Info("riders boarded",
			zap.String("vehicle_id", c.id),
			zap.Int("count", len(boarded)),
			zap.Int("onboard", len(c.onboard)),
		)
	}
}

// dueAlights returns the onboard riders whose destination is within the
// alight trigger radius of the vehicle.
func (c *Conductor) dueAlights(vehicleLoc geo.Point) []*rider.Rider {
	var due []*rider.Rider
	for _, r := range c.onboard {
		if geo.DistanceMeters(r.Destination.Point(), vehicleLoc) <= c.cfg.AlightTriggerM {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// nearestDepot returns the connected depot within depotProximityM of the
// location, nil when none is close enough. Exactly at the boundary counts.
func (c *Conductor) nearestDepot(loc geo.Point) *catalog.Depot {
	var best *catalog.Depot
	bestDist := depotProximityM
	for _, d := range c.depots {
		if dist := geo.DistanceMeters(loc, d.Location); dist <= bestDist {
			best = d
			bestDist = dist
		}
	}
	return best
}

func (c *Conductor) seatsAvailable() int {
	seats := c.cfg.EffectiveCapacity() - len(c.onboard)
	if seats < 0 {
		return 0
	}
	return seats
}

func (c *Conductor) emit(ctx context.Context, ch eventbus.Channel, eventType string, data interface{}) {
	if c.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(eventType, "conductor:"+c.id, data)
	if err != nil {
		logger.Warn("build event failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := c.bus.Publish(ctx, ch, event); err != nil {
		logger.Warn("publish failed", zap.String("type", eventType), zap.Error(err))
	}
}
