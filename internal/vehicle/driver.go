package vehicle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/citygrid/transit-sim/internal/catalog"
	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/eventbus"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// EventSink is the publishing half of the event bus.
type EventSink interface {
	Publish(ctx context.Context, ch eventbus.Channel, event *eventbus.Event) error
}

// DriverConfig holds the actuation knobs.
type DriverConfig struct {
	SpeedMS       float64
	BoardingDelay time.Duration
	GPSInterval   time.Duration
	TickInterval  time.Duration
}

// DefaultDriverConfig returns the standard driver timing.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		SpeedMS:       8.0,
		BoardingDelay: 3 * time.Second,
		GPSInterval:   2 * time.Second,
		TickInterval:  time.Second,
	}
}

// Driver moves one vehicle along its route polyline. The engine only runs in
// ONBOARD; GPS broadcasts run in every on-vehicle state. All transitions
// after the initial boarding come from the conductor's Stop/Depart signals.
type Driver struct {
	mu sync.Mutex

	id        string
	route     *catalog.Route
	cfg       DriverConfig
	state     DriverState
	direction rider.Direction
	arc       float64 // meters along the forward polyline
	engineOn  bool

	boardedAt time.Time // when BOARDING began
	lastGPS   time.Time

	sink EventSink
	now  func() time.Time

	// startEngine is swappable so tests can inject ignition failures.
	startEngine func() error
}

// NewDriver creates a driver parked at the start of the route, off the
// vehicle.
func NewDriver(id string, route *catalog.Route, cfg DriverConfig, sink EventSink) *Driver {
	if cfg.SpeedMS <= 0 {
		cfg.SpeedMS = 8.0
	}
	if cfg.BoardingDelay <= 0 {
		cfg.BoardingDelay = 3 * time.Second
	}
	if cfg.GPSInterval <= 0 {
		cfg.GPSInterval = 2 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Driver{
		id:          id,
		route:       route,
		cfg:         cfg,
		state:       DriverDisembarked,
		direction:   rider.Outbound,
		sink:        sink,
		now:         time.Now,
		startEngine: func() error { return nil },
	}
}

// PlaceAt parks the vehicle at the given arc position facing the given
// direction. Only valid before the shift starts.
func (d *Driver) PlaceAt(arcM float64, direction rider.Direction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DriverDisembarked {
		return common.NewStateError("driver " + d.id + ": place from " + string(d.state))
	}
	if arcM < 0 {
		arcM = 0
	}
	if arcM > d.route.LengthM {
		arcM = d.route.LengthM
	}
	d.arc = arcM
	d.direction = direction
	return nil
}

// BoardVehicle moves the driver onto the vehicle. The engine stays off; the
// driver reaches WAITING after the boarding delay.
func (d *Driver) BoardVehicle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DriverDisembarked {
		return common.NewStateError("driver " + d.id + ": board from " + string(d.state))
	}
	d.state = DriverBoarding
	d.boardedAt = d.now()
	logger.Info("driver boarding", zap.String("vehicle_id", d.id))
	return nil
}

// Stop turns the engine off and holds the vehicle. A repeated Stop while
// already holding is a no-op.
func (d *Driver) Stop(durationS float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case DriverOnboard:
		d.engineOn = false
		d.state = DriverWaiting
		logger.Debug("driver stopped",
			zap.String("vehicle_id", d.id),
			zap.Float64("duration_s", durationS),
		)
		return nil
	case DriverWaiting:
		// Idempotent within a stop operation.
		return nil
	default:
		return common.NewStateError("driver " + d.id + ": stop from " + string(d.state))
	}
}

// Depart starts the engine and resumes travel. Ignition failure returns an
// EngineError and leaves the driver WAITING; the conductor owns the retry.
func (d *Driver) Depart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case DriverWaiting:
		if err := d.startEngine(); err != nil {
			return &EngineError{VehicleID: d.id, Err: err}
		}
		d.engineOn = true
		d.state = DriverOnboard
		logger.Debug("driver departed", zap.String("vehicle_id", d.id))
		return nil
	case DriverOnboard:
		return nil
	default:
		return common.NewStateError("driver " + d.id + ": depart from " + string(d.state))
	}
}

// TakeBreak parks a waiting driver. The break lasts until EndShift.
func (d *Driver) TakeBreak() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DriverWaiting {
		return common.NewStateError("driver " + d.id + ": break from " + string(d.state))
	}
	d.state = DriverBreak
	logger.Info("driver on break", zap.String("vehicle_id", d.id))
	return nil
}

// EndShift winds the driver down; the next tick completes the disembark.
func (d *Driver) EndShift() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case DriverWaiting, DriverOnboard, DriverBreak:
		d.engineOn = false
		d.state = DriverDisembarking
		logger.Info("driver ending shift", zap.String("vehicle_id", d.id))
		return nil
	default:
		return common.NewStateError("driver " + d.id + ": end shift from " + string(d.state))
	}
}

// Status snapshots the driver for the conductor.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		VehicleID: d.id,
		State:     d.state,
		Location:  d.route.PointAt(d.arc),
		Direction: d.direction,
		EngineOn:  d.engineOn,
		SpeedMS:   d.currentSpeed(),
		Heading:   d.heading(),
	}
}

func (d *Driver) currentSpeed() float64 {
	if d.engineOn && d.state == DriverOnboard {
		return d.cfg.SpeedMS
	}
	return 0
}

func (d *Driver) heading() float64 {
	const lookaheadM = 10
	here := d.route.PointAt(d.arc)
	var ahead geo.Point
	if d.direction == rider.Inbound {
		ahead = d.route.PointAt(d.arc - lookaheadM)
	} else {
		ahead = d.route.PointAt(d.arc + lookaheadM)
	}
	if ahead == here {
		return 0
	}
	return geo.BearingDegrees(here, ahead)
}

// Tick advances the driver by dt: boarding-delay completion, disembark
// completion and polyline movement while the engine runs.
func (d *Driver) Tick(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case DriverBoarding:
		if d.now().Sub(d.boardedAt) >= d.cfg.BoardingDelay {
			d.state = DriverWaiting
			logger.Info("driver ready", zap.String("vehicle_id", d.id))
		}
	case DriverOnboard:
		if d.engineOn {
			d.advance(d.cfg.SpeedMS * dt.Seconds())
		}
	case DriverDisembarking:
		d.state = DriverDisembarked
		logger.Info("driver disembarked", zap.String("vehicle_id", d.id))
	}
}

// advance moves along the polyline, reversing direction at either end.
func (d *Driver) advance(meters float64) {
	if d.route.LengthM <= 0 {
		return
	}
	if d.direction == rider.Inbound {
		d.arc -= meters
		if d.arc <= 0 {
			d.arc = 0
			d.direction = rider.Outbound
		}
		return
	}
	d.arc += meters
	if d.arc >= d.route.LengthM {
		d.arc = d.route.LengthM
		d.direction = rider.Inbound
	}
}

// Run drives the tick and GPS loops until the context is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(d.cfg.TickInterval)
			d.maybeBroadcast(ctx)
		}
	}
}

// maybeBroadcast emits driver:location at the GPS interval while the driver
// is on the vehicle, engine on or off.
func (d *Driver) maybeBroadcast(ctx context.Context) {
	status := d.Status()
	if !status.OnVehicle() {
		return
	}

	d.mu.Lock()
	now := d.now()
	due := now.Sub(d.lastGPS) >= d.cfg.GPSInterval
	if due {
		d.lastGPS = now
	}
	d.mu.Unlock()
	if !due {
		return
	}

	event, err := eventbus.NewEvent(eventbus.TypeDriverLocation, "driver:"+d.id, eventbus.DriverLocationData{
		VehicleID: d.id,
		Lat:       status.Location.Lat,
		Lon:       status.Location.Lon,
		SpeedMS:   status.SpeedMS,
		Heading:   status.Heading,
		Timestamp: now,
	})
	if err != nil {
		return
	}
	if err := d.sink.Publish(ctx, eventbus.ChannelVehicle, event); err != nil {
		logger.Debug("gps publish failed", zap.String("vehicle_id", d.id), zap.Error(err))
	}
}

// SetIgnition replaces the engine-start hook.
func (d *Driver) SetIgnition(start func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if start == nil {
		start = func() error { return nil }
	}
	d.startEngine = start
}

// IsEngineFailure reports whether err is an ignition failure.
func IsEngineFailure(err error) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr)
}
