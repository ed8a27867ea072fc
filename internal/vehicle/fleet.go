package vehicle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/citygrid/transit-sim/internal/catalog"
	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/config"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// Unit is one vehicle: a driver and its conductor.
type Unit struct {
	ID        string
	Driver    *Driver
	Conductor *Conductor
}

// Fleet owns the configured set of vehicles, assigning them round-robin over
// the active routes.
type Fleet struct {
	units []*Unit
	wg    sync.WaitGroup
}

// NewFleet builds one conductor/driver pair per vehicle, assigned round-robin
// over the active routes. Each driver starts parked at the route's connected
// depot end so the initial dwell serves the depot queue; routes with no
// connected depot start at the first shape point and their conductors go
// straight en route.
func NewFleet(fleetCfg config.FleetConfig, conductorCfg config.ConductorConfig, routes []*catalog.Route, depots []*catalog.Depot, depotPool DepotPool, routePool RoutePool, bus BusAPI, sink EventSink) *Fleet {
	f := &Fleet{}
	if len(routes) == 0 {
		return f
	}

	driverCfg := DefaultDriverConfig()
	if fleetCfg.SpeedMS > 0 {
		driverCfg.SpeedMS = fleetCfg.SpeedMS
	}
	if fleetCfg.GPSIntervalSec > 0 {
		driverCfg.GPSInterval = time.Duration(fleetCfg.GPSIntervalSec) * time.Second
	}

	for i := 0; i < fleetCfg.Vehicles; i++ {
		route := routes[i%len(routes)]
		id := fmt.Sprintf("veh-%03d", i+1)

		driver := NewDriver(id, route, driverCfg, sink)
		placeAtDepot(driver, route, depots)
		conductor := NewConductor(id, route, depots, driver, depotPool, routePool, bus, conductorCfg)
		f.units = append(f.units, &Unit{ID: id, Driver: driver, Conductor: conductor})
	}
	return f
}

// placeAtDepot parks the driver at the route's connected depot end, facing
// away from it. Without a connected depot the driver keeps the default
// start-of-route position.
func placeAtDepot(driver *Driver, route *catalog.Route, depots []*catalog.Depot) {
	for _, d := range depots {
		if !route.ConnectedTo(d.ID) {
			continue
		}
		snap, ok := route.Snap(d.Location)
		if !ok {
			continue
		}
		direction := rider.Outbound
		if snap.DistanceAlong > route.LengthM/2 {
			direction = rider.Inbound
		}
		if err := driver.PlaceAt(snap.DistanceAlong, direction); err != nil {
			logger.Warn("driver placement failed", zap.String("route_id", route.ID), zap.Error(err))
		}
		return
	}
}

// Units returns the fleet's vehicles.
func (f *Fleet) Units() []*Unit { return f.units }

// Start boards every driver and launches the driver and conductor loops.
func (f *Fleet) Start(ctx context.Context) {
	for _, unit := range f.units {
		if err := unit.Driver.BoardVehicle(); err != nil {
			logger.Warn("driver board failed", zap.String("vehicle_id", unit.ID), zap.Error(err))
			continue
		}

		f.wg.Add(2)
		go func(u *Unit) {
			defer f.wg.Done()
			u.Driver.Run(ctx)
		}(unit)
		go func(u *Unit) {
			defer f.wg.Done()
			u.Conductor.Run(ctx)
		}(unit)
	}
	logger.Info("fleet started", zap.Int("vehicles", len(f.units)))
}

// Wait blocks until every loop has exited after cancellation.
func (f *Fleet) Wait() {
	f.wg.Wait()
}
