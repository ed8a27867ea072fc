// Package vehicle implements the per-vehicle pair of cooperating state
// machines: the conductor, which couples the vehicle to the rider
// reservoirs and decides stops, and the driver, which actuates the engine
// and moves the vehicle along the route polyline.
package vehicle

import (
	"fmt"

	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/geo"
)

// DriverState is the driver lifecycle.
type DriverState string

const (
	DriverDisembarked  DriverState = "DISEMBARKED"
	DriverBoarding     DriverState = "BOARDING"
	DriverWaiting      DriverState = "WAITING"
	DriverOnboard      DriverState = "ONBOARD"
	DriverDisembarking DriverState = "DISEMBARKING"
	DriverBreak        DriverState = "BREAK"
)

// ConductorState is the conductor loop state.
type ConductorState string

const (
	ConductorIdle            ConductorState = "IDLE"
	ConductorMonitoring      ConductorState = "MONITORING"
	ConductorBoarding        ConductorState = "BOARDING"
	ConductorEnRoute         ConductorState = "EN_ROUTE"
	ConductorApproachingStop ConductorState = "APPROACHING_STOP"
	ConductorStopped         ConductorState = "STOPPED"
	ConductorFullExpress     ConductorState = "FULL_EXPRESS"
	ConductorCleanup         ConductorState = "CLEANUP"
)

// EngineError is the typed failure a driver returns when the engine refuses
// to start. The conductor retries on it before giving up.
type EngineError struct {
	VehicleID string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("vehicle %s: engine start failed: %v", e.VehicleID, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Status is the driver's snapshot the conductor reads each tick.
type Status struct {
	VehicleID string
	State     DriverState
	Location  geo.Point
	Direction rider.Direction
	EngineOn  bool
	SpeedMS   float64
	Heading   float64
}

// OnVehicle reports whether the driver is aboard (GPS broadcasts run).
func (s Status) OnVehicle() bool {
	switch s.State {
	case DriverBoarding, DriverWaiting, DriverOnboard, DriverDisembarking, DriverBreak:
		return true
	}
	return false
}

// DriverControl is the signaling surface the conductor drives. Stop and
// Depart are the only legitimate WAITING <-> ONBOARD triggers after the
// initial boarding; TakeBreak parks the driver when the conductor gives up
// on the vehicle.
type DriverControl interface {
	Stop(durationS float64) error
	Depart() error
	TakeBreak() error
	Status() Status
}
