package eventbus

import (
	"time"

	"github.com/citygrid/transit-sim/pkg/geo"
)

// Event type names carried in the envelope's Type field.
const (
	TypeRiderSpawned = "rider:spawned"
	TypeRiderBoarded = "rider:boarded"
	TypeRiderAlight  = "rider:alighted"
	TypeRiderExpired = "rider:expired"

	TypeQueryPassengers = "vehicle:query_passengers"
	TypePassengersFound = "vehicle:passengers_found"
	TypeStopRequest     = "vehicle:stop_request"
	TypeDepart          = "vehicle:depart"

	TypeDriverLocation = "driver:location"

	TypeSystemDegraded = "system:degraded"
)

// knownTypes guards the bus boundary: envelopes with any other Type are
// rejected with a warning before a handler sees them.
var knownTypes = map[string]struct{}{
	TypeRiderSpawned:    {},
	TypeRiderBoarded:    {},
	TypeRiderAlight:     {},
	TypeRiderExpired:    {},
	TypeQueryPassengers: {},
	TypePassengersFound: {},
	TypeStopRequest:     {},
	TypeDepart:          {},
	TypeDriverLocation:  {},
	TypeSystemDegraded:  {},
}

// KnownType reports whether the event type is part of the protocol.
func KnownType(eventType string) bool {
	_, ok := knownTypes[eventType]
	return ok
}

// RiderSpawnedData announces a new waiting rider.
type RiderSpawnedData struct {
	RiderID     string    `json:"id"`
	RouteID     string    `json:"route_id"`
	Direction   string    `json:"direction"`
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
	Home        string    `json:"home"`
}

// QueryPassengersData is the request side of a vehicle pickup query.
type QueryPassengersData struct {
	RouteID        string    `json:"route_id"`
	DepotID        string    `json:"depot_id,omitempty"`
	VehicleLoc     geo.Point `json:"vehicle_loc"`
	Direction      string    `json:"direction"`
	RadiusM        float64   `json:"radius_m"`
	SeatsAvailable int       `json:"seats_available"`
}

// FoundRider is one candidate in a passengers_found response.
type FoundRider struct {
	RiderID     string    `json:"rider_id"`
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
	Priority    float64   `json:"priority"`
	SpawnedAt   time.Time `json:"spawned_at"`
}

// PassengersFoundData is the response to a pickup query.
type PassengersFoundData struct {
	Riders []FoundRider `json:"riders"`
}

// StopRequestData tells a driver to stop for boarding and alighting.
type StopRequestData struct {
	VehicleID string  `json:"vehicle_id"`
	DurationS float64 `json:"duration_s"`
}

// DepartData tells a driver to depart.
type DepartData struct {
	VehicleID      string `json:"vehicle_id"`
	PassengerCount int    `json:"passenger_count"`
}

// RiderBoardedData records a completed boarding.
type RiderBoardedData struct {
	RiderID   string    `json:"rider_id"`
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RiderAlightedData records a completed alighting.
type RiderAlightedData struct {
	RiderID   string    `json:"rider_id"`
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RiderExpiredData records a rider removed after exceeding its wait budget.
type RiderExpiredData struct {
	RiderID string `json:"rider_id"`
	Reason  string `json:"reason"`
}

// DriverLocationData is the periodic GPS broadcast.
type DriverLocationData struct {
	VehicleID string    `json:"vehicle_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	SpeedMS   float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemDegradedData signals repeated failures in a component.
type SystemDegradedData struct {
	Component string `json:"component"`
	Reason    string `json:"reason"`
}
