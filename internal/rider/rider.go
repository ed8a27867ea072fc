// Package rider defines the passenger journey entity, its lifecycle and the
// shared registry both reservoirs look riders up in.
package rider

import (
	"fmt"
	"time"

	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/geo"
)

// Direction is relative to the route's forward traversal.
type Direction string

const (
	Outbound Direction = "OUTBOUND"
	Inbound  Direction = "INBOUND"
)

// State is the rider lifecycle state.
type State string

const (
	StateWaiting   State = "WAITING"
	StateBoarded   State = "BOARDED"
	StateCompleted State = "COMPLETED"
	StateExpired   State = "EXPIRED"
	StateRejected  State = "REJECTED"
)

// validTransitions encodes the monotonic lifecycle: WAITING -> BOARDED ->
// COMPLETED, or WAITING -> EXPIRED, or WAITING -> REJECTED.
var validTransitions = map[State][]State{
	StateWaiting: {StateBoarded, StateExpired, StateRejected},
	StateBoarded: {StateCompleted},
}

// Home says which reservoir owns a rider: a depot queue or a route grid cell.
// Exactly one of the two is set.
type Home struct {
	DepotID   string
	GridCell  geo.Cell
	RouteID   string
	Direction Direction
}

// AtDepot reports whether the rider lives in the depot reservoir.
func (h Home) AtDepot() bool {
	return h.DepotID != ""
}

// String renders the home for events and logs.
func (h Home) String() string {
	if h.AtDepot() {
		return "depot:" + h.DepotID
	}
	return fmt.Sprintf("route:%s/%s@%d,%d", h.RouteID, h.Direction, h.GridCell.Row, h.GridCell.Col)
}

// Rider is one passenger journey on a single route. Origin and destination
// are snapped onto the route polyline at spawn time. Only reservoir
// operations mutate a rider; vehicles hold IDs.
type Rider struct {
	ID                   string
	Origin               Location
	Destination          Location
	RouteID              string
	Direction            Direction
	State                State
	SpawnedAt            time.Time
	BoardedAt            *time.Time
	AlightedAt           *time.Time
	VehicleID            string
	MaxWalkingDistanceM  float64
	MaxWait              time.Duration
	Priority             float64 // [0,1], higher boards earlier
	Home                 Home
}

// Transition moves the rider to the next state, stamping the transition
// time. Illegal moves return a state error and leave the rider unchanged.
func (r *Rider) Transition(next State, now time.Time) error {
	for _, allowed := range validTransitions[r.State] {
		if allowed == next {
			r.State = next
			switch next {
			case StateBoarded:
				t := now
				r.BoardedAt = &t
			case StateCompleted:
				t := now
				r.AlightedAt = &t
			}
			return nil
		}
	}
	return common.NewStateError(fmt.Sprintf("rider %s: %s -> %s", r.ID, r.State, next))
}

// Expired reports whether a still-waiting rider has exceeded its wait budget.
func (r *Rider) Expired(now time.Time) bool {
	return r.State == StateWaiting && now.Sub(r.SpawnedAt) >= r.MaxWait
}

// WaitTime returns how long the rider has been waiting.
func (r *Rider) WaitTime(now time.Time) time.Duration {
	return now.Sub(r.SpawnedAt)
}
