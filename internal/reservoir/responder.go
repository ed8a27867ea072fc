package reservoir

import (
	"context"

	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/eventbus"
)

// Responder answers vehicle:query_passengers requests on the depot and route
// channels, backed by the in-process reservoirs. Conductors that can reach
// the bus use this path; the rest call the reservoirs directly.
type Responder struct {
	depot  *DepotReservoir
	routes *RouteReservoir
}

// NewResponder wires the query responder to both reservoirs.
func NewResponder(depot *DepotReservoir, routes *RouteReservoir) *Responder {
	return &Responder{depot: depot, routes: routes}
}

// Bindable is the subset of the bus the responder registers against.
type Bindable interface {
	RegisterResponder(ctx context.Context, ch eventbus.Channel, eventType string, responder eventbus.Responder) error
}

// Bind registers the responder on the depot and route channels.
func (r *Responder) Bind(ctx context.Context, bus Bindable) error {
	if err := bus.RegisterResponder(ctx, eventbus.ChannelDepot, eventbus.TypeQueryPassengers, r.Respond); err != nil {
		return err
	}
	return bus.RegisterResponder(ctx, eventbus.ChannelRoute, eventbus.TypeQueryPassengers, r.Respond)
}

// Respond answers one passenger query. A query that names a depot hits the
// depot FIFO, otherwise the route grid.
func (r *Responder) Respond(_ context.Context, request *eventbus.Event) (*eventbus.Event, error) {
	var query eventbus.QueryPassengersData
	if err := request.Decode(&query); err != nil {
		return nil, err
	}

	var found []*rider.Rider
	if query.DepotID != "" {
		found = r.depot.QueryForVehicle(query.DepotID, query.RouteID, query.VehicleLoc, query.RadiusM, query.SeatsAvailable)
	} else {
		found = r.routes.QueryForVehicle(query.RouteID, rider.Direction(query.Direction), query.VehicleLoc, query.RadiusM, query.SeatsAvailable)
	}

	riders := make([]eventbus.FoundRider, len(found))
	for i, rr := range found {
		riders[i] = eventbus.FoundRider{
			RiderID:     rr.ID,
			Origin:      rr.Origin.Point(),
			Destination: rr.Destination.Point(),
			Priority:    rr.Priority,
			SpawnedAt:   rr.SpawnedAt,
		}
	}
	return eventbus.NewEvent(eventbus.TypePassengersFound, "reservoir:responder", eventbus.PassengersFoundData{Riders: riders})
}
