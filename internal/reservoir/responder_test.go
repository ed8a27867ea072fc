package reservoir

import (
	"context"
	"testing"
	"time"

	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/pkg/eventbus"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryEvent(t *testing.T, data eventbus.QueryPassengersData) *eventbus.Event {
	t.Helper()
	event, err := eventbus.NewEvent(eventbus.TypeQueryPassengers, "conductor:test", data)
	require.NoError(t, err)
	return event
}

func TestResponderAnswersDepotQueries(t *testing.T) {
	registry := rider.NewRegistry()
	depot := NewDepotReservoir(registry)
	routes := NewRouteReservoir(registry, 0.01)
	responder := NewResponder(depot, routes)

	now := time.Now()
	depot.AddRider(depotRider(0, now.Add(-time.Minute)))
	depot.AddRider(depotRider(1, now))

	resp, err := responder.Respond(context.Background(), queryEvent(t, eventbus.QueryPassengersData{
		RouteID:        "1A",
		DepotID:        "speightstown",
		VehicleLoc:     speightstownLoc,
		RadiusM:        500,
		SeatsAvailable: 1,
	}))
	require.NoError(t, err)
	assert.Equal(t, eventbus.TypePassengersFound, resp.Type)

	var data eventbus.PassengersFoundData
	require.NoError(t, resp.Decode(&data))
	require.Len(t, data.Riders, 1)
	assert.Equal(t, "r000", data.Riders[0].RiderID, "FIFO head answers first")
	assert.Equal(t, now.Add(-time.Minute).Unix(), data.Riders[0].SpawnedAt.Unix())

	// Answering a query marks nothing.
	assert.Equal(t, 2, depot.QueueLen("speightstown", "1A"))
}

func TestResponderAnswersRouteQueries(t *testing.T) {
	registry := rider.NewRegistry()
	depot := NewDepotReservoir(registry)
	routes := NewRouteReservoir(registry, 0.01)
	responder := NewResponder(depot, routes)

	at := geo.Point{Lat: 13.3050, Lon: -59.6340}
	routes.AddRider(routeRider("x", at, rider.Outbound, time.Now()))

	resp, err := responder.Respond(context.Background(), queryEvent(t, eventbus.QueryPassengersData{
		RouteID:        "1A",
		VehicleLoc:     at,
		Direction:      string(rider.Outbound),
		RadiusM:        1000,
		SeatsAvailable: 5,
	}))
	require.NoError(t, err)

	var data eventbus.PassengersFoundData
	require.NoError(t, resp.Decode(&data))
	require.Len(t, data.Riders, 1)
	assert.Equal(t, "x", data.Riders[0].RiderID)

	// Wrong direction finds nobody.
	resp, err = responder.Respond(context.Background(), queryEvent(t, eventbus.QueryPassengersData{
		RouteID:        "1A",
		VehicleLoc:     at,
		Direction:      string(rider.Inbound),
		RadiusM:        1000,
		SeatsAvailable: 5,
	}))
	require.NoError(t, err)
	require.NoError(t, resp.Decode(&data))
	assert.Empty(t, data.Riders)
}
