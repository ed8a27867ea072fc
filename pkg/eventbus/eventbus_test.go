package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event, err := NewEvent(TypeRiderSpawned, "spawner", RiderSpawnedData{
		RiderID: "r1",
		RouteID: "1A",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, TypeRiderSpawned, event.Type)
	assert.Equal(t, "spawner", event.Source)
	assert.False(t, event.Timestamp.IsZero())

	var data RiderSpawnedData
	require.NoError(t, event.Decode(&data))
	assert.Equal(t, "r1", data.RiderID)
	assert.Equal(t, "1A", data.RouteID)
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		channel   Channel
		eventType string
		expected  string
	}{
		{ChannelRoute, TypeRiderSpawned, "route.rider.spawned"},
		{ChannelDepot, TypeRiderExpired, "depot.rider.expired"},
		{ChannelVehicle, TypeStopRequest, "vehicle.vehicle.stop_request"},
		{ChannelSystem, TypeSystemDegraded, "system.system.degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, subjectFor(tt.channel, tt.eventType))
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("valid envelope", func(t *testing.T) {
		event, _ := NewEvent(TypeDepart, "conductor-1", DepartData{VehicleID: "v1"})
		raw, err := json.Marshal(event)
		require.NoError(t, err)

		decoded, ok := decodeEnvelope(raw)
		require.True(t, ok)
		assert.Equal(t, event.ID, decoded.ID)
		assert.Equal(t, TypeDepart, decoded.Type)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, ok := decodeEnvelope([]byte("{not json"))
		assert.False(t, ok)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		raw := []byte(`{"id":"x","type":"rider:teleported","data":{}}`)
		_, ok := decodeEnvelope(raw)
		assert.False(t, ok)
	})
}

func TestKnownType(t *testing.T) {
	assert.True(t, KnownType(TypeRiderSpawned))
	assert.True(t, KnownType(TypeDriverLocation))
	assert.False(t, KnownType("rider:teleported"))
	assert.False(t, KnownType(""))
}

func TestFallbackDispatcher(t *testing.T) {
	d := NewFallbackDispatcher()

	var stopCalls, departCalls atomic.Int32
	d.Register(TypeStopRequest, func(ctx context.Context, e *Event) error {
		stopCalls.Add(1)
		return nil
	})
	d.Register(TypeStopRequest, func(ctx context.Context, e *Event) error {
		stopCalls.Add(1)
		return errors.New("handler failure is swallowed")
	})
	d.Register(TypeDepart, func(ctx context.Context, e *Event) error {
		departCalls.Add(1)
		return nil
	})

	stop, _ := NewEvent(TypeStopRequest, "conductor-1", StopRequestData{VehicleID: "v1", DurationS: 18})
	d.Dispatch(context.Background(), stop)

	assert.Equal(t, int32(2), stopCalls.Load())
	assert.Equal(t, int32(0), departCalls.Load())
	assert.Equal(t, 2, d.HandlerCount(TypeStopRequest))
	assert.Equal(t, 0, d.HandlerCount(TypeRiderExpired))

	// Dispatching a type with no handlers is a no-op.
	expired, _ := NewEvent(TypeRiderExpired, "sweeper", RiderExpiredData{RiderID: "r1"})
	d.Dispatch(context.Background(), expired)
}
