package rider

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationUnmarshalShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"pair", `[13.25, -59.64]`},
		{"short keys", `{"lat": 13.25, "lon": -59.64}`},
		{"long keys", `{"latitude": 13.25, "longitude": -59.64}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var loc Location
			require.NoError(t, json.Unmarshal([]byte(tt.input), &loc))
			assert.Equal(t, 13.25, loc.Lat)
			assert.Equal(t, -59.64, loc.Lon)
		})
	}
}

func TestLocationUnmarshalRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"triple", `[1, 2, 3]`},
		{"single", `[1]`},
		{"mixed keys", `{"lat": 1, "longitude": 2}`},
		{"empty object", `{}`},
		{"string", `"somewhere"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var loc Location
			assert.Error(t, json.Unmarshal([]byte(tt.input), &loc))
		})
	}
}

func TestLocationNormalizationIdempotent(t *testing.T) {
	var loc Location
	require.NoError(t, json.Unmarshal([]byte(`{"latitude": 13.25, "longitude": -59.64}`), &loc))

	raw, err := json.Marshal(loc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat": 13.25, "lon": -59.64}`, string(raw))

	var again Location
	require.NoError(t, json.Unmarshal(raw, &again))
	assert.Equal(t, loc, again)
}

func newWaitingRider() *Rider {
	return &Rider{
		ID:        "r1",
		RouteID:   "1A",
		Direction: Outbound,
		State:     StateWaiting,
		SpawnedAt: time.Now(),
		MaxWait:   30 * time.Minute,
	}
}

func TestTransitionHappyPath(t *testing.T) {
	r := newWaitingRider()
	now := time.Now()

	require.NoError(t, r.Transition(StateBoarded, now))
	assert.Equal(t, StateBoarded, r.State)
	require.NotNil(t, r.BoardedAt)

	require.NoError(t, r.Transition(StateCompleted, now.Add(time.Minute)))
	assert.Equal(t, StateCompleted, r.State)
	require.NotNil(t, r.AlightedAt)
}

func TestTransitionTerminalPaths(t *testing.T) {
	expired := newWaitingRider()
	require.NoError(t, expired.Transition(StateExpired, time.Now()))

	rejected := newWaitingRider()
	require.NoError(t, rejected.Transition(StateRejected, time.Now()))
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"waiting to completed", StateWaiting, StateCompleted},
		{"boarded to expired", StateBoarded, StateExpired},
		{"completed is terminal", StateCompleted, StateWaiting},
		{"expired is terminal", StateExpired, StateBoarded},
		{"boarded back to waiting", StateBoarded, StateWaiting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newWaitingRider()
			r.State = tt.from
			err := r.Transition(tt.to, time.Now())
			assert.ErrorIs(t, err, common.ErrState)
			assert.Equal(t, tt.from, r.State)
		})
	}
}

func TestExpired(t *testing.T) {
	r := newWaitingRider()
	r.MaxWait = time.Minute

	assert.False(t, r.Expired(r.SpawnedAt.Add(30*time.Second)))
	assert.True(t, r.Expired(r.SpawnedAt.Add(time.Minute)))

	// Boarded riders never expire.
	require.NoError(t, r.Transition(StateBoarded, time.Now()))
	assert.False(t, r.Expired(r.SpawnedAt.Add(time.Hour)))
}

func TestHome(t *testing.T) {
	depot := Home{DepotID: "speightstown"}
	assert.True(t, depot.AtDepot())
	assert.Equal(t, "depot:speightstown", depot.String())

	grid := Home{RouteID: "1A", Direction: Outbound, GridCell: geo.Cell{Row: 1325, Col: -5965}}
	assert.False(t, grid.AtDepot())
	assert.Contains(t, grid.String(), "route:1A/OUTBOUND")
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	r := newWaitingRider()

	assert.Nil(t, reg.Get("r1"))
	reg.Add(r)
	assert.Equal(t, r, reg.Get("r1"))
	assert.Equal(t, 1, reg.Len())

	reg.Remove("r1")
	assert.Nil(t, reg.Get("r1"))
	assert.Equal(t, 0, reg.Len())
}
