package config

import (
	"math"
	"testing"

	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20.0, cfg.Spawner.BaseRatePerHourPerRoute)
	assert.Equal(t, 30, cfg.Spawner.WindowSeconds)
	assert.InDelta(t, math.Log(2000), cfg.Spawner.TripLength.MuM, 1e-9)
	assert.Equal(t, 0.6, cfg.Spawner.TripLength.Sigma)
	assert.Equal(t, 500.0, cfg.Spawner.DepotConnectivityM)
	assert.Equal(t, 25.0, cfg.Spawner.SnapToleranceM)
	assert.Len(t, cfg.Spawner.TimePatterns.Route, 24)
	assert.Len(t, cfg.Spawner.TimePatterns.Depot, 24)

	assert.Equal(t, 1800, cfg.Rider.DefaultTTLSeconds)
	assert.Equal(t, 150.0, cfg.Rider.DefaultWalkingDistanceM)

	assert.Equal(t, 10, cfg.Reservoir.ExpirationCheckSeconds)
	assert.Equal(t, 0.01, cfg.RouteReservoir.GridCellDegrees)

	assert.Equal(t, 1, cfg.Conductor.TickSeconds)
	assert.Equal(t, 100.0, cfg.Conductor.AlightTriggerM)
	assert.Equal(t, 500.0, cfg.Conductor.DepotQueryRadiusM)
	assert.Equal(t, 1000.0, cfg.Conductor.RouteQueryRadiusM)
	assert.Equal(t, 40, cfg.Conductor.Capacity)
	assert.Equal(t, 0, cfg.Conductor.StandingCapacity)

	assert.Equal(t, 5, cfg.Bus.RequestTimeoutSecs)
	assert.Equal(t, 30, cfg.Bus.ReconnectMaxSeconds)
}

func TestDepotPatternHasSharperMorningPeak(t *testing.T) {
	route := defaultRoutePattern()
	depot := defaultDepotPattern()

	routePeak, depotPeak := 0.0, 0.0
	for h := 6; h <= 9; h++ {
		routePeak = math.Max(routePeak, route[h])
		depotPeak = math.Max(depotPeak, depot[h])
	}
	assert.Greater(t, depotPeak, routePeak)

	// Route pattern keeps a lunch bump.
	assert.Greater(t, route[12], route[10])
}

func TestValidateRejectsBadRanges(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative base rate", func(c *Config) { c.Spawner.BaseRatePerHourPerRoute = -1 }},
		{"zero window", func(c *Config) { c.Spawner.WindowSeconds = 0 }},
		{"zero sigma", func(c *Config) { c.Spawner.TripLength.Sigma = 0 }},
		{"short route pattern", func(c *Config) { c.Spawner.TimePatterns.Route = []float64{1} }},
		{"zero capacity", func(c *Config) { c.Conductor.Capacity = 0 }},
		{"zero grid cell", func(c *Config) { c.RouteReservoir.GridCellDegrees = 0 }},
		{"zero ttl", func(c *Config) { c.Rider.DefaultTTLSeconds = 0 }},
		{"zero bus timeout", func(c *Config) { c.Bus.RequestTimeoutSecs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, common.ErrConfig)
		})
	}
}

func TestEffectiveCapacity(t *testing.T) {
	c := ConductorConfig{Capacity: 40}
	assert.Equal(t, 40, c.EffectiveCapacity())

	c.StandingCapacity = 10
	assert.Equal(t, 50, c.EffectiveCapacity())
}
