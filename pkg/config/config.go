// Package config loads the simulation's hierarchical configuration. Every
// knob is enumerated here with its default; values can be overridden from a
// config file (transit-sim.yaml) or TRANSIT_-prefixed environment variables.
// There are no undocumented flags.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root of the configuration tree.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	DataStore      DataStoreConfig      `mapstructure:"datastore"`
	Bus            BusConfig            `mapstructure:"bus"`
	Spawner        SpawnerConfig        `mapstructure:"spawner"`
	Rider          RiderConfig          `mapstructure:"rider"`
	Reservoir      ReservoirConfig      `mapstructure:"reservoir"`
	RouteReservoir RouteReservoirConfig `mapstructure:"route_reservoir"`
	Conductor      ConductorConfig      `mapstructure:"conductor"`
	Fleet          FleetConfig          `mapstructure:"fleet"`
	ZoneCache      ZoneCacheConfig      `mapstructure:"zone_cache"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	ServiceName string `mapstructure:"service_name"`
}

// DataStoreConfig points at the geographic data store REST API.
type DataStoreConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	URL                 string `mapstructure:"url"`
	RequestTimeoutSecs  int    `mapstructure:"request_timeout_seconds"`
	ReconnectMaxSeconds int    `mapstructure:"reconnect_max_seconds"`
}

// TripLengthConfig parameterizes the log-normal trip length draw.
type TripLengthConfig struct {
	MuM   float64 `mapstructure:"mu_m"`
	Sigma float64 `mapstructure:"sigma"`
}

// TimePatternsConfig holds the 24-entry hourly multiplier vectors. The depot
// pattern has a sharper morning peak; the route pattern is flatter with a
// lunch bump.
type TimePatternsConfig struct {
	Route []float64 `mapstructure:"route"`
	Depot []float64 `mapstructure:"depot"`
}

// SpawnerConfig holds Poisson spawner settings.
type SpawnerConfig struct {
	BaseRatePerHourPerRoute float64            `mapstructure:"base_rate_per_hour_per_route"`
	WindowSeconds           int                `mapstructure:"window_seconds"`
	TripLength              TripLengthConfig   `mapstructure:"trip_length"`
	TimePatterns            TimePatternsConfig `mapstructure:"time_patterns"`
	DepotConnectivityM      float64            `mapstructure:"depot_connectivity_m"`
	SnapToleranceM          float64            `mapstructure:"snap_tolerance_m"`
}

// RiderConfig holds per-rider defaults.
type RiderConfig struct {
	DefaultTTLSeconds       int     `mapstructure:"default_ttl_seconds"`
	DefaultWalkingDistanceM float64 `mapstructure:"default_walking_distance_m"`
}

// ReservoirConfig holds settings shared by both reservoirs.
type ReservoirConfig struct {
	ExpirationCheckSeconds int `mapstructure:"expiration_check_seconds"`
	StatsLogSeconds        int `mapstructure:"stats_log_seconds"`
}

// RouteReservoirConfig holds the grid index settings.
type RouteReservoirConfig struct {
	GridCellDegrees float64 `mapstructure:"grid_cell_degrees"`
}

// ConductorConfig holds per-vehicle conductor settings.
type ConductorConfig struct {
	TickSeconds       int     `mapstructure:"tick_seconds"`
	AlightTriggerM    float64 `mapstructure:"alight_trigger_m"`
	DepotQueryRadiusM float64 `mapstructure:"depot_query_radius_m"`
	RouteQueryRadiusM float64 `mapstructure:"route_query_radius_m"`
	Capacity          int     `mapstructure:"capacity"`
	StandingCapacity  int     `mapstructure:"standing_capacity"`
	MinDwellSeconds   int     `mapstructure:"min_dwell_seconds"`
	MinPassengers     int     `mapstructure:"min_passengers"`
	BoardingSecsEach  float64 `mapstructure:"boarding_seconds_per_rider"`
	AlightingSecsEach float64 `mapstructure:"alighting_seconds_per_rider"`
}

// FleetConfig holds fleet spin-up settings.
type FleetConfig struct {
	Vehicles       int     `mapstructure:"vehicles"`
	SpeedMS        float64 `mapstructure:"speed_ms"`
	GPSIntervalSec int     `mapstructure:"gps_interval_seconds"`
}

// ZoneCacheConfig holds snapshot cache settings.
type ZoneCacheConfig struct {
	BufferKm float64 `mapstructure:"buffer_km"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.service_name", "transit-sim")

	v.SetDefault("datastore.base_url", "http://localhost:1337")
	v.SetDefault("datastore.timeout_seconds", 10)
	v.SetDefault("datastore.page_size", 100)

	v.SetDefault("bus.url", "nats://localhost:4222")
	v.SetDefault("bus.request_timeout_seconds", 5)
	v.SetDefault("bus.reconnect_max_seconds", 30)

	v.SetDefault("spawner.base_rate_per_hour_per_route", 20.0)
	v.SetDefault("spawner.window_seconds", 30)
	v.SetDefault("spawner.trip_length.mu_m", math.Log(2000))
	v.SetDefault("spawner.trip_length.sigma", 0.6)
	v.SetDefault("spawner.time_patterns.route", defaultRoutePattern())
	v.SetDefault("spawner.time_patterns.depot", defaultDepotPattern())
	v.SetDefault("spawner.depot_connectivity_m", 500.0)
	v.SetDefault("spawner.snap_tolerance_m", 25.0)

	v.SetDefault("rider.default_ttl_seconds", 1800)
	v.SetDefault("rider.default_walking_distance_m", 150.0)

	v.SetDefault("reservoir.expiration_check_seconds", 10)
	v.SetDefault("reservoir.stats_log_seconds", 60)

	v.SetDefault("route_reservoir.grid_cell_degrees", 0.01)

	v.SetDefault("conductor.tick_seconds", 1)
	v.SetDefault("conductor.alight_trigger_m", 100.0)
	v.SetDefault("conductor.depot_query_radius_m", 500.0)
	v.SetDefault("conductor.route_query_radius_m", 1000.0)
	v.SetDefault("conductor.capacity", 40)
	v.SetDefault("conductor.standing_capacity", 0)
	v.SetDefault("conductor.min_dwell_seconds", 15)
	v.SetDefault("conductor.min_passengers", 1)
	v.SetDefault("conductor.boarding_seconds_per_rider", 2.0)
	v.SetDefault("conductor.alighting_seconds_per_rider", 1.5)

	v.SetDefault("fleet.vehicles", 4)
	v.SetDefault("fleet.speed_ms", 8.0)
	v.SetDefault("fleet.gps_interval_seconds", 2)

	v.SetDefault("zone_cache.buffer_km", 5.0)
}

// defaultRoutePattern is flat with commute shoulders and a lunch bump.
func defaultRoutePattern() []float64 {
	return []float64{
		0.2, 0.1, 0.1, 0.1, 0.2, 0.5,
		0.9, 1.3, 1.5, 1.2, 1.0, 1.2,
		1.4, 1.3, 1.1, 1.2, 1.4, 1.6,
		1.5, 1.2, 0.9, 0.7, 0.5, 0.3,
	}
}

// defaultDepotPattern has a sharper morning peak than the route pattern.
func defaultDepotPattern() []float64 {
	return []float64{
		0.1, 0.05, 0.05, 0.1, 0.3, 0.8,
		1.8, 2.5, 2.2, 1.4, 1.0, 1.0,
		1.1, 1.0, 0.9, 1.0, 1.3, 1.8,
		1.6, 1.1, 0.8, 0.5, 0.3, 0.2,
	}
}

// Load reads configuration from defaults, an optional transit-sim.yaml and
// TRANSIT_-prefixed environment variables, then validates. Validation
// failures are config errors and fatal at startup.
func Load() (*Config, error) {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("transit-sim")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/transit-sim")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, common.NewConfigError("read config file", err)
		}
	}

	v.SetEnvPrefix("TRANSIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, common.NewConfigError("unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges for every knob that has one.
func (c *Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.Spawner.BaseRatePerHourPerRoute >= 0, "spawner.base_rate_per_hour_per_route must be >= 0"},
		{c.Spawner.WindowSeconds > 0, "spawner.window_seconds must be > 0"},
		{c.Spawner.TripLength.Sigma > 0, "spawner.trip_length.sigma must be > 0"},
		{c.Spawner.DepotConnectivityM > 0, "spawner.depot_connectivity_m must be > 0"},
		{c.Spawner.SnapToleranceM > 0, "spawner.snap_tolerance_m must be > 0"},
		{len(c.Spawner.TimePatterns.Route) == 24, "spawner.time_patterns.route must have 24 entries"},
		{len(c.Spawner.TimePatterns.Depot) == 24, "spawner.time_patterns.depot must have 24 entries"},
		{c.Rider.DefaultTTLSeconds > 0, "rider.default_ttl_seconds must be > 0"},
		{c.Rider.DefaultWalkingDistanceM > 0, "rider.default_walking_distance_m must be > 0"},
		{c.Reservoir.ExpirationCheckSeconds > 0, "reservoir.expiration_check_seconds must be > 0"},
		{c.RouteReservoir.GridCellDegrees > 0, "route_reservoir.grid_cell_degrees must be > 0"},
		{c.Conductor.TickSeconds > 0, "conductor.tick_seconds must be > 0"},
		{c.Conductor.Capacity > 0, "conductor.capacity must be > 0"},
		{c.Conductor.StandingCapacity >= 0, "conductor.standing_capacity must be >= 0"},
		{c.Conductor.MinPassengers >= 0, "conductor.min_passengers must be >= 0"},
		{c.Bus.RequestTimeoutSecs > 0, "bus.request_timeout_seconds must be > 0"},
		{c.Bus.ReconnectMaxSeconds > 0, "bus.reconnect_max_seconds must be > 0"},
		{c.Fleet.Vehicles >= 0, "fleet.vehicles must be >= 0"},
		{c.ZoneCache.BufferKm > 0, "zone_cache.buffer_km must be > 0"},
	}
	for _, check := range checks {
		if !check.ok {
			return common.NewConfigError(check.msg, nil)
		}
	}
	return nil
}

// EffectiveCapacity is seated plus standing room; standing defaults to 0.
func (c *ConductorConfig) EffectiveCapacity() int {
	return c.Capacity + c.StandingCapacity
}

// Window returns the spawn tick window as a duration.
func (c *SpawnerConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// TTL returns the rider expiration budget as a duration.
func (c *RiderConfig) TTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// RequestTimeout returns the bus request/response deadline.
func (c *BusConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// String renders the key spawn knobs for startup logging.
func (c *SpawnerConfig) String() string {
	return fmt.Sprintf("base_rate=%.1f/h window=%ds snap=%.0fm depot_connectivity=%.0fm",
		c.BaseRatePerHourPerRoute, c.WindowSeconds, c.SnapToleranceM, c.DepotConnectivityM)
}
