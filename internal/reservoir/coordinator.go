package reservoir

import (
	"context"
	"time"

	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/internal/spawner"
	"github.com/citygrid/transit-sim/pkg/config"
	"github.com/citygrid/transit-sim/pkg/eventbus"
	"github.com/citygrid/transit-sim/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Generator produces spawn requests for one window; normally the spawner.
type Generator interface {
	Generate(now time.Time, window time.Duration) []spawner.SpawnRequest
}

// Coordinator drives the spawn loop: every window it draws requests from the
// generator, materializes riders and routes each to the reservoir that owns
// it, announcing the spawn on that reservoir's channel.
type Coordinator struct {
	gen    Generator
	depot  *DepotReservoir
	routes *RouteReservoir
	sink   EventSink

	window   time.Duration
	ttl      time.Duration
	walkM    float64
	priority func() float64
	now      func() time.Time
}

// NewCoordinator wires the spawn loop together.
func NewCoordinator(gen Generator, depot *DepotReservoir, routes *RouteReservoir, sink EventSink, spawnerCfg config.SpawnerConfig, riderCfg config.RiderConfig) *Coordinator {
	return &Coordinator{
		gen:      gen,
		depot:    depot,
		routes:   routes,
		sink:     sink,
		window:   spawnerCfg.Window(),
		ttl:      riderCfg.TTL(),
		walkM:    riderCfg.DefaultWalkingDistanceM,
		priority: func() float64 { return 0 },
		now:      time.Now,
	}
}

// Run ticks once per spawn window until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.window)
	defer ticker.Stop()

	logger.Info("spawn coordinator started", zap.Duration("window", c.window))
	for {
		select {
		case <-ctx.Done():
			logger.Info("spawn coordinator stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one spawn window: generate, materialize, dispatch, announce.
// Returns how many riders were created.
func (c *Coordinator) Tick(ctx context.Context) int {
	now := c.now()
	requests := c.gen.Generate(now, c.window)
	created := 0
	for _, req := range requests {
		r := c.makeRider(req, now)

		var channel eventbus.Channel
		if req.Source.Kind == spawner.SourceDepot {
			r.Home = rider.Home{DepotID: req.Source.ID}
			if err := c.depot.AddRider(r); err != nil {
				logger.Warn("depot spawn rejected", zap.String("rider_id", r.ID), zap.Error(err))
				continue
			}
			channel = eventbus.ChannelDepot
		} else {
			// AddRider computes the grid-cell home from the origin.
			if err := c.routes.AddRider(r); err != nil {
				logger.Warn("route spawn rejected", zap.String("rider_id", r.ID), zap.Error(err))
				continue
			}
			channel = eventbus.ChannelRoute
		}

		created++
		c.announce(ctx, channel, r)
	}
	if created > 0 {
		logger.Debug("spawn window", zap.Int("riders", created))
	}
	return created
}

func (c *Coordinator) makeRider(req spawner.SpawnRequest, now time.Time) *rider.Rider {
	return &rider.Rider{
		ID:                  uuid.New().String(),
		Origin:              rider.Location{Lat: req.Origin.Lat, Lon: req.Origin.Lon},
		Destination:         rider.Location{Lat: req.Destination.Lat, Lon: req.Destination.Lon},
		RouteID:             req.RouteID,
		Direction:           req.Direction,
		State:               rider.StateWaiting,
		SpawnedAt:           now,
		MaxWalkingDistanceM: c.walkM,
		MaxWait:             c.ttl,
		Priority:            c.priority(),
	}
}

func (c *Coordinator) announce(ctx context.Context, channel eventbus.Channel, r *rider.Rider) {
	event, err := eventbus.NewEvent(eventbus.TypeRiderSpawned, "coordinator", eventbus.RiderSpawnedData{
		RiderID:     r.ID,
		RouteID:     r.RouteID,
		Direction:   string(r.Direction),
		Origin:      r.Origin.Point(),
		Destination: r.Destination.Point(),
		Home:        r.Home.String(),
	})
	if err != nil {
		logger.Warn("build spawned event failed", zap.String("rider_id", r.ID), zap.Error(err))
		return
	}
	if err := c.sink.Publish(ctx, channel, event); err != nil {
		logger.Warn("publish spawned event failed", zap.String("rider_id", r.ID), zap.Error(err))
	}
}
