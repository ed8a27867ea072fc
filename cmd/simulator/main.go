package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/citygrid/transit-sim/internal/catalog"
	"github.com/citygrid/transit-sim/internal/reservoir"
	"github.com/citygrid/transit-sim/internal/rider"
	"github.com/citygrid/transit-sim/internal/spawner"
	"github.com/citygrid/transit-sim/internal/vehicle"
	"github.com/citygrid/transit-sim/internal/zonecache"
	"github.com/citygrid/transit-sim/pkg/config"
	"github.com/citygrid/transit-sim/pkg/eventbus"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

const (
	serviceName = "transit-sim"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting transit simulator",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.String("spawner", cfg.Spawner.String()),
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := eventbus.New(eventbus.Config{
		URL:            cfg.Bus.URL,
		Name:           serviceName,
		RequestTimeout: cfg.Bus.RequestTimeout(),
		ReconnectMax:   time.Duration(cfg.Bus.ReconnectMaxSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("Failed to connect to event bus", zap.Error(err))
	}
	defer bus.Close()

	// Geographic inputs.
	client := catalog.NewClient(cfg.DataStore.BaseURL,
		time.Duration(cfg.DataStore.TimeoutSeconds)*time.Second, cfg.DataStore.PageSize)

	routes, err := client.Routes(rootCtx)
	if err != nil {
		logger.Fatal("Failed to load routes", zap.Error(err))
	}
	depots, err := client.Depots(rootCtx)
	if err != nil {
		logger.Fatal("Failed to load depots", zap.Error(err))
	}
	catalog.ConnectDepots(routes, depots, cfg.Spawner.DepotConnectivityM)
	logger.Info("Catalog loaded", zap.Int("routes", len(routes)), zap.Int("depots", len(depots)))

	// Sanity-check route geometry against the country boundaries; a route
	// outside every country usually means swapped coordinates upstream.
	if countries, err := client.Countries(rootCtx); err != nil {
		logger.Warn("Failed to load countries, skipping bounds check", zap.Error(err))
	} else {
		for _, route := range routes {
			inBounds := len(countries) == 0
			for _, country := range countries {
				if country.BBox.Intersects(route.BBox) {
					inBounds = true
					break
				}
			}
			if !inBounds {
				logger.Warn("Route lies outside every country boundary", zap.String("route_id", route.ID))
			}
		}
		logger.Info("Country boundaries loaded", zap.Int("countries", len(countries)))
	}

	zones := zonecache.New(client, cfg.ZoneCache.BufferKm)
	if err := zones.Reload(rootCtx, routes); err != nil {
		logger.Warn("Zone cache warm-up failed, continuing with empty snapshot", zap.Error(err))
	}

	// Reservoirs and spawn pipeline.
	registry := rider.NewRegistry()
	depotPool := reservoir.NewDepotReservoir(registry)
	routePool := reservoir.NewRouteReservoir(registry, cfg.RouteReservoir.GridCellDegrees)

	responder := reservoir.NewResponder(depotPool, routePool)
	if err := responder.Bind(rootCtx, bus); err != nil {
		logger.Warn("Failed to bind passenger query responder", zap.Error(err))
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	gen := spawner.New(cfg.Spawner, zones, routes, depots, rng)
	coordinator := reservoir.NewCoordinator(gen, depotPool, routePool, bus, cfg.Spawner, cfg.Rider)
	go coordinator.Run(rootCtx)

	sweepInterval := time.Duration(cfg.Reservoir.ExpirationCheckSeconds) * time.Second
	go reservoir.NewExpirationManager(depotPool, bus, sweepInterval).Run(rootCtx)
	go reservoir.NewExpirationManager(routePool, bus, sweepInterval).Run(rootCtx)

	statsInterval := time.Duration(cfg.Reservoir.StatsLogSeconds) * time.Second
	go depotPool.Stats().RunLogger(rootCtx, statsInterval)
	go routePool.Stats().RunLogger(rootCtx, statsInterval)

	// Fleet.
	fleet := vehicle.NewFleet(cfg.Fleet, cfg.Conductor, routes, depots, depotPool, routePool, bus, bus)
	fleet.Start(rootCtx)

	// Ops HTTP server.
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":       serviceName,
			"version":       version,
			"bus_connected": bus.Connected(),
			"routes":        len(routes),
			"zones_loaded":  zones.LoadedAt(),
		})
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"depot":   depotPool.Stats().Snapshot(),
			"route":   routePool.Stats().Snapshot(),
			"waiting": registry.Len(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		logger.Info("Ops server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start ops server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down simulator...")
	cancel()
	fleet.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Ops server forced to shutdown", zap.Error(err))
	}

	logger.Info("Simulator stopped")
}
