// Package zonecache holds an in-memory snapshot of landuse zones and POIs
// near the active route set. Readers see the current snapshot without
// locking; a reload builds a new snapshot and publishes it atomically.
package zonecache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/citygrid/transit-sim/internal/catalog"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// Fetcher supplies the raw zone and POI collections, normally the catalog
// client.
type Fetcher interface {
	Zones(ctx context.Context) ([]*catalog.Zone, error)
	POIs(ctx context.Context) ([]*catalog.POI, error)
}

// snapshot is an immutable view; replaced wholesale on reload.
type snapshot struct {
	zones    []*catalog.Zone
	pois     []*catalog.POI
	loadedAt time.Time
}

// Cache filters zones and POIs to within a buffer of the active routes.
type Cache struct {
	fetcher Fetcher
	bufferM float64
	current atomic.Pointer[snapshot]
}

// New creates an empty cache. bufferKm defaults to 5 when non-positive.
func New(fetcher Fetcher, bufferKm float64) *Cache {
	if bufferKm <= 0 {
		bufferKm = 5
	}
	c := &Cache{fetcher: fetcher, bufferM: bufferKm * 1000}
	c.current.Store(&snapshot{})
	return c
}

// Reload fetches both collections, filters them to the inflated bounding
// boxes of the active routes and swaps the snapshot. On failure the previous
// snapshot is retained and a warning logged; callers never block on a reload.
func (c *Cache) Reload(ctx context.Context, routes []*catalog.Route) error {
	zones, err := c.fetcher.Zones(ctx)
	if err != nil {
		logger.Warn("zone reload failed, keeping previous snapshot", zap.Error(err))
		return err
	}
	pois, err := c.fetcher.POIs(ctx)
	if err != nil {
		logger.Warn("poi reload failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	boxes := make([]geo.BBox, 0, len(routes))
	for _, route := range routes {
		boxes = append(boxes, route.BBox.Inflate(c.bufferM))
	}

	next := &snapshot{loadedAt: time.Now()}
	for _, zone := range zones {
		if c.nearAnyRoute(zone.Centroid, boxes) {
			next.zones = append(next.zones, zone)
		}
	}
	for _, poi := range pois {
		if c.nearAnyRoute(poi.Location, boxes) {
			next.pois = append(next.pois, poi)
		}
	}

	c.current.Store(next)
	logger.Info("zone cache reloaded",
		zap.Int("zones", len(next.zones)),
		zap.Int("pois", len(next.pois)),
		zap.Int("routes", len(routes)),
	)
	return nil
}

func (c *Cache) nearAnyRoute(p geo.Point, boxes []geo.BBox) bool {
	for _, box := range boxes {
		if box.Contains(p) {
			return true
		}
	}
	return false
}

// ZonesForRoute returns the cached zones whose extent overlaps the route's
// bounding box inflated by the configured buffer. The buffer is the same one
// Reload filters with, so every zone near any part of the route is returned,
// not just zones near one anchor point.
func (c *Cache) ZonesForRoute(route *catalog.Route) []*catalog.Zone {
	snap := c.current.Load()
	box := route.BBox.Inflate(c.bufferM)

	var out []*catalog.Zone
	for _, zone := range snap.zones {
		if box.Intersects(zone.BBox) {
			out = append(out, zone)
		}
	}
	return out
}

// POIsForRoute returns the cached POIs within the route's buffered bounding
// box.
func (c *Cache) POIsForRoute(route *catalog.Route) []*catalog.POI {
	snap := c.current.Load()
	box := route.BBox.Inflate(c.bufferM)

	var out []*catalog.POI
	for _, poi := range snap.pois {
		if box.Contains(poi.Location) {
			out = append(out, poi)
		}
	}
	return out
}

// Zones returns the whole cached zone set.
func (c *Cache) Zones() []*catalog.Zone {
	return c.current.Load().zones
}

// LoadedAt reports when the current snapshot was built. Zero means the cache
// has never loaded.
func (c *Cache) LoadedAt() time.Time {
	return c.current.Load().loadedAt
}
