package zonecache

import (
	"context"
	"errors"
	"testing"

	"github.com/citygrid/transit-sim/internal/catalog"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	zones []*catalog.Zone
	pois  []*catalog.POI
	err   error
}

func (s *stubFetcher) Zones(ctx context.Context) ([]*catalog.Zone, error) {
	return s.zones, s.err
}

func (s *stubFetcher) POIs(ctx context.Context) ([]*catalog.POI, error) {
	return s.pois, s.err
}

func zoneAt(id string, p geo.Point) *catalog.Zone {
	ring := []geo.Point{
		{Lat: p.Lat - 0.002, Lon: p.Lon - 0.002},
		{Lat: p.Lat - 0.002, Lon: p.Lon + 0.002},
		{Lat: p.Lat + 0.002, Lon: p.Lon + 0.002},
		{Lat: p.Lat + 0.002, Lon: p.Lon - 0.002},
	}
	z := &catalog.Zone{ID: id, Type: catalog.ZoneResidential, Centroid: p, Ring: ring, BBox: geo.BBoxOf(ring), BaseWeight: 1}
	for h := range z.HourFactors {
		z.HourFactors[h] = 1
	}
	return z
}

func testRoute() *catalog.Route {
	return catalog.NewRoute("1A", "1A", []geo.Point{
		{Lat: 13.3194, Lon: -59.6369},
		{Lat: 13.2943, Lon: -59.6430},
	}, 1.0)
}

func TestReloadFiltersByRouteBuffer(t *testing.T) {
	near := zoneAt("near", geo.Point{Lat: 13.31, Lon: -59.64})
	far := zoneAt("far", geo.Point{Lat: 13.05, Lon: -59.55}) // ~30 km away

	fetcher := &stubFetcher{
		zones: []*catalog.Zone{near, far},
		pois: []*catalog.POI{
			{ID: "poi-near", Location: geo.Point{Lat: 13.30, Lon: -59.64}, SpawnWeight: 1},
			{ID: "poi-far", Location: geo.Point{Lat: 13.05, Lon: -59.55}, SpawnWeight: 1},
		},
	}

	cache := New(fetcher, 5)
	require.NoError(t, cache.Reload(context.Background(), []*catalog.Route{testRoute()}))

	require.Len(t, cache.Zones(), 1)
	assert.Equal(t, "near", cache.Zones()[0].ID)
	assert.False(t, cache.LoadedAt().IsZero())

	pois := cache.POIsForRoute(testRoute())
	require.Len(t, pois, 1)
	assert.Equal(t, "poi-near", pois[0].ID)
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	near := zoneAt("near", geo.Point{Lat: 13.31, Lon: -59.64})
	fetcher := &stubFetcher{zones: []*catalog.Zone{near}}

	cache := New(fetcher, 5)
	require.NoError(t, cache.Reload(context.Background(), []*catalog.Route{testRoute()}))
	require.Len(t, cache.Zones(), 1)

	fetcher.err = errors.New("store down")
	err := cache.Reload(context.Background(), []*catalog.Route{testRoute()})
	assert.Error(t, err)

	// Old snapshot still served.
	assert.Len(t, cache.Zones(), 1)
}

func TestZonesForRouteCoversWholeCorridor(t *testing.T) {
	// Zones at both termini and one beyond the buffer. The route-scoped query
	// must return the endpoint zones, not just whatever sits near the middle.
	north := zoneAt("north-end", geo.Point{Lat: 13.3194, Lon: -59.6369})
	south := zoneAt("south-end", geo.Point{Lat: 13.2943, Lon: -59.6430})
	beyond := zoneAt("beyond", geo.Point{Lat: 13.20, Lon: -59.64}) // ~10 km south

	cache := New(&stubFetcher{zones: []*catalog.Zone{north, south, beyond}}, 5)
	require.NoError(t, cache.Reload(context.Background(), []*catalog.Route{testRoute()}))

	got := cache.ZonesForRoute(testRoute())
	require.Len(t, got, 2)
	ids := []string{got[0].ID, got[1].ID}
	assert.Contains(t, ids, "north-end")
	assert.Contains(t, ids, "south-end")
}

func TestEmptyCacheReturnsNothing(t *testing.T) {
	cache := New(&stubFetcher{}, 5)
	assert.Empty(t, cache.ZonesForRoute(testRoute()))
	assert.Empty(t, cache.POIsForRoute(testRoute()))
	assert.True(t, cache.LoadedAt().IsZero())
}
