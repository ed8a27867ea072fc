package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	c := NewClient(baseURL, 2*time.Second, 100)
	c.retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	return c
}

func writePage(w http.ResponseWriter, rows []any, pageNum, pageCount int) {
	resp := map[string]any{
		"data": rows,
		"meta": map[string]any{
			"pagination": map[string]any{
				"page":      pageNum,
				"pageSize":  100,
				"pageCount": pageCount,
			},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestFetchAllPaginates(t *testing.T) {
	const pages = 3
	var requested []int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/depots", r.URL.Path)
		pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
		requested = append(requested, pageNum)

		rows := []any{map[string]any{
			"id":        fmt.Sprintf("depot-%d", pageNum),
			"name":      "Depot",
			"latitude":  13.25,
			"longitude": -59.64,
		}}
		writePage(w, rows, pageNum, pages)
	}))
	defer server.Close()

	depots, err := testClient(server.URL).Depots(context.Background())
	require.NoError(t, err)

	assert.Len(t, depots, pages)
	assert.Equal(t, []int{1, 2, 3}, requested)
	assert.Equal(t, "depot-1", depots[0].ID)
	assert.Equal(t, 1.0, depots[0].ActivityLevel) // defaulted
}

func TestFetchAllStopsOnEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if pageNum > 1 {
			writePage(w, []any{}, pageNum, 0)
			return
		}
		writePage(w, []any{map[string]any{"id": "p1", "latitude": 13.1, "longitude": -59.6, "amenity_type": "retail", "spawn_weight": 2.0}}, 1, 0)
	}))
	defer server.Close()

	pois, err := testClient(server.URL).POIs(context.Background())
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, "retail", pois[0].Category)
	assert.Equal(t, 2.0, pois[0].SpawnWeight)
}

func TestFetchAllSurfacesDataStoreError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Routes(context.Background())
	assert.ErrorIs(t, err, common.ErrDataStore)
}

func TestRoutesSkipDegenerateShapes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := []any{
			map[string]any{
				"id":   "1A",
				"code": "1A",
				"shape_points": [][]float64{
					{-59.6369, 13.3194},
					{-59.6430, 13.2943},
				},
				"activity_level": 1.2,
			},
			map[string]any{
				"id":           "broken",
				"code":         "broken",
				"shape_points": [][]float64{{-59.6, 13.2}},
			},
			map[string]any{
				// Two coincident points: zero length, skipped.
				"id":   "zero",
				"code": "zero",
				"shape_points": [][]float64{
					{-59.6, 13.2},
					{-59.6, 13.2},
				},
			},
		}
		writePage(w, rows, 1, 1)
	}))
	defer server.Close()

	routes, err := testClient(server.URL).Routes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "1A", routes[0].ID)
	assert.Greater(t, routes[0].LengthM, 0.0)
	assert.Equal(t, 1.2, routes[0].ActivityLevel)
}

func TestZonesSkipDegenerateRings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := []any{
			map[string]any{
				"id":        "z1",
				"zone_type": "residential",
				"ring": [][]float64{
					{-59.65, 13.30},
					{-59.63, 13.30},
					{-59.63, 13.32},
					{-59.65, 13.32},
				},
				"centroid_lat": 13.31,
				"centroid_lon": -59.64,
				"base_weight":  2.0,
				"hour_factors": []float64{1, 1, 1, 1, 1, 1, 1, 2, 3, 2, 1, 1, 1, 1, 1, 1, 1, 2, 2, 1, 1, 1, 1, 1},
			},
			map[string]any{
				"id":        "single-vertex",
				"zone_type": "commercial",
				"ring":      [][]float64{{-59.6, 13.2}},
			},
		}
		writePage(w, rows, 1, 1)
	}))
	defer server.Close()

	zones, err := testClient(server.URL).Zones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 1)

	zone := zones[0]
	assert.Equal(t, ZoneResidential, zone.Type)
	assert.Equal(t, 2.0, zone.BaseWeight)
	assert.Equal(t, 3.0, zone.TimeMultiplier(8))
	assert.True(t, zone.Contains(zone.Centroid))
}

func TestZoneTypeOfUnknownFallsBackToOther(t *testing.T) {
	assert.Equal(t, ZoneOther, zoneTypeOf("swamp"))
	assert.Equal(t, ZoneFarmland, zoneTypeOf("farmland"))
}
