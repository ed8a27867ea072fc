package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/citygrid/transit-sim/pkg/common"
	"github.com/citygrid/transit-sim/pkg/geo"
	"github.com/citygrid/transit-sim/pkg/logger"
	"github.com/citygrid/transit-sim/pkg/resilience"
	"go.uber.org/zap"
)

// maxPageSize is enforced server-side; asking for more returns 100 rows.
const maxPageSize = 100

// Client reads the geographic data store's paginated REST collections.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
	retry      resilience.RetryConfig
}

// NewClient creates a data store client. pageSize is clamped to the server
// maximum of 100.
func NewClient(baseURL string, timeout time.Duration, pageSize int) *Client {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		pageSize:   pageSize,
		retry:      resilience.DefaultRetryConfig(),
	}
}

// page is the envelope every collection endpoint returns.
type page struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		Pagination struct {
			Page      int `json:"page"`
			PageSize  int `json:"pageSize"`
			PageCount int `json:"pageCount"`
			Total     int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
}

// fetchAll walks a collection page by page until the server reports no more
// data. Each page fetch retries with capped backoff before surfacing a data
// store error.
func (c *Client) fetchAll(ctx context.Context, collection string) ([]json.RawMessage, error) {
	var rows []json.RawMessage

	for pageNum := 1; ; pageNum++ {
		var current page
		err := resilience.Retry(ctx, c.retry, "fetch "+collection, func(ctx context.Context) error {
			return c.fetchPage(ctx, collection, pageNum, &current)
		})
		if err != nil {
			return nil, common.NewDataStoreError(fmt.Sprintf("fetch %s page %d", collection, pageNum), err)
		}

		if len(current.Data) == 0 {
			break
		}
		rows = append(rows, current.Data...)

		if pageCount := current.Meta.Pagination.PageCount; pageCount > 0 && pageNum >= pageCount {
			break
		}
	}

	logger.Debug("collection fetched",
		zap.String("collection", collection),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

func (c *Client) fetchPage(ctx context.Context, collection string, pageNum int, out *page) error {
	query := url.Values{}
	query.Set("page", fmt.Sprintf("%d", pageNum))
	query.Set("pageSize", fmt.Sprintf("%d", c.pageSize))

	endpoint := fmt.Sprintf("%s/api/%s?%s", c.baseURL, collection, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return json.Unmarshal(body, out)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// Wire shapes for the collections, as served by the data store.

type routeRow struct {
	ID            string      `json:"id"`
	Code          string      `json:"code"`
	ShapePoints   [][]float64 `json:"shape_points"` // [lon, lat] per point
	ActivityLevel float64     `json:"activity_level"`
}

type depotRow struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ActivityLevel float64 `json:"activity_level"`
}

type poiRow struct {
	ID          string  `json:"id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	AmenityType string  `json:"amenity_type"`
	SpawnWeight float64 `json:"spawn_weight"`
}

type zoneRow struct {
	ID          string      `json:"id"`
	ZoneType    string      `json:"zone_type"`
	Ring        [][]float64 `json:"ring"` // GeoJSON-style [lon, lat]
	CentroidLat float64     `json:"centroid_lat"`
	CentroidLon float64     `json:"centroid_lon"`
	BaseWeight  float64     `json:"base_weight"`
	HourFactors []float64   `json:"hour_factors"`
}

type countryRow struct {
	ID   string    `json:"id"`
	Code string    `json:"code"`
	BBox []float64 `json:"bbox"` // min_lon, min_lat, max_lon, max_lat
}

// Routes fetches and derives every route. Degenerate shapes (fewer than two
// distinct points) are skipped with a warning.
func (c *Client) Routes(ctx context.Context) ([]*Route, error) {
	rows, err := c.fetchAll(ctx, "routes")
	if err != nil {
		return nil, err
	}

	var routes []*Route
	for _, raw := range rows {
		var row routeRow
		if err := json.Unmarshal(raw, &row); err != nil {
			logger.Warn("skipping unparseable route row", zap.Error(err))
			continue
		}

		shape := make([]geo.Point, 0, len(row.ShapePoints))
		for _, pt := range row.ShapePoints {
			if len(pt) < 2 {
				continue
			}
			shape = append(shape, geo.Point{Lat: pt[1], Lon: pt[0]})
		}

		route := NewRoute(row.ID, row.Code, shape, row.ActivityLevel)
		if len(shape) < 2 || route.LengthM <= 0 {
			logger.Warn("skipping degenerate route",
				zap.String("route_id", row.ID),
				zap.Int("points", len(shape)),
			)
			continue
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// Depots fetches every depot.
func (c *Client) Depots(ctx context.Context) ([]*Depot, error) {
	rows, err := c.fetchAll(ctx, "depots")
	if err != nil {
		return nil, err
	}

	var depots []*Depot
	for _, raw := range rows {
		var row depotRow
		if err := json.Unmarshal(raw, &row); err != nil {
			logger.Warn("skipping unparseable depot row", zap.Error(err))
			continue
		}
		activity := row.ActivityLevel
		if activity <= 0 {
			activity = 1.0
		}
		depots = append(depots, &Depot{
			ID:            row.ID,
			Name:          row.Name,
			Location:      geo.Point{Lat: row.Latitude, Lon: row.Longitude},
			ActivityLevel: activity,
		})
	}
	return depots, nil
}

// POIs fetches every point of interest.
func (c *Client) POIs(ctx context.Context) ([]*POI, error) {
	rows, err := c.fetchAll(ctx, "pois")
	if err != nil {
		return nil, err
	}

	var pois []*POI
	for _, raw := range rows {
		var row poiRow
		if err := json.Unmarshal(raw, &row); err != nil {
			logger.Warn("skipping unparseable poi row", zap.Error(err))
			continue
		}
		weight := row.SpawnWeight
		if weight <= 0 {
			weight = 1.0
		}
		pois = append(pois, &POI{
			ID:          row.ID,
			Location:    geo.Point{Lat: row.Latitude, Lon: row.Longitude},
			Category:    row.AmenityType,
			SpawnWeight: weight,
		})
	}
	return pois, nil
}

// Zones fetches every landuse zone. Single-vertex or otherwise degenerate
// rings are skipped with a warning.
func (c *Client) Zones(ctx context.Context) ([]*Zone, error) {
	rows, err := c.fetchAll(ctx, "landuse_zones")
	if err != nil {
		return nil, err
	}

	var zones []*Zone
	for _, raw := range rows {
		var row zoneRow
		if err := json.Unmarshal(raw, &row); err != nil {
			logger.Warn("skipping unparseable zone row", zap.Error(err))
			continue
		}
		zone, err := newZone(row)
		if err != nil {
			logger.Warn("skipping degenerate zone",
				zap.String("zone_id", row.ID),
				zap.Error(err),
			)
			continue
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

func newZone(row zoneRow) (*Zone, error) {
	ring := make([]geo.Point, 0, len(row.Ring))
	for _, pt := range row.Ring {
		if len(pt) < 2 {
			continue
		}
		ring = append(ring, geo.Point{Lat: pt[1], Lon: pt[0]})
	}
	if len(ring) < 3 {
		return nil, common.NewGeometryError(fmt.Sprintf("ring has %d vertices", len(ring)))
	}

	zone := &Zone{
		ID:         row.ID,
		Type:       zoneTypeOf(row.ZoneType),
		Centroid:   geo.Point{Lat: row.CentroidLat, Lon: row.CentroidLon},
		BBox:       geo.BBoxOf(ring),
		Ring:       ring,
		BaseWeight: row.BaseWeight,
	}
	if zone.BaseWeight <= 0 {
		zone.BaseWeight = 1.0
	}
	for h := 0; h < 24; h++ {
		if h < len(row.HourFactors) && row.HourFactors[h] > 0 {
			zone.HourFactors[h] = row.HourFactors[h]
		} else {
			zone.HourFactors[h] = 1.0
		}
	}
	return zone, nil
}

func zoneTypeOf(s string) ZoneType {
	switch ZoneType(s) {
	case ZoneResidential, ZoneCommercial, ZoneIndustrial, ZoneFarmland, ZoneGrass, ZoneEducational:
		return ZoneType(s)
	default:
		return ZoneOther
	}
}

// Countries fetches the country bounding boxes.
func (c *Client) Countries(ctx context.Context) ([]*Country, error) {
	rows, err := c.fetchAll(ctx, "countries")
	if err != nil {
		return nil, err
	}

	var countries []*Country
	for _, raw := range rows {
		var row countryRow
		if err := json.Unmarshal(raw, &row); err != nil {
			logger.Warn("skipping unparseable country row", zap.Error(err))
			continue
		}
		if len(row.BBox) < 4 {
			continue
		}
		countries = append(countries, &Country{
			ID:   row.ID,
			Code: row.Code,
			BBox: geo.BBox{
				MinLon: row.BBox[0], MinLat: row.BBox[1],
				MaxLon: row.BBox[2], MaxLat: row.BBox[3],
			},
		})
	}
	return countries, nil
}
