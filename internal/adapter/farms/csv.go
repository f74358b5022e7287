// Package farms loads the farm reference CSV. Farms are the pipeline's one
// fatal input: an unreadable file or an empty set aborts the run before any
// output is written.
package farms

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// Expected CSV columns. boundary and radius_km are optional; boundary holds
// a JSON array of [lon, lat] pairs forming the exterior ring.
const (
	colFarmID   = "farm_id"
	colFarmName = "farm_name"
	colLat      = "latitude"
	colLon      = "longitude"
	colCropType = "crop_type"
	colRadiusKM = "radius_km"
	colBoundary = "boundary"
)

// defaultRadiusKM approximates the extent of a farm with no boundary and no
// explicit radius.
const defaultRadiusKM = 0.5

// Loader reads FarmAssets from a CSV file.
type Loader struct {
	path   string
	logger *slog.Logger
}

// NewLoader creates a Loader for the given CSV path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	return &Loader{path: path, logger: logger}
}

// Farms implements pipeline.FarmSource. Malformed rows are dropped with a
// warning; duplicate farm IDs keep the first occurrence.
func (l *Loader) Farms(ctx context.Context) ([]domain.FarmAsset, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open farms CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read farms CSV header: %w", err)
	}
	cols := indexColumns(header)
	for _, required := range []string{colFarmID, colLat, colLon} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("farms CSV missing required column %q", required)
		}
	}

	seen := make(map[string]struct{})
	var farms []domain.FarmAsset
	row := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			l.logger.Warn("dropping unparseable farms CSV row", "row", row, "error", err)
			continue
		}

		farm, err := l.parseFarm(record, cols)
		if err != nil {
			l.logger.Warn("dropping malformed farm row", "row", row, "error", err)
			continue
		}
		if _, dup := seen[farm.FarmID]; dup {
			l.logger.Warn("dropping duplicate farm id", "row", row, "farm_id", farm.FarmID)
			continue
		}
		seen[farm.FarmID] = struct{}{}
		farms = append(farms, farm)
	}

	return farms, nil
}

func (l *Loader) parseFarm(record []string, cols map[string]int) (domain.FarmAsset, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	farmID := field(colFarmID)
	if farmID == "" {
		return domain.FarmAsset{}, fmt.Errorf("missing farm_id")
	}

	lat, err := strconv.ParseFloat(field(colLat), 64)
	if err != nil {
		return domain.FarmAsset{}, fmt.Errorf("latitude %q: %w", field(colLat), err)
	}
	lon, err := strconv.ParseFloat(field(colLon), 64)
	if err != nil {
		return domain.FarmAsset{}, fmt.Errorf("longitude %q: %w", field(colLon), err)
	}
	if !domain.ValidCoordinates(lat, lon) {
		return domain.FarmAsset{}, fmt.Errorf("coordinates out of range (%g, %g)", lat, lon)
	}

	farm := domain.FarmAsset{
		FarmID:   farmID,
		Name:     field(colFarmName),
		CropType: field(colCropType),
		Centroid: orb.Point{lon, lat},
		RadiusKM: defaultRadiusKM,
	}

	if raw := field(colRadiusKM); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 {
			return domain.FarmAsset{}, fmt.Errorf("radius_km %q", raw)
		}
		farm.RadiusKM = radius
	}

	if raw := field(colBoundary); raw != "" {
		boundary, err := parseBoundary(raw)
		if err != nil {
			return domain.FarmAsset{}, fmt.Errorf("boundary: %w", err)
		}
		farm.Boundary = boundary
	}

	return farm, nil
}

// parseBoundary decodes a JSON ring of [lon, lat] pairs, closing it when the
// source left it open.
func parseBoundary(raw string) (orb.Polygon, error) {
	var pairs [][2]float64
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("decode ring: %w", err)
	}
	if len(pairs) < 3 {
		return nil, fmt.Errorf("ring has %d vertices, need at least 3", len(pairs))
	}

	ring := make(orb.Ring, 0, len(pairs)+1)
	for _, p := range pairs {
		if !domain.ValidCoordinates(p[1], p[0]) {
			return nil, fmt.Errorf("vertex out of range (%g, %g)", p[1], p[0])
		}
		ring = append(ring, orb.Point{p[0], p[1]})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}
