// Package spatial resolves normalized hazard records to farm entities. A
// quadtree over farm centroids is built once per run so nearest-farm lookups
// stay near-linear as detection and farm counts grow; candidate hits from
// the index are refined with exact great-circle distances.
package spatial

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// Config holds join radii and thresholds.
type Config struct {
	// DetectionRadiusKM is the inclusive nearest-farm cutoff for satellite
	// detections. A detection exactly at the radius is attributed.
	DetectionRadiusKM float64

	// IncidentFallbackRadiusKM applies when an incident has no perimeter
	// geometry and only point distance to the farm centroid is available.
	IncidentFallbackRadiusKM float64

	// AreaWeightThresholdKM2: farms larger than this use an area-weighted
	// average over intersecting weather cells instead of the nearest cell.
	AreaWeightThresholdKM2 float64

	// WeatherCellSizeDeg is the assumed grid spacing of the weather source.
	WeatherCellSizeDeg float64

	// CropSampleRadiusKM bounds the pixel overlay for farms without a
	// boundary polygon (matches the upstream 300 m extract window).
	CropSampleRadiusKM float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DetectionRadiusKM:        50,
		IncidentFallbackRadiusKM: 120,
		AreaWeightThresholdKM2:   25,
		WeatherCellSizeDeg:       0.1,
		CropSampleRadiusKM:       0.3,
	}
}

// DetectionSignal attributes a detection to its nearest farm.
type DetectionSignal struct {
	FarmID     string
	Detection  domain.FireDetection
	DistanceKM float64
	// BearingDeg is the initial bearing from the detection toward the farm
	// centroid, used downstream for smoke transport alignment.
	BearingDeg float64
}

// IncidentSignal attributes an incident to a farm, either by perimeter
// intersection or by point-distance fallback.
type IncidentSignal struct {
	FarmID     string
	Incident   domain.FireIncident
	DistanceKM float64 // 0 when the perimeter intersects the boundary
	Intersects bool
}

type farmPoint struct {
	farm *domain.FarmAsset
}

func (f farmPoint) Point() orb.Point { return f.farm.Centroid }

// Joiner joins normalized records against a fixed set of farms.
type Joiner struct {
	cfg    Config
	logger *slog.Logger
	farms  []domain.FarmAsset
	tree   *quadtree.Quadtree
}

// NewJoiner builds the per-run farm index. The farm set must be non-empty;
// a run without reference farms is a fatal configuration error.
func NewJoiner(farms []domain.FarmAsset, cfg Config, logger *slog.Logger) (*Joiner, error) {
	if len(farms) == 0 {
		return nil, fmt.Errorf("spatial joiner requires at least one farm")
	}

	bound := orb.Bound{Min: farms[0].Centroid, Max: farms[0].Centroid}
	for i := range farms {
		bound = bound.Extend(farms[i].Centroid)
	}
	// Pad so farms on the hull are still found by radius-padded bound queries.
	bound = bound.Union(padBound(bound.Min, 1)).Union(padBound(bound.Max, 1))

	tree := quadtree.New(bound)
	for i := range farms {
		if err := tree.Add(farmPoint{farm: &farms[i]}); err != nil {
			return nil, fmt.Errorf("index farm %s: %w", farms[i].FarmID, err)
		}
	}

	return &Joiner{cfg: cfg, logger: logger, farms: farms, tree: tree}, nil
}

// Farms returns the reference farm set backing the index.
func (j *Joiner) Farms() []domain.FarmAsset { return j.farms }

// JoinDetections attributes each detection to the nearest farm within the
// detection radius (inclusive). Detections matching no farm are dropped and
// counted. Equidistant candidates tie-break to the lexicographically
// smaller farm ID so runs are reproducible.
func (j *Joiner) JoinDetections(detections []domain.FireDetection) ([]DetectionSignal, int) {
	signals := make([]DetectionSignal, 0, len(detections))
	dropped := 0

	for i := range detections {
		det := detections[i]
		point := orb.Point{det.Lon, det.Lat}

		farm, dist, ok := j.nearestFarm(point, j.cfg.DetectionRadiusKM)
		if !ok {
			dropped++
			continue
		}

		signals = append(signals, DetectionSignal{
			FarmID:     farm.FarmID,
			Detection:  det,
			DistanceKM: dist,
			BearingDeg: BearingDeg(point, farm.Centroid),
		})
	}
	return signals, dropped
}

// nearestFarm finds the closest farm within radiusKM of p, measuring to the
// boundary polygon when one exists and to the centroid otherwise.
func (j *Joiner) nearestFarm(p orb.Point, radiusKM float64) (*domain.FarmAsset, float64, bool) {
	candidates := j.tree.InBound(nil, padBound(p, radiusKM+boundSlackKM))

	var best *domain.FarmAsset
	bestDist := math.Inf(1)
	for _, c := range candidates {
		farm := c.(farmPoint).farm
		dist := j.farmDistanceKM(p, farm)
		if dist > radiusKM {
			continue
		}
		if dist < bestDist || (dist == bestDist && best != nil && farm.FarmID < best.FarmID) {
			best = farm
			bestDist = dist
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best, bestDist, true
}

// boundSlackKM pads index bound queries so a farm whose *boundary* reaches
// into the radius is found even when its centroid sits outside the box.
const boundSlackKM = 30

func (j *Joiner) farmDistanceKM(p orb.Point, farm *domain.FarmAsset) float64 {
	if farm.Boundary != nil {
		return distanceToPolygonKM(p, farm.Boundary)
	}
	return DistanceKM(p, farm.Centroid)
}

// JoinIncidents attributes incidents to farms. An incident with perimeter
// geometry attaches to every farm whose boundary it intersects; without a
// perimeter it attaches to farms whose centroid is within the fallback
// radius of the incident point. Unmatched incidents are dropped and counted.
func (j *Joiner) JoinIncidents(incidents []domain.FireIncident) ([]IncidentSignal, int) {
	signals := make([]IncidentSignal, 0, len(incidents))
	dropped := 0

	for i := range incidents {
		inc := incidents[i]
		matched := false

		if inc.Perimeter != nil {
			// Prefilter through the index: pad the perimeter's bound so farms
			// whose boundary reaches the perimeter are still candidates.
			bound := inc.Perimeter.Bound()
			bound = bound.Union(padBound(bound.Min, boundSlackKM)).Union(padBound(bound.Max, boundSlackKM))
			for _, c := range j.tree.InBound(nil, bound) {
				farm := c.(farmPoint).farm
				if j.incidentTouchesFarm(inc, farm) {
					signals = append(signals, IncidentSignal{
						FarmID:     farm.FarmID,
						Incident:   inc,
						DistanceKM: 0,
						Intersects: true,
					})
					matched = true
				}
			}
		}

		if !matched {
			// Fallback: point distance to centroid within the fallback radius.
			candidates := j.tree.InBound(nil, padBound(inc.Point, j.cfg.IncidentFallbackRadiusKM))
			for _, c := range candidates {
				farm := c.(farmPoint).farm
				dist := DistanceKM(inc.Point, farm.Centroid)
				if dist > j.cfg.IncidentFallbackRadiusKM {
					continue
				}
				signals = append(signals, IncidentSignal{
					FarmID:     farm.FarmID,
					Incident:   inc,
					DistanceKM: dist,
					Intersects: false,
				})
				matched = true
			}
		}

		if !matched {
			dropped++
		}
	}
	return signals, dropped
}

func (j *Joiner) incidentTouchesFarm(inc domain.FireIncident, farm *domain.FarmAsset) bool {
	if farm.Boundary != nil {
		return polygonsIntersect(inc.Perimeter, farm.Boundary)
	}
	// Point-only farm: contained in the perimeter, or the perimeter edge
	// passes within the farm's radius.
	if planar.PolygonContains(inc.Perimeter, farm.Centroid) {
		return true
	}
	return distanceToPolygonKM(farm.Centroid, inc.Perimeter) <= farm.RadiusKM
}

// JoinWeather resolves, per farm, the effective hourly series: the nearest
// grid cell's series for ordinary farms, or an area-weighted average across
// all cells intersecting the boundary for farms above the area threshold.
func (j *Joiner) JoinWeather(observations []domain.WeatherObservation) map[string][]domain.WeatherObservation {
	cells := groupByCell(observations)
	if len(cells) == 0 {
		return map[string][]domain.WeatherObservation{}
	}

	out := make(map[string][]domain.WeatherObservation, len(j.farms))
	for i := range j.farms {
		farm := &j.farms[i]
		if farm.Boundary != nil && areaKM2(farm.Boundary) > j.cfg.AreaWeightThresholdKM2 {
			if series := j.areaWeightedSeries(farm, cells); len(series) > 0 {
				out[farm.FarmID] = series
				continue
			}
		}
		out[farm.FarmID] = j.nearestCellSeries(farm, cells)
	}
	return out
}

type weatherCell struct {
	id     string
	point  orb.Point
	series []domain.WeatherObservation
}

func groupByCell(observations []domain.WeatherObservation) []weatherCell {
	byID := make(map[string]*weatherCell)
	order := make([]string, 0)
	for i := range observations {
		obs := observations[i]
		cell, ok := byID[obs.GridCellID]
		if !ok {
			cell = &weatherCell{id: obs.GridCellID, point: obs.Point}
			byID[obs.GridCellID] = cell
			order = append(order, obs.GridCellID)
		}
		cell.series = append(cell.series, obs)
	}
	sort.Strings(order)

	cells := make([]weatherCell, 0, len(order))
	for _, id := range order {
		cell := byID[id]
		sort.Slice(cell.series, func(a, b int) bool { return cell.series[a].Time.Before(cell.series[b].Time) })
		cells = append(cells, *cell)
	}
	return cells
}

func (j *Joiner) nearestCellSeries(farm *domain.FarmAsset, cells []weatherCell) []domain.WeatherObservation {
	bestIdx := 0
	bestDist := math.Inf(1)
	for i := range cells {
		dist := DistanceKM(farm.Centroid, cells[i].point)
		// cells are pre-sorted by ID, so strict < keeps the lower ID on ties.
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}
	return cells[bestIdx].series
}

// areaWeightedSeries averages each variable per hour across cells whose
// bound overlaps the farm boundary, weighted by overlap. Cells are modeled
// as squares of the configured grid spacing centered on the observation
// point; overlap uses the farm's bounding box as the area proxy.
func (j *Joiner) areaWeightedSeries(farm *domain.FarmAsset, cells []weatherCell) []domain.WeatherObservation {
	half := j.cfg.WeatherCellSizeDeg / 2
	farmBound := farm.Boundary.Bound()

	type weighted struct {
		cell   weatherCell
		weight float64
	}
	var contributing []weighted
	total := 0.0
	for i := range cells {
		cellBound := orb.Bound{
			Min: orb.Point{cells[i].point[0] - half, cells[i].point[1] - half},
			Max: orb.Point{cells[i].point[0] + half, cells[i].point[1] + half},
		}
		w := boundOverlapArea(cellBound, farmBound)
		if w <= 0 {
			continue
		}
		contributing = append(contributing, weighted{cell: cells[i], weight: w})
		total += w
	}
	if len(contributing) == 0 || total == 0 {
		return nil
	}

	// Collect the union of hours across contributing cells.
	hours := make(map[int64][]weightedObs)
	for _, wc := range contributing {
		for _, obs := range wc.cell.series {
			key := obs.Time.Unix()
			hours[key] = append(hours[key], weightedObs{obs: obs, weight: wc.weight / total})
		}
	}

	keys := make([]int64, 0, len(hours))
	for k := range hours {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })

	series := make([]domain.WeatherObservation, 0, len(keys))
	for _, k := range keys {
		series = append(series, mergeObservations(farm, hours[k]))
	}
	return series
}

type weightedObs struct {
	obs    domain.WeatherObservation
	weight float64
}

func mergeObservations(farm *domain.FarmAsset, group []weightedObs) domain.WeatherObservation {
	merged := domain.WeatherObservation{
		GridCellID: "farm_" + farm.FarmID,
		Point:      farm.Centroid,
		Time:       group[0].obs.Time,
	}
	merged.TemperatureC = weightedAvg(group, func(o domain.WeatherObservation) *float64 { return o.TemperatureC })
	merged.RelativeHumidity = weightedAvg(group, func(o domain.WeatherObservation) *float64 { return o.RelativeHumidity })
	merged.WindSpeedMPS = weightedAvg(group, func(o domain.WeatherObservation) *float64 { return o.WindSpeedMPS })
	merged.WindDirectionDeg = weightedCircularAvg(group, func(o domain.WeatherObservation) *float64 { return o.WindDirectionDeg })
	return merged
}

func weightedAvg(group []weightedObs, field func(domain.WeatherObservation) *float64) *float64 {
	sum, weight := 0.0, 0.0
	for _, g := range group {
		if v := field(g.obs); v != nil {
			sum += *v * g.weight
			weight += g.weight
		}
	}
	if weight == 0 {
		return nil
	}
	avg := sum / weight
	return &avg
}

// weightedCircularAvg averages angles in vector space so 350 and 10 degrees
// average to 0, not 180.
func weightedCircularAvg(group []weightedObs, field func(domain.WeatherObservation) *float64) *float64 {
	sinSum, cosSum, weight := 0.0, 0.0, 0.0
	for _, g := range group {
		if v := field(g.obs); v != nil {
			rad := *v * math.Pi / 180
			sinSum += math.Sin(rad) * g.weight
			cosSum += math.Cos(rad) * g.weight
			weight += g.weight
		}
	}
	if weight == 0 {
		return nil
	}
	deg := math.Atan2(sinSum, cosSum) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return &deg
}

// JoinCropPixels overlays sampled raster pixels against farm geometry,
// producing per-farm class-fraction maps. Pixels inside a farm boundary (or
// within the sample radius of a point-only farm) count toward that farm;
// fractions are pixel counts over total in-farm pixels. Pixels matching no
// farm are dropped and counted.
func (j *Joiner) JoinCropPixels(pixels []domain.CropPixel) (map[string]domain.CropCoverSample, int) {
	counts := make(map[string]map[int]int)
	totals := make(map[string]int)
	years := make(map[string]int)
	dropped := 0

	for _, px := range pixels {
		point := orb.Point{px.Lon, px.Lat}
		matched := false

		candidates := j.tree.InBound(nil, padBound(point, j.cfg.CropSampleRadiusKM+boundSlackKM))
		for _, c := range candidates {
			farm := c.(farmPoint).farm
			if !j.pixelInFarm(point, farm) {
				continue
			}
			if counts[farm.FarmID] == nil {
				counts[farm.FarmID] = make(map[int]int)
			}
			counts[farm.FarmID][px.ClassCode]++
			totals[farm.FarmID]++
			if px.Year > years[farm.FarmID] {
				years[farm.FarmID] = px.Year
			}
			matched = true
		}
		if !matched {
			dropped++
		}
	}

	out := make(map[string]domain.CropCoverSample, len(counts))
	for farmID, classCounts := range counts {
		fractions := make(map[int]float64, len(classCounts))
		for code, count := range classCounts {
			fractions[code] = float64(count) / float64(totals[farmID])
		}
		out[farmID] = domain.CropCoverSample{
			FarmID:    farmID,
			Year:      years[farmID],
			Fractions: fractions,
		}
	}
	return out, dropped
}

func (j *Joiner) pixelInFarm(p orb.Point, farm *domain.FarmAsset) bool {
	if farm.Boundary != nil {
		return planar.PolygonContains(farm.Boundary, p)
	}
	radius := farm.RadiusKM
	if radius <= 0 {
		radius = j.cfg.CropSampleRadiusKM
	}
	return DistanceKM(p, farm.Centroid) <= radius
}
