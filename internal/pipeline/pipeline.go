// Package pipeline orchestrates one fusion run: fetch the four sources,
// normalize, spatially join against the farm reference set, aggregate
// farm-hour features, score, and emit a snapshot.
//
// Farms are the only fatal source. Any other source failing degrades the
// run: the pipeline proceeds with empty data for that source, stamps the
// per-row presence flags, and lists the source in the manifest.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/paulmach/orb"

	"github.com/fieldwatch/farm-risk-etl/internal/aggregate"
	"github.com/fieldwatch/farm-risk-etl/internal/domain"
	"github.com/fieldwatch/farm-risk-etl/internal/normalize"
	"github.com/fieldwatch/farm-risk-etl/internal/observability"
	"github.com/fieldwatch/farm-risk-etl/internal/score"
	"github.com/fieldwatch/farm-risk-etl/internal/snapshot"
	"github.com/fieldwatch/farm-risk-etl/internal/spatial"
)

// Source names used in manifests, metrics labels, and log fields.
const (
	SourceFarms     = "farms"
	SourceFIRMS     = "firms"
	SourceWeather   = "weather"
	SourceIncidents = "incidents"
	SourceCropCover = "crop_cover"
)

// FarmSource loads the farm reference set. It is the one source whose
// failure aborts the run.
type FarmSource interface {
	Farms(ctx context.Context) ([]domain.FarmAsset, error)
}

// DetectionSource fetches raw FIRMS detection rows.
type DetectionSource interface {
	FetchDetections(ctx context.Context) ([]normalize.FIRMSRow, error)
}

// WeatherSource fetches raw hourly weather rows covering the given grid
// points.
type WeatherSource interface {
	FetchWeather(ctx context.Context, points []orb.Point) ([]normalize.WeatherRow, error)
}

// IncidentSource fetches raw incident rows.
type IncidentSource interface {
	FetchIncidents(ctx context.Context) ([]normalize.IncidentRow, error)
}

// CropSource fetches raw crop cover pixel samples.
type CropSource interface {
	FetchCropPixels(ctx context.Context) ([]normalize.CropPixelRow, error)
}

// AlertPublisher receives the high-risk farm rows after a successful emit.
// Publishing is best-effort; failures never fail the run.
type AlertPublisher interface {
	Publish(ctx context.Context, rows []domain.FarmRiskHourly) error
}

// Sources bundles the pipeline inputs. CropCover may be nil when no extract
// is configured; the other sources must be set.
type Sources struct {
	Farms     FarmSource
	FIRMS     DetectionSource
	Weather   WeatherSource
	Incidents IncidentSource
	CropCover CropSource
}

// Options carries the tunable stage parameters.
type Options struct {
	// Workers bounds the per-farm scoring fan-out.
	Workers int

	// RunHours is the fallback bucket range ending now, used when the
	// weather series supplies no hours of its own.
	RunHours int

	Join   spatial.Config
	Window aggregate.Config
	Score  score.Config
}

// Pipeline runs the full fusion flow.
type Pipeline struct {
	sources Sources
	alerts  AlertPublisher

	normalizer *normalize.Normalizer
	aggregator *aggregate.Aggregator
	scorer     *score.Scorer
	builder    *snapshot.Builder

	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
}

// New assembles a Pipeline. alerts may be nil to disable publishing.
func New(sources Sources, builder *snapshot.Builder, alerts AlertPublisher, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{
		sources:    sources,
		alerts:     alerts,
		normalizer: normalize.New(logger),
		aggregator: aggregate.New(opts.Window),
		scorer:     score.New(opts.Score),
		builder:    builder,
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
	}
}

// rawInputs holds the fetched-but-unnormalized source payloads plus the
// per-source fetch errors.
type rawInputs struct {
	firms      []normalize.FIRMSRow
	weather    []normalize.WeatherRow
	incidents  []normalize.IncidentRow
	cropPixels []normalize.CropPixelRow

	firmsErr     error
	weatherErr   error
	incidentsErr error
	cropErr      error
}

// Run executes one complete fusion run and returns the emitted manifest.
func (p *Pipeline) Run(ctx context.Context) (snapshot.Manifest, error) {
	runStart := time.Now()
	now := domain.Now()

	farms, err := p.sources.Farms.Farms(ctx)
	if err != nil {
		return snapshot.Manifest{}, fmt.Errorf("load farms: %w", err)
	}
	if len(farms) == 0 {
		return snapshot.Manifest{}, fmt.Errorf("farm reference set is empty")
	}
	p.logger.Info("farms loaded", "count", len(farms))

	raw := p.fetchAll(ctx, farms)

	detections, weather, incidents, pixels, rejected := p.normalizeAll(raw)

	joiner, err := spatial.NewJoiner(farms, p.opts.Join, p.logger)
	if err != nil {
		return snapshot.Manifest{}, fmt.Errorf("build spatial index: %w", err)
	}

	joinStart := time.Now()
	detSignals, detUnmatched := joiner.JoinDetections(detections)
	incSignals, incUnmatched := joiner.JoinIncidents(incidents)
	weatherByFarm := joiner.JoinWeather(weather)
	cropSamples, cropUnmatched := joiner.JoinCropPixels(pixels)
	p.metrics.StageDuration.WithLabelValues("join").Observe(time.Since(joinStart).Seconds())

	p.metrics.SignalsJoined.WithLabelValues(SourceFIRMS).Add(float64(len(detSignals)))
	p.metrics.SignalsJoined.WithLabelValues(SourceIncidents).Add(float64(len(incSignals)))
	p.metrics.RowsUnmatched.WithLabelValues(SourceFIRMS).Add(float64(detUnmatched))
	p.metrics.RowsUnmatched.WithLabelValues(SourceIncidents).Add(float64(incUnmatched))
	p.metrics.RowsUnmatched.WithLabelValues(SourceCropCover).Add(float64(cropUnmatched))

	// Crop overlay: stamp each farm's dominant class before scoring.
	farms = applyCropOverlay(farms, cropSamples)

	hours := bucketHours(weatherByFarm, p.opts.RunHours, now)

	rows := p.scoreFarms(farms, hours, detSignals, incSignals, weatherByFarm, raw)
	p.metrics.FarmHoursScored.Add(float64(len(rows)))

	counters := snapshot.RunCounters{
		RejectedRows: rejected,
		UnmatchedRecords: map[string]int{
			SourceFIRMS:     detUnmatched,
			SourceIncidents: incUnmatched,
			SourceCropCover: cropUnmatched,
		},
		DegradedSources: raw.degradedSources(),
	}

	emitStart := time.Now()
	manifest, err := p.builder.Emit(rows, detections, counters)
	if err != nil {
		return snapshot.Manifest{}, fmt.Errorf("emit snapshot: %w", err)
	}
	p.metrics.StageDuration.WithLabelValues("emit").Observe(time.Since(emitStart).Seconds())

	p.publishAlerts(ctx, rows, now)

	p.metrics.RunDuration.Observe(time.Since(runStart).Seconds())
	p.logger.Info("run complete",
		"run_id", manifest.RunID,
		"farms", len(farms),
		"hours", len(hours),
		"rows", len(rows),
		"degraded_sources", counters.DegradedSources,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return manifest, nil
}

// fetchAll pulls the four non-farm sources concurrently. Each task writes
// its own field, so no locking is needed.
func (p *Pipeline) fetchAll(ctx context.Context, farms []domain.FarmAsset) *rawInputs {
	start := time.Now()
	raw := &rawInputs{}
	points := weatherPoints(farms)

	pool := pond.NewPool(4)
	pool.Submit(func() {
		raw.firms, raw.firmsErr = p.sources.FIRMS.FetchDetections(ctx)
	})
	pool.Submit(func() {
		raw.weather, raw.weatherErr = p.sources.Weather.FetchWeather(ctx, points)
	})
	pool.Submit(func() {
		raw.incidents, raw.incidentsErr = p.sources.Incidents.FetchIncidents(ctx)
	})
	if p.sources.CropCover != nil {
		pool.Submit(func() {
			raw.cropPixels, raw.cropErr = p.sources.CropCover.FetchCropPixels(ctx)
		})
	}
	pool.StopAndWait()

	for source, err := range map[string]error{
		SourceFIRMS:     raw.firmsErr,
		SourceWeather:   raw.weatherErr,
		SourceIncidents: raw.incidentsErr,
		SourceCropCover: raw.cropErr,
	} {
		if err != nil {
			p.logger.Warn("source degraded, continuing with empty data", "source", source, "error", err)
			p.metrics.SourceDegraded.WithLabelValues(source).Set(1)
		} else {
			p.metrics.SourceDegraded.WithLabelValues(source).Set(0)
		}
	}

	p.metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	return raw
}

// degradedSources lists failed sources in stable order for the manifest.
func (r *rawInputs) degradedSources() []string {
	var out []string
	if r.firmsErr != nil {
		out = append(out, SourceFIRMS)
	}
	if r.weatherErr != nil {
		out = append(out, SourceWeather)
	}
	if r.incidentsErr != nil {
		out = append(out, SourceIncidents)
	}
	if r.cropErr != nil {
		out = append(out, SourceCropCover)
	}
	return out
}

func (p *Pipeline) normalizeAll(raw *rawInputs) (
	[]domain.FireDetection,
	[]domain.WeatherObservation,
	[]domain.FireIncident,
	[]domain.CropPixel,
	map[string]int,
) {
	start := time.Now()

	detections, detRejected := p.normalizer.Detections(raw.firms)
	weather, wxRejected := p.normalizer.Weather(raw.weather)
	incidents, incRejected := p.normalizer.Incidents(raw.incidents)
	pixels, cropRejected := p.normalizer.CropPixels(raw.cropPixels)

	p.metrics.RowsNormalized.WithLabelValues(SourceFIRMS).Add(float64(len(detections)))
	p.metrics.RowsNormalized.WithLabelValues(SourceWeather).Add(float64(len(weather)))
	p.metrics.RowsNormalized.WithLabelValues(SourceIncidents).Add(float64(len(incidents)))
	p.metrics.RowsNormalized.WithLabelValues(SourceCropCover).Add(float64(len(pixels)))
	p.metrics.RowsRejected.WithLabelValues(SourceFIRMS).Add(float64(detRejected))
	p.metrics.RowsRejected.WithLabelValues(SourceWeather).Add(float64(wxRejected))
	p.metrics.RowsRejected.WithLabelValues(SourceIncidents).Add(float64(incRejected))
	p.metrics.RowsRejected.WithLabelValues(SourceCropCover).Add(float64(cropRejected))
	p.metrics.StageDuration.WithLabelValues("normalize").Observe(time.Since(start).Seconds())

	rejected := map[string]int{
		SourceFIRMS:     detRejected,
		SourceWeather:   wxRejected,
		SourceIncidents: incRejected,
		SourceCropCover: cropRejected,
	}
	return detections, weather, incidents, pixels, rejected
}

// scoreFarms fans out per farm, computing one row per bucket hour.
func (p *Pipeline) scoreFarms(
	farms []domain.FarmAsset,
	hours []time.Time,
	detSignals []spatial.DetectionSignal,
	incSignals []spatial.IncidentSignal,
	weatherByFarm map[string][]domain.WeatherObservation,
	raw *rawInputs,
) []domain.FarmRiskHourly {
	start := time.Now()

	detByFarm := make(map[string][]spatial.DetectionSignal)
	for _, sig := range detSignals {
		detByFarm[sig.FarmID] = append(detByFarm[sig.FarmID], sig)
	}
	incByFarm := make(map[string][]spatial.IncidentSignal)
	for _, sig := range incSignals {
		incByFarm[sig.FarmID] = append(incByFarm[sig.FarmID], sig)
	}

	firmsOK := raw.firmsErr == nil
	weatherOK := raw.weatherErr == nil
	incidentsOK := raw.incidentsErr == nil

	pool := pond.NewResultPool[[]domain.FarmRiskHourly](p.opts.Workers)
	group := pool.NewGroup()

	for i := range farms {
		farm := farms[i]
		group.SubmitErr(func() ([]domain.FarmRiskHourly, error) {
			out := make([]domain.FarmRiskHourly, 0, len(hours))
			for _, hour := range hours {
				features := p.aggregator.FarmHour(
					farm.FarmID, hour,
					detByFarm[farm.FarmID],
					weatherByFarm[farm.FarmID],
					incByFarm[farm.FarmID],
				)
				row := p.scorer.Score(farm, features)
				row.FIRMSOK = firmsOK
				row.WeatherOK = weatherOK
				row.IncidentsOK = incidentsOK
				out = append(out, row)
			}
			return out, nil
		})
	}

	// Tasks never return errors; Wait preserves submission order.
	results, _ := group.Wait()

	rows := make([]domain.FarmRiskHourly, 0, len(farms)*len(hours))
	for _, chunk := range results {
		rows = append(rows, chunk...)
	}
	p.metrics.StageDuration.WithLabelValues("score").Observe(time.Since(start).Seconds())
	return rows
}

// publishAlerts sends the current high-risk rows, one per farm, to the alert
// publisher when one is configured. Failures log and continue.
func (p *Pipeline) publishAlerts(ctx context.Context, rows []domain.FarmRiskHourly, now time.Time) {
	if p.alerts == nil {
		return
	}
	alerts := highRiskLatest(rows, now)
	if len(alerts) == 0 {
		return
	}
	if err := p.alerts.Publish(ctx, alerts); err != nil {
		p.logger.Warn("alert publish failed", "error", err, "alerts", len(alerts))
		return
	}
	p.metrics.AlertsPublished.Add(float64(len(alerts)))
	p.logger.Info("high-risk alerts published", "alerts", len(alerts))
}

// highRiskLatest picks each farm's latest observed row (hour at or before
// now, falling back to the overall latest) and keeps the high-risk ones,
// sorted by farm ID.
func highRiskLatest(rows []domain.FarmRiskHourly, now time.Time) []domain.FarmRiskHourly {
	latest := make(map[string]domain.FarmRiskHourly)
	observed := make(map[string]domain.FarmRiskHourly)
	for _, row := range rows {
		if prev, ok := latest[row.FarmID]; !ok || row.HourUTC.After(prev.HourUTC) {
			latest[row.FarmID] = row
		}
		if !row.HourUTC.After(now) {
			if prev, ok := observed[row.FarmID]; !ok || row.HourUTC.After(prev.HourUTC) {
				observed[row.FarmID] = row
			}
		}
	}

	var alerts []domain.FarmRiskHourly
	for farmID, row := range latest {
		if current, ok := observed[farmID]; ok {
			row = current
		}
		if row.RiskLevel == domain.RiskHigh {
			alerts = append(alerts, row)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].FarmID < alerts[j].FarmID })
	return alerts
}

// bucketHours derives the run's hour buckets from the weather series, which
// spans past and forecast hours. With no weather at all the run still scores
// the trailing fallbackHours ending now.
func bucketHours(weatherByFarm map[string][]domain.WeatherObservation, fallbackHours int, now time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, series := range weatherByFarm {
		for _, obs := range series {
			seen[obs.Time.UTC().Truncate(time.Hour)] = struct{}{}
		}
	}

	if len(seen) == 0 {
		if fallbackHours < 1 {
			fallbackHours = 1
		}
		end := now.Truncate(time.Hour)
		hours := make([]time.Time, 0, fallbackHours)
		for i := fallbackHours - 1; i >= 0; i-- {
			hours = append(hours, end.Add(-time.Duration(i)*time.Hour))
		}
		return hours
	}

	hours := make([]time.Time, 0, len(seen))
	for h := range seen {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	return hours
}

// applyCropOverlay stamps each farm's dominant crop class from the overlay
// samples. Farms without a sample keep whatever the reference CSV carried.
func applyCropOverlay(farms []domain.FarmAsset, samples map[string]domain.CropCoverSample) []domain.FarmAsset {
	for i := range farms {
		sample, ok := samples[farms[i].FarmID]
		if !ok {
			continue
		}
		if code, found := sample.DominantClass(); found {
			c := code
			farms[i].CDLClassCode = &c
		}
	}
	return farms
}

// weatherPoints dedupes farm centroids to one query point per grid cell.
func weatherPoints(farms []domain.FarmAsset) []orb.Point {
	seen := make(map[string]struct{})
	points := make([]orb.Point, 0, len(farms))
	for _, farm := range farms {
		key := domain.GridCellIDFor(farm.Lat(), farm.Lon())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		points = append(points, farm.Centroid)
	}
	return points
}
