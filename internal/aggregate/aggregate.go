// Package aggregate buckets farm-attributed signals into farm-hour bins.
//
// Every bucket is recomputed from scratch as a pure function of the signals
// inside its trailing window; no state carries across buckets. That costs
// some repeated scanning but makes the output independent of processing
// order and trivially auditable.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
	"github.com/fieldwatch/farm-risk-etl/internal/spatial"
)

// Config holds windowing and weighting parameters.
type Config struct {
	// FireWindow is the trailing detection window per hour bucket.
	FireWindow time.Duration

	// HeatPersistenceWindow bounds the lookback for elevated-heat persistence.
	HeatPersistenceWindow time.Duration

	// WeatherSnapTolerance: an observation within this distance of the
	// bucket hour is used as-is; beyond it, bracketing observations are
	// linearly interpolated.
	WeatherSnapTolerance time.Duration

	// Confidence band weights for the detection count. Bands follow the
	// FIRMS convention: low below LowBand, high at or above HighBand.
	LowBand, HighBand                    float64
	LowWeight, NominalWeight, HighWeight float64

	// HeatThresholdC is the temperature counted as elevated heat.
	HeatThresholdC float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FireWindow:            24 * time.Hour,
		HeatPersistenceWindow: 6 * time.Hour,
		WeatherSnapTolerance:  90 * time.Minute,
		LowBand:               0.40,
		HighBand:              0.75,
		LowWeight:             0.5,
		NominalWeight:         1.0,
		HighWeight:            1.5,
		HeatThresholdC:        30,
	}
}

// Features is the aggregate feature set for one (farm, hour) bucket, the
// scorer's sole input.
type Features struct {
	FarmID string
	Hour   time.Time

	// Trailing-window fire features. MinDistanceKM is +Inf when no
	// detection fell in the window.
	FireCountWeighted     float64
	RawFireCount          int
	FRPSum                float64
	MinDistanceKM         float64
	NearestFireBearingDeg float64 // bearing fire -> farm; valid when MinDistanceKM is finite

	// Point-in-time weather at the bucket hour.
	TemperatureC     *float64
	RelativeHumidity *float64
	WindSpeedMPS     *float64
	WindDirectionDeg *float64

	// HeatPersistence is the fraction of trailing-window observations at or
	// above the heat threshold, in [0,1].
	HeatPersistence float64

	// Incident features.
	NearestIncidentKM *float64
	IncidentThreat    float64
	DaysSinceIncident *float64
}

// Aggregator computes farm-hour features.
type Aggregator struct {
	cfg Config
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// FarmHour computes the feature set for one farm and one hour bucket
// [hour, hour+1h). Detection and incident signals must already be filtered
// to this farm; the weather series is the farm's effective series from the
// spatial joiner. The fire window is inclusive at both ends:
// [hour - window, hour].
func (a *Aggregator) FarmHour(
	farmID string,
	hour time.Time,
	detections []spatial.DetectionSignal,
	weather []domain.WeatherObservation,
	incidents []spatial.IncidentSignal,
) Features {
	hour = hour.UTC().Truncate(time.Hour)
	f := Features{
		FarmID:        farmID,
		Hour:          hour,
		MinDistanceKM: math.Inf(1),
	}

	a.aggregateFires(&f, hour, detections)
	a.sampleWeather(&f, hour, weather)
	a.aggregateIncidents(&f, hour, incidents)
	return f
}

func (a *Aggregator) aggregateFires(f *Features, hour time.Time, detections []spatial.DetectionSignal) {
	windowStart := hour.Add(-a.cfg.FireWindow)
	for i := range detections {
		sig := detections[i]
		t := sig.Detection.AcquiredAt
		if t.Before(windowStart) || t.After(hour) {
			continue
		}
		f.RawFireCount++
		f.FireCountWeighted += a.confidenceWeight(sig.Detection.Confidence)
		f.FRPSum += sig.Detection.FRP
		if sig.DistanceKM < f.MinDistanceKM {
			f.MinDistanceKM = sig.DistanceKM
			f.NearestFireBearingDeg = sig.BearingDeg
		}
	}
}

func (a *Aggregator) confidenceWeight(confidence float64) float64 {
	switch {
	case confidence < a.cfg.LowBand:
		return a.cfg.LowWeight
	case confidence >= a.cfg.HighBand:
		return a.cfg.HighWeight
	default:
		return a.cfg.NominalWeight
	}
}

// sampleWeather fills point-in-time weather for the bucket hour. The nearest
// observation wins when it is within the snap tolerance; otherwise the two
// bracketing observations are interpolated linearly. Heat persistence scans
// the trailing persistence window regardless.
func (a *Aggregator) sampleWeather(f *Features, hour time.Time, series []domain.WeatherObservation) {
	if len(series) == 0 {
		return
	}
	// Series from the joiner are time-sorted; don't rely on it.
	sorted := make([]domain.WeatherObservation, len(series))
	copy(sorted, series)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	idx := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Time.Before(hour) })

	var before, after *domain.WeatherObservation
	if idx < len(sorted) {
		after = &sorted[idx]
	}
	if idx > 0 {
		before = &sorted[idx-1]
	}

	nearest, gap := pickNearest(hour, before, after)
	if nearest != nil && gap <= a.cfg.WeatherSnapTolerance {
		f.TemperatureC = nearest.TemperatureC
		f.RelativeHumidity = nearest.RelativeHumidity
		f.WindSpeedMPS = nearest.WindSpeedMPS
		f.WindDirectionDeg = nearest.WindDirectionDeg
	} else if before != nil && after != nil {
		interpolated := interpolate(hour, *before, *after)
		f.TemperatureC = interpolated.TemperatureC
		f.RelativeHumidity = interpolated.RelativeHumidity
		f.WindSpeedMPS = interpolated.WindSpeedMPS
		f.WindDirectionDeg = interpolated.WindDirectionDeg
	} else if nearest != nil {
		// Only one side exists and it is out of tolerance; better a stale
		// observation than a fabricated one.
		f.TemperatureC = nearest.TemperatureC
		f.RelativeHumidity = nearest.RelativeHumidity
		f.WindSpeedMPS = nearest.WindSpeedMPS
		f.WindDirectionDeg = nearest.WindDirectionDeg
	}

	f.HeatPersistence = a.heatPersistence(hour, sorted)
}

func pickNearest(hour time.Time, before, after *domain.WeatherObservation) (*domain.WeatherObservation, time.Duration) {
	switch {
	case before == nil && after == nil:
		return nil, 0
	case before == nil:
		return after, after.Time.Sub(hour)
	case after == nil:
		return before, hour.Sub(before.Time)
	}
	gapBefore := hour.Sub(before.Time)
	gapAfter := after.Time.Sub(hour)
	if gapAfter < gapBefore {
		return after, gapAfter
	}
	return before, gapBefore
}

func interpolate(at time.Time, lo, hi domain.WeatherObservation) domain.WeatherObservation {
	span := hi.Time.Sub(lo.Time).Seconds()
	if span <= 0 {
		return lo
	}
	t := at.Sub(lo.Time).Seconds() / span

	out := domain.WeatherObservation{Time: at}
	out.TemperatureC = lerp(lo.TemperatureC, hi.TemperatureC, t)
	out.RelativeHumidity = lerp(lo.RelativeHumidity, hi.RelativeHumidity, t)
	out.WindSpeedMPS = lerp(lo.WindSpeedMPS, hi.WindSpeedMPS, t)
	out.WindDirectionDeg = lerpAngle(lo.WindDirectionDeg, hi.WindDirectionDeg, t)
	return out
}

func lerp(a, b *float64, t float64) *float64 {
	if a == nil || b == nil {
		if a != nil {
			return a
		}
		return b
	}
	v := *a + (*b-*a)*t
	return &v
}

// lerpAngle interpolates along the shorter arc so 350 -> 10 passes through 0.
func lerpAngle(a, b *float64, t float64) *float64 {
	if a == nil || b == nil {
		if a != nil {
			return a
		}
		return b
	}
	diff := math.Mod(*b-*a+540, 360) - 180
	v := math.Mod(*a+diff*t+360, 360)
	return &v
}

// heatPersistence is the fraction of observations in [hour-window, hour]
// with temperature at or above the threshold. No observations in the window
// means no evidence of persistence: 0.
func (a *Aggregator) heatPersistence(hour time.Time, sorted []domain.WeatherObservation) float64 {
	windowStart := hour.Add(-a.cfg.HeatPersistenceWindow)
	total, hot := 0, 0
	for i := range sorted {
		t := sorted[i].Time
		if t.Before(windowStart) || t.After(hour) {
			continue
		}
		if sorted[i].TemperatureC == nil {
			continue
		}
		total++
		if *sorted[i].TemperatureC >= a.cfg.HeatThresholdC {
			hot++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hot) / float64(total)
}

// aggregateIncidents derives nearest-active-incident features at the bucket
// hour. Threat decays linearly with distance and scales with how much of the
// incident is still uncontained.
func (a *Aggregator) aggregateIncidents(f *Features, hour time.Time, incidents []spatial.IncidentSignal) {
	const decayRadiusKM = 120 // matches the incident fallback join radius

	for i := range incidents {
		sig := incidents[i]
		if !sig.Incident.Active() || sig.Incident.StartTime.After(hour) {
			continue
		}

		if f.NearestIncidentKM == nil || sig.DistanceKM < *f.NearestIncidentKM {
			dist := sig.DistanceKM
			f.NearestIncidentKM = &dist

			days := hour.Sub(sig.Incident.StartTime).Hours() / 24
			f.DaysSinceIncident = &days
		}

		decay := 1 - sig.DistanceKM/decayRadiusKM
		if decay < 0 {
			decay = 0
		}
		threat := (1 - sig.Incident.ContainmentPct/100) * decay
		if threat > f.IncidentThreat {
			f.IncidentThreat = threat
		}
	}
}
