// Package score turns a farm-hour aggregate feature set into risk scores.
//
// Every scoring function is pure: the same features always yield the same
// row. Missing inputs contribute zero to their sub-score; a row is always
// produced, degrading gracefully as signals drop out.
//
// Sub-score formulas (all clamped to [0,1]):
//
//	fire_proximity  = clamp01(max(0, 1 - d/R) + 0.3*min(frp/200, 1) + 0.2*min(count/10, 1))
//	smoke_transport = max(0, 1 - d/R) * clamp01(wind/12) * clamp01(cos Δ)
//	heat_stress     = clamp01((T-30)/12) * clamp01((60-RH)/40) * (0.7 + 0.3*persistence)
//
// where d is the minimum detection distance in the trailing window, R the
// join radius, and Δ the angle between the wind's travel direction and the
// bearing from the nearest fire to the farm. The combined score blends the
// three with configurable weights, then applies the crop vulnerability
// multiplier and clamps.
package score

import (
	"math"
	"strings"
	"time"

	"github.com/fieldwatch/farm-risk-etl/internal/aggregate"
	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// Config holds scoring weights and normalization constants.
type Config struct {
	// Blend weights for the three sub-scores. They should sum to 1; the
	// combined score is clamped either way.
	FireWeight  float64
	SmokeWeight float64
	HeatWeight  float64

	// DetectionRadiusKM must match the spatial join radius so the proximity
	// term reaches exactly 0 at the attribution boundary.
	DetectionRadiusKM float64

	// FRPSaturation and CountSaturation are the values at which the FRP and
	// weighted-count boosts max out.
	FRPSaturation   float64
	CountSaturation float64

	// WindSaturationMPS is the wind speed at which smoke transport maxes out.
	WindSaturationMPS float64
}

// DefaultConfig returns the documented default weights: fire-led, since
// proximity is the strongest single predictor of crop fire damage.
func DefaultConfig() Config {
	return Config{
		FireWeight:        0.45,
		SmokeWeight:       0.30,
		HeatWeight:        0.25,
		DetectionRadiusKM: 50,
		FRPSaturation:     200,
		CountSaturation:   10,
		WindSaturationMPS: 12,
	}
}

// Scorer computes FarmRiskHourly rows from aggregate features.
type Scorer struct {
	cfg Config
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score derives the full risk row for one farm-hour. Source presence flags
// are stamped by the caller, which knows which sources degraded.
func (s *Scorer) Score(farm domain.FarmAsset, f aggregate.Features) domain.FarmRiskHourly {
	fire := s.fireProximity(f)
	smoke := s.smokeTransport(f)
	heat := s.heatStress(f)
	cropFactor := CropFactor(farm.CropType, f.Hour.Month())

	base := clamp01(s.cfg.FireWeight*fire + s.cfg.SmokeWeight*smoke + s.cfg.HeatWeight*heat)
	combined := clamp01(base * cropFactor)

	row := domain.FarmRiskHourly{
		FarmID:   farm.FarmID,
		FarmName: farm.Name,
		CropType: farm.CropType,
		Lat:      farm.Lat(),
		Lon:      farm.Lon(),
		HourUTC:  f.Hour,

		FireProximityScore:      fire,
		SmokeTransportScore:     smoke,
		HeatStressScore:         heat,
		CropVulnerabilityFactor: cropFactor,
		CombinedRiskScore:       combined,
		RiskLevel:               domain.RiskLevel(combined),
		TopDriver:               s.topDriver(fire, smoke, heat),

		FireCount24h:       f.FireCountWeighted,
		FRPSum24h:          f.FRPSum,
		Temperature2M:      f.TemperatureC,
		RelativeHumidity2M: f.RelativeHumidity,
		WindSpeed10M:       f.WindSpeedMPS,
		CDLClassCode:       farm.CDLClassCode,

		NearestIncidentKM: f.NearestIncidentKM,
		IncidentThreat:    f.IncidentThreat,
		DaysSinceIncident: f.DaysSinceIncident,
	}

	if !math.IsInf(f.MinDistanceKM, 1) {
		dist := f.MinDistanceKM
		row.FIRMSMinDistanceKM = &dist
	}
	return row
}

// fireProximity is zero with no detection in the window, otherwise the
// proximity base raised by FRP and confidence-weighted count boosts.
func (s *Scorer) fireProximity(f aggregate.Features) float64 {
	if math.IsInf(f.MinDistanceKM, 1) {
		return 0
	}
	proximity := math.Max(0, 1-f.MinDistanceKM/s.cfg.DetectionRadiusKM)
	intensity := 0.3 * math.Min(f.FRPSum/s.cfg.FRPSaturation, 1)
	density := 0.2 * math.Min(f.FireCountWeighted/s.cfg.CountSaturation, 1)
	return clamp01(proximity + intensity + density)
}

// smokeTransport is high when wind blows from the nearest fire toward the
// farm: the proximity base scaled by wind speed and directional alignment.
func (s *Scorer) smokeTransport(f aggregate.Features) float64 {
	if math.IsInf(f.MinDistanceKM, 1) {
		return 0
	}
	if f.WindSpeedMPS == nil || f.WindDirectionDeg == nil {
		return 0
	}

	proximity := math.Max(0, 1-f.MinDistanceKM/s.cfg.DetectionRadiusKM)
	speed := clamp01(*f.WindSpeedMPS / s.cfg.WindSaturationMPS)

	// Meteorological direction is where wind comes FROM; travel direction is
	// the reciprocal. Alignment compares travel with the fire->farm bearing.
	travel := math.Mod(*f.WindDirectionDeg+180, 360)
	delta := angleDiff(travel, f.NearestFireBearingDeg)
	alignment := clamp01(math.Cos(delta * math.Pi / 180))

	return clamp01(proximity * speed * alignment)
}

// heatStress combines hot-and-dry conditions with trailing persistence.
// Missing temperature or humidity zeroes the sub-score.
func (s *Scorer) heatStress(f aggregate.Features) float64 {
	if f.TemperatureC == nil || f.RelativeHumidity == nil {
		return 0
	}
	heat := clamp01((*f.TemperatureC - 30) / 12)
	dryness := clamp01((60 - *f.RelativeHumidity) / 40)
	persistence := 0.7 + 0.3*clamp01(f.HeatPersistence)
	return clamp01(heat * dryness * persistence)
}

// topDriver names the sub-score with the largest weighted contribution.
// Ties break by fixed priority: fire_proximity, then smoke_transport, then
// heat_stress — the >= comparisons encode that order.
func (s *Scorer) topDriver(fire, smoke, heat float64) string {
	wFire := s.cfg.FireWeight * fire
	wSmoke := s.cfg.SmokeWeight * smoke
	wHeat := s.cfg.HeatWeight * heat

	if wFire >= wSmoke && wFire >= wHeat {
		return domain.DriverFireProximity
	}
	if wSmoke >= wHeat {
		return domain.DriverSmokeTransport
	}
	return domain.DriverHeatStress
}

// CropFactor is the crop vulnerability multiplier: a base per crop type,
// raised slightly during the Aug-Oct harvest window as a growth-stage proxy.
// It multiplies the blended score; it is not itself a [0,1] score.
func CropFactor(cropType string, month time.Month) float64 {
	factor := 1.0
	switch strings.ToLower(strings.TrimSpace(cropType)) {
	case "grape", "grapes", "vineyard":
		factor = 1.15
	case "almond", "walnut", "nut", "nuts":
		factor = 1.05
	}
	if month >= time.August && month <= time.October {
		factor *= 1.05
	}
	return factor
}

// RiskHint classifies a raw detection for quick map rendering, blending FRP
// intensity with detection confidence.
func RiskHint(frp, confidence float64) string {
	hint := 0.6*clamp01(frp/20) + 0.4*clamp01(confidence)
	switch {
	case hint >= 0.67:
		return domain.RiskHigh
	case hint >= 0.34:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func angleDiff(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b+540, 360) - 180)
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
