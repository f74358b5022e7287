package domain

import "time"

// Risk level breakpoints. Classification is inclusive: a score exactly at a
// breakpoint lands in the higher band.
const (
	RiskHighThreshold   = 0.70
	RiskMediumThreshold = 0.40
)

// Risk level labels.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

// Sub-score driver names, in tie-break priority order (highest first).
const (
	DriverFireProximity  = "fire_proximity"
	DriverSmokeTransport = "smoke_transport"
	DriverHeatStress     = "heat_stress"
)

// RiskLevel classifies a combined score against the fixed breakpoints.
func RiskLevel(score float64) string {
	switch {
	case score >= RiskHighThreshold:
		return RiskHigh
	case score >= RiskMediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// FarmRiskHourly is the fused output row, keyed by (farm_id, hour_utc).
type FarmRiskHourly struct {
	FarmID   string    `json:"farm_id"`
	FarmName string    `json:"farm_name"`
	CropType string    `json:"crop_type"`
	Lat      float64   `json:"latitude"`
	Lon      float64   `json:"longitude"`
	HourUTC  time.Time `json:"hour_utc"`

	// Derived scores.
	FireProximityScore      float64 `json:"fire_proximity_score"`
	SmokeTransportScore     float64 `json:"smoke_transport_score"`
	HeatStressScore         float64 `json:"heat_stress_score"`
	CropVulnerabilityFactor float64 `json:"crop_vulnerability_factor"`
	CombinedRiskScore       float64 `json:"combined_risk_score"`
	RiskLevel               string  `json:"risk_level"`
	TopDriver               string  `json:"top_driver"`

	// Raw joined features. FIRMSMinDistanceKM is nil when no detection fell
	// inside the trailing window; that is "nothing nearby", which is distinct
	// from the FIRMSOK=false "source failed" case.
	FireCount24h       float64  `json:"fire_count_24h"`
	FRPSum24h          float64  `json:"frp_sum_24h"`
	FIRMSMinDistanceKM *float64 `json:"firms_min_distance_km"`
	Temperature2M      *float64 `json:"temperature_2m"`
	RelativeHumidity2M *float64 `json:"relative_humidity_2m"`
	WindSpeed10M       *float64 `json:"wind_speed_10m"` // m/s
	CDLClassCode       *int     `json:"cdl_class_code"`

	// Incident-derived features.
	NearestIncidentKM *float64 `json:"nearest_incident_km"`
	IncidentThreat    float64  `json:"incident_threat"`
	DaysSinceIncident *float64 `json:"days_since_incident_start"`

	// Source presence flags: false means the source was degraded for this
	// run, so zeros above are "no data" rather than "nothing found".
	FIRMSOK     bool `json:"firms_ok"`
	WeatherOK   bool `json:"weather_ok"`
	IncidentsOK bool `json:"incidents_ok"`
}
