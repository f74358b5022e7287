// Package config provides environment-variable configuration for the fusion
// pipeline. Defaults are documented on the struct tags; anything unset falls
// back to them.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	// FarmsPath is the farm reference CSV. Required: a run without farms is
	// a fatal configuration error.
	FarmsPath string `env:"FARMS_PATH"`

	// OutputDir receives the snapshot artifacts. Concurrent runs must use
	// distinct directories (e.g. run-timestamped); that serialization is a
	// deployment concern, not enforced here.
	OutputDir string `env:"OUTPUT_DIR" envDefault:"data/processed/snapshot"`

	// Workers bounds per-farm fan-out during aggregation and scoring.
	Workers int `env:"WORKERS" envDefault:"8"`

	Log       LogConfig       `envPrefix:"LOG_"`
	FIRMS     FIRMSConfig     `envPrefix:"FIRMS_"`
	Weather   WeatherConfig   `envPrefix:"WEATHER_"`
	Incidents IncidentsConfig `envPrefix:"INCIDENTS_"`
	CropCover CropCoverConfig `envPrefix:"CDL_"`
	Join      JoinConfig      `envPrefix:"JOIN_"`
	Window    WindowConfig    `envPrefix:"WINDOW_"`
	Score     ScoreConfig     `envPrefix:"SCORE_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"` // "json" or "console"
}

// FIRMSConfig selects the detection source: a local CSV, a direct URL, or
// the FIRMS area API (map key + sensor + bbox).
type FIRMSConfig struct {
	CSVPath string        `env:"CSV_PATH"`
	URL     string        `env:"URL"`
	MapKey  string        `env:"MAP_KEY"`
	Sensor  string        `env:"SENSOR" envDefault:"VIIRS_SNPP_NRT"`
	BBox    string        `env:"BBOX"` // west,south,east,north
	Days    int           `env:"DAYS" envDefault:"2"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// WeatherConfig selects the weather source: a local JSONL snapshot or the
// Open-Meteo forecast API queried per farm grid point.
type WeatherConfig struct {
	JSONLPath    string        `env:"JSONL_PATH"`
	BaseURL      string        `env:"BASE_URL" envDefault:"https://api.open-meteo.com/v1/forecast"`
	PastDays     int           `env:"PAST_DAYS" envDefault:"2"`
	ForecastDays int           `env:"FORECAST_DAYS" envDefault:"2"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// IncidentsConfig selects the incident feed: a local JSON file or a URL.
type IncidentsConfig struct {
	Path    string        `env:"PATH"`
	URL     string        `env:"URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// CropCoverConfig points at a CDL pixel-sample extract.
type CropCoverConfig struct {
	Path string `env:"PATH"`
	Year int    `env:"YEAR" envDefault:"2024"`
}

// JoinConfig holds spatial join radii and thresholds.
type JoinConfig struct {
	DetectionRadiusKM        float64 `env:"DETECTION_RADIUS_KM" envDefault:"50"`
	IncidentFallbackRadiusKM float64 `env:"INCIDENT_FALLBACK_RADIUS_KM" envDefault:"120"`
	AreaWeightThresholdKM2   float64 `env:"AREA_WEIGHT_THRESHOLD_KM2" envDefault:"25"`
	WeatherCellSizeDeg       float64 `env:"WEATHER_CELL_SIZE_DEG" envDefault:"0.1"`
	CropSampleRadiusKM       float64 `env:"CROP_SAMPLE_RADIUS_KM" envDefault:"0.3"`
}

// WindowConfig holds temporal aggregation parameters.
type WindowConfig struct {
	FireWindowHours   int `env:"FIRE_HOURS" envDefault:"24"`
	HeatWindowHours   int `env:"HEAT_HOURS" envDefault:"6"`
	SnapToleranceMins int `env:"SNAP_TOLERANCE_MINS" envDefault:"90"`

	// RunHours is the fallback bucket range (ending now) when the weather
	// source supplies no hour series of its own.
	RunHours int `env:"RUN_HOURS" envDefault:"24"`
}

// ScoreConfig holds the blend weights for the combined risk score.
type ScoreConfig struct {
	FireWeight  float64 `env:"FIRE_WEIGHT" envDefault:"0.45"`
	SmokeWeight float64 `env:"SMOKE_WEIGHT" envDefault:"0.30"`
	HeatWeight  float64 `env:"HEAT_WEIGHT" envDefault:"0.25"`
}

// KafkaConfig enables optional high-risk alert publishing. Alerting is on
// when brokers are configured.
type KafkaConfig struct {
	Brokers    []string `env:"BROKERS" envSeparator:","`
	AlertTopic string   `env:"ALERT_TOPIC" envDefault:"farm-risk-alerts"`
}

// AlertsEnabled reports whether alert publishing is configured.
func (k KafkaConfig) AlertsEnabled() bool { return len(k.Brokers) > 0 }

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants that env parsing cannot express.
func (c *Config) Validate() error {
	if c.FarmsPath == "" {
		return fmt.Errorf("FARMS_PATH is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.Join.DetectionRadiusKM <= 0 {
		return fmt.Errorf("JOIN_DETECTION_RADIUS_KM must be positive, got %g", c.Join.DetectionRadiusKM)
	}
	if c.Join.IncidentFallbackRadiusKM <= 0 {
		return fmt.Errorf("JOIN_INCIDENT_FALLBACK_RADIUS_KM must be positive, got %g", c.Join.IncidentFallbackRadiusKM)
	}
	if c.Window.FireWindowHours < 1 {
		return fmt.Errorf("WINDOW_FIRE_HOURS must be at least 1, got %d", c.Window.FireWindowHours)
	}
	totalWeight := c.Score.FireWeight + c.Score.SmokeWeight + c.Score.HeatWeight
	if totalWeight <= 0 {
		return fmt.Errorf("score weights must sum to a positive value, got %g", totalWeight)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"console\", got %q", c.Log.Format)
	}
	return nil
}
