// Command etl runs the farm fire-risk fusion pipeline.
//
// Subcommands:
//
//	run              execute a full fusion run and emit a snapshot
//	extract-firms    fetch and normalize FIRMS detections to JSONL
//	extract-weather  fetch hourly weather for the farm grid to JSONL
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/fieldwatch/farm-risk-etl/internal/adapter/cropcover"
	"github.com/fieldwatch/farm-risk-etl/internal/adapter/farms"
	"github.com/fieldwatch/farm-risk-etl/internal/adapter/firms"
	"github.com/fieldwatch/farm-risk-etl/internal/adapter/incidents"
	kafkaadapter "github.com/fieldwatch/farm-risk-etl/internal/adapter/kafka"
	"github.com/fieldwatch/farm-risk-etl/internal/adapter/openmeteo"
	"github.com/fieldwatch/farm-risk-etl/internal/aggregate"
	"github.com/fieldwatch/farm-risk-etl/internal/config"
	"github.com/fieldwatch/farm-risk-etl/internal/domain"
	"github.com/fieldwatch/farm-risk-etl/internal/normalize"
	"github.com/fieldwatch/farm-risk-etl/internal/observability"
	"github.com/fieldwatch/farm-risk-etl/internal/pipeline"
	"github.com/fieldwatch/farm-risk-etl/internal/score"
	"github.com/fieldwatch/farm-risk-etl/internal/snapshot"
	"github.com/fieldwatch/farm-risk-etl/internal/spatial"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "etl",
		Short:         "Farm fire-risk fusion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newExtractFIRMSCmd(), newExtractWeatherCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute a full fusion run and emit a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
			metrics := observability.NewMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			builder, err := snapshot.NewBuilder(cfg.OutputDir, logger)
			if err != nil {
				return err
			}

			sources := pipeline.Sources{
				Farms:     farms.NewLoader(cfg.FarmsPath, logger),
				FIRMS:     firms.NewClient(cfg.FIRMS, logger),
				Weather:   openmeteo.NewClient(cfg.Weather, logger),
				Incidents: incidents.NewClient(cfg.Incidents, logger),
			}
			if cfg.CropCover.Path != "" {
				sources.CropCover = cropcover.NewReader(cfg.CropCover, logger)
			}

			var alerts pipeline.AlertPublisher
			if cfg.Kafka.AlertsEnabled() {
				publisher := kafkaadapter.NewPublisher(cfg.Kafka, logger)
				defer func() {
					if err := publisher.Close(); err != nil {
						logger.Error("kafka publisher close error", "error", err)
					}
				}()
				alerts = publisher
				logger.Info("alert publishing enabled", "topic", cfg.Kafka.AlertTopic)
			} else {
				logger.Info("alert publishing disabled")
			}

			opts := pipeline.Options{
				Workers:  cfg.Workers,
				RunHours: cfg.Window.RunHours,
				Join:     joinConfig(cfg),
				Window:   windowConfig(cfg),
				Score:    scoreConfig(cfg),
			}

			p := pipeline.New(sources, builder, alerts, logger, metrics, opts)
			manifest, err := p.Run(ctx)
			if err != nil {
				logger.Error("pipeline run failed", "error", err)
				return err
			}
			logger.Info("snapshot ready", "run_id", manifest.RunID, "out_dir", cfg.OutputDir)
			return nil
		},
	}
}

func newExtractFIRMSCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract-firms",
		Short: "Fetch and normalize FIRMS detections to a JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rows, err := firms.NewClient(cfg.FIRMS, logger).FetchDetections(ctx)
			if err != nil {
				return err
			}
			detections, rejected := normalize.New(logger).Detections(rows)
			logger.Info("detections extracted", "detections", len(detections), "rejected", rejected)

			if err := writeJSONL(out, detections); err != nil {
				return err
			}
			return writeMetadata(out, extractMetadata{
				Source:        "firms",
				RecordCount:   len(detections),
				RejectedRows:  rejected,
				IngestedAtUTC: domain.Now(),
				Request:       firmsRequestDescriptor(cfg.FIRMS),
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "data/raw/firms_detections.jsonl", "output JSONL path")
	return cmd
}

func newExtractWeatherCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract-weather",
		Short: "Fetch hourly weather for the farm grid to a JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			farmSet, err := farms.NewLoader(cfg.FarmsPath, logger).Farms(ctx)
			if err != nil {
				return err
			}
			points := weatherPoints(farmSet)

			rows, err := openmeteo.NewClient(cfg.Weather, logger).FetchWeather(ctx, points)
			if err != nil {
				return err
			}
			logger.Info("weather extracted", "grid_points", len(points), "rows", len(rows))

			if err := writeJSONL(out, toSnapshotRows(rows)); err != nil {
				return err
			}
			request := cfg.Weather.JSONLPath
			if request == "" {
				request = fmt.Sprintf("%s past_days=%d forecast_days=%d points=%d",
					cfg.Weather.BaseURL, cfg.Weather.PastDays, cfg.Weather.ForecastDays, len(points))
			}
			return writeMetadata(out, extractMetadata{
				Source:        "weather",
				RecordCount:   len(rows),
				IngestedAtUTC: domain.Now(),
				Request:       request,
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "data/raw/weather_hourly.jsonl", "output JSONL path")
	return cmd
}

// weatherPoints dedupes farm centroids to one query point per grid cell,
// mirroring the run command's fetch.
func weatherPoints(farmSet []domain.FarmAsset) []orb.Point {
	seen := make(map[string]struct{})
	points := make([]orb.Point, 0, len(farmSet))
	for _, farm := range farmSet {
		key := domain.GridCellIDFor(farm.Lat(), farm.Lon())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		points = append(points, farm.Centroid)
	}
	return points
}

func joinConfig(cfg *config.Config) spatial.Config {
	return spatial.Config{
		DetectionRadiusKM:        cfg.Join.DetectionRadiusKM,
		IncidentFallbackRadiusKM: cfg.Join.IncidentFallbackRadiusKM,
		AreaWeightThresholdKM2:   cfg.Join.AreaWeightThresholdKM2,
		WeatherCellSizeDeg:       cfg.Join.WeatherCellSizeDeg,
		CropSampleRadiusKM:       cfg.Join.CropSampleRadiusKM,
	}
}

func windowConfig(cfg *config.Config) aggregate.Config {
	window := aggregate.DefaultConfig()
	window.FireWindow = hours(cfg.Window.FireWindowHours)
	window.HeatPersistenceWindow = hours(cfg.Window.HeatWindowHours)
	window.WeatherSnapTolerance = minutes(cfg.Window.SnapToleranceMins)
	return window
}

func scoreConfig(cfg *config.Config) score.Config {
	sc := score.DefaultConfig()
	sc.FireWeight = cfg.Score.FireWeight
	sc.SmokeWeight = cfg.Score.SmokeWeight
	sc.HeatWeight = cfg.Score.HeatWeight
	sc.DetectionRadiusKM = cfg.Join.DetectionRadiusKM
	return sc
}

// weatherRecord is the extract-weather file schema, matching what the
// openmeteo adapter reads back in JSONL mode.
type weatherRecord struct {
	Time               string   `json:"time"`
	Latitude           float64  `json:"latitude"`
	Longitude          float64  `json:"longitude"`
	Temperature2M      *float64 `json:"temperature_2m"`
	RelativeHumidity2M *float64 `json:"relative_humidity_2m"`
	WindSpeed10M       *float64 `json:"wind_speed_10m"`
	WindDirection10M   *float64 `json:"wind_direction_10m"`
	WindUnit           string   `json:"wind_unit,omitempty"`
}

func toSnapshotRows(rows []normalize.WeatherRow) []weatherRecord {
	out := make([]weatherRecord, len(rows))
	for i, row := range rows {
		out[i] = weatherRecord{
			Time:               row.Time,
			Latitude:           row.Latitude,
			Longitude:          row.Longitude,
			Temperature2M:      row.Temperature2M,
			RelativeHumidity2M: row.RelativeHumidity2M,
			WindSpeed10M:       row.WindSpeed10M,
			WindDirection10M:   row.WindDirection10M,
			WindUnit:           row.WindUnit,
		}
	}
	return out
}

// extractMetadata is the sidecar written next to each extract file. The
// request descriptor never carries the FIRMS map key.
type extractMetadata struct {
	Source        string    `json:"source"`
	RecordCount   int       `json:"record_count"`
	RejectedRows  int       `json:"rejected_rows,omitempty"`
	IngestedAtUTC time.Time `json:"ingested_at_utc"`
	Request       string    `json:"request,omitempty"`
}

func firmsRequestDescriptor(cfg config.FIRMSConfig) string {
	switch {
	case cfg.CSVPath != "":
		return "file " + cfg.CSVPath
	case cfg.URL != "":
		if cfg.MapKey != "" {
			return strings.ReplaceAll(cfg.URL, cfg.MapKey, "[REDACTED]")
		}
		return cfg.URL
	default:
		return fmt.Sprintf("area-api sensor=%s bbox=%s days=%d", cfg.Sensor, cfg.BBox, cfg.Days)
	}
}

func writeMetadata(dataPath string, meta extractMetadata) error {
	path := dataPath + ".meta.json"
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeJSONL[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

func hours(n int) time.Duration   { return time.Duration(n) * time.Hour }
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
