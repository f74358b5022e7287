// Package snapshot assembles and emits the run's output artifacts: the
// farm-status, fire-points, and chart timeseries JSONL files plus the
// manifest. All files are written through temp-file renames and the
// manifest lands last, so a manifest on disk is the completion signal and a
// half-written snapshot is never observable.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
	"github.com/fieldwatch/farm-risk-etl/internal/score"
)

// TransformVersion tags emitted artifacts with the scoring/join logic that
// produced them. Bump when either changes.
const TransformVersion = "2026.09.1"

// Artifact file names within a run directory.
const (
	FarmStatusFile = "map_farm_status.jsonl"
	FirePointsFile = "map_fire_points.jsonl"
	ChartFile      = "chart_farm_timeseries.jsonl"
	ManifestFile   = "manifest.json"
)

// FarmStatus is the latest-hour extract per farm, for map rendering.
type FarmStatus struct {
	FarmID       string    `json:"farm_id"`
	FarmName     string    `json:"farm_name"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	CropType     string    `json:"crop_type"`
	CDLClassCode *int      `json:"cdl_class_code"`
	HourUTC      time.Time `json:"hour_utc"`
	RiskScore    float64   `json:"risk_score"`
	RiskLevel    string    `json:"risk_level"`
	TopDriver    string    `json:"top_driver"`
}

// FirePoint is a deduplicated detection with a precomputed render hint.
type FirePoint struct {
	ID         string    `json:"id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	TimeUTC    time.Time `json:"time_utc"`
	Confidence float64   `json:"confidence"`
	FRP        float64   `json:"frp"`
	RiskHint   string    `json:"risk_hint"`
}

// Manifest records what a run produced. Consumers verify completeness by
// comparing RecordCounts against the files without re-reading data.
type Manifest struct {
	RunID            string            `json:"run_id"`
	BuiltAtUTC       time.Time         `json:"built_at_utc"`
	TransformVersion string            `json:"transform_version"`
	FilePaths        map[string]string `json:"file_paths"`
	RecordCounts     map[string]int    `json:"record_counts"`
	RejectedRows     map[string]int    `json:"rejected_rows,omitempty"`
	UnmatchedRecords map[string]int    `json:"unmatched_records,omitempty"`
	DegradedSources  []string          `json:"degraded_sources,omitempty"`
}

// RunCounters carries run-level audit counts into the manifest.
type RunCounters struct {
	RejectedRows     map[string]int
	UnmatchedRecords map[string]int
	DegradedSources  []string
}

// Builder emits snapshots into an output directory.
type Builder struct {
	outDir string
	logger *slog.Logger
}

// NewBuilder creates a Builder rooted at outDir. The directory must be
// creatable; failure here is fatal and happens before any output is written.
func NewBuilder(outDir string, logger *slog.Logger) (*Builder, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Builder{outDir: outDir, logger: logger}, nil
}

// Emit writes all artifacts and finally the manifest. Rows are sorted by
// farm then hour; farm status takes the latest observed (not forecast) hour
// per farm, falling back to the overall latest, and is sorted by risk
// descending so the map's worst farms render first.
func (b *Builder) Emit(rows []domain.FarmRiskHourly, detections []domain.FireDetection, counters RunCounters) (Manifest, error) {
	now := domain.Now()

	chartRows := make([]domain.FarmRiskHourly, len(rows))
	copy(chartRows, rows)
	sort.Slice(chartRows, func(i, j int) bool {
		if chartRows[i].FarmID != chartRows[j].FarmID {
			return chartRows[i].FarmID < chartRows[j].FarmID
		}
		return chartRows[i].HourUTC.Before(chartRows[j].HourUTC)
	})

	statuses := buildFarmStatus(chartRows, now)
	firePoints := buildFirePoints(detections)

	if err := writeJSONL(filepath.Join(b.outDir, ChartFile), chartRows); err != nil {
		return Manifest{}, err
	}
	if err := writeJSONL(filepath.Join(b.outDir, FarmStatusFile), statuses); err != nil {
		return Manifest{}, err
	}
	if err := writeJSONL(filepath.Join(b.outDir, FirePointsFile), firePoints); err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{
		RunID:            uuid.NewString(),
		BuiltAtUTC:       now,
		TransformVersion: TransformVersion,
		FilePaths: map[string]string{
			"chart_farm_timeseries": filepath.Join(b.outDir, ChartFile),
			"map_farm_status":       filepath.Join(b.outDir, FarmStatusFile),
			"map_fire_points":       filepath.Join(b.outDir, FirePointsFile),
		},
		RecordCounts: map[string]int{
			"chart_farm_timeseries": len(chartRows),
			"map_farm_status":       len(statuses),
			"map_fire_points":       len(firePoints),
		},
		RejectedRows:     counters.RejectedRows,
		UnmatchedRecords: counters.UnmatchedRecords,
		DegradedSources:  counters.DegradedSources,
	}

	if err := writeJSON(filepath.Join(b.outDir, ManifestFile), manifest); err != nil {
		return Manifest{}, err
	}

	b.logger.Info("snapshot emitted",
		"out_dir", b.outDir,
		"chart_rows", len(chartRows),
		"farm_status_rows", len(statuses),
		"fire_points", len(firePoints),
		"degraded_sources", counters.DegradedSources,
	)
	return manifest, nil
}

// buildFarmStatus picks one row per farm: the latest hour at or before now
// when one exists (observed data beats forecast), otherwise the latest hour
// overall. Input must be sorted by farm then hour.
func buildFarmStatus(sorted []domain.FarmRiskHourly, now time.Time) []FarmStatus {
	latest := make(map[string]domain.FarmRiskHourly)
	latestObserved := make(map[string]domain.FarmRiskHourly)
	order := make([]string, 0)

	for _, row := range sorted {
		if _, seen := latest[row.FarmID]; !seen {
			order = append(order, row.FarmID)
		}
		latest[row.FarmID] = row
		if !row.HourUTC.After(now) {
			latestObserved[row.FarmID] = row
		}
	}

	statuses := make([]FarmStatus, 0, len(order))
	for _, farmID := range order {
		row, ok := latestObserved[farmID]
		if !ok {
			row = latest[farmID]
		}
		statuses = append(statuses, FarmStatus{
			FarmID:       row.FarmID,
			FarmName:     row.FarmName,
			Lat:          row.Lat,
			Lon:          row.Lon,
			CropType:     row.CropType,
			CDLClassCode: row.CDLClassCode,
			HourUTC:      row.HourUTC,
			RiskScore:    row.CombinedRiskScore,
			RiskLevel:    row.RiskLevel,
			TopDriver:    row.TopDriver,
		})
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].RiskScore != statuses[j].RiskScore {
			return statuses[i].RiskScore > statuses[j].RiskScore
		}
		return statuses[i].FarmID < statuses[j].FarmID
	})
	return statuses
}

func buildFirePoints(detections []domain.FireDetection) []FirePoint {
	points := make([]FirePoint, 0, len(detections))
	for _, det := range detections {
		points = append(points, FirePoint{
			ID:         det.ID,
			Lat:        det.Lat,
			Lon:        det.Lon,
			TimeUTC:    det.AcquiredAt,
			Confidence: det.Confidence,
			FRP:        det.FRP,
			RiskHint:   score.RiskHint(det.FRP, det.Confidence),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	return points
}

// writeJSONL writes records line-delimited through a temp file and rename,
// so readers never observe a partial file.
func writeJSONL[T any](path string, records []T) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			tmp.Close()
			return fmt.Errorf("encode record %d for %s: %w", i, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}
