// Command validate performs integrity checks on an emitted snapshot
// directory: manifest counts against actual file contents, score bounds and
// risk-level consistency, key uniqueness, and cross-file agreement.
//
// Usage:
//
//	go run ./cmd/validate -snapshot-dir data/processed/snapshot
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
	"github.com/fieldwatch/farm-risk-etl/internal/snapshot"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	snapshotDir := flag.String("snapshot-dir", "", "snapshot directory containing the manifest and JSONL artifacts")
	flag.Parse()

	if *snapshotDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*snapshotDir))
}

func run(dir string) int {
	fmt.Println("=== Snapshot Integrity Validation ===")
	fmt.Println()

	manifest, err := loadManifest(filepath.Join(dir, snapshot.ManifestFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load manifest: %v\n", err)
		return 1
	}

	chartRows, err := loadJSONL[domain.FarmRiskHourly](filepath.Join(dir, snapshot.ChartFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load chart timeseries: %v\n", err)
		return 1
	}
	statuses, err := loadJSONL[snapshot.FarmStatus](filepath.Join(dir, snapshot.FarmStatusFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load farm status: %v\n", err)
		return 1
	}
	firePoints, err := loadJSONL[snapshot.FirePoint](filepath.Join(dir, snapshot.FirePointsFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fire points: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateManifest(manifest, len(chartRows), len(statuses), len(firePoints)),
		validateChartRows(chartRows),
		validateFarmStatus(statuses, chartRows),
		validateFirePoints(firePoints),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d chart rows, %d farm statuses, %d fire points\n",
		len(chartRows), len(statuses), len(firePoints))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadManifest(path string) (snapshot.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot.Manifest{}, err
	}
	var m snapshot.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return snapshot.Manifest{}, err
	}
	return m, nil
}

func loadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}
	return items, scanner.Err()
}

// ── Phase 1: Manifest ──
// Record counts in the manifest must match the files exactly.

func validateManifest(m snapshot.Manifest, chartCount, statusCount, fireCount int) *phase {
	p := &phase{name: "Phase 1: Manifest (counts and metadata)"}

	if m.RunID == "" {
		p.errorf("manifest missing run_id")
	}
	if m.BuiltAtUTC.IsZero() {
		p.errorf("manifest missing built_at_utc")
	}
	if m.TransformVersion == "" {
		p.errorf("manifest missing transform_version")
	}

	expected := map[string]int{
		"chart_farm_timeseries": chartCount,
		"map_farm_status":       statusCount,
		"map_fire_points":       fireCount,
	}
	for name, want := range expected {
		got, ok := m.RecordCounts[name]
		if !ok {
			p.errorf("manifest missing record count for %q", name)
			continue
		}
		if got != want {
			p.errorf("%s: manifest says %d records, file has %d", name, got, want)
		}
	}
	for name := range m.FilePaths {
		if _, ok := expected[name]; !ok {
			p.errorf("manifest lists unknown artifact %q", name)
		}
	}
	return p
}

// ── Phase 2: Chart rows ──
// Scores bounded, levels consistent with scores, keys unique, ordering stable.

func validateChartRows(rows []domain.FarmRiskHourly) *phase {
	p := &phase{name: "Phase 2: Chart rows (scores and keys)"}

	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		key := fmt.Sprintf("%s|%s", row.FarmID, row.HourUTC.Format("2006-01-02T15"))
		if seen[key] {
			p.errorf("row %d: duplicate key %s", i, key)
		}
		seen[key] = true

		for _, s := range []struct {
			name  string
			value float64
		}{
			{"fire_proximity_score", row.FireProximityScore},
			{"smoke_transport_score", row.SmokeTransportScore},
			{"heat_stress_score", row.HeatStressScore},
			{"combined_risk_score", row.CombinedRiskScore},
		} {
			if s.value < 0 || s.value > 1 {
				p.errorf("row %d (%s): %s %g out of [0,1]", i, key, s.name, s.value)
			}
		}

		if want := domain.RiskLevel(row.CombinedRiskScore); row.RiskLevel != want {
			p.errorf("row %d (%s): risk_level %q inconsistent with score %g (want %q)",
				i, key, row.RiskLevel, row.CombinedRiskScore, want)
		}

		switch row.TopDriver {
		case domain.DriverFireProximity, domain.DriverSmokeTransport, domain.DriverHeatStress:
		default:
			p.errorf("row %d (%s): unknown top_driver %q", i, key, row.TopDriver)
		}

		if i > 0 {
			prev := rows[i-1]
			if row.FarmID < prev.FarmID ||
				(row.FarmID == prev.FarmID && row.HourUTC.Before(prev.HourUTC)) {
				p.errorf("row %d: out of (farm_id, hour_utc) order", i)
			}
		}
	}
	return p
}

// ── Phase 3: Farm status ──
// One row per farm, and every status must trace back to a chart row.

func validateFarmStatus(statuses []snapshot.FarmStatus, chartRows []domain.FarmRiskHourly) *phase {
	p := &phase{name: "Phase 3: Farm status (cross-file agreement)"}

	chartIndex := make(map[string]domain.FarmRiskHourly, len(chartRows))
	for _, row := range chartRows {
		chartIndex[row.FarmID+"|"+row.HourUTC.Format("2006-01-02T15")] = row
	}

	seen := make(map[string]bool, len(statuses))
	for i, status := range statuses {
		if seen[status.FarmID] {
			p.errorf("status %d: duplicate farm_id %s", i, status.FarmID)
		}
		seen[status.FarmID] = true

		key := status.FarmID + "|" + status.HourUTC.Format("2006-01-02T15")
		row, ok := chartIndex[key]
		if !ok {
			p.errorf("status %d (%s): no matching chart row for hour %s", i, status.FarmID, status.HourUTC)
			continue
		}
		if row.CombinedRiskScore != status.RiskScore {
			p.errorf("status %d (%s): risk_score %g disagrees with chart row %g", i, status.FarmID, status.RiskScore, row.CombinedRiskScore)
		}
		if row.RiskLevel != status.RiskLevel {
			p.errorf("status %d (%s): risk_level %q disagrees with chart row %q", i, status.FarmID, status.RiskLevel, row.RiskLevel)
		}

		if i > 0 {
			prev := statuses[i-1]
			if status.RiskScore > prev.RiskScore {
				p.errorf("status %d: not sorted by risk descending", i)
			}
		}
	}
	return p
}

// ── Phase 4: Fire points ──

func validateFirePoints(points []snapshot.FirePoint) *phase {
	p := &phase{name: "Phase 4: Fire points (identity and bounds)"}

	seen := make(map[string]bool, len(points))
	for i, pt := range points {
		if pt.ID == "" {
			p.errorf("point %d: missing id", i)
			continue
		}
		if seen[pt.ID] {
			p.errorf("point %d: duplicate id %s", i, pt.ID)
		}
		seen[pt.ID] = true

		if !domain.ValidCoordinates(pt.Lat, pt.Lon) {
			p.errorf("point %d (%s): coordinates out of range (%g, %g)", i, pt.ID, pt.Lat, pt.Lon)
		}
		if pt.Confidence < 0 || pt.Confidence > 1 {
			p.errorf("point %d (%s): confidence %g out of [0,1]", i, pt.ID, pt.Confidence)
		}
		switch pt.RiskHint {
		case domain.RiskHigh, domain.RiskMedium, domain.RiskLow:
		default:
			p.errorf("point %d (%s): unknown risk_hint %q", i, pt.ID, pt.RiskHint)
		}
		if i > 0 && pt.ID < points[i-1].ID {
			p.errorf("point %d: out of id order", i)
		}
	}
	return p
}
