package normalize

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// FIRMSRow is one raw row from a FIRMS area CSV, fields still as strings.
type FIRMSRow struct {
	Latitude   string
	Longitude  string
	AcqDate    string // "2026-08-30"
	AcqTime    string // "0512", sometimes "512"
	Confidence string // "low"/"nominal"/"high", "l"/"n"/"h", 0-100, or 0-1
	FRP        string
	Satellite  string
	Instrument string
	DayNight   string
	Version    string // e.g. "2.0NRT" or "2.0"
}

// Detections normalizes FIRMS rows into deduplicated FireDetections.
// Returns the surviving detections and the number of rows dropped as
// malformed. Duplicates by ID collapse to the record with the latest
// ingestion timestamp.
func (n *Normalizer) Detections(rows []FIRMSRow) ([]domain.FireDetection, int) {
	ingestedAt := domain.Now()
	byID := make(map[string]domain.FireDetection, len(rows))
	rejected := 0

	for i := range rows {
		det, err := n.detection(rows[i], ingestedAt)
		if err != nil {
			rejected++
			n.logger.Warn("dropping malformed FIRMS row", "row", i, "error", err)
			continue
		}
		if prev, ok := byID[det.ID]; ok && prev.IngestedAt.After(det.IngestedAt) {
			continue
		}
		byID[det.ID] = det
	}

	out := make([]domain.FireDetection, 0, len(byID))
	for _, det := range byID {
		out = append(out, det)
	}
	// Map iteration order is random; sort for run-to-run determinism.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, rejected
}

func (n *Normalizer) detection(row FIRMSRow, ingestedAt time.Time) (domain.FireDetection, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(row.Latitude), 64)
	if err != nil {
		return domain.FireDetection{}, domain.Malformed("firms", "latitude %q", row.Latitude)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row.Longitude), 64)
	if err != nil {
		return domain.FireDetection{}, domain.Malformed("firms", "longitude %q", row.Longitude)
	}
	if !domain.ValidCoordinates(lat, lon) {
		return domain.FireDetection{}, domain.Malformed("firms", "coordinates out of range (%g, %g)", lat, lon)
	}

	acquiredAt, err := parseAcquiredAt(row.AcqDate, row.AcqTime)
	if err != nil {
		return domain.FireDetection{}, err
	}

	confidence, ok := ParseConfidence(row.Confidence)
	if !ok {
		return domain.FireDetection{}, domain.Malformed("firms", "confidence %q", row.Confidence)
	}

	frp := parseFloatOrZero(row.FRP)
	satellite := strings.TrimSpace(row.Satellite)

	return domain.FireDetection{
		ID:          domain.DetectionID("nasa-firms", acquiredAt, lat, lon, satellite),
		Lat:         lat,
		Lon:         lon,
		AcquiredAt:  acquiredAt,
		Confidence:  confidence,
		FRP:         frp,
		Satellite:   satellite,
		Instrument:  strings.TrimSpace(row.Instrument),
		DayNight:    strings.TrimSpace(row.DayNight),
		QualityFlag: qualityFlag(row.Version),
		Source:      "nasa-firms",
		IngestedAt:  ingestedAt,
	}, nil
}

// parseAcquiredAt combines a FIRMS acq_date with an HHMM acq_time into a UTC
// timestamp. Short time strings are zero-padded ("512" -> "0512"), matching
// the upstream convention.
func parseAcquiredAt(acqDate, acqTime string) (time.Time, error) {
	acqDate = strings.TrimSpace(acqDate)
	day, err := time.Parse("2006-01-02", acqDate)
	if err != nil {
		return time.Time{}, domain.Malformed("firms", "acq_date %q", acqDate)
	}

	digits := strings.TrimSpace(acqTime)
	if digits == "" {
		digits = "0000"
	}
	for len(digits) < 4 {
		digits = "0" + digits
	}
	hour, errH := strconv.Atoi(digits[:2])
	mins, errM := strconv.Atoi(digits[2:])
	if errH != nil || errM != nil || hour > 23 || mins > 59 {
		return time.Time{}, domain.Malformed("firms", "acq_time %q", acqTime)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, mins, 0, 0, time.UTC), nil
}

// ParseConfidence normalizes the three FIRMS confidence encodings to [0,1]:
// band words map to fixed values (low 0.33, nominal 0.66, high 1.0),
// percentages are divided by 100, and fractional values pass through.
func ParseConfidence(raw string) (float64, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return 0, false
	case "low", "l":
		return 0.33, true
	case "nominal", "n", "medium":
		return 0.66, true
	case "high", "h":
		return 1.0, true
	}
	numeric, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	if numeric > 1 {
		numeric /= 100.0
	}
	return clamp01(numeric), true
}

func qualityFlag(version string) string {
	if strings.Contains(strings.ToUpper(version), "NRT") {
		return domain.QualityNRT
	}
	return domain.QualityFinal
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
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
