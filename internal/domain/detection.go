package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Quality flags distinguishing near-real-time from reprocessed detections.
const (
	QualityNRT   = "nrt"
	QualityFinal = "final"
)

// FireDetection is a normalized satellite hotspot.
type FireDetection struct {
	ID          string    `json:"id"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	AcquiredAt  time.Time `json:"acq_datetime_utc"`
	Confidence  float64   `json:"confidence"` // normalized to [0,1]
	FRP         float64   `json:"frp"`
	Satellite   string    `json:"satellite,omitempty"`
	Instrument  string    `json:"instrument,omitempty"`
	DayNight    string    `json:"daynight,omitempty"`
	QualityFlag string    `json:"quality_flag"`
	Source      string    `json:"source"`
	IngestedAt  time.Time `json:"ingested_at_utc"`
}

// DetectionID computes the deterministic detection ID. Coordinates are
// rounded to 4 decimal places so repeated runs over the same raw rows hash
// identically regardless of float formatting upstream.
func DetectionID(source string, acquiredAt time.Time, lat, lon float64, satellite string) string {
	input := fmt.Sprintf("%s|%s|%.4f|%.4f|%s",
		source, acquiredAt.UTC().Format(time.RFC3339), lat, lon, satellite)
	hash := sha256.Sum256([]byte(input))
	return "fire-" + hex.EncodeToString(hash[:8])
}
