package domain

import "fmt"

// MalformedRecordError marks a single raw row that failed normalization.
// Callers drop the row, count it, and continue; it is never batch-fatal.
type MalformedRecordError struct {
	Source string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %s", e.Source, e.Reason)
}

// Malformed builds a MalformedRecordError for a source.
func Malformed(source, format string, args ...any) *MalformedRecordError {
	return &MalformedRecordError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// ValidCoordinates reports whether lat/lon are inside WGS-84 bounds.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
