package domain

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// WeatherObservation is one hourly observation at one grid point. Value
// fields are pointers because a source may legitimately omit a variable;
// missing is not zero.
type WeatherObservation struct {
	GridCellID string
	Point      orb.Point // (lon, lat)
	Time       time.Time

	TemperatureC     *float64
	RelativeHumidity *float64 // percent, 0-100
	WindSpeedMPS     *float64
	WindDirectionDeg *float64 // meteorological: direction the wind blows FROM
}

// GridCellIDFor derives a stable cell identifier from coordinates, rounded
// to the 4-decimal precision used everywhere hashed identity depends on
// coordinates.
func GridCellIDFor(lat, lon float64) string {
	return fmt.Sprintf("cell_%.4f_%.4f", lat, lon)
}

// KMHToMPS converts km/h (Open-Meteo's default wind unit) to the canonical m/s.
func KMHToMPS(v float64) float64 { return v / 3.6 }

// MPHToMPS converts miles per hour to the canonical m/s.
func MPHToMPS(v float64) float64 { return v * 0.44704 }
