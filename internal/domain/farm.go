package domain

import "github.com/paulmach/orb"

// FarmAsset is reference data for a single monitored farm, loaded once per
// pipeline run. Boundary is optional; farms without a surveyed boundary fall
// back to a point plus radius.
type FarmAsset struct {
	FarmID   string
	Name     string
	CropType string

	// Centroid in orb's (lon, lat) order.
	Centroid orb.Point

	// Boundary is nil when only a point location is known.
	Boundary orb.Polygon

	// RadiusKM approximates the farm extent when Boundary is nil.
	RadiusKM float64

	// CDLClassCode is the dominant crop class at the centroid, when a crop
	// cover extract supplied one.
	CDLClassCode *int
}

// Lat returns the centroid latitude.
func (f FarmAsset) Lat() float64 { return f.Centroid.Lat() }

// Lon returns the centroid longitude.
func (f FarmAsset) Lon() float64 { return f.Centroid.Lon() }
