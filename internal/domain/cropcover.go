package domain

// CropPixel is one sampled raster pixel from a CDL extract: a point with a
// crop class code. The pipeline overlays these against farm boundaries.
type CropPixel struct {
	Lat       float64
	Lon       float64
	ClassCode int
	Year      int
}

// CropCoverSample is the per-farm yearly crop composition produced by the
// areal overlay. Fractions sum to at most 1.0; any unclassified remainder is
// simply absent from the map.
type CropCoverSample struct {
	FarmID    string          `json:"farm_id"`
	Year      int             `json:"year"`
	Fractions map[int]float64 `json:"fractions"`
}

// DominantClass returns the class code with the largest area fraction, or
// false when the sample is empty. Ties break toward the lower class code so
// repeated runs agree.
func (s CropCoverSample) DominantClass() (int, bool) {
	best, bestFrac, found := 0, -1.0, false
	for code, frac := range s.Fractions {
		if frac > bestFrac || (frac == bestFrac && code < best) {
			best, bestFrac, found = code, frac, true
		}
	}
	return best, found
}
