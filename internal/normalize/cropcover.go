package normalize

import (
	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// CropPixelRow is one sampled CDL raster pixel as delivered by the upstream
// extract: a point with a crop class code.
type CropPixelRow struct {
	Latitude  float64
	Longitude float64
	ClassCode *int
	Year      int
}

// CropPixels normalizes raw pixel samples. Pixels without a class code (the
// raster's nodata mask) and out-of-range coordinates are dropped.
func (n *Normalizer) CropPixels(rows []CropPixelRow) ([]domain.CropPixel, int) {
	out := make([]domain.CropPixel, 0, len(rows))
	rejected := 0

	for i := range rows {
		row := rows[i]
		if row.ClassCode == nil {
			rejected++
			continue
		}
		if !domain.ValidCoordinates(row.Latitude, row.Longitude) {
			rejected++
			n.logger.Warn("dropping crop pixel with bad coordinates",
				"row", i, "lat", row.Latitude, "lon", row.Longitude)
			continue
		}
		out = append(out, domain.CropPixel{
			Lat:       row.Latitude,
			Lon:       row.Longitude,
			ClassCode: *row.ClassCode,
			Year:      row.Year,
		})
	}
	return out, rejected
}
