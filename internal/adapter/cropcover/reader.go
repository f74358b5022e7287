// Package cropcover reads CDL crop cover pixel samples from a JSONL extract.
// The extract is pre-sampled upstream from the CDL raster; the pipeline only
// consumes points with class codes.
package cropcover

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fieldwatch/farm-risk-etl/internal/config"
	"github.com/fieldwatch/farm-risk-etl/internal/normalize"
)

// Reader loads pixel samples from a JSONL file.
type Reader struct {
	cfg    config.CropCoverConfig
	logger *slog.Logger
}

// NewReader creates a Reader from configuration.
func NewReader(cfg config.CropCoverConfig, logger *slog.Logger) *Reader {
	return &Reader{cfg: cfg, logger: logger}
}

// sample is the extract file schema. class_code is a pointer so nodata
// pixels survive decoding and get dropped by the normalizer with a count.
type sample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ClassCode *int    `json:"class_code"`
	Year      int     `json:"year"`
}

// FetchCropPixels implements pipeline.CropSource.
func (r *Reader) FetchCropPixels(ctx context.Context) ([]normalize.CropPixelRow, error) {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open crop cover extract: %w", err)
	}
	defer f.Close()

	var rows []normalize.CropPixelRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var s sample
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("decode crop cover line %d: %w", line, err)
		}
		year := s.Year
		if year == 0 {
			year = r.cfg.Year
		}
		rows = append(rows, normalize.CropPixelRow{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			ClassCode: s.ClassCode,
			Year:      year,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read crop cover extract: %w", err)
	}

	r.logger.Info("crop cover pixels read", "rows", len(rows), "year", r.cfg.Year)
	return rows, nil
}
