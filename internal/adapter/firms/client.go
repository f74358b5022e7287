// Package firms fetches raw fire detections from NASA FIRMS: a local area
// CSV, a direct URL, or the area API (map key + sensor + bounding box).
package firms

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldwatch/farm-risk-etl/internal/config"
	"github.com/fieldwatch/farm-risk-etl/internal/normalize"
)

const areaAPIBase = "https://firms.modaps.eosdis.nasa.gov/api/area/csv"

// fetchRetries bounds transient-failure retries per run; the pipeline
// degrades the source after that rather than stalling the whole run.
const fetchRetries = 3

// Client fetches FIRMS area CSVs.
type Client struct {
	cfg        config.FIRMSConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a FIRMS client from configuration.
func NewClient(cfg config.FIRMSConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// FetchDetections implements pipeline.DetectionSource. Source precedence:
// local CSV path, then direct URL, then the area API.
func (c *Client) FetchDetections(ctx context.Context) ([]normalize.FIRMSRow, error) {
	if c.cfg.CSVPath != "" {
		return c.fromFile()
	}

	fetchURL := c.cfg.URL
	if fetchURL == "" {
		if c.cfg.MapKey == "" || c.cfg.BBox == "" {
			return nil, fmt.Errorf("firms: no CSV path, URL, or map key + bbox configured")
		}
		fetchURL = fmt.Sprintf("%s/%s/%s/%s/%d", areaAPIBase, c.cfg.MapKey, c.cfg.Sensor, c.cfg.BBox, c.cfg.Days)
	}
	return c.fromURL(ctx, fetchURL)
}

func (c *Client) fromFile() ([]normalize.FIRMSRow, error) {
	f, err := os.Open(c.cfg.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("open FIRMS CSV: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func (c *Client) fromURL(ctx context.Context, fetchURL string) ([]normalize.FIRMSRow, error) {
	var rows []normalize.FIRMSRow

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create FIRMS request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("FIRMS request: %w", redactMapKey(err, c.cfg.MapKey))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("FIRMS API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		rows, err = parseCSV(resp.Body)
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, redactMapKey(err, c.cfg.MapKey)
	}

	c.logger.Info("FIRMS rows fetched", "rows", len(rows), "sensor", c.cfg.Sensor)
	return rows, nil
}

// parseCSV reads a FIRMS area CSV into raw rows, resolving columns by header
// name so column reordering upstream cannot silently shift fields.
func parseCSV(r io.Reader) ([]normalize.FIRMSRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read FIRMS header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var rows []normalize.FIRMSRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read FIRMS record: %w", err)
		}
		field := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return record[idx]
		}
		rows = append(rows, normalize.FIRMSRow{
			Latitude:   field("latitude"),
			Longitude:  field("longitude"),
			AcqDate:    field("acq_date"),
			AcqTime:    field("acq_time"),
			Confidence: field("confidence"),
			FRP:        field("frp"),
			Satellite:  field("satellite"),
			Instrument: field("instrument"),
			DayNight:   field("daynight"),
			Version:    field("version"),
		})
	}
	return rows, nil
}

// redactMapKey strips the API key from error text before it can reach logs
// or the manifest.
func redactMapKey(err error, mapKey string) error {
	if err == nil || mapKey == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), mapKey, "[REDACTED]")
	return fmt.Errorf("%s", msg)
}
