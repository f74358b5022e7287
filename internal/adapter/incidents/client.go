// Package incidents fetches fire incident records from an agency feed: a
// local JSON file or an HTTP endpoint serving a JSON array.
package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldwatch/farm-risk-etl/internal/config"
	"github.com/fieldwatch/farm-risk-etl/internal/normalize"
)

const fetchRetries = 3

// Client fetches incident feeds.
type Client struct {
	cfg        config.IncidentsConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an incidents client from configuration.
func NewClient(cfg config.IncidentsConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// FetchIncidents implements pipeline.IncidentSource. A configured file path
// wins over the URL.
func (c *Client) FetchIncidents(ctx context.Context) ([]normalize.IncidentRow, error) {
	if c.cfg.Path != "" {
		data, err := os.ReadFile(c.cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("read incidents file: %w", err)
		}
		return decodeFeed(data)
	}
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("incidents: no path or URL configured")
	}

	var rows []normalize.IncidentRow
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create incidents request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("incidents request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("incidents feed status %d: %s", resp.StatusCode, body)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read incidents response: %w", err)
		}
		rows, err = decodeFeed(data)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	c.logger.Info("incident rows fetched", "rows", len(rows))
	return rows, nil
}

// record is the feed schema.
type record struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Status         string       `json:"status"`
	Latitude       float64      `json:"latitude"`
	Longitude      float64      `json:"longitude"`
	StartTime      string       `json:"start_time"`
	ContainmentPct *float64     `json:"containment_pct"`
	Acres          *float64     `json:"acres"`
	Perimeter      [][2]float64 `json:"perimeter"` // [lon, lat] ring
}

func decodeFeed(data []byte) ([]normalize.IncidentRow, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode incidents feed: %w", err)
	}
	rows := make([]normalize.IncidentRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, normalize.IncidentRow{
			ID:             rec.ID,
			Name:           rec.Name,
			Status:         rec.Status,
			Latitude:       rec.Latitude,
			Longitude:      rec.Longitude,
			Perimeter:      rec.Perimeter,
			StartTime:      rec.StartTime,
			ContainmentPct: rec.ContainmentPct,
			Acres:          rec.Acres,
		})
	}
	return rows, nil
}
