// Package openmeteo fetches hourly weather from the Open-Meteo forecast API
// (or a pre-fetched JSONL snapshot), one query per deduplicated grid point.
package openmeteo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/paulmach/orb"

	"github.com/fieldwatch/farm-risk-etl/internal/config"
	"github.com/fieldwatch/farm-risk-etl/internal/normalize"
)

const (
	hourlyVariables = "temperature_2m,relative_humidity_2m,wind_speed_10m,wind_direction_10m"

	// fetchConcurrency bounds simultaneous API queries across grid points.
	fetchConcurrency = 4

	fetchRetries = 3
)

// Client fetches hourly weather series.
type Client struct {
	cfg        config.WeatherConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo client from configuration.
func NewClient(cfg config.WeatherConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// FetchWeather implements pipeline.WeatherSource. A configured JSONL path
// wins over the API; in API mode each grid point is queried separately and
// a single point failing fails the whole fetch, degrading the source.
func (c *Client) FetchWeather(ctx context.Context, points []orb.Point) ([]normalize.WeatherRow, error) {
	if c.cfg.JSONLPath != "" {
		return c.fromFile()
	}
	if len(points) == 0 {
		return nil, nil
	}

	pool := pond.NewResultPool[[]normalize.WeatherRow](fetchConcurrency)
	group := pool.NewGroupContext(ctx)
	for _, point := range points {
		point := point
		group.SubmitErr(func() ([]normalize.WeatherRow, error) {
			return c.fetchPoint(ctx, point)
		})
	}
	results, err := group.Wait()
	if err != nil {
		return nil, err
	}

	var rows []normalize.WeatherRow
	for _, chunk := range results {
		rows = append(rows, chunk...)
	}
	c.logger.Info("weather rows fetched", "grid_points", len(points), "rows", len(rows))
	return rows, nil
}

func (c *Client) fromFile() ([]normalize.WeatherRow, error) {
	f, err := os.Open(c.cfg.JSONLPath)
	if err != nil {
		return nil, fmt.Errorf("open weather JSONL: %w", err)
	}
	defer f.Close()

	var rows []normalize.WeatherRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var row jsonlRow
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("decode weather JSONL line %d: %w", line, err)
		}
		rows = append(rows, normalize.WeatherRow{
			Time:               row.Time,
			Latitude:           row.Latitude,
			Longitude:          row.Longitude,
			Temperature2M:      row.Temperature2M,
			RelativeHumidity2M: row.RelativeHumidity2M,
			WindSpeed10M:       row.WindSpeed10M,
			WindDirection10M:   row.WindDirection10M,
			WindUnit:           row.WindUnit,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read weather JSONL: %w", err)
	}
	return rows, nil
}

// jsonlRow is the snapshot file schema, as written by the extract-weather
// subcommand.
type jsonlRow struct {
	Time               string   `json:"time"`
	Latitude           float64  `json:"latitude"`
	Longitude          float64  `json:"longitude"`
	Temperature2M      *float64 `json:"temperature_2m"`
	RelativeHumidity2M *float64 `json:"relative_humidity_2m"`
	WindSpeed10M       *float64 `json:"wind_speed_10m"`
	WindDirection10M   *float64 `json:"wind_direction_10m"`
	WindUnit           string   `json:"wind_unit,omitempty"`
}

func (c *Client) fetchPoint(ctx context.Context, point orb.Point) ([]normalize.WeatherRow, error) {
	params := url.Values{
		"latitude":      {strconv.FormatFloat(point.Lat(), 'f', 4, 64)},
		"longitude":     {strconv.FormatFloat(point.Lon(), 'f', 4, 64)},
		"hourly":        {hourlyVariables},
		"timezone":      {"UTC"},
		"past_days":     {strconv.Itoa(c.cfg.PastDays)},
		"forecast_days": {strconv.Itoa(c.cfg.ForecastDays)},
	}
	fetchURL := c.cfg.BaseURL + "?" + params.Encode()

	var payload response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create weather request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("weather request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("open-meteo status %d: %s", resp.StatusCode, body)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(fmt.Errorf("decode weather response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	return flattenHourly(payload), nil
}

// Open-Meteo response: parallel arrays under "hourly", one entry per hour.
type response struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time             []string   `json:"time"`
		Temperature2M    []*float64 `json:"temperature_2m"`
		RelativeHumidity []*float64 `json:"relative_humidity_2m"`
		WindSpeed10M     []*float64 `json:"wind_speed_10m"`
		WindDirection10M []*float64 `json:"wind_direction_10m"`
	} `json:"hourly"`
}

// flattenHourly turns the parallel arrays into one row per hour. Open-Meteo
// reports wind in km/h unless asked otherwise; the normalizer converts.
func flattenHourly(payload response) []normalize.WeatherRow {
	rows := make([]normalize.WeatherRow, 0, len(payload.Hourly.Time))
	at := func(vals []*float64, i int) *float64 {
		if i < len(vals) {
			return vals[i]
		}
		return nil
	}
	for i, t := range payload.Hourly.Time {
		rows = append(rows, normalize.WeatherRow{
			Time:               t,
			Latitude:           payload.Latitude,
			Longitude:          payload.Longitude,
			Temperature2M:      at(payload.Hourly.Temperature2M, i),
			RelativeHumidity2M: at(payload.Hourly.RelativeHumidity, i),
			WindSpeed10M:       at(payload.Hourly.WindSpeed10M, i),
			WindDirection10M:   at(payload.Hourly.WindDirection10M, i),
			WindUnit:           normalize.WindUnitKMH,
		})
	}
	return rows
}
