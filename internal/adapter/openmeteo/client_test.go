package openmeteo

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwatch/farm-risk-etl/internal/config"
	"github.com/fieldwatch/farm-risk-etl/internal/normalize"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFlattenHourly(t *testing.T) {
	temp1, temp2 := 32.5, 33.1
	wind1 := 18.0

	var payload response
	payload.Latitude = 38.53
	payload.Longitude = -122.88
	payload.Hourly.Time = []string{"2026-08-30T14:00", "2026-08-30T15:00"}
	payload.Hourly.Temperature2M = []*float64{&temp1, &temp2}
	payload.Hourly.WindSpeed10M = []*float64{&wind1} // shorter array: second hour missing

	rows := flattenHourly(payload)
	require.Len(t, rows, 2)

	assert.Equal(t, "2026-08-30T14:00", rows[0].Time)
	assert.Equal(t, 38.53, rows[0].Latitude)
	assert.Equal(t, -122.88, rows[0].Longitude)
	require.NotNil(t, rows[0].Temperature2M)
	assert.Equal(t, 32.5, *rows[0].Temperature2M)
	require.NotNil(t, rows[0].WindSpeed10M)
	assert.Equal(t, 18.0, *rows[0].WindSpeed10M)
	assert.Equal(t, normalize.WindUnitKMH, rows[0].WindUnit)

	assert.Nil(t, rows[1].WindSpeed10M)
	assert.Nil(t, rows[1].RelativeHumidity2M)
}

func TestFetchWeather_JSONL(t *testing.T) {
	t.Run("reads the snapshot schema", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "weather.jsonl")
		content := `{"time":"2026-08-30T14:00:00Z","latitude":38.53,"longitude":-122.88,"temperature_2m":36.0,"relative_humidity_2m":22.0,"wind_speed_10m":25.2,"wind_direction_10m":10.0,"wind_unit":"kmh"}

{"time":"2026-08-30T15:00:00Z","latitude":38.53,"longitude":-122.88,"temperature_2m":37.2}
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		c := NewClient(config.WeatherConfig{JSONLPath: path}, discardLogger())
		rows, err := c.FetchWeather(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, "2026-08-30T14:00:00Z", rows[0].Time)
		require.NotNil(t, rows[0].WindSpeed10M)
		assert.Equal(t, 25.2, *rows[0].WindSpeed10M)
		assert.Equal(t, "kmh", rows[0].WindUnit)

		assert.Nil(t, rows[1].WindSpeed10M)
	})

	t.Run("bad line fails the fetch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "weather.jsonl")
		require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))

		c := NewClient(config.WeatherConfig{JSONLPath: path}, discardLogger())
		_, err := c.FetchWeather(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("missing file fails", func(t *testing.T) {
		c := NewClient(config.WeatherConfig{JSONLPath: filepath.Join(t.TempDir(), "nope.jsonl")}, discardLogger())
		_, err := c.FetchWeather(context.Background(), nil)
		require.Error(t, err)
	})
}

func TestFetchWeather_API(t *testing.T) {
	apiResponse := func(lat, lon float64) map[string]any {
		return map[string]any{
			"latitude":  lat,
			"longitude": lon,
			"hourly": map[string]any{
				"time":                 []string{"2026-08-30T14:00", "2026-08-30T15:00"},
				"temperature_2m":       []float64{32.0, 33.0},
				"relative_humidity_2m": []float64{25.0, 24.0},
				"wind_speed_10m":       []float64{18.0, 21.6},
				"wind_direction_10m":   []float64{350.0, 10.0},
			},
		}
	}

	t.Run("queries each grid point with UTC hourly params", func(t *testing.T) {
		var mu sync.Mutex
		var queries []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			mu.Lock()
			queries = append(queries, q.Get("latitude")+","+q.Get("longitude"))
			mu.Unlock()

			assert.Equal(t, "UTC", q.Get("timezone"))
			assert.Equal(t, hourlyVariables, q.Get("hourly"))
			assert.Equal(t, "2", q.Get("past_days"))
			assert.Equal(t, "1", q.Get("forecast_days"))

			lat, lon := 38.53, -122.88
			require.NoError(t, json.NewEncoder(w).Encode(apiResponse(lat, lon)))
		}))
		defer srv.Close()

		c := NewClient(config.WeatherConfig{
			BaseURL:      srv.URL,
			PastDays:     2,
			ForecastDays: 1,
			Timeout:      5 * time.Second,
		}, discardLogger())

		points := []orb.Point{{-122.88, 38.53}, {-121.50, 37.20}}
		rows, err := c.FetchWeather(context.Background(), points)
		require.NoError(t, err)

		// 2 points x 2 hours.
		assert.Len(t, rows, 4)
		mu.Lock()
		defer mu.Unlock()
		assert.ElementsMatch(t, []string{"38.5300,-122.8800", "37.2000,-121.5000"}, queries)
	})

	t.Run("no points no fetch", func(t *testing.T) {
		c := NewClient(config.WeatherConfig{BaseURL: "http://should-not-be-hit"}, discardLogger())
		rows, err := c.FetchWeather(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("client error fails without retry", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			mu.Unlock()
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer srv.Close()

		c := NewClient(config.WeatherConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, discardLogger())
		_, err := c.FetchWeather(context.Background(), []orb.Point{{-122.88, 38.53}})
		require.Error(t, err)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, calls)
	})
}
