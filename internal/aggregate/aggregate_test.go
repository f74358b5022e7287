package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
	"github.com/fieldwatch/farm-risk-etl/internal/spatial"
)

var bucketHour = time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func signalAt(acquired time.Time, confidence, frp, distKM float64) spatial.DetectionSignal {
	return spatial.DetectionSignal{
		FarmID: "farm-001",
		Detection: domain.FireDetection{
			ID:         "fire-test",
			AcquiredAt: acquired,
			Confidence: confidence,
			FRP:        frp,
		},
		DistanceKM: distKM,
		BearingDeg: 45,
	}
}

func obsAt(at time.Time, tempC float64) domain.WeatherObservation {
	return domain.WeatherObservation{
		GridCellID:   "cell_test",
		Time:         at,
		TemperatureC: ptr(tempC),
	}
}

func TestFarmHour_FireWindow(t *testing.T) {
	agg := New(DefaultConfig())

	t.Run("window is inclusive at both ends", func(t *testing.T) {
		windowStart := bucketHour.Add(-24 * time.Hour)
		signals := []spatial.DetectionSignal{
			signalAt(windowStart.Add(-time.Second), 0.9, 10, 5), // just outside: excluded
			signalAt(windowStart, 0.9, 10, 5),                   // exactly 24h old: included
			signalAt(bucketHour, 0.9, 10, 3),                    // at the bucket hour: included
			signalAt(bucketHour.Add(time.Second), 0.9, 10, 1),   // future: excluded
			signalAt(bucketHour.Add(-12*time.Hour), 0.9, 10, 8), // mid-window
		}

		f := agg.FarmHour("farm-001", bucketHour, signals, nil, nil)
		assert.Equal(t, 3, f.RawFireCount)
		assert.Equal(t, 3.0, f.MinDistanceKM)
	})

	t.Run("detection exactly one window old still counts", func(t *testing.T) {
		boundary := signalAt(bucketHour.Add(-24*time.Hour), 0.9, 10, 5)
		f := agg.FarmHour("farm-001", bucketHour, []spatial.DetectionSignal{boundary}, nil, nil)
		assert.Equal(t, 1, f.RawFireCount)
		assert.Equal(t, 5.0, f.MinDistanceKM)
	})

	t.Run("no detections leaves +Inf distance sentinel", func(t *testing.T) {
		f := agg.FarmHour("farm-001", bucketHour, nil, nil, nil)
		assert.True(t, math.IsInf(f.MinDistanceKM, 1))
		assert.Zero(t, f.RawFireCount)
		assert.Zero(t, f.FireCountWeighted)
		assert.Zero(t, f.FRPSum)
	})

	t.Run("confidence bands weight the count", func(t *testing.T) {
		signals := []spatial.DetectionSignal{
			signalAt(bucketHour.Add(-time.Hour), 0.20, 5, 10), // low: 0.5
			signalAt(bucketHour.Add(-time.Hour), 0.39, 5, 10), // low boundary: 0.5
			signalAt(bucketHour.Add(-time.Hour), 0.40, 5, 10), // nominal at band edge: 1.0
			signalAt(bucketHour.Add(-time.Hour), 0.74, 5, 10), // nominal: 1.0
			signalAt(bucketHour.Add(-time.Hour), 0.75, 5, 10), // high at band edge: 1.5
			signalAt(bucketHour.Add(-time.Hour), 1.00, 5, 10), // high: 1.5
		}

		f := agg.FarmHour("farm-001", bucketHour, signals, nil, nil)
		assert.Equal(t, 6, f.RawFireCount)
		assert.InDelta(t, 6.0, f.FireCountWeighted, 1e-9)
		assert.InDelta(t, 30.0, f.FRPSum, 1e-9)
	})

	t.Run("nearest detection sets bearing", func(t *testing.T) {
		near := signalAt(bucketHour.Add(-time.Hour), 0.9, 10, 2)
		near.BearingDeg = 135
		far := signalAt(bucketHour.Add(-time.Hour), 0.9, 10, 20)
		far.BearingDeg = 300

		f := agg.FarmHour("farm-001", bucketHour, []spatial.DetectionSignal{far, near}, nil, nil)
		assert.Equal(t, 2.0, f.MinDistanceKM)
		assert.Equal(t, 135.0, f.NearestFireBearingDeg)
	})
}

func TestFarmHour_Weather(t *testing.T) {
	agg := New(DefaultConfig())

	t.Run("snaps to observation within tolerance", func(t *testing.T) {
		series := []domain.WeatherObservation{
			obsAt(bucketHour.Add(-30*time.Minute), 33.0),
			obsAt(bucketHour.Add(4*time.Hour), 20.0),
		}
		f := agg.FarmHour("farm-001", bucketHour, nil, series, nil)
		require.NotNil(t, f.TemperatureC)
		assert.Equal(t, 33.0, *f.TemperatureC)
	})

	t.Run("interpolates between out-of-tolerance brackets", func(t *testing.T) {
		series := []domain.WeatherObservation{
			obsAt(bucketHour.Add(-2*time.Hour), 30.0),
			obsAt(bucketHour.Add(2*time.Hour), 34.0),
		}
		f := agg.FarmHour("farm-001", bucketHour, nil, series, nil)
		require.NotNil(t, f.TemperatureC)
		assert.InDelta(t, 32.0, *f.TemperatureC, 1e-9)
	})

	t.Run("one-sided stale observation is kept", func(t *testing.T) {
		series := []domain.WeatherObservation{
			obsAt(bucketHour.Add(-5*time.Hour), 28.0),
		}
		f := agg.FarmHour("farm-001", bucketHour, nil, series, nil)
		require.NotNil(t, f.TemperatureC)
		assert.Equal(t, 28.0, *f.TemperatureC)
	})

	t.Run("empty series leaves weather nil", func(t *testing.T) {
		f := agg.FarmHour("farm-001", bucketHour, nil, nil, nil)
		assert.Nil(t, f.TemperatureC)
		assert.Nil(t, f.RelativeHumidity)
		assert.Nil(t, f.WindSpeedMPS)
		assert.Nil(t, f.WindDirectionDeg)
	})

	t.Run("wind direction interpolates along the shorter arc", func(t *testing.T) {
		lo := domain.WeatherObservation{Time: bucketHour.Add(-2 * time.Hour), WindDirectionDeg: ptr(350)}
		hi := domain.WeatherObservation{Time: bucketHour.Add(2 * time.Hour), WindDirectionDeg: ptr(10)}

		f := agg.FarmHour("farm-001", bucketHour, nil, []domain.WeatherObservation{lo, hi}, nil)
		require.NotNil(t, f.WindDirectionDeg)
		dir := *f.WindDirectionDeg
		if dir > 180 {
			dir -= 360
		}
		assert.InDelta(t, 0, dir, 1e-9)
	})

	t.Run("heat persistence counts threshold hours in the trailing window", func(t *testing.T) {
		series := []domain.WeatherObservation{
			obsAt(bucketHour.Add(-7*time.Hour), 40.0), // outside the 6h window
			obsAt(bucketHour.Add(-5*time.Hour), 31.0), // hot
			obsAt(bucketHour.Add(-3*time.Hour), 29.0), // not hot
			obsAt(bucketHour.Add(-1*time.Hour), 30.0), // exactly at threshold: hot
			obsAt(bucketHour, 35.0),                   // at the hour: included, hot
		}
		f := agg.FarmHour("farm-001", bucketHour, nil, series, nil)
		assert.InDelta(t, 0.75, f.HeatPersistence, 1e-9)
	})

	t.Run("heat persistence includes the window start", func(t *testing.T) {
		series := []domain.WeatherObservation{
			obsAt(bucketHour.Add(-6*time.Hour), 31.0), // exactly 6h old: hot
			obsAt(bucketHour.Add(-3*time.Hour), 29.0), // not hot
		}
		f := agg.FarmHour("farm-001", bucketHour, nil, series, nil)
		assert.InDelta(t, 0.5, f.HeatPersistence, 1e-9)
	})
}

func TestFarmHour_Incidents(t *testing.T) {
	agg := New(DefaultConfig())

	incident := func(id, status string, start time.Time, distKM, containment float64) spatial.IncidentSignal {
		return spatial.IncidentSignal{
			FarmID: "farm-001",
			Incident: domain.FireIncident{
				IncidentID:     id,
				Status:         status,
				StartTime:      start,
				ContainmentPct: containment,
			},
			DistanceKM: distKM,
		}
	}

	t.Run("threat decays with distance and containment", func(t *testing.T) {
		start := bucketHour.Add(-48 * time.Hour)
		f := agg.FarmHour("farm-001", bucketHour, nil, nil, []spatial.IncidentSignal{
			incident("inc-1", domain.IncidentActive, start, 60, 50), // (1-0.5)*(1-0.5) = 0.25
		})
		require.NotNil(t, f.NearestIncidentKM)
		assert.Equal(t, 60.0, *f.NearestIncidentKM)
		assert.InDelta(t, 0.25, f.IncidentThreat, 1e-9)
		require.NotNil(t, f.DaysSinceIncident)
		assert.InDelta(t, 2.0, *f.DaysSinceIncident, 1e-9)
	})

	t.Run("max threat wins, nearest distance wins", func(t *testing.T) {
		start := bucketHour.Add(-24 * time.Hour)
		f := agg.FarmHour("farm-001", bucketHour, nil, nil, []spatial.IncidentSignal{
			incident("inc-near", domain.IncidentActive, start, 10, 90), // threat ~0.092
			incident("inc-hot", domain.IncidentActive, start, 30, 0),   // threat 0.75
		})
		require.NotNil(t, f.NearestIncidentKM)
		assert.Equal(t, 10.0, *f.NearestIncidentKM)
		assert.InDelta(t, 0.75, f.IncidentThreat, 1e-9)
	})

	t.Run("inactive and future incidents are ignored", func(t *testing.T) {
		f := agg.FarmHour("farm-001", bucketHour, nil, nil, []spatial.IncidentSignal{
			incident("inc-out", domain.IncidentOut, bucketHour.Add(-48*time.Hour), 10, 0),
			incident("inc-contained", domain.IncidentContained, bucketHour.Add(-48*time.Hour), 10, 80),
			incident("inc-future", domain.IncidentActive, bucketHour.Add(2*time.Hour), 10, 0),
		})
		assert.Nil(t, f.NearestIncidentKM)
		assert.Zero(t, f.IncidentThreat)
		assert.Nil(t, f.DaysSinceIncident)
	})

	t.Run("beyond decay radius contributes no threat", func(t *testing.T) {
		f := agg.FarmHour("farm-001", bucketHour, nil, nil, []spatial.IncidentSignal{
			incident("inc-far", domain.IncidentActive, bucketHour.Add(-24*time.Hour), 150, 0),
		})
		require.NotNil(t, f.NearestIncidentKM)
		assert.Zero(t, f.IncidentThreat)
	})
}

func TestFarmHour_NormalizesHour(t *testing.T) {
	agg := New(DefaultConfig())
	loc := time.FixedZone("PDT", -7*3600)
	local := time.Date(2026, 8, 30, 7, 25, 13, 0, loc) // 14:25:13 UTC

	f := agg.FarmHour("farm-001", local, nil, nil, nil)
	assert.Equal(t, bucketHour, f.Hour)
	assert.Equal(t, time.UTC, f.Hour.Location())
}
