package score

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwatch/farm-risk-etl/internal/aggregate"
	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// marchHour sits outside the harvest window so crop factors stay at base.
var marchHour = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func wheatFarm() domain.FarmAsset {
	return domain.FarmAsset{FarmID: "farm-001", Name: "South Field", CropType: "wheat"}
}

func emptyFeatures(hour time.Time) aggregate.Features {
	return aggregate.Features{
		FarmID:        "farm-001",
		Hour:          hour,
		MinDistanceKM: math.Inf(1),
	}
}

func TestScore_NoSignals(t *testing.T) {
	s := New(DefaultConfig())
	row := s.Score(wheatFarm(), emptyFeatures(marchHour))

	assert.Zero(t, row.FireProximityScore)
	assert.Zero(t, row.SmokeTransportScore)
	assert.Zero(t, row.HeatStressScore)
	assert.Zero(t, row.CombinedRiskScore)
	assert.Equal(t, domain.RiskLow, row.RiskLevel)
	// All-zero contributions tie-break to fire proximity.
	assert.Equal(t, domain.DriverFireProximity, row.TopDriver)
	assert.Nil(t, row.FIRMSMinDistanceKM)
	assert.Nil(t, row.Temperature2M)
}

func TestScore_FireProximity(t *testing.T) {
	s := New(DefaultConfig())

	t.Run("distance halves the proximity base", func(t *testing.T) {
		f := emptyFeatures(marchHour)
		f.MinDistanceKM = 25 // half the radius
		row := s.Score(wheatFarm(), f)

		assert.InDelta(t, 0.5, row.FireProximityScore, 1e-9)
		assert.Zero(t, row.SmokeTransportScore)
		assert.InDelta(t, 0.45*0.5, row.CombinedRiskScore, 1e-9)
		assert.Equal(t, domain.RiskLow, row.RiskLevel)
		require.NotNil(t, row.FIRMSMinDistanceKM)
		assert.Equal(t, 25.0, *row.FIRMSMinDistanceKM)
	})

	t.Run("frp and count boosts saturate", func(t *testing.T) {
		f := emptyFeatures(marchHour)
		f.MinDistanceKM = 50 // proximity base 0
		f.FRPSum = 400       // past saturation: boost capped at 0.3
		f.FireCountWeighted = 25
		row := s.Score(wheatFarm(), f)

		assert.InDelta(t, 0.5, row.FireProximityScore, 1e-9)
	})

	t.Run("sub-score clamps at one", func(t *testing.T) {
		f := emptyFeatures(marchHour)
		f.MinDistanceKM = 0
		f.FRPSum = 500
		f.FireCountWeighted = 50
		row := s.Score(wheatFarm(), f)

		assert.Equal(t, 1.0, row.FireProximityScore)
	})
}

func TestScore_SmokeTransport(t *testing.T) {
	s := New(DefaultConfig())

	base := func() aggregate.Features {
		f := emptyFeatures(marchHour)
		f.MinDistanceKM = 0 // proximity base 1
		f.NearestFireBearingDeg = 90
		f.WindSpeedMPS = ptr(12) // at saturation
		return f
	}

	t.Run("aligned wind carries full transport", func(t *testing.T) {
		f := base()
		f.WindDirectionDeg = ptr(270) // from the west: travel 90, toward the farm
		row := s.Score(wheatFarm(), f)
		assert.InDelta(t, 1.0, row.SmokeTransportScore, 1e-9)
	})

	t.Run("opposed wind zeroes transport", func(t *testing.T) {
		f := base()
		f.WindDirectionDeg = ptr(90) // travel 270, directly away
		row := s.Score(wheatFarm(), f)
		assert.Zero(t, row.SmokeTransportScore)
	})

	t.Run("perpendicular wind zeroes transport", func(t *testing.T) {
		f := base()
		f.WindDirectionDeg = ptr(180) // travel 0, perpendicular to bearing 90
		row := s.Score(wheatFarm(), f)
		assert.InDelta(t, 0, row.SmokeTransportScore, 1e-9)
	})

	t.Run("missing wind zeroes transport", func(t *testing.T) {
		f := base()
		f.WindSpeedMPS = nil
		f.WindDirectionDeg = ptr(270)
		row := s.Score(wheatFarm(), f)
		assert.Zero(t, row.SmokeTransportScore)
	})

	t.Run("no fire in window zeroes transport despite wind", func(t *testing.T) {
		f := base()
		f.MinDistanceKM = math.Inf(1)
		f.WindDirectionDeg = ptr(270)
		row := s.Score(wheatFarm(), f)
		assert.Zero(t, row.SmokeTransportScore)
	})
}

func TestScore_HeatStress(t *testing.T) {
	s := New(DefaultConfig())

	heatAt := func(tempC, rh, persistence float64) float64 {
		f := emptyFeatures(marchHour)
		f.TemperatureC = ptr(tempC)
		f.RelativeHumidity = ptr(rh)
		f.HeatPersistence = persistence
		return s.Score(wheatFarm(), f).HeatStressScore
	}

	t.Run("hot and dry with full persistence", func(t *testing.T) {
		// (42-30)/12 = 1, (60-20)/40 = 1, persistence factor 1.0
		assert.InDelta(t, 1.0, heatAt(42, 20, 1), 1e-9)
	})

	t.Run("persistence scales the floor", func(t *testing.T) {
		// Same conditions, no persistence: factor 0.7.
		assert.InDelta(t, 0.7, heatAt(42, 20, 0), 1e-9)
	})

	t.Run("cool temperature zeroes heat", func(t *testing.T) {
		assert.Zero(t, heatAt(25, 20, 1))
	})

	t.Run("humid air zeroes heat", func(t *testing.T) {
		assert.Zero(t, heatAt(42, 70, 1))
	})

	t.Run("missing humidity zeroes heat", func(t *testing.T) {
		f := emptyFeatures(marchHour)
		f.TemperatureC = ptr(42)
		assert.Zero(t, s.Score(wheatFarm(), f).HeatStressScore)
	})
}

func TestScore_Scenarios(t *testing.T) {
	s := New(DefaultConfig())

	t.Run("active fire nearby under hot dry aligned wind scores high", func(t *testing.T) {
		harvest := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
		farm := domain.FarmAsset{FarmID: "farm-001", Name: "North Vineyard", CropType: "grape"}

		f := emptyFeatures(harvest)
		f.MinDistanceKM = 3
		f.FireCountWeighted = 5
		f.RawFireCount = 4
		f.FRPSum = 120
		f.NearestFireBearingDeg = 45
		f.TemperatureC = ptr(38)
		f.RelativeHumidity = ptr(20)
		f.WindSpeedMPS = ptr(9)
		f.WindDirectionDeg = ptr(225) // from the southwest: travel 45, dead on
		f.HeatPersistence = 1

		row := s.Score(farm, f)
		assert.Equal(t, 1.0, row.FireProximityScore)
		assert.InDelta(t, 0.705, row.SmokeTransportScore, 1e-3)
		assert.InDelta(t, 0.667, row.HeatStressScore, 1e-3)
		assert.GreaterOrEqual(t, row.CombinedRiskScore, domain.RiskHighThreshold)
		assert.LessOrEqual(t, row.CombinedRiskScore, 1.0)
		assert.Equal(t, domain.RiskHigh, row.RiskLevel)
		assert.Equal(t, domain.DriverFireProximity, row.TopDriver)
	})

	t.Run("quiet hour scores low", func(t *testing.T) {
		farm := wheatFarm()
		f := emptyFeatures(marchHour)
		f.TemperatureC = ptr(22)
		f.RelativeHumidity = ptr(55)
		f.WindSpeedMPS = ptr(3)
		f.WindDirectionDeg = ptr(180)

		row := s.Score(farm, f)
		assert.Zero(t, row.CombinedRiskScore)
		assert.Equal(t, domain.RiskLow, row.RiskLevel)
	})

	t.Run("distant smolder scores medium", func(t *testing.T) {
		farm := wheatFarm()
		f := emptyFeatures(marchHour)
		f.MinDistanceKM = 10
		f.FireCountWeighted = 1
		f.FRPSum = 8
		f.NearestFireBearingDeg = 0
		f.TemperatureC = ptr(33)
		f.RelativeHumidity = ptr(35)
		f.WindSpeedMPS = ptr(5)
		f.WindDirectionDeg = ptr(180) // travel 0, aligned
		f.HeatPersistence = 0.5

		row := s.Score(farm, f)
		assert.Equal(t, domain.RiskMedium, row.RiskLevel)
		assert.GreaterOrEqual(t, row.CombinedRiskScore, domain.RiskMediumThreshold)
		assert.Less(t, row.CombinedRiskScore, domain.RiskHighThreshold)
	})
}

func TestTopDriver(t *testing.T) {
	s := New(DefaultConfig())

	t.Run("weighted contribution decides", func(t *testing.T) {
		// Heat 1.0 weighted 0.25 beats fire 0.5 weighted 0.45 (0.25 > 0.225).
		f := emptyFeatures(marchHour)
		f.MinDistanceKM = 25 // fire 0.5, contribution 0.225
		f.TemperatureC = ptr(42)
		f.RelativeHumidity = ptr(20)
		f.HeatPersistence = 1 // heat 1.0, contribution 0.25
		row := s.Score(wheatFarm(), f)
		assert.Equal(t, domain.DriverHeatStress, row.TopDriver)
	})

	t.Run("fire wins exact ties", func(t *testing.T) {
		row := s.Score(wheatFarm(), emptyFeatures(marchHour))
		assert.Equal(t, domain.DriverFireProximity, row.TopDriver)
	})
}

func TestCropFactor(t *testing.T) {
	tests := []struct {
		name  string
		crop  string
		month time.Month
		want  float64
	}{
		{name: "grape base", crop: "grape", month: time.March, want: 1.15},
		{name: "grapes alias", crop: "grapes", month: time.March, want: 1.15},
		{name: "vineyard alias", crop: "Vineyard", month: time.March, want: 1.15},
		{name: "almond base", crop: "almond", month: time.March, want: 1.05},
		{name: "walnut alias", crop: "walnut", month: time.March, want: 1.05},
		{name: "unknown crop neutral", crop: "wheat", month: time.March, want: 1.0},
		{name: "empty crop neutral", crop: "", month: time.March, want: 1.0},
		{name: "harvest boost august", crop: "wheat", month: time.August, want: 1.05},
		{name: "harvest boost october", crop: "grape", month: time.October, want: 1.15 * 1.05},
		{name: "no boost november", crop: "grape", month: time.November, want: 1.15},
		{name: "whitespace trimmed", crop: "  grape  ", month: time.March, want: 1.15},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, CropFactor(tc.crop, tc.month), 1e-9)
		})
	}
}

func TestRiskHint(t *testing.T) {
	tests := []struct {
		name       string
		frp        float64
		confidence float64
		want       string
	}{
		{name: "intense confident detection", frp: 25, confidence: 1.0, want: domain.RiskHigh},
		{name: "strong frp alone reaches medium", frp: 20, confidence: 0, want: domain.RiskMedium},
		{name: "confidence alone reaches medium", frp: 0, confidence: 1.0, want: domain.RiskMedium},
		{name: "weak detection is low", frp: 2, confidence: 0.3, want: domain.RiskLow},
		{name: "zero everything is low", frp: 0, confidence: 0, want: domain.RiskLow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RiskHint(tc.frp, tc.confidence))
		})
	}
}

func TestAngleDiff(t *testing.T) {
	assert.InDelta(t, 0, angleDiff(45, 45), 1e-9)
	assert.InDelta(t, 180, angleDiff(0, 180), 1e-9)
	assert.InDelta(t, 20, angleDiff(350, 10), 1e-9)
	assert.InDelta(t, 90, angleDiff(0, 270), 1e-9)
}
