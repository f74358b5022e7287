package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "", want: slog.LevelInfo},
		{in: "verbose", want: slog.LevelInfo},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, parseLevel(tc.in), "level %q", tc.in)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			logger := NewLogger("warn", format)
			require.NotNil(t, logger)
			assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
			assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
		})
	}
}

func TestNewMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	require.NotNil(t, m)

	// Unregistered metrics are safe to use in parallel test pipelines.
	m.RowsNormalized.WithLabelValues("firms").Add(3)
	m.SourceDegraded.WithLabelValues("weather").Set(1)
	m.FarmHoursScored.Add(48)
	m.StageDuration.WithLabelValues("join").Observe(0.02)

	second := NewMetricsForTesting()
	require.NotNil(t, second, "creating a second instance must not panic on duplicate registration")
}
