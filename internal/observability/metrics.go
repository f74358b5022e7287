package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for one
// pipeline run. The batch job pushes nothing; counters feed the run summary
// log line and are scrapeable when the process is run under an agent.
type Metrics struct {
	RowsNormalized *prometheus.CounterVec // labels: source
	RowsRejected   *prometheus.CounterVec // labels: source
	SignalsJoined  *prometheus.CounterVec // labels: source
	RowsUnmatched  *prometheus.CounterVec // labels: source
	SourceDegraded *prometheus.GaugeVec   // labels: source

	FarmHoursScored prometheus.Counter
	AlertsPublished prometheus.Counter

	StageDuration *prometheus.HistogramVec // labels: stage
	RunDuration   prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RowsNormalized,
		m.RowsRejected,
		m.SignalsJoined,
		m.RowsUnmatched,
		m.SourceDegraded,
		m.FarmHoursScored,
		m.AlertsPublished,
		m.StageDuration,
		m.RunDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RowsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farm_risk_etl",
			Name:      "rows_normalized_total",
			Help:      "Raw rows successfully normalized, by source.",
		}, []string{"source"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farm_risk_etl",
			Name:      "rows_rejected_total",
			Help:      "Malformed raw rows dropped during normalization, by source.",
		}, []string{"source"}),
		SignalsJoined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farm_risk_etl",
			Name:      "signals_joined_total",
			Help:      "Farm-attributed signals produced by the spatial join, by source.",
		}, []string{"source"}),
		RowsUnmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farm_risk_etl",
			Name:      "rows_unmatched_total",
			Help:      "Normalized records matching zero farms, by source.",
		}, []string{"source"}),
		SourceDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "farm_risk_etl",
			Name:      "source_degraded",
			Help:      "1 when a source failed and the run proceeded with empty data.",
		}, []string{"source"}),
		FarmHoursScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farm_risk_etl",
			Name:      "farm_hours_scored_total",
			Help:      "FarmRiskHourly rows produced.",
		}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farm_risk_etl",
			Name:      "alerts_published_total",
			Help:      "High-risk farm statuses published to the alert topic.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "farm_risk_etl",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "farm_risk_etl",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fusion run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
	}
}
