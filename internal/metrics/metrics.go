// Package metrics holds the Prometheus collectors exported on /metrics.
// Collectors are registered once on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analysis outcomes recorded on AnalysisRuns.
const (
	OutcomeCached    = "cached"
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeConflict  = "conflict"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.9:  0.01,
				0.95: 0.005,
				0.99: 0.001,
			},
		},
		[]string{"method", "path", "status_code"},
	)

	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_analysis_runs_total",
			Help: "Analysis attempts by outcome",
		},
		[]string{"outcome"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_analysis_duration_seconds",
			Help:    "Wall time of analysis attempts that reached the model",
			Buckets: []float64{1, 5, 10, 20, 40, 60, 120, 300, 600},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_analysis_queue_depth",
			Help: "Analysis jobs waiting for a worker",
		},
	)

	ChatStreams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_chat_streams_total",
			Help: "Chat streams by outcome",
		},
		[]string{"outcome"},
	)
)
