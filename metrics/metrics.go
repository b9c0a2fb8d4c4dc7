// Package metrics defines the relay's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analysis outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Analysis kinds
const (
	KindVision = "vision"
	KindBatch  = "batch"
	KindText   = "text"
)

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	// Session metrics
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	// Upstream metrics
	FramesForwarded  prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	KeepAlives       prometheus.Counter
	UpstreamFailures prometheus.Counter
	Transcripts      *prometheus.CounterVec

	// Analysis adapter metrics
	Analyses         *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of open session pairs",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of session pairs created",
		}, []string{"mode"}),

		FramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_frames_forwarded_total",
			Help: "Total number of client frames forwarded upstream",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_frames_dropped_total",
			Help: "Total number of client frames not forwarded upstream",
		}, []string{"reason"}),
		KeepAlives: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_keepalives_total",
			Help: "Total number of keep-alive frames sent upstream",
		}),
		UpstreamFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_connect_failures_total",
			Help: "Total number of failed upstream connection attempts",
		}),
		Transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_transcripts_total",
			Help: "Total number of transcription envelopes sent to clients",
		}, []string{"final"}),

		Analyses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_analyses_total",
			Help: "Total number of analysis adapter calls by kind and outcome",
		}, []string{"kind", "outcome"}),
		AnalysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_analysis_duration_seconds",
			Help:    "Duration of analysis adapter calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"kind"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"path", "code"}),
	}
}
