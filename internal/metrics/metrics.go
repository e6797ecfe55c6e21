// Package metrics exposes benchmark progress as prometheus metrics. Each
// Recorder owns its registry so concurrent runs never share series.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"llm-stream-bench/internal/types"
)

// Recorder collects request metrics for one or more runs. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ttft            *prometheus.HistogramVec
	outputTokens    *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_requests_total",
				Help: "Total number of benchmark requests by context size and status",
			},
			[]string{"context_size", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmbench_request_duration_seconds",
				Help:    "End-to-end duration of benchmark requests",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
			},
			[]string{"context_size", "status"},
		),

		ttft: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmbench_time_to_first_token_seconds",
				Help:    "Time from send to the first token event",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"context_size"},
		),

		outputTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_output_tokens_total",
				Help: "Token events received, including those of failed requests",
			},
			[]string{"context_size"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "llmbench_requests_in_flight",
				Help: "Requests currently being executed",
			},
		),
	}

	r.registry.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.ttft,
		r.outputTokens,
		r.inFlight,
	)

	return r
}

// Registry returns the registry backing the recorder
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RequestStarted marks a request as in flight
func (r *Recorder) RequestStarted() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

// RequestFinished records a completed request and releases its in-flight slot
func (r *Recorder) RequestFinished(contextSize string, result types.RequestResult) {
	if r == nil {
		return
	}
	r.inFlight.Dec()

	status := string(result.Status)
	r.requestsTotal.WithLabelValues(contextSize, status).Inc()
	r.requestDuration.WithLabelValues(contextSize, status).Observe(result.Duration().Seconds())
	if ttft, ok := result.TTFT(); ok && result.Succeeded() {
		r.ttft.WithLabelValues(contextSize).Observe(ttft.Seconds())
	}
	r.outputTokens.WithLabelValues(contextSize).Add(float64(result.OutputTokens))
}

// WriteTextfile writes the current metrics in the text exposition format, for
// pickup by a node exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
