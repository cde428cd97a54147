// Package metrics exposes the gateway's Prometheus instruments.
//
// Every Metrics value owns its registry, so tests and multiple servers in one
// process never collide on registration. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "llm_gateway"

// Synthesis outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the gateway instruments.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	ttsRequests   *prometheus.CounterVec
	ttsChunks     prometheus.Counter
	ttsSkipped    prometheus.Counter
	ttsDuration   prometheus.Histogram
	chunkDuration prometheus.Histogram

	upstreamErrors *prometheus.CounterVec
}

// New creates the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ttsRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_requests_total",
			Help:      "Speech synthesis requests by outcome.",
		}, []string{"outcome"}),
		ttsChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_chunks_synthesized_total",
			Help:      "Text chunks synthesized by the XTTS backend.",
		}),
		ttsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_containers_skipped_total",
			Help:      "Malformed audio containers left out of spliced output.",
		}),
		ttsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_synthesis_duration_seconds",
			Help:      "End to end synthesis latency of a request.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		chunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_chunk_duration_seconds",
			Help:      "Latency of a single chunk synthesis call.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}),
		upstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to backend providers.",
		}, []string{"provider"}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveSynthesis records one finished synthesis request.
func (m *Metrics) ObserveSynthesis(outcome string, skipped int, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.ttsRequests.WithLabelValues(outcome).Inc()
	m.ttsSkipped.Add(float64(skipped))
	m.ttsDuration.Observe(elapsed.Seconds())
}

// ObserveChunk records one successful chunk synthesis call.
func (m *Metrics) ObserveChunk(elapsed time.Duration) {
	if m == nil {
		return
	}

	m.ttsChunks.Inc()
	m.chunkDuration.Observe(elapsed.Seconds())
}

// UpstreamError counts a failed call to provider.
func (m *Metrics) UpstreamError(provider string) {
	if m == nil {
		return
	}

	m.upstreamErrors.WithLabelValues(provider).Inc()
}
