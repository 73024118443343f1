// Package metrics exposes Prometheus collectors for the HTTP surface and the
// codec. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors and their registry.
type Metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	transcodeTotal    *prometheus.CounterVec
	transcodeDuration *prometheus.HistogramVec
	transcodeInFlight prometheus.Gauge
	rejectedTotal     *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thumbnail_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "thumbnail_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		transcodeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thumbnail_transcodes_total",
			Help: "Total codec invocations by input kind and outcome.",
		}, []string{"kind", "outcome"}),
		transcodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "thumbnail_transcode_duration_seconds",
			Help:    "Codec invocation latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
		transcodeInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thumbnail_transcodes_in_flight",
			Help: "Codec invocations currently running.",
		}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thumbnail_requests_rejected_total",
			Help: "Thumbnail requests rejected before reaching the codec.",
		}, []string{"reason"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.transcodeTotal,
		m.transcodeDuration,
		m.transcodeInFlight,
		m.rejectedTotal,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTranscode records one finished codec invocation.
func (m *Metrics) ObserveTranscode(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transcodeTotal.WithLabelValues(kind, outcome).Inc()
	m.transcodeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// TranscodeStarted marks a codec invocation as running. The returned
// function marks it finished.
func (m *Metrics) TranscodeStarted() func() {
	if m == nil {
		return func() {}
	}
	m.transcodeInFlight.Inc()
	return m.transcodeInFlight.Dec
}

// ObserveRejected records a request rejected before the codec.
func (m *Metrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

// Middleware records request count and latency per route and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := RouteLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// RouteLabel maps a request path to a bounded label value.
func RouteLabel(path string) string {
	switch path {
	case "/", "/health", "/metrics":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
