// Package metrics exposes Prometheus metrics for catalog fetches, filter
// reconciliations, viewer sessions and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry            *prometheus.Registry
	fetches             *prometheus.CounterVec
	reconciles          prometheus.Counter
	sessions            prometheus.Gauge
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a registry with all metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfind",
		Name:      "catalog_fetches_total",
		Help:      "Catalog resource fetches by resource and outcome",
	}, []string{"resource", "outcome"})

	reconciles := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wayfind",
		Name:      "reconciles_total",
		Help:      "Filter reconciliations across all sessions",
	})

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wayfind",
		Name:      "viewer_sessions",
		Help:      "Live viewer sessions",
	})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfind",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests",
	}, []string{"method", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayfind",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})

	registry.MustRegister(
		fetches,
		reconciles,
		sessions,
		httpRequests,
		httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:            registry,
		fetches:             fetches,
		reconciles:          reconciles,
		sessions:            sessions,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
	}
}

// ObserveFetch counts one catalog fetch.
func (m *Metrics) ObserveFetch(resource string, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(resource, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case wayfind.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

// IncReconcile counts one reconciliation.
func (m *Metrics) IncReconcile() {
	if m == nil {
		return
	}
	m.reconciles.Inc()
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// ObserveHTTPRequest records a single request/response cycle. Paths are not
// labeled because session ids would explode cardinality.
func (m *Metrics) ObserveHTTPRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "status": strconv.Itoa(status)}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ wayfind.Recorder = (*Metrics)(nil)
