// Package metrics exposes the Prometheus collectors shared by the storechat
// services. Every method is safe to call on a nil *Metrics so components can
// run without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storechat"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	peerCalls    *prometheus.CounterVec
	peerAttempts *prometheus.HistogramVec
	routes       *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		peerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "calls_total",
			Help:      "Outbound peer-service calls by terminal outcome.",
		}, []string{"service", "outcome"}),
		peerAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "attempts",
			Help:      "Attempts spent per outbound peer-service call.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"service"}),
		routes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "routes_total",
			Help:      "Routed chat requests by source type and outcome.",
		}, []string{"source_type", "outcome"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Degraded answers substituted by a pipeline component.",
		}, []string{"component"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Inbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObservePeerCall records the terminal outcome of one peer call.
func (m *Metrics) ObservePeerCall(service, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.peerCalls.WithLabelValues(service, outcome).Inc()
	m.peerAttempts.WithLabelValues(service).Observe(float64(attempts))
}

// ObserveRoute records a resolved chat request.
func (m *Metrics) ObserveRoute(sourceType, outcome string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(sourceType, outcome).Inc()
}

// ObserveFallback records that component substituted a degraded answer.
func (m *Metrics) ObserveFallback(component string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(component).Inc()
}

// ObserveHTTP records one inbound request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
