// Package metrics exposes Prometheus instrumentation for identity
// resolution and the HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"contactlink/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contactlink"

// Metrics holds every collector of the service. Collectors are registered on
// the registry passed to New, so tests can use a private registry.
type Metrics struct {
	// ResolutionsTotal counts Resolve calls.
	// Labels: outcome (matched, created_primary, attached_secondary, merged, none),
	// result (ok, invalid_input, data_integrity, conflict, store_error)
	ResolutionsTotal *prometheus.CounterVec

	// ResolutionDuration measures time spent inside the resolver.
	// Labels: result
	ResolutionDuration *prometheus.HistogramVec

	// LookupsTotal counts read-only Lookup calls.
	// Labels: result
	LookupsTotal *prometheus.CounterVec

	// LookupDuration measures time spent serving one Lookup.
	LookupDuration prometheus.Histogram

	// RetriesTotal counts retried Resolve attempts after store conflicts.
	RetriesTotal prometheus.Counter

	// HTTPRequestsTotal counts HTTP requests by route and status code.
	HTTPRequestsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Identity resolutions by outcome and result.",
		}, []string{"outcome", "result"}),
		ResolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolution_duration_seconds",
			Help:      "Time spent resolving one observation.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"result"}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Cluster lookups by result.",
		}, []string{"result"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "lookup_duration_seconds",
			Help:      "Time spent looking up one cluster.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "retries_total",
			Help:      "Resolve attempts retried after a store conflict.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		gatherer: reg,
	}
	reg.MustRegister(m.ResolutionsTotal, m.ResolutionDuration, m.LookupsTotal, m.LookupDuration, m.RetriesTotal, m.HTTPRequestsTotal)
	return m
}

// RecordResolution implements service.Recorder.
func (m *Metrics) RecordResolution(outcome models.Outcome, result string, elapsed time.Duration) {
	label := string(outcome)
	if label == "" {
		label = "none"
	}
	m.ResolutionsTotal.WithLabelValues(label, result).Inc()
	m.ResolutionDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// RecordLookup implements service.Recorder.
func (m *Metrics) RecordLookup(result string, elapsed time.Duration) {
	m.LookupsTotal.WithLabelValues(result).Inc()
	m.LookupDuration.Observe(elapsed.Seconds())
}

// RecordRetry counts one retried attempt.
func (m *Metrics) RecordRetry() {
	m.RetriesTotal.Inc()
}

// RecordRequest counts one HTTP response.
func (m *Metrics) RecordRequest(route string, code int) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
