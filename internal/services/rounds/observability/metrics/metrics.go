// Package metrics exposes round-engine counters and timings on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "partyround"

// Resolution outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeEnded    = "ended"
	OutcomeLost     = "lost_race"
	OutcomeFailed   = "failed"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	resolutions       *prometheus.CounterVec
	resolutionSeconds prometheus.Histogram
	rejections        *prometheus.CounterVec
	cacheHits         prometheus.Counter
}

// New registers the engine collectors, plus Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolution passes by ruleset and outcome.",
		}, []string{"ruleset", "outcome"}),
		resolutionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_seconds",
			Help:      "Time spent loading, resolving and committing one round.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_rejected_total",
			Help:      "Action submissions rejected at intake by reason.",
		}, []string{"reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Resolve calls answered from a stored resolution.",
		}),
	}
	m.registry.MustRegister(
		m.resolutions,
		m.resolutionSeconds,
		m.rejections,
		m.cacheHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveResolution records one resolve attempt.
func (m *Metrics) ObserveResolution(ruleset, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(ruleset, outcome).Inc()
	m.resolutionSeconds.Observe(elapsed.Seconds())
}

// RejectedSubmission counts one intake rejection.
func (m *Metrics) RejectedSubmission(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// CacheHit counts one resolve answered from storage.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}
