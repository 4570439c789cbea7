// Package metrics exports cache and source activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/briangreenhill/roomwatch/cache"
)

// Metrics implements cache.Observer and records per-facility fetches
type Metrics struct {
	lookups      *prometheus.CounterVec
	populate     *prometheus.HistogramVec
	populateErrs *prometheus.CounterVec
	fetch        *prometheus.HistogramVec
	faults       *prometheus.CounterVec
	degraded     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomwatch_cache_lookups_total",
			Help: "Cache lookups by cache and outcome (hit, miss, deduped).",
		}, []string{"cache", "outcome"}),
		populate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomwatch_cache_populate_seconds",
			Help:    "Time taken by cache populations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"cache"}),
		populateErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomwatch_cache_populate_errors_total",
			Help: "Cache populations that returned an error.",
		}, []string{"cache"}),
		fetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomwatch_source_fetch_seconds",
			Help:    "Upstream fetch duration per facility.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"facility"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomwatch_source_faults_total",
			Help: "Upstream fetches that degraded a facility, by fault kind.",
		}, []string{"facility", "kind"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomwatch_facility_degraded",
			Help: "1 when the facility's latest fetch failed.",
		}, []string{"facility"}),
	}
	reg.MustRegister(m.lookups, m.populate, m.populateErrs, m.fetch, m.faults, m.degraded)
	return m
}

func (m *Metrics) ObserveLookup(name string, outcome cache.Outcome) {
	m.lookups.WithLabelValues(name, string(outcome)).Inc()
}

func (m *Metrics) ObservePopulate(name string, took time.Duration, err error) {
	m.populate.WithLabelValues(name).Observe(took.Seconds())
	if err != nil {
		m.populateErrs.WithLabelValues(name).Inc()
	}
}

// ObserveFetch records one source fetch. faultKind is empty on success.
func (m *Metrics) ObserveFetch(facility string, took time.Duration, faultKind string) {
	m.fetch.WithLabelValues(facility).Observe(took.Seconds())
	if faultKind == "" {
		m.degraded.WithLabelValues(facility).Set(0)
		return
	}
	m.faults.WithLabelValues(facility, faultKind).Inc()
	m.degraded.WithLabelValues(facility).Set(1)
}
