package query

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the cache's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	lookups       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	evictions     prometheus.Counter
	entries       prometheus.Gauge
}

// NewMetrics creates the cache collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynasty",
			Subsystem: "query_cache",
			Name:      "lookups_total",
			Help:      "Observer subscriptions by resource family and result (fresh, stale, miss).",
		}, []string{"family", "result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynasty",
			Subsystem: "query_cache",
			Name:      "fetches_total",
			Help:      "Completed fetches by resource family and outcome.",
		}, []string{"family", "outcome"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynasty",
			Subsystem: "query_cache",
			Name:      "invalidations_total",
			Help:      "Entries marked stale by invalidation, by resource family.",
		}, []string{"family"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynasty",
			Subsystem: "query_cache",
			Name:      "evictions_total",
			Help:      "Entries removed after their gc time elapsed unobserved.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dynasty",
			Subsystem: "query_cache",
			Name:      "entries",
			Help:      "Entries currently held by the cache.",
		}),
	}
	reg.MustRegister(m.lookups, m.fetches, m.invalidations, m.evictions, m.entries)
	return m
}

func (m *Metrics) lookup(family, result string) {
	if m != nil {
		m.lookups.WithLabelValues(family, result).Inc()
	}
}

func (m *Metrics) fetched(family string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(family, outcome).Inc()
}

func (m *Metrics) invalidated(family string) {
	if m != nil {
		m.invalidations.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) setEntries(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
