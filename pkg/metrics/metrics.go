// Package metrics holds the Prometheus collectors shared by facegate services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SearchDuration prometheus.Histogram
	SearchOutcomes *prometheus.CounterVec
	SlowSearches   prometheus.Counter
	CacheLookups   *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheEntries   *prometheus.GaugeVec
	Fetches        *prometheus.CounterVec
	Comparisons    *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "facegate_search_duration_seconds",
			Help:    "Wall-clock duration of search runs",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1, 2},
		}),
		SearchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_search_outcomes_total",
			Help: "Search runs by terminal state",
		}, []string{"state"}),
		SlowSearches: f.NewCounter(prometheus.CounterOpts{
			Name: "facegate_slow_searches_total",
			Help: "Search runs slower than the slow threshold",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_payload_cache_lookups_total",
			Help: "Payload cache lookups by tier and result",
		}, []string{"tier", "result"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_payload_cache_evictions_total",
			Help: "Persistent tier removals by reason",
		}, []string{"reason"}),
		CacheEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "facegate_payload_cache_entries",
			Help: "Current entries per cache tier",
		}, []string{"tier"}),
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_fetches_total",
			Help: "External payload fetches by result",
		}, []string{"result"}),
		Comparisons: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_comparisons_total",
			Help: "Comparator calls by result",
		}, []string{"result"}),
	}
}

// ObserveSearch records a finished search run.
func (m *Metrics) ObserveSearch(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(d.Seconds())
	m.SearchOutcomes.WithLabelValues(state).Inc()
}

// IncSlowSearch counts a run over the slow threshold.
func (m *Metrics) IncSlowSearch() {
	if m == nil {
		return
	}
	m.SlowSearches.Inc()
}

// CacheLookup counts a lookup against tier ("volatile" or "persistent").
func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, outcome).Inc()
}

// CacheEvicted counts n persistent entries removed for reason ("expired" or "capacity").
func (m *Metrics) CacheEvicted(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheEvictions.WithLabelValues(reason).Add(float64(n))
}

// SetCacheEntries updates the tier size gauges.
func (m *Metrics) SetCacheEntries(volatile, persistent int) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues("volatile").Set(float64(volatile))
	m.CacheEntries.WithLabelValues("persistent").Set(float64(persistent))
}

// Fetch counts an external fetch.
func (m *Metrics) Fetch(ok bool) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result(ok)).Inc()
}

// Compare counts a comparator call.
func (m *Metrics) Compare(ok bool) {
	if m == nil {
		return
	}
	m.Comparisons.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
