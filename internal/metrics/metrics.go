// Package metrics wires github.com/prometheus/client_golang into the
// scoreboard, backing the /metrics endpoint. The counters shown at /health
// and /cache/stats come from the cache's own Stats, not from this registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the scoreboard registers.
type Metrics struct {
	Registry *prometheus.Registry

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	AdmissionOutcomes *prometheus.CounterVec // label: outcome (accepted, duplicate_action, rate_limited, missing_fields, invalid_increment, invalid_action_hash)

	BroadcastQueueDepth prometheus.Histogram
	BroadcastEvictions  prometheus.Counter

	ApplyLatency prometheus.Histogram
}

// New builds and registers every collector against a fresh registry,
// grounded on the promauto.With(registry) idiom so registration cannot be
// forgotten for a new metric.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "scoreboard",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache reads served from L1 or L2 without invoking the loader.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "scoreboard",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache reads that invoked the loader.",
		}),
		AdmissionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoreboard",
			Subsystem: "verifier",
			Name:      "admission_outcomes_total",
			Help:      "ActionVerifier.verify outcomes by result.",
		}, []string{"outcome"}),
		BroadcastQueueDepth: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scoreboard",
			Subsystem: "broadcaster",
			Name:      "subscriber_queue_depth",
			Help:      "Live subscriber count observed at each emit.",
			Buckets:   prometheus.LinearBuckets(0, 25, 10),
		}),
		BroadcastEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "scoreboard",
			Subsystem: "broadcaster",
			Name:      "slow_subscriber_evictions_total",
			Help:      "Subscribers evicted for a full outbound buffer.",
		}),
		ApplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scoreboard",
			Subsystem: "scoreengine",
			Name:      "apply_duration_seconds",
			Help:      "ScoreEngine.apply wall time, verify through broadcast.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveApply is a small helper for timing Apply calls at the call site:
// defer m.ObserveApply(time.Now())().
func (m *Metrics) ObserveApply(start time.Time) func() {
	return func() { m.ApplyLatency.Observe(time.Since(start).Seconds()) }
}

// IncCacheHit satisfies internal/cache.Recorder.
func (m *Metrics) IncCacheHit() { m.CacheHits.Inc() }

// IncCacheMiss satisfies internal/cache.Recorder.
func (m *Metrics) IncCacheMiss() { m.CacheMisses.Inc() }

// IncAdmission satisfies internal/verifier.Recorder.
func (m *Metrics) IncAdmission(outcome string) { m.AdmissionOutcomes.WithLabelValues(outcome).Inc() }

// ObserveQueueDepth and IncEviction satisfy internal/broadcaster.Recorder.
func (m *Metrics) ObserveQueueDepth(n int) { m.BroadcastQueueDepth.Observe(float64(n)) }
func (m *Metrics) IncEviction()            { m.BroadcastEvictions.Inc() }
