// Package metrics wraps github.com/prometheus/client_golang counters and
// gauges for this core's builder throughput and skip-list rebalance
// activity. The teacher registers its own counters through
// common/dbutils/bucket.go's package-level metrics.NewRegisteredCounter
// vars (e.g. "db/preimage/total"); that registry is ethereum/go-ethereum's
// own rcrowley/go-metrics wrapper and isn't part of this pruned slice, so
// these are re-pointed directly at client_golang, the dependency the
// teacher's go.mod already carries transitively via go-grpc-prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects every counter/gauge this core exposes. Callers construct
// one and pass it down to the builder, skiplist, session and preload
// components that increment it, rather than relying on package-level globals, so multiple
// cores in one process can register independent metric sets.
type Metrics struct {
	BuilderRowsIndexed    prometheus.Counter
	BuilderBatchesFlushed prometheus.Counter
	BuilderBatchSize      prometheus.Gauge
	BuilderSleepSeconds   prometheus.Gauge

	SkiplistInserts    prometheus.Counter
	SkiplistRemovals   prometheus.Counter
	SkiplistRebalances prometheus.Counter
	SkiplistHeight     prometheus.Gauge

	LockAcquisitions    prometheus.Counter
	LockRenewalFailures prometheus.Counter

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
}

// New constructs a Metrics set and registers every collector against reg.
// Pass prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuilderRowsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "builder", Name: "rows_indexed_total",
			Help: "Rows written into an index by the online builder.",
		}),
		BuilderBatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "builder", Name: "batches_flushed_total",
			Help: "Batches committed by the online builder.",
		}),
		BuilderBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coreindex", Subsystem: "builder", Name: "batch_size",
			Help: "Current throttled batch size.",
		}),
		BuilderSleepSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coreindex", Subsystem: "builder", Name: "sleep_seconds",
			Help: "Current throttled inter-batch sleep duration, in seconds.",
		}),
		SkiplistInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "skiplist", Name: "inserts_total",
			Help: "Skip-list node insertions.",
		}),
		SkiplistRemovals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "skiplist", Name: "removals_total",
			Help: "Skip-list node removals.",
		}),
		SkiplistRebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "skiplist", Name: "rebalances_total",
			Help: "Skip-list level rebalances triggered by rank maintenance.",
		}),
		SkiplistHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coreindex", Subsystem: "skiplist", Name: "height",
			Help: "Current skip-list level count.",
		}),
		LockAcquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "session", Name: "lock_acquisitions_total",
			Help: "Successful distributed lock acquisitions.",
		}),
		LockRenewalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "session", Name: "lock_renewal_failures_total",
			Help: "Background heartbeat renewals that failed and marked a lock lost.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "preload", Name: "cache_hits_total",
			Help: "Preload cache gets satisfied without a miss.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "preload", Name: "cache_misses_total",
			Help: "Preload cache gets that missed or found an expired entry.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coreindex", Subsystem: "preload", Name: "cache_evictions_total",
			Help: "Preload cache entries evicted to stay within configured bounds.",
		}),
	}
	reg.MustRegister(
		m.BuilderRowsIndexed, m.BuilderBatchesFlushed, m.BuilderBatchSize, m.BuilderSleepSeconds,
		m.SkiplistInserts, m.SkiplistRemovals, m.SkiplistRebalances, m.SkiplistHeight,
		m.LockAcquisitions, m.LockRenewalFailures,
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
	)
	return m
}
