// Package metrics exposes the Prometheus counters and histograms threaded
// through every core component: package-level collectors registered once
// at init and referenced directly by each component, kept in this one
// package rather than scattered per package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamDegraded counts Stream Ingress reconnect cycles (spec §4.1).
	StreamDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "ingress",
		Name:      "stream_degraded_total",
		Help:      "Number of times Stream Ingress entered a reconnecting state.",
	})

	// DedupDropped counts transactions dropped by the Stream Ingress LRU
	// dedup guard.
	DedupDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "ingress",
		Name:      "dedup_dropped_total",
		Help:      "Number of duplicate-signature transactions dropped by Stream Ingress.",
	})

	// StaleDropped counts transactions dropped for exceeding the
	// freshness horizon.
	StaleDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "ingress",
		Name:      "stale_dropped_total",
		Help:      "Number of transactions dropped by Stream Ingress for exceeding the freshness horizon.",
	})

	// AnalyzerClassified counts recognized swaps by protocol.
	AnalyzerClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "analyzer",
		Name:      "classified_total",
		Help:      "Number of transactions classified per protocol.",
	}, []string{"protocol"})

	// AnalyzerIgnored counts transactions the analyzer classified as
	// non-swap traffic.
	AnalyzerIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "analyzer",
		Name:      "ignored_total",
		Help:      "Number of transactions the analyzer determined were not a supported swap.",
	})

	// PoolCacheFetches counts pool cache single-flight fetches actually
	// performed (as opposed to served from cache).
	PoolCacheFetches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "poolcache",
		Name:      "fetches_total",
		Help:      "Number of chain fetches performed by the pool state cache.",
	})

	// PoolCacheHits counts cache reads served without a fetch.
	PoolCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "poolcache",
		Name:      "hits_total",
		Help:      "Number of pool state cache reads served without a chain fetch.",
	})

	// BuildLatency measures protocol-builder wall-clock latency.
	BuildLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "copytrade",
		Subsystem: "builders",
		Name:      "build_latency_seconds",
		Help:      "Protocol builder latency by protocol.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"protocol"})

	// SubmitLatency measures executor submit-to-terminal latency.
	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "copytrade",
		Subsystem: "executor",
		Name:      "submit_latency_seconds",
		Help:      "Latency from submission to terminal outcome.",
		Buckets:   prometheus.DefBuckets,
	})

	// OutcomesByStatus counts TradeOutcomes by terminal status.
	OutcomesByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "executor",
		Name:      "outcomes_total",
		Help:      "Number of TradeOutcomes emitted by status.",
	}, []string{"status"})

	// CoordinatorDuplicatesDropped counts idempotency-key collisions.
	CoordinatorDuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "coordinator",
		Name:      "duplicates_dropped_total",
		Help:      "Number of (master_signature, follower_id) duplicates discarded by the Coordinator.",
	})

	// CoordinatorQueueOverflow counts per-follower queue drop-oldest events.
	CoordinatorQueueOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copytrade",
		Subsystem: "coordinator",
		Name:      "queue_overflow_total",
		Help:      "Number of plans dropped due to per-follower queue overflow.",
	})
)
