package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	CachePayloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbor_cache_payloads",
		Help: "Current number of payloads resident in the cache.",
	})

	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_cache_evictions_total",
		Help: "Total payload evictions by reason.",
	}, []string{"reason"})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_cache_lookups_total",
		Help: "Total cache lookups by outcome.",
	}, []string{"outcome"})

	ProtectedSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbor_protected_set_size",
		Help: "Size of the derived protected id set after the last recompute.",
	})

	IdleOffloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_idle_offload_total",
		Help: "Total idle offload passes performed.",
	})

	PrefetchRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_prefetch_requested_total",
		Help: "Total node ids surfaced to the provider for warming.",
	})

	ReloadQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbor_reload_queue_depth",
		Help: "Current number of node ids waiting in the coalescing reload queue.",
	})

	ReloadFlushTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_reload_flush_total",
		Help: "Total reload queue flushes.",
	})

	MoveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbor_move_seconds",
		Help:    "Time spent computing and applying a move transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_moves_total",
		Help: "Total move transactions by outcome.",
	}, []string{"outcome"})

	RollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_rollbacks_total",
		Help: "Total rollbacks applied after failed or abandoned commits.",
	})

	DispatchJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_dispatch_jobs_total",
		Help: "Total background compute jobs by operation tag and outcome.",
	}, []string{"operation", "outcome"})

	DispatchChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbor_dispatch_chunk_seconds",
		Help:    "Processing latency per dispatcher chunk.",
		Buckets: prometheus.DefBuckets,
	})

	TreeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbor_tree_nodes_total",
		Help: "Total number of structural nodes resident in the index.",
	})
)
