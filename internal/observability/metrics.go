package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// --- Ingestion pipeline ---
	EventsProcessed *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	EventDuration   *prometheus.HistogramVec
	CursorBlock     *prometheus.GaugeVec
	HeadBlock       prometheus.Gauge

	// --- Idempotency & ordering ---
	Duplicates  *prometheus.CounterVec
	OutOfOrder  *prometheus.CounterVec
	Retries     *prometheus.CounterVec
	DeadLetters *prometheus.CounterVec
	FeedsPaused prometheus.Gauge

	// --- Reorgs ---
	ReorgsDetected prometheus.Counter
	ReorgDepth     prometheus.Histogram
	OrphanedEvents prometheus.Counter
	ReplayDuration prometheus.Histogram

	// --- Persistence ---
	CommitDuration prometheus.Histogram
	CommitErrors   *prometheus.CounterVec

	// --- Rollups ---
	RollupComputes  prometheus.Counter
	RollupDuration  prometheus.Histogram
	RollupCoalesced prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	commitBuckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_events_processed_total",
			Help: "Events fully committed",
		}, []string{"feed", "event_type"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_events_rejected_total",
			Help: "Events that failed processing (decode, ordering, consistency)",
		}, []string{"feed", "reason"}),

		EventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexer_event_duration_seconds",
			Help:    "Time from dequeue to commit for one event",
			Buckets: commitBuckets,
		}, []string{"feed"}),

		CursorBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_cursor_block",
			Help: "Last committed block per feed",
		}, []string{"feed"}),

		HeadBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_head_block",
			Help: "Latest chain head seen by the watcher",
		}),

		Duplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_duplicates_total",
			Help: "Redelivered events caught by dedup (lru/db)",
		}, []string{"feed", "tier"}),

		OutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_out_of_order_total",
			Help: "Events behind the feed cursor not caught by dedup",
		}, []string{"feed"}),

		Retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_retries_total",
			Help: "Event retry attempts",
		}, []string{"feed", "class"}),

		DeadLetters: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_dead_letters_total",
			Help: "Events permanently failed",
		}, []string{"feed", "class"}),

		FeedsPaused: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_feeds_paused",
			Help: "Number of feeds currently paused or errored",
		}),

		ReorgsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "indexer_reorgs_total",
			Help: "Chain reorganizations detected",
		}),

		ReorgDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexer_reorg_depth_blocks",
			Help:    "Blocks rolled back per reorg",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 64},
		}),

		OrphanedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "indexer_orphaned_events_total",
			Help: "Event log rows orphaned by reorgs",
		}),

		ReplayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexer_replay_duration_seconds",
			Help:    "Full state rebuild duration after a reorg",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexer_commit_duration_seconds",
			Help:    "Write set transaction duration",
			Buckets: commitBuckets,
		}),

		CommitErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_commit_errors_total",
			Help: "Failed write set transactions",
		}, []string{"feed"}),

		RollupComputes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "indexer_rollup_computes_total",
			Help: "Metric snapshot computations",
		}),

		RollupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexer_rollup_duration_seconds",
			Help:    "One condition metric recompute duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		RollupCoalesced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "indexer_rollup_coalesced_total",
			Help: "Triggers coalesced into an in-flight recompute",
		}),
	}
}
