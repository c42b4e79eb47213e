package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fund ledger.
type Metrics struct {
	// --- Core ---
	CoreEventsApplied *prometheus.CounterVec
	CoreOpsRejected   *prometheus.CounterVec
	CoreOpDuration    *prometheus.HistogramVec
	CoreSequence      prometheus.Gauge

	// --- Valuation ---
	Gav         prometheus.Gauge
	Nav         prometheus.Gauge
	SharePrice  prometheus.Gauge
	TotalSupply prometheus.Gauge
	ShutDown    prometheus.Gauge

	// --- Requests & orders ---
	RequestsFiled     *prometheus.CounterVec
	RequestsExecuted  *prometheus.CounterVec
	RequestsCancelled *prometheus.CounterVec
	OrdersRecorded    *prometheus.CounterVec
	OpenOrderSlots    prometheus.Gauge

	// --- Fees & custody ---
	FeeSettlements       prometheus.Counter
	FeeSharesMinted      prometheus.Counter
	EmbezzlementDetected *prometheus.CounterVec

	// --- Ingestion ---
	PriceUpdates         *prometheus.CounterVec
	PriceUpdatesRejected *prometheus.CounterVec
	NATSPullLatency      *prometheus.HistogramVec
	PublishDrops         prometheus.Counter

	// --- Channels ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Scheduler ---
	JobRuns *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ioBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_core_events_applied_total",
			Help: "Events emitted by committed fund operations",
		}, []string{"event_type"}),

		CoreOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_core_operations_rejected_total",
			Help: "Fund operations that failed and committed nothing",
		}, []string{"operation", "reason"}),

		CoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_core_operation_duration_seconds",
			Help:    "Time to run one fund operation",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_core_sequence",
			Help: "Current event sequence number",
		}),

		Gav: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_gav",
			Help: "Gross asset value at the last committed calculation, base units",
		}),
		Nav: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_nav",
			Help: "Net asset value at the last committed calculation, base units",
		}),
		SharePrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_share_price",
			Help: "Committed share price (high-water mark), base units",
		}),
		TotalSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_total_supply",
			Help: "Outstanding shares",
		}),
		ShutDown: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_shut_down",
			Help: "1 once the fund is shut down",
		}),

		RequestsFiled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_requests_filed_total",
			Help: "Subscribe/redeem requests filed",
		}, []string{"kind"}),
		RequestsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_requests_executed_total",
			Help: "Requests executed by outcome",
		}, []string{"kind", "outcome"}),
		RequestsCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_requests_cancelled_total",
			Help: "Requests cancelled",
		}, []string{"kind"}),
		OrdersRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_orders_recorded_total",
			Help: "Orders sent to the venue",
		}, []string{"kind"}),
		OpenOrderSlots: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_open_order_slots",
			Help: "Occupied open-order slots",
		}),

		FeeSettlements: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_fee_settlements_total",
			Help: "Completed fee settlements",
		}),
		FeeSharesMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_fee_shares_minted_total",
			Help: "Shares minted to the manager by fee settlement",
		}),
		EmbezzlementDetected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_embezzlement_detected_total",
			Help: "Reconciliations that found a custody shortfall",
		}, []string{"side"}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_price_updates_total",
			Help: "Price updates applied to the feed",
		}, []string{"source"}),
		PriceUpdatesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_price_updates_rejected_total",
			Help: "Price updates rejected (stale, malformed, unknown asset)",
		}, []string{"reason"}),
		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ioBuckets,
		}, []string{"subject"}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_channel_size",
			Help: "Current channel length",
		}, []string{"channel"}),
		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),
		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_channel_utilization",
			Help: "Channel length / capacity",
		}, []string{"channel"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_idempotency_duplicates_total",
			Help: "Duplicate commands rejected",
		}, []string{"tier"}),
		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_dedup_lru_size",
			Help: "Entries in the in-memory idempotency LRU",
		}),
		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),
		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_persist_events_written_total",
			Help: "Events committed to Postgres",
		}),
		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_persist_batch_duration_seconds",
			Help:    "Time to commit one batch",
			Buckets: ioBuckets,
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"operation"}),
		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_persist_retries_total",
			Help: "Batch write retries",
		}),
		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_persist_last_sequence",
			Help: "Last persisted event sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_snapshots_taken_total",
			Help: "Snapshots written",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_snapshot_duration_seconds",
			Help:    "Time to build and store a snapshot",
			Buckets: ioBuckets,
		}),
		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_scheduler_job_runs_total",
			Help: "Scheduled job runs by result",
		}, []string{"job", "result"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_query_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: ioBuckets,
		}, []string{"endpoint"}),
		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_query_errors_total",
			Help: "HTTP API errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
