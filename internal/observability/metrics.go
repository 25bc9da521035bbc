// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsProcessed       *prometheus.CounterVec
	EventProcessingErrors *prometheus.CounterVec
	OrderingViolations    prometheus.Counter
	DuplicateEventRecords prometheus.Counter
	HighestBlockSeen      prometheus.Gauge

	// Reconciliation metrics
	MarketUpdates     prometheus.Counter
	ProtocolUpdates   prometheus.Counter
	PositionUpdates   prometheus.Counter
	BucketFolds       *prometheus.CounterVec
	RevertedReads     *prometheus.CounterVec
	PriceSanityClamps prometheus.Counter

	// Latency metrics
	EventHandleLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastProcessedTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lending_index"
	}

	return &Metrics{
		// Ingestion metrics
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_processed_total",
			Help:      "Total number of chain events processed by kind",
		}, []string{"event_kind"}),
		EventProcessingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_errors_total",
			Help:      "Total number of event handler errors by kind",
		}, []string{"event_kind"}),
		OrderingViolations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ordering_violations_total",
			Help:      "Total number of out-of-order events rejected",
		}),
		DuplicateEventRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicate_event_records_total",
			Help:      "Total number of event-log inserts rejected as duplicates",
		}),
		HighestBlockSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_block_seen",
			Help:      "Highest block number seen in the event stream",
		}),

		// Reconciliation metrics
		MarketUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "market_updates_total",
			Help:      "Total number of market snapshot recomputations",
		}),
		ProtocolUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "protocol_updates_total",
			Help:      "Total number of protocol rollup recomputations",
		}),
		PositionUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "position_updates_total",
			Help:      "Total number of user position balance refreshes",
		}),
		BucketFolds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "bucket_folds_total",
			Help:      "Total number of snapshot folds into time buckets by interval",
		}, []string{"interval"}),
		RevertedReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "reverted_reads_total",
			Help:      "Total number of contract reads that reverted by method",
		}, []string{"method"}),
		PriceSanityClamps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "price_sanity_clamps_total",
			Help:      "Total number of oracle prices clamped to zero by the sanity ceiling",
		}),

		// Latency metrics
		EventHandleLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_handle_latency_seconds",
			Help:      "Event handler latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_kind"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastProcessedTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_processed_event_timestamp",
			Help:      "Chain timestamp of the last processed event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventProcessed increments the processed counter for an event kind.
func RecordEventProcessed(eventKind string) {
	DefaultMetrics.EventsProcessed.WithLabelValues(eventKind).Inc()
}

// RecordEventError records an event handler error.
func RecordEventError(eventKind string) {
	DefaultMetrics.EventProcessingErrors.WithLabelValues(eventKind).Inc()
}

// RecordHandleLatency records event handler latency.
func RecordHandleLatency(eventKind string, seconds float64) {
	DefaultMetrics.EventHandleLatency.WithLabelValues(eventKind).Observe(seconds)
}

// UpdateHighestBlock updates the highest block seen gauge.
func UpdateHighestBlock(block int64) {
	DefaultMetrics.HighestBlockSeen.Set(float64(block))
}

// RecordRevertedRead counts a reverted contract read by method name.
func RecordRevertedRead(method string) {
	DefaultMetrics.RevertedReads.WithLabelValues(method).Inc()
}

// UpdateLastProcessed records the chain timestamp of the last handled event.
func UpdateLastProcessed(timestamp int64) {
	DefaultMetrics.LastProcessedTimestamp.Set(float64(timestamp))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
