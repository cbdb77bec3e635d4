package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"status"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowlake_replicator_cycle_duration_seconds",
			Help:    "Duration of sync cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_ticks_skipped_total",
			Help: "Ticks skipped because a cycle was still running",
		},
	)

	SchedulerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowlake_replicator_scheduler_state",
			Help: "Current scheduler state (1 for the active state)",
		},
		[]string{"state"},
	)

	SupervisorRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_supervisor_restarts_total",
			Help: "Times the scheduler loop was restarted after a failure",
		},
	)

	// Source metrics
	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_source_pages_total",
			Help: "Total number of pages read from the operational store",
		},
	)

	SourceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_source_errors_total",
			Help: "Total number of failed page reads",
		},
	)

	// Writer metrics
	RowsReplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_rows_total",
			Help: "Total number of rows durably written to the analytics table",
		},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_flushes_total",
			Help: "Total number of batch flushes by outcome",
		},
		[]string{"status"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowlake_replicator_flush_duration_seconds",
			Help:    "Duration of batch inserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_flush_retries_total",
			Help: "Total number of in-cycle flush retries",
		},
	)

	BufferedRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowlake_replicator_buffered_rows",
			Help: "Rows currently buffered in the batch writer",
		},
	)

	// Watermark metrics
	WatermarkSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowlake_replicator_watermark_seconds",
			Help: "Current watermark as a unix timestamp",
		},
	)

	WatermarkClamped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_watermark_clamped_total",
			Help: "Backward watermark moves that were ignored",
		},
	)

	// Schema metrics
	SchemaEnsureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_schema_failures_total",
			Help: "Failed attempts to create or alter the analytics table",
		},
	)

	// Coordination metrics
	LeaseSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_lease_skips_total",
			Help: "Cycles skipped because another replica held the lease",
		},
	)

	LeaseLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_lease_lost_total",
			Help: "Cycles aborted because the lease expired mid-cycle",
		},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlake_replicator_event_publish_errors_total",
			Help: "Progress events that could not be published",
		},
		[]string{"subject"},
	)
)
