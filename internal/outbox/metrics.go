package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "status_outbox",
		Name:      "entries_delivered_total",
		Help:      "Status entries written to the data extension.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "status_outbox",
		Name:      "entries_failed_total",
		Help:      "Status entries the data extension rejected.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jb_activity",
		Subsystem: "status_outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, writing, and marking a batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "status_outbox",
		Name:      "entries_dlq_total",
		Help:      "Status entries routed to the dead-letter table, labeled by status.",
	}, []string{"status"})

	dlqProcessedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "dlq",
		Name:      "entries_processed_total",
		Help:      "DLQ entries handled in a manager pass.",
	}, []string{"status"})

	dlqRequeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "dlq",
		Name:      "entries_requeued_total",
		Help:      "DLQ entries reinserted into the status outbox.",
	}, []string{"status"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "dlq",
		Name:      "entries_quarantined_total",
		Help:      "DLQ entries quarantined after exhausting retries.",
	}, []string{"status"})

	dlqRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "dlq",
		Name:      "retry_scheduled_total",
		Help:      "Times a DLQ entry was scheduled for a later retry.",
	}, []string{"status"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jb_activity",
		Subsystem: "dlq",
		Name:      "queued_entries",
		Help:      "DLQ entries waiting for a retry, excluding quarantined and requeued rows.",
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter)
	prometheus.MustRegister(dlqProcessedCounter, dlqRequeuedCounter, dlqQuarantinedCounter, dlqRetryCounter, dlqBacklogGauge)
}

func recordDLQProcessed(entry dlqEntry) {
	dlqProcessedCounter.WithLabelValues(entry.Status).Inc()
}

func recordDLQRequeued(entry dlqEntry) {
	dlqRequeuedCounter.WithLabelValues(entry.Status).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqQuarantinedCounter.WithLabelValues(entry.Status).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqRetryCounter.WithLabelValues(entry.Status).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM status_outbox_dlq WHERE quarantined_at IS NULL AND requeued_entry_id IS NULL`)
	var count int
	if err := row.Scan(&count); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(count))
}
