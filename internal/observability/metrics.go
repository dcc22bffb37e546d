package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	executionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "execute",
		Name:      "executions_total",
		Help:      "Execute calls grouped by branch result and channel.",
	}, []string{"result", "channel"})

	providerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jb_activity",
		Subsystem: "provider",
		Name:      "send_duration_seconds",
		Help:      "Time spent waiting for the message provider to accept a send.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	replayCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "execute",
		Name:      "idempotent_replays_total",
		Help:      "Execute calls answered from a previously completed execution.",
	})

	statusRecordErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "execute",
		Name:      "status_record_errors_total",
		Help:      "Failures recording an execution or queueing its status update.",
	})

	callbacksCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "callbacks",
		Name:      "received_total",
		Help:      "Provider callbacks received, labeled by kind.",
	}, []string{"kind"})

	lastSendGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jb_activity",
		Subsystem: "provider",
		Name:      "last_send_timestamp_seconds",
		Help:      "Unix timestamp of the most recent message accepted by the provider.",
	})
)

func init() {
	prometheus.MustRegister(executionsCounter, providerLatency, replayCounter, statusRecordErrors, callbacksCounter, lastSendGauge)
}

// RecordExecution counts an execute outcome.
func RecordExecution(result, channel string) {
	executionsCounter.WithLabelValues(result, channel).Inc()
}

// ObserveProviderSend records provider latency and, on success, the send watermark.
func ObserveProviderSend(elapsed time.Duration, ok bool) {
	providerLatency.Observe(elapsed.Seconds())
	if ok {
		lastSendGauge.Set(float64(time.Now().Unix()))
	}
}

// RecordReplay counts an idempotent replay.
func RecordReplay() {
	replayCounter.Inc()
}

// RecordStatusError counts a failed status write-back attempt.
func RecordStatusError() {
	statusRecordErrors.Inc()
}

// RecordCallback counts a provider callback.
func RecordCallback(kind string) {
	callbacksCounter.WithLabelValues(kind).Inc()
}
