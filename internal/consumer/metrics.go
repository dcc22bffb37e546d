package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Decode failures per topic.",
	}, []string{"topic"})

	correlationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jb_activity",
		Subsystem: "consumer",
		Name:      "status_correlations_total",
		Help:      "Status events by correlation outcome.",
	}, []string{"outcome"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jb_activity",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, correlationCounter, lastMessageGauge)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordCorrelation(outcome string) {
	correlationCounter.WithLabelValues(outcome).Inc()
}
