package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// HeaderEventType names the event carried by a message.
const HeaderEventType = "event_type"

// Publisher emits callback events.
type Publisher interface {
	PublishStatus(ctx context.Context, event StatusCallback) error
	PublishInbound(ctx context.Context, event InboundMessage) error
}

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// KafkaPublisher publishes events as JSON keyed by message SID.
type KafkaPublisher struct {
	producer     messageWriter
	statusTopic  string
	inboundTopic string
}

// NewKafkaPublisher constructs a KafkaPublisher.
func NewKafkaPublisher(producer messageWriter, statusTopic, inboundTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, statusTopic: statusTopic, inboundTopic: inboundTopic}
}

// PublishStatus implements Publisher.
func (p *KafkaPublisher) PublishStatus(ctx context.Context, event StatusCallback) error {
	return p.publish(ctx, p.statusTopic, TypeMessageStatus, event.MessageSID, event)
}

// PublishInbound implements Publisher.
func (p *KafkaPublisher) PublishInbound(ctx context.Context, event InboundMessage) error {
	return p.publish(ctx, p.inboundTopic, TypeMessageInbound, event.MessageSID, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, eventType, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.producer.WriteMessages(ctx, topic, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(eventType)}},
	})
}

// NoopPublisher drops events when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatus(context.Context, StatusCallback) error { return nil }

func (NoopPublisher) PublishInbound(context.Context, InboundMessage) error { return nil }

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

// WriteMessages writes to the given topic, creating its writer on first use.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerFor(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerFor(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 5 * time.Second,
	}
	p.writers[topic] = w
	return w
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
