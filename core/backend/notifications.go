package backend

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/webpods-org/webpods/core/logger"
)

// EventAction classifies a record lifecycle event.
type EventAction string

const (
	EventAppend EventAction = "append"
	EventDelete EventAction = "delete"
	EventPurge  EventAction = "purge"
)

// Event describes one record lifecycle event.
type Event struct {
	Pod    string      `json:"pod"`
	Path   string      `json:"path"`
	Action EventAction `json:"action"`
	Index  int         `json:"index"`
}

// Notifier receives record lifecycle events. Delivery is best effort and
// must not block the request path for long.
type Notifier interface {
	Notify(ctx context.Context, event Event)
	Close() error
}

// notify publishes the event when a notifier is configured.
func (b *Backend) notify(ctx context.Context, event Event) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(ctx, event)
}

// KafkaNotifier publishes record events to a Kafka topic, keyed by pod so
// that a pod's events stay ordered within a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the given brokers and
// topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Notify publishes the event. Failures are logged, never surfaced to the
// writer of the record.
func (n *KafkaNotifier) Notify(ctx context.Context, event Event) {
	value, err := json.Marshal(event)
	if err != nil {
		return
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Pod),
		Value: value,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot publish record event for", event.Pod, event.Path)
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
