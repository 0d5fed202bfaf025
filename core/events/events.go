// Package events publishes change notifications for successful writes.
package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/evidenceindex/research-api/core/logger"
)

// Operation is the write operation a notification reports.
type Operation string

// all notified operations
const (
	OperationUpsert Operation = "upsert"
)

// Notifier is an interface to receive change notifications.
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}

// KafkaNotifier publishes change notifications to a kafka topic. Publishing
// is best effort: failures are logged, never reported to the caller, the
// write itself has already succeeded.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to topic on the given broker.
func NewKafkaNotifier(broker, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Notify publishes one notification, keyed by resource.
func (n *KafkaNotifier) Notify(resource string, operation Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().WithError(err).Errorf("cannot publish %s notification for %s", operation, resource)
	}
}

// Close closes the underlying kafka writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
