// Package events publishes change notifications for registry and data
// mutations to a message broker.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/wave-research/wave/core/logger"
)

// Operation names the mutation that triggered a notification.
type Operation string

const (
	// OperationCreate is fired after a resource was created.
	OperationCreate Operation = "create"
	// OperationUpdate is fired after a resource was updated.
	OperationUpdate Operation = "update"
	// OperationDelete is fired after a resource was deleted.
	OperationDelete Operation = "delete"
)

// Notifier publishes change notifications. Notify must not block the
// request path on broker errors; failed deliveries are logged and
// dropped.
type Notifier interface {
	Notify(ctx context.Context, resource string, operation Operation, payload interface{})
	Close() error
}

// Notification is the wire format published to the broker.
type Notification struct {
	Resource  string      `json:"resource"`
	Operation Operation   `json:"operation"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// KafkaNotifier publishes notifications to a single Kafka topic. The
// message key is "{resource}/{operation}" so all events of one
// resource land in one partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the passed brokers
// and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Notify publishes one notification. Errors are logged, never returned.
func (n *KafkaNotifier) Notify(ctx context.Context, resource string, operation Operation, payload interface{}) {
	notification := Notification{
		Resource:  resource,
		Operation: operation,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	value, err := json.Marshal(notification)
	if err != nil {
		logger.FromContext(ctx).Errorln("cannot marshal notification:", err)
		return
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strings.Join([]string{resource, string(operation)}, "/")),
		Value: value,
	})
	if err != nil {
		logger.FromContext(ctx).Errorf("cannot publish %s notification for %s: %v", operation, resource, err)
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NullNotifier drops all notifications. It is the default when no
// broker is configured.
type NullNotifier struct{}

// Notify does nothing.
func (NullNotifier) Notify(context.Context, string, Operation, interface{}) {}

// Close does nothing.
func (NullNotifier) Close() error { return nil }
