// Package notify publishes entity change notifications to kafka.
package notify

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/logger"
)

// changeEvent is the wire format of a single notification
type changeEvent struct {
	Resource  string          `json:"resource"`
	Operation core.Operation  `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// KafkaNotifier publishes change notifications to a kafka topic. It
// implements core.Notifier.
//
// Publishing is fire and forget. A lost notification is acceptable, a
// request blocked on a broker outage is not.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier publishing to topic via brokers
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Notify publishes one change event, keyed by resource so events for the
// same entity type stay ordered within a partition.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	event := changeEvent{
		Resource:  resource,
		Operation: operation,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot marshal change event")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := n.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(resource),
			Value: value,
		})
		if err != nil {
			logger.Default().WithError(err).Errorln("cannot publish change event")
		}
	}()
}

// Close closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
