// Package firehose mirrors committed update events to Kafka for offline
// analysis. Mirroring is best-effort: a failed write is logged and dropped,
// never blocking or unwinding delivery to live connections.
package firehose

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer implements hub.Mirror using segmentio/kafka-go. Messages are keyed
// by account id so one account's events stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a Kafka producer that writes update events to the given
// topic. Returns nil when brokers or topic are unset (firehose disabled);
// a nil *Producer is safe to pass where a Mirror is optional. Call Close when
// shutting down.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{writer: writer, topic: topic}
}

// Publish writes a serialized update event to the topic. Uses a short
// timeout so slow Kafka does not block the emit path indefinitely.
func (p *Producer) Publish(ctx context.Context, accountID string, payload []byte) error {
	if p == nil || p.writer == nil {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(accountID),
		Value: payload,
	})
	if err != nil {
		log.Printf("firehose: kafka publish failed: %v", err)
		return err
	}
	return nil
}

// Close closes the Kafka writer. Safe to call on a nil producer.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
