// Package kafka publishes turn events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	segkafka "github.com/segmentio/kafka-go"

	"github.com/parleyhq/parley/pkg/eventstream"
)

// Publisher writes turn events to a Kafka topic, keyed by turn id so
// per-turn ordering is preserved within a partition.
type Publisher struct {
	writer *segkafka.Writer
}

// NewPublisher creates a Kafka-backed turn event publisher.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	writer := &segkafka.Writer{
		Addr:     segkafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &segkafka.Hash{},
	}

	return &Publisher{writer: writer}, nil
}

// PublishTurn encodes the event as JSON and writes one Kafka message.
func (p *Publisher) PublishTurn(ctx context.Context, event *eventstream.TurnAppendedEvent) error {
	if event == nil {
		return eventstream.ErrNilTurnEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding turn event: %w", err)
	}

	msg := segkafka.Message{
		Key:   []byte(event.Turn.ID),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing turn event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
