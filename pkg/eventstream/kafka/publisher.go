// Package kafka provides a Publisher backed by a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/eventstream"
)

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the broker list, host:port.
	Brokers []string

	// Topic is the topic mutation events are published to.
	Topic string
}

// Publisher writes mutation events to a Kafka topic, keyed by entity id so
// events for one entity stay ordered within a partition.
type Publisher struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(c Config, logger *zap.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(c.Brokers...),
		Topic:    c.Topic,
		Balancer: &kafkago.Hash{},
	}

	logger.Info("kafka event publisher initialized",
		zap.Strings("brokers", c.Brokers),
		zap.String("topic", c.Topic),
	)

	return &Publisher{writer: writer, logger: logger}, nil
}

// Publish serializes the event as JSON and writes it to the topic.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.MutationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	key := event.EntityID
	if key == "" {
		key = event.EventType
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.logger.Debug("event published",
		zap.String("event_type", event.EventType),
		zap.String("entity_id", event.EntityID),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
