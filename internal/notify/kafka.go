// Package notify fans committed inventory events out to the message bus and
// to alert recipients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/stocksync/internal/inventory"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes every event to one topic keyed by SKU so consumers see
// a SKU's events in commit order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher constructs a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish implements inventory.EventPublisher.
func (p *KafkaPublisher) Publish(ctx context.Context, events []inventory.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("notify: encode %s: %w", evt.Kind, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(evt.SKU),
			Value:   data,
			Time:    evt.At,
			Headers: []kafka.Header{{Key: "kind", Value: []byte(evt.Kind)}},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Fanout delivers events to every publisher and joins their errors.
type Fanout []inventory.EventPublisher

// Publish implements inventory.EventPublisher.
func (f Fanout) Publish(ctx context.Context, events []inventory.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
