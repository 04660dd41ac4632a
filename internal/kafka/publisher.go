package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

// Sink is where encoded messages go; *Producer is the production sink.
type Sink interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Publisher encodes order and stock events as envelopes, keyed by the entity id.
type Publisher struct {
	sink     Sink
	producer string
}

func NewPublisher(sink Sink, producer string) *Publisher {
	return &Publisher{sink: sink, producer: producer}
}

var _ orders.EventPublisher = (*Publisher)(nil)

func (p *Publisher) PublishOrderEvent(ctx context.Context, ev orders.OrderEvent) error {
	var topic string
	switch ev.Type {
	case orders.EventOrderPlaced:
		topic = orders.TopicOrderPlaced
	case orders.EventOrderStatusChanged:
		topic = orders.TopicOrderStatusChanged
	default:
		return fmt.Errorf("kafka: unknown order event type %q", ev.Type)
	}
	return p.publish(ctx, topic, ev.Type, ev.OrderID, ev.OccurredAt, ev)
}

func (p *Publisher) PublishLowStock(ctx context.Context, ev orders.LowStockEvent) error {
	return p.publish(ctx, orders.TopicLowStock, orders.EventLowStock, ev.ProductID, ev.OccurredAt, ev)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, id string, at time.Time, payload any) error {
	env, err := NewEnvelope(ctx, eventType, p.producer, id, at, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.sink.Publish(ctx, topic, orders.PartitionKey(id), b,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(EnvelopeVersion))},
		kafka.Header{Key: "x-event-id", Value: []byte(env.EventID)},
	)
}
