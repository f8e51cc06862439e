package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/quickcart/commerce/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher publishes domain events keyed by order id.
type KafkaEventPublisher struct {
	writer     messageWriter
	propagator propagation.TextMapPropagator
}

// NewKafkaEventPublisher wraps a kafka writer (usually from NewKafkaWriter).
func NewKafkaEventPublisher(writer messageWriter) (*KafkaEventPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka event publisher: writer is required")
	}
	return &KafkaEventPublisher{
		writer:     writer,
		propagator: propagation.TraceContext{},
	}, nil
}

// Publish writes the event synchronously so failures surface to the caller's log.
func (p *KafkaEventPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka event publisher: not initialised")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal domain event: %w", err)
	}

	headers := []kafka.Header{{Key: "type", Value: []byte(event.Type)}}
	p.propagator.Inject(ctx, headerCarrier{headers: &headers})

	msg := kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   data,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
