package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/quickcart/commerce/internal/services"
)

const userDeletedEventType = "USER_DELETED"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// UserDeletedPayload is the wire shape emitted by the identity owner.
type UserDeletedPayload struct {
	EventType string `json:"eventType"`
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
}

// ToEvent converts the payload into the service event using the transport-specific id.
func (p UserDeletedPayload) ToEvent(eventID string) services.UserDeletedEvent {
	return services.UserDeletedEvent{
		EventID:   eventID,
		EventType: strings.TrimSpace(p.EventType),
		UserID:    strings.TrimSpace(p.UserID),
		Email:     strings.TrimSpace(p.Email),
	}
}

// IsUserDeleted reports whether the payload carries the user-deleted type. An empty type is
// accepted because older publishers omit it.
func (p UserDeletedPayload) IsUserDeleted() bool {
	eventType := strings.TrimSpace(p.EventType)
	return eventType == "" || strings.EqualFold(eventType, userDeletedEventType)
}

// KafkaConsumerOption customises the consumer.
type KafkaConsumerOption func(*KafkaUserDeletedConsumer)

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *zap.Logger) KafkaConsumerOption {
	return func(c *KafkaUserDeletedConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryBackoff overrides the backoff factory used for transient handler failures.
func WithRetryBackoff(factory func() backoff.BackOff) KafkaConsumerOption {
	return func(c *KafkaUserDeletedConsumer) {
		if factory != nil {
			c.newBackoff = factory
		}
	}
}

// KafkaUserDeletedConsumer reads user-deleted events and forwards them to the lifecycle service.
// Offsets are committed only after the handler succeeds or the message is rejected as malformed.
type KafkaUserDeletedConsumer struct {
	reader     messageReader
	handler    services.UserLifecycleService
	logger     *zap.Logger
	newBackoff func() backoff.BackOff
	propagator propagation.TextMapPropagator
}

// NewKafkaUserDeletedConsumer constructs the consumer.
func NewKafkaUserDeletedConsumer(reader messageReader, handler services.UserLifecycleService, opts ...KafkaConsumerOption) (*KafkaUserDeletedConsumer, error) {
	if reader == nil {
		return nil, errors.New("kafka user-deleted consumer: reader is required")
	}
	if handler == nil {
		return nil, errors.New("kafka user-deleted consumer: handler is required")
	}
	c := &KafkaUserDeletedConsumer{
		reader:  reader,
		handler: handler,
		logger:  zap.NewNop(),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		propagator: propagation.TraceContext{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *KafkaUserDeletedConsumer) Run(ctx context.Context) error {
	c.logger.Info("user-deleted consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("user-deleted consumer stopped")
				return nil
			}
			c.logger.Error("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("user-deleted event not committed", zap.String("eventId", kafkaEventID(msg)), zap.Error(err))
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", zap.String("eventId", kafkaEventID(msg)), zap.Error(err))
		}
	}
}

// Close closes the underlying reader.
func (c *KafkaUserDeletedConsumer) Close() error {
	return c.reader.Close()
}

func (c *KafkaUserDeletedConsumer) process(ctx context.Context, msg kafka.Message) error {
	headers := msg.Headers
	ctx = c.propagator.Extract(ctx, headerCarrier{headers: &headers})
	eventID := kafkaEventID(msg)

	var payload UserDeletedPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		c.logger.Warn("user-deleted event malformed", zap.String("eventId", eventID), zap.Error(err))
		return nil
	}
	if !payload.IsUserDeleted() {
		c.logger.Debug("user-deleted consumer skipped event", zap.String("eventId", eventID), zap.String("eventType", payload.EventType))
		return nil
	}

	operation := func() error {
		_, err := c.handler.HandleUserDeleted(ctx, payload.ToEvent(eventID))
		if errors.Is(err, services.ErrUserEventInvalid) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("user-deleted handler retry", zap.String("eventId", eventID), zap.Duration("wait", wait), zap.Error(err))
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackoff(), ctx), notify)
	if errors.Is(err, services.ErrUserEventInvalid) {
		c.logger.Warn("user-deleted event rejected", zap.String("eventId", eventID), zap.Error(err))
		return nil
	}
	return err
}

func kafkaEventID(msg kafka.Message) string {
	return fmt.Sprintf("kafka:%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
}
