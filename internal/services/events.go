package services

import (
	"context"
	"maps"
	"time"
)

const (
	eventOrderPlaced         = "order.placed"
	eventOrderStatusChanged  = "order.status.changed"
	eventOrderCancelled      = "order.cancelled"
	eventOrderPaymentUpdated = "order.payment.updated"
	eventReturnCreated       = "return.created"
	eventReturnStatusChanged = "return.status.changed"
)

// DomainEvent is published after order and return state changes commit.
type DomainEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	ReturnID       string         `json:"returnId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// EventPublisher delivers domain events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// AlertRecorder surfaces failures that leave stock inconsistent and need an operator.
type AlertRecorder interface {
	PartialReservation(ctx context.Context, outstanding []StockLine)
	RestockFailed(ctx context.Context, source string, line StockLine, err error)
}

type eventSink struct {
	publisher EventPublisher
	logger    func(context.Context, string, map[string]any)
}

func (s eventSink) publish(ctx context.Context, event DomainEvent) {
	if s.publisher == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"return": event.ReturnID,
			"status": event.CurrentStatus,
			"error":  err.Error(),
		})
	}
}

type noopAlerts struct{}

func (noopAlerts) PartialReservation(context.Context, []StockLine)         {}
func (noopAlerts) RestockFailed(context.Context, string, StockLine, error) {}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func noopLogger(context.Context, string, map[string]any) {}
