package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/quickcart/commerce/internal/domain"
)

const (
	// RefundWindow is how long after delivery a return may be requested.
	RefundWindow = 14 * 24 * time.Hour
	// ExpectedDeliveryLeadTime is added to the placement time to promise a delivery date.
	ExpectedDeliveryLeadTime = 7 * 24 * time.Hour
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPlaced:            {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:        {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:           {domain.OrderStatusDelivered, domain.OrderStatusReturned},
	domain.OrderStatusDelivered:         {domain.OrderStatusReturned, domain.OrderStatusPartiallyReturned},
	domain.OrderStatusReturned:          {domain.OrderStatusRefundInitiated},
	domain.OrderStatusPartiallyReturned: {domain.OrderStatusRefundInitiated},
	domain.OrderStatusCancelled:         {domain.OrderStatusRefundInitiated},
	domain.OrderStatusRefundInitiated:   {domain.OrderStatusRefunded},
	domain.OrderStatusRefunded:          {},
}

var cancellationReasons = map[domain.OrderStatus][]string{
	domain.OrderStatusPlaced:     {"Changed mind", "Found better price", "Delivery timeframe too long", "Other"},
	domain.OrderStatusProcessing: {"Processing delay", "Payment issue", "Duplicate order", "Other"},
}

// CanTransitionOrder reports whether the order state machine allows from -> to.
func CanTransitionOrder(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// IsCancellable reports whether an order in status may still be cancelled by its owner.
func IsCancellable(status domain.OrderStatus) bool {
	return len(cancellationReasons[status]) > 0
}

// CancellationReasons lists the reasons accepted for cancelling an order in status.
func CancellationReasons(status domain.OrderStatus) []string {
	return slices.Clone(cancellationReasons[status])
}

// TransitionOptions carries data required by specific target states.
type TransitionOptions struct {
	TrackingNumber string
	Now            time.Time
}

// TransitionOrder applies target to order, including the side effects owned by the target state.
// The order is left untouched when the transition is rejected.
func TransitionOrder(order *domain.Order, target domain.OrderStatus, opts TransitionOptions) error {
	if order == nil {
		return fmt.Errorf("%w: order is required", ErrOrderInvalidInput)
	}
	if !target.Valid() {
		return fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, target)
	}
	if !CanTransitionOrder(order.Status, target) {
		return orderTransitionError(order.Status, target)
	}
	tracking := strings.TrimSpace(opts.TrackingNumber)
	if target == domain.OrderStatusShipped && tracking == "" {
		return fmt.Errorf("%w: tracking number is required to ship", ErrOrderInvalidInput)
	}

	now := opts.Now.UTC()
	switch target {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
		order.TrackingNumber = tracking
	case domain.OrderStatusDelivered:
		if order.PaymentStatus != domain.PaymentStatusPaid {
			return fmt.Errorf("%w: cannot deliver order with payment status %s", ErrOrderPaymentRequired, order.PaymentStatus)
		}
		deadline := now.Add(RefundWindow)
		order.DeliveredAt = &now
		order.RefundDeadline = &deadline
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusRefunded:
		order.PaymentStatus = domain.PaymentStatusRefunded
	}

	order.Status = target
	order.UpdatedAt = now
	return nil
}

// ValidateCancellationReason checks reason against the closed list for status. Statuses that are
// not cancellable accept no reason at all.
func ValidateCancellationReason(status domain.OrderStatus, reason string) error {
	if !IsCancellable(status) {
		return fmt.Errorf("%w: cannot cancel order in %s state", ErrInvalidCancellationReason, status)
	}
	if !slices.Contains(cancellationReasons[status], reason) {
		return fmt.Errorf("%w: %q is not accepted while %s", ErrInvalidCancellationReason, reason, status)
	}
	return nil
}

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusFailed:  {domain.PaymentStatusPaid, domain.PaymentStatusPending},
}

// CanTransitionPayment reports whether an admin may record the payment status change.
// Refunds are recorded only by the refund flow.
func CanTransitionPayment(from, to domain.PaymentStatus) bool {
	return slices.Contains(paymentTransitions[from], to)
}

var returnStateTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusRequested:       {domain.ReturnStatusApproved, domain.ReturnStatusCancelled},
	domain.ReturnStatusApproved:        {domain.ReturnStatusProcessed, domain.ReturnStatusCancelled},
	domain.ReturnStatusProcessed:       {domain.ReturnStatusRefundInitiated},
	domain.ReturnStatusRefundInitiated: {domain.ReturnStatusRefunded},
	domain.ReturnStatusRefunded:        {},
	domain.ReturnStatusCancelled:       {},
}

// CanTransitionReturn reports whether the return state machine allows from -> to.
func CanTransitionReturn(from, to domain.ReturnStatus) bool {
	return slices.Contains(returnStateTransitions[from], to)
}
