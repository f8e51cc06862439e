package services

import (
	domain "github.com/quickcart/commerce/internal/domain"
)

// RemainingReturnable derives, per order line, the quantity still eligible for return from the
// full return history of the order. Every return that was not cancelled consumes its quantity;
// cancelled returns consume nothing, so cancelling restores the line exactly.
func RemainingReturnable(order domain.Order, history []domain.ReturnRequest) map[string]int {
	remaining := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		remaining[item.ID] = item.Quantity
	}
	for _, request := range history {
		if request.OrderID != order.ID || request.Status == domain.ReturnStatusCancelled {
			continue
		}
		for _, item := range request.Items {
			if _, ok := remaining[item.OrderItemID]; ok {
				remaining[item.OrderItemID] -= item.Quantity
			}
		}
	}
	return remaining
}

// blockingReturn reports the existing return, if any, that prevents a new return on the order.
// Active returns take precedence over processed ones, then refunds in progress, then refunded.
func blockingReturn(history []domain.ReturnRequest) (domain.ReturnRequest, DuplicateReturnReason, bool) {
	precedence := []struct {
		reason  DuplicateReturnReason
		matches func(domain.ReturnStatus) bool
	}{
		{DuplicateReturnActive, domain.ReturnStatus.Active},
		{DuplicateReturnProcessed, func(s domain.ReturnStatus) bool { return s == domain.ReturnStatusProcessed }},
		{DuplicateReturnRefundInitiated, func(s domain.ReturnStatus) bool { return s == domain.ReturnStatusRefundInitiated }},
		{DuplicateReturnRefunded, func(s domain.ReturnStatus) bool { return s == domain.ReturnStatusRefunded }},
	}
	for _, rule := range precedence {
		for _, request := range history {
			if rule.matches(request.Status) {
				return request, rule.reason, true
			}
		}
	}
	return domain.ReturnRequest{}, "", false
}
