package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReturnStatus enumerates the lifecycle states of a return request.
type ReturnStatus string

const (
	ReturnStatusRequested       ReturnStatus = "REQUESTED"
	ReturnStatusApproved        ReturnStatus = "APPROVED"
	ReturnStatusCancelled       ReturnStatus = "CANCELLED"
	ReturnStatusProcessed       ReturnStatus = "PROCESSED"
	ReturnStatusRefundInitiated ReturnStatus = "REFUND_INITIATED"
	ReturnStatusRefunded        ReturnStatus = "REFUNDED"
)

// Valid reports whether the status is a known return state.
func (s ReturnStatus) Valid() bool {
	switch s {
	case ReturnStatusRequested, ReturnStatusApproved, ReturnStatusCancelled,
		ReturnStatusProcessed, ReturnStatusRefundInitiated, ReturnStatusRefunded:
		return true
	default:
		return false
	}
}

// Active reports whether the return still awaits a decision (REQUESTED or APPROVED).
func (s ReturnStatus) Active() bool {
	return s == ReturnStatusRequested || s == ReturnStatusApproved
}

// ReturnType distinguishes whole-order returns from line-level returns.
type ReturnType string

const (
	ReturnTypeFull    ReturnType = "FULL"
	ReturnTypePartial ReturnType = "PARTIAL"
)

// Valid reports whether the type is FULL or PARTIAL.
func (t ReturnType) Valid() bool {
	return t == ReturnTypeFull || t == ReturnTypePartial
}

// ReturnRequest records a customer's attempt to send back some or all of an order.
type ReturnRequest struct {
	ID        string
	OrderID   string
	UserID    string
	Status    ReturnStatus
	Type      ReturnType
	Reason    string
	Items     []ReturnItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReturnItem references one order line and the quantity being returned.
type ReturnItem struct {
	ID           string
	ReturnID     string
	OrderItemID  string
	ProductID    string
	Quantity     int
	RefundAmount decimal.Decimal
}

// RefundTotal sums the unrounded item refunds and rounds the result to two decimals.
func (r ReturnRequest) RefundTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.RefundAmount)
	}
	return total.Round(2)
}
