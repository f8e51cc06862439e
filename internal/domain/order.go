package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPlaced is the initial state after a successful placement.
	OrderStatusPlaced OrderStatus = "ORDER_PLACED"
	// OrderStatusProcessing indicates the warehouse accepted the order.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the customer received the parcel.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled before shipping.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusReturned indicates every line was returned.
	OrderStatusReturned OrderStatus = "RETURNED"
	// OrderStatusPartiallyReturned indicates a subset of lines was returned.
	OrderStatusPartiallyReturned OrderStatus = "PARTIALLY_RETURNED"
	// OrderStatusRefundInitiated indicates a refund was requested from the payment owner.
	OrderStatusRefundInitiated OrderStatus = "REFUND_INITIATED"
	// OrderStatusRefunded is terminal.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// OrderStatuses lists every known order status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusPartiallyReturned,
	OrderStatusRefundInitiated,
	OrderStatusRefunded,
}

// Valid reports whether the status is one of the known order states.
func (s OrderStatus) Valid() bool {
	for _, candidate := range OrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// PaymentStatus captures the payment state tracked on the order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Valid reports whether the payment status is known.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod enumerates how the customer pays for an order.
type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "COD"
	PaymentMethodUPI        PaymentMethod = "UPI"
	PaymentMethodNetBanking PaymentMethod = "NET_BANKING"
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard  PaymentMethod = "DEBIT_CARD"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodUPI, PaymentMethodNetBanking, PaymentMethodCreditCard, PaymentMethodDebitCard:
		return true
	default:
		return false
	}
}

// Order represents a placed customer order. Monetary fields are fixed-point decimals.
type Order struct {
	ID                   string
	OrderNumber          string
	UserID               string
	ShippingAddressID    string
	Status               OrderStatus
	PaymentStatus        PaymentStatus
	PaymentMethod        PaymentMethod
	PaymentReference     string
	ItemTotal            decimal.Decimal
	ShippingFee          decimal.Decimal
	CGSTAmount           decimal.Decimal
	SGSTAmount           decimal.Decimal
	TotalAmount          decimal.Decimal
	Items                []OrderItem
	PlacedAt             time.Time
	ExpectedDeliveryDate time.Time
	ShippedAt            *time.Time
	DeliveredAt          *time.Time
	CancelledAt          *time.Time
	CancellationReason   string
	TrackingNumber       string
	RefundDeadline       *time.Time
	UpdatedAt            time.Time
	Version              int64
}

// OrderItem is an immutable line snapshot captured at placement time.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	ProductName     string
	ProductImageURL string
	Quantity        int
	Price           decimal.Decimal
}

// LineTotal returns price × quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Item returns the order line with the supplied identifier.
func (o Order) Item(itemID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return OrderItem{}, false
}
