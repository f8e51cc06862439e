package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	PaymentStatus    = domain.PaymentStatus
	PaymentMethod    = domain.PaymentMethod
	ReturnRequest    = domain.ReturnRequest
	ReturnItem       = domain.ReturnItem
	ReturnStatus     = domain.ReturnStatus
	ReturnType       = domain.ReturnType
	PricingBreakdown = domain.PricingBreakdown
	UserDeletedEvent = domain.UserDeletedEvent
	HealthReport     = domain.HealthReport
)

// InventoryService keeps order-side stock expectations consistent with the inventory owner.
type InventoryService interface {
	ValidateAvailability(ctx context.Context, lines []StockLine) error
	Reserve(ctx context.Context, lines []StockLine) error
	Release(ctx context.Context, lines []StockLine) error
}

// OrderService owns order placement and every order status transition.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	GetOrderItem(ctx context.Context, query GetOrderItemQuery) (OrderItem, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error)
}

// ReturnService drives return requests and the remaining-quantity ledger.
type ReturnService interface {
	CreateReturn(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error)
	ApproveReturn(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error)
	CancelReturn(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error)
	UpdateReturnStatus(ctx context.Context, cmd ReturnStatusCommand) (ReturnRequest, error)
	GetReturn(ctx context.Context, query GetReturnQuery) (ReturnRequest, error)
	ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error)
	CalculateTotalRefundAmount(ctx context.Context, query GetReturnQuery) (decimal.Decimal, error)
	RemainingQuantities(ctx context.Context, query RemainingQuery) (map[string]int, error)
}

// UserLifecycleService reacts to identity-owner events.
type UserLifecycleService interface {
	HandleUserDeleted(ctx context.Context, event UserDeletedEvent) (bool, error)
}

// SystemService answers readiness checks.
type SystemService interface {
	Readiness(ctx context.Context) (HealthReport, error)
}

type OrderListFilter = repositories.OrderListFilter

type ReturnListFilter = repositories.ReturnListFilter

type PlaceOrderCommand struct {
	UserID            string
	ShippingAddressID string
	PaymentMethod     PaymentMethod
}

type GetOrderQuery struct {
	OrderID string
	ActorID string
	IsAdmin bool
}

type GetOrderItemQuery struct {
	OrderItemID string
	ActorID     string
	IsAdmin     bool
}

type OrderStatusCommand struct {
	OrderID         string
	Status          OrderStatus
	TrackingNumber  string
	ExpectedVersion *int64
	ActorID         string
}

type CancelOrderCommand struct {
	OrderID         string
	UserID          string
	Reason          string
	ExpectedVersion *int64
}

type RecordPaymentCommand struct {
	OrderID   string
	Status    PaymentStatus
	Reference string
	ActorID   string
}

type ReturnItemRequest struct {
	OrderItemID string
	Quantity    int
}

type CreateReturnCommand struct {
	OrderID string
	UserID  string
	Type    ReturnType
	Reason  string
	Items   []ReturnItemRequest
}

type ReturnActionCommand struct {
	ReturnID string
	ActorID  string
}

type ReturnStatusCommand struct {
	ReturnID string
	Status   ReturnStatus
	ActorID  string
}

type GetReturnQuery struct {
	ReturnID string
	ActorID  string
	IsAdmin  bool
}

type RemainingQuery struct {
	OrderID string
	ActorID string
	IsAdmin bool
}
