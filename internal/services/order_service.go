package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oit_"

	orderNumberCounter       = "orders"
	adminCancellationReason  = "Cancelled by administrator"
	defaultCartClearAttempts = 3
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	Addresses  repositories.AddressRepository
	Carts      repositories.CartRepository
	Counters   repositories.CounterRepository
	Inventory  InventoryService
	UnitOfWork repositories.UnitOfWork
	Events     EventPublisher
	// CartBackoff schedules retries of the post-commit cart clear.
	CartBackoff func() backoff.BackOff
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	products    repositories.ProductRepository
	addresses   repositories.AddressRepository
	carts       repositories.CartRepository
	counters    repositories.CounterRepository
	inventory   InventoryService
	unitOfWork  repositories.UnitOfWork
	pricing     PricingCalculator
	events      eventSink
	cartBackoff func() backoff.BackOff
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Addresses == nil:
		return nil, errors.New("order service: address repository is required")
	case deps.Carts == nil:
		return nil, errors.New("order service: cart repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	cartBackoff := deps.CartBackoff
	if cartBackoff == nil {
		cartBackoff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultCartClearAttempts-1)
		}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		addresses:  deps.Addresses,
		carts:      deps.Carts,
		counters:   deps.Counters,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		events:     eventSink{publisher: deps.Events, logger: logger},
		clock: func() time.Time {
			return clock().UTC()
		},
		cartBackoff: cartBackoff,
		newID:       idGen,
		logger:      logger,
	}, nil
}

// PlaceOrder converts the caller's cart into an order. Every check runs before stock is
// reserved, so a rejected placement leaves no order and no reservation behind.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID, err := requireID(ErrOrderInvalidInput, "user id", cmd.UserID)
	if err != nil {
		return Order{}, err
	}
	addressID, err := requireID(ErrOrderInvalidInput, "shipping address id", cmd.ShippingAddressID)
	if err != nil {
		return Order{}, err
	}
	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMethod))))
	if !method.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	if err := s.checkAddress(ctx, userID, addressID); err != nil {
		return Order{}, err
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	lines := make([]StockLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.inventory.ValidateAvailability(ctx, lines); err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:                   s.nextID(orderIDPrefix),
		UserID:               userID,
		ShippingAddressID:    addressID,
		Status:               domain.OrderStatusPlaced,
		PaymentStatus:        domain.PaymentStatusPending,
		PaymentMethod:        method,
		PlacedAt:             now,
		ExpectedDeliveryDate: now.Add(ExpectedDeliveryLeadTime),
		UpdatedAt:            now,
		Version:              1,
	}

	order.Items, err = s.snapshotItems(ctx, order.ID, cart.Items)
	if err != nil {
		return Order{}, err
	}

	pricingLines := make([]PricingLine, 0, len(order.Items))
	for _, item := range order.Items {
		pricingLines = append(pricingLines, PricingLine{UnitPrice: item.Price, Quantity: item.Quantity})
	}
	breakdown, err := s.pricing.Compute(pricingLines)
	if err != nil {
		return Order{}, err
	}
	order.ItemTotal = breakdown.ItemTotal
	order.ShippingFee = breakdown.ShippingFee
	order.CGSTAmount = breakdown.CGST
	order.SGSTAmount = breakdown.SGST
	order.TotalAmount = breakdown.GrandTotal

	if order.OrderNumber, err = s.generateOrderNumber(ctx, now); err != nil {
		return Order{}, err
	}

	if err := s.inventory.Reserve(ctx, lines); err != nil {
		return Order{}, err
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "order.persist.failed", map[string]any{
			"order": order.ID,
			"user":  userID,
			"error": err.Error(),
		})
		// Release already logs and alerts on lines it cannot restore.
		_ = s.inventory.Release(context.WithoutCancel(ctx), lines)
		return Order{}, s.mapRepositoryError(err)
	}

	s.clearCart(ctx, userID, order.ID)

	s.events.publish(ctx, DomainEvent{
		Type:          eventOrderPlaced,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        userID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalAmount":   order.TotalAmount.StringFixed(2),
			"paymentMethod": string(order.PaymentMethod),
			"items":         len(order.Items),
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID, err := requireID(ErrOrderInvalidInput, "order id", query.OrderID)
	if err != nil {
		return Order{}, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !query.IsAdmin && order.UserID != strings.TrimSpace(query.ActorID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderAccessDenied, orderID)
	}
	return order, nil
}

func (s *orderService) GetOrderItem(ctx context.Context, query GetOrderItemQuery) (OrderItem, error) {
	itemID, err := requireID(ErrOrderInvalidInput, "order item id", query.OrderItemID)
	if err != nil {
		return OrderItem{}, err
	}
	item, err := s.orders.FindItem(ctx, itemID)
	if err != nil {
		return OrderItem{}, s.mapRepositoryError(err)
	}
	if !query.IsAdmin {
		if _, err := s.GetOrder(ctx, GetOrderQuery{OrderID: item.OrderID, ActorID: query.ActorID}); err != nil {
			return OrderItem{}, err
		}
	}
	return item, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// UpdateStatus applies an administrative transition. Moving an order to CANCELLED restocks
// its items exactly as a customer cancellation would.
func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	orderID, err := requireID(ErrOrderInvalidInput, "order id", cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, cmd.Status)
	}

	var previous domain.OrderStatus
	updated, err := s.mutate(ctx, orderID, cmd.ExpectedVersion, func(order *Order, now time.Time) error {
		previous = order.Status
		if err := TransitionOrder(order, target, TransitionOptions{TrackingNumber: cmd.TrackingNumber, Now: now}); err != nil {
			return err
		}
		if target == domain.OrderStatusCancelled {
			order.CancellationReason = adminCancellationReason
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if target == domain.OrderStatusCancelled {
		s.restockOrder(ctx, updated)
	}

	s.events.publish(ctx, DomainEvent{
		Type:           eventOrderStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     updated.UpdatedAt,
		Metadata:       trackingMetadata(updated),
	})
	return updated, nil
}

// CancelOrder cancels on behalf of the owner. The status is committed first; restocking
// follows and failures there are retried and alerted instead of undoing the cancellation.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID, err := requireID(ErrOrderInvalidInput, "order id", cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	userID, err := requireID(ErrOrderInvalidInput, "user id", cmd.UserID)
	if err != nil {
		return Order{}, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	var previous domain.OrderStatus
	updated, err := s.mutate(ctx, orderID, cmd.ExpectedVersion, func(order *Order, now time.Time) error {
		if order.UserID != userID {
			return fmt.Errorf("%w: order %s", ErrOrderAccessDenied, orderID)
		}
		if err := ValidateCancellationReason(order.Status, reason); err != nil {
			return err
		}
		previous = order.Status
		if err := TransitionOrder(order, domain.OrderStatusCancelled, TransitionOptions{Now: now}); err != nil {
			return err
		}
		order.CancellationReason = reason
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.restockOrder(ctx, updated)

	s.events.publish(ctx, DomainEvent{
		Type:           eventOrderCancelled,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        userID,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       map[string]any{"reason": reason},
	})
	return updated, nil
}

func (s *orderService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (Order, error) {
	orderID, err := requireID(ErrOrderInvalidInput, "order id", cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	target := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.Status)
	}

	var previous domain.PaymentStatus
	updated, err := s.mutate(ctx, orderID, nil, func(order *Order, now time.Time) error {
		if !CanTransitionPayment(order.PaymentStatus, target) {
			return invalidTransition(ErrOrderInvalidTransition, "payment "+string(order.PaymentStatus), string(target))
		}
		previous = order.PaymentStatus
		order.PaymentStatus = target
		if ref := strings.TrimSpace(cmd.Reference); ref != "" {
			order.PaymentReference = ref
		}
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.events.publish(ctx, DomainEvent{
		Type:           eventOrderPaymentUpdated,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.PaymentStatus),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

// mutate loads the order, applies fn and writes it back guarded by the version that was read.
// When expected is set it must match the stored version.
func (s *orderService) mutate(ctx context.Context, orderID string, expected *int64, fn func(order *Order, now time.Time) error) (Order, error) {
	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if expected != nil && *expected != order.Version {
			return fmt.Errorf("%w: expected version %d but was %d", ErrOrderConflict, *expected, order.Version)
		}
		readVersion := order.Version
		if err := fn(&order, s.now()); err != nil {
			return err
		}
		saved, err := s.orders.Update(txCtx, order, readVersion)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		updated = saved
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

func (s *orderService) checkAddress(ctx context.Context, userID, addressID string) error {
	address, err := s.addresses.FindByID(ctx, addressID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: %s", ErrAddressNotFound, addressID)
		}
		return s.mapRepositoryError(err)
	}
	if address.UserID != userID {
		return fmt.Errorf("%w: address %s", ErrAddressAccessDenied, addressID)
	}
	return nil
}

func (s *orderService) snapshotItems(ctx context.Context, orderID string, items []domain.CartItem) ([]OrderItem, error) {
	result := make([]OrderItem, 0, len(items))
	for _, item := range items {
		product, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, fmt.Errorf("%w: product %s", ErrProductUnavailable, item.ProductID)
			}
			return nil, s.mapRepositoryError(err)
		}
		if !product.Price.IsPositive() {
			return nil, fmt.Errorf("%w: product %s has no sale price", ErrProductUnavailable, product.ID)
		}
		result = append(result, OrderItem{
			ID:              s.nextID(orderItemIDPrefix),
			OrderID:         orderID,
			ProductID:       product.ID,
			ProductName:     product.Name,
			ProductImageURL: product.ImageURL,
			Quantity:        item.Quantity,
			Price:           product.Price,
		})
	}
	return result, nil
}

func (s *orderService) clearCart(ctx context.Context, userID, orderID string) {
	ctx = context.WithoutCancel(ctx)
	op := func() error {
		return s.carts.Clear(ctx, userID)
	}
	if err := backoff.Retry(op, backoff.WithContext(s.cartBackoff(), ctx)); err != nil {
		s.logger(ctx, "order.cart.clear_failed", map[string]any{
			"order": orderID,
			"user":  userID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) restockOrder(ctx context.Context, order Order) {
	lines := make([]StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if len(lines) == 0 {
		return
	}
	if err := s.inventory.Release(context.WithoutCancel(ctx), lines); err != nil {
		s.logger(ctx, "order.restock.incomplete", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	if s.counters == nil {
		return "", nil
	}
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", fmt.Errorf("order: allocate order number: %w", err)
	}
	return fmt.Sprintf("QC-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextID(prefix string) string {
	return prefix + s.newID()
}

func trackingMetadata(order Order) map[string]any {
	if order.TrackingNumber == "" {
		return nil
	}
	return map[string]any{"trackingNumber": order.TrackingNumber}
}
