package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/repositories/memory"
)

var fixtureNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingAlerts struct {
	mu      sync.Mutex
	partial [][]StockLine
	failed  []StockLine
}

func (a *recordingAlerts) PartialReservation(_ context.Context, outstanding []StockLine) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partial = append(a.partial, outstanding)
}

func (a *recordingAlerts) RestockFailed(_ context.Context, _ string, line StockLine, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed = append(a.failed, line)
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

func noRetry() backoff.BackOff { return &backoff.StopBackOff{} }

// commerceFixture wires the order, inventory and return services over one memory store.
type commerceFixture struct {
	store     *memory.Store
	clock     *time.Time
	events    *recordingPublisher
	alerts    *recordingAlerts
	logs      *recordingLogger
	inventory InventoryService
	orders    OrderService
	returns   ReturnService
}

func newCommerceFixture(t *testing.T) *commerceFixture {
	t.Helper()
	now := fixtureNow
	f := &commerceFixture{
		store:  memory.New(),
		clock:  &now,
		events: &recordingPublisher{},
		alerts: &recordingAlerts{},
		logs:   &recordingLogger{},
	}
	clock := func() time.Time { return *f.clock }
	ids := sequentialIDs()

	var err error
	f.inventory, err = NewInventoryService(InventoryServiceDeps{
		Products: f.store.Products(),
		Alerts:   f.alerts,
		Backoff:  noRetry,
		Logger:   f.logs.log,
	})
	require.NoError(t, err)

	f.orders, err = NewOrderService(OrderServiceDeps{
		Orders:      f.store.Orders(),
		Products:    f.store.Products(),
		Addresses:   f.store.Addresses(),
		Carts:       f.store.Carts(),
		Counters:    f.store.Counters(),
		Inventory:   f.inventory,
		UnitOfWork:  f.store,
		Events:      f.events,
		CartBackoff: noRetry,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.logs.log,
	})
	require.NoError(t, err)

	f.returns, err = NewReturnService(ReturnServiceDeps{
		Returns:     f.store.Returns(),
		Orders:      f.store.Orders(),
		Inventory:   f.inventory,
		UnitOfWork:  f.store,
		Events:      f.events,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.logs.log,
	})
	require.NoError(t, err)
	return f
}

func (f *commerceFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *commerceFixture) product(t *testing.T, id, price string, stock int) {
	t.Helper()
	require.NoError(t, f.store.Products().Save(context.Background(), domain.Product{
		ID:     id,
		Name:   "Product " + id,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}))
}

func (f *commerceFixture) stock(t *testing.T, id string) int {
	t.Helper()
	product, err := f.store.Products().FindByID(context.Background(), id)
	require.NoError(t, err)
	return product.Stock
}

// placeOrder seeds an address and cart for userID and places an order from it.
func (f *commerceFixture) placeOrder(t *testing.T, userID string, items ...domain.CartItem) Order {
	t.Helper()
	addressID := "addr-" + userID
	f.store.PutAddress(domain.Address{ID: addressID, UserID: userID, City: "Pune"})
	f.store.PutCart(domain.Cart{UserID: userID, Items: items})
	order, err := f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:            userID,
		ShippingAddressID: addressID,
		PaymentMethod:     domain.PaymentMethodUPI,
	})
	require.NoError(t, err)
	return order
}

// deliver walks a placed order through payment, processing, shipping and delivery.
func (f *commerceFixture) deliver(t *testing.T, orderID string) Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.orders.RecordPayment(ctx, RecordPaymentCommand{OrderID: orderID, Status: domain.PaymentStatusPaid, ActorID: "admin"})
	require.NoError(t, err)
	var order Order
	for _, status := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		order, err = f.orders.UpdateStatus(ctx, OrderStatusCommand{OrderID: orderID, Status: status, TrackingNumber: "TRK-1", ActorID: "admin"})
		require.NoError(t, err)
	}
	return order
}
