package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/platform/auth"
	"github.com/quickcart/commerce/internal/platform/config"
	"github.com/quickcart/commerce/internal/platform/idempotency"
	"github.com/quickcart/commerce/internal/platform/observability"
	"github.com/quickcart/commerce/internal/repositories/memory"
	"github.com/quickcart/commerce/internal/services"
)

type recordingPublisher struct {
	events []services.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event services.DomainEvent) error {
	p.events = append(p.events, event)
	return nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, nil)
	require.Error(t, err)
}

func TestContainerPlacesOrderAgainstMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Products().Save(ctx, domain.Product{ID: "p1", Name: "Kettle", Price: decimal.RequireFromString("40.00"), Stock: 3, Active: true}))
	store.PutAddress(domain.Address{ID: "addr-1", UserID: "user-1", Recipient: "Jane", Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"})
	store.PutCart(domain.Cart{UserID: "user-1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 2}}})

	publisher := &recordingPublisher{}
	container, err := NewContainer(ctx, config.Config{}, store,
		WithEventPublisher(publisher),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	order, err := container.Services.Orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		PaymentMethod:     domain.PaymentMethodCOD,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPlaced, order.Status)
	assert.NotEmpty(t, order.ID)

	product, err := store.Products().FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, product.Stock)
	assert.NotEmpty(t, publisher.events)

	report, err := container.Services.System.Readiness(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthOK, report.Status)
}

func TestPrincipalResolver(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.PutUser(domain.User{ID: "user-9", Email: "ops@example.com", Role: domain.UserRoleAdmin})

	container, err := NewContainer(ctx, config.Config{}, store)
	require.NoError(t, err)
	resolver := container.PrincipalResolver()

	principal, err := resolver.ResolvePrincipal(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-9", principal.UserID)
	assert.Equal(t, auth.RoleAdmin, principal.Role)

	_, err = resolver.ResolvePrincipal(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrUnknownPrincipal)
}

func TestContainerCloseRunsClosers(t *testing.T) {
	var closed []string
	boom := errors.New("boom")
	container, err := NewContainer(context.Background(), config.Config{}, memory.New(),
		WithCloser(func(context.Context) error {
			closed = append(closed, "first")
			return nil
		}),
		WithCloser(func(context.Context) error {
			closed = append(closed, "second")
			return boom
		}),
	)
	require.NoError(t, err)

	err = container.Close(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, closed)
}

func TestAlertRecorderAcceptsLines(t *testing.T) {
	alerts, err := observability.NewAlerts(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	recorder := NewAlertRecorder(alerts, nil)

	assert.NotPanics(t, func() {
		recorder.PartialReservation(context.Background(), []services.StockLine{{ProductID: "p1", Quantity: 2}})
		recorder.RestockFailed(context.Background(), "order.cancel", services.StockLine{ProductID: "p1", Quantity: 2}, errors.New("timeout"))
	})
}

func TestOpenInfrastructureMemory(t *testing.T) {
	cfg := config.Config{
		Persistence: config.PersistenceConfig{Driver: config.PersistenceMemory},
		Events:      config.EventsConfig{Backend: config.EventsBackendNone},
		Idempotency: config.IdempotencyConfig{Backend: "firestore"},
	}
	infra, err := OpenInfrastructure(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.Close(context.Background()) })

	assert.IsType(t, &memory.Store{}, infra.Registry)
	assert.Nil(t, infra.Events)
	assert.IsType(t, &idempotency.MemoryStore{}, infra.Idempotency)

	health, err := infra.HealthRepository()
	require.NoError(t, err)
	report, err := health.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthOK, report.Status)
}

func TestOpenInfrastructureRejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{name: "persistence", cfg: config.Config{Persistence: config.PersistenceConfig{Driver: "postgres"}}},
		{name: "events", cfg: config.Config{
			Persistence: config.PersistenceConfig{Driver: config.PersistenceMemory},
			Events:      config.EventsConfig{Backend: "sns"},
		}},
		{name: "idempotency", cfg: config.Config{
			Persistence: config.PersistenceConfig{Driver: config.PersistenceMemory},
			Idempotency: config.IdempotencyConfig{Backend: "memcached"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenInfrastructure(context.Background(), tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestKafkaConfigFor(t *testing.T) {
	cfg := KafkaConfigFor(config.KafkaConfig{
		Brokers:       []string{"b1:9092"},
		ConsumerGroup: "commerce-api",
		SASLUsername:  "svc",
		SASLPassword:  "secret",
	}, "user-deleted")

	assert.Equal(t, "user-deleted", cfg.Topic)
	assert.Equal(t, "commerce-api", cfg.GroupID)
	assert.Equal(t, []string{"b1:9092"}, cfg.Brokers)
}
