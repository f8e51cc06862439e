package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/repositories"
	"github.com/quickcart/commerce/internal/repositories/memory"
)

// flakyProducts fails IncrementStock for the listed products.
type flakyProducts struct {
	repositories.ProductRepository
	failIncrement map[string]error
	increments    int
}

func (f *flakyProducts) IncrementStock(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	f.increments++
	if err := f.failIncrement[productID]; err != nil {
		return domain.Product{}, err
	}
	return f.ProductRepository.IncrementStock(ctx, productID, quantity)
}

func newInventoryFixture(t *testing.T, products repositories.ProductRepository) (InventoryService, *recordingAlerts, *recordingLogger) {
	t.Helper()
	alerts := &recordingAlerts{}
	logs := &recordingLogger{}
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products: products,
		Alerts:   alerts,
		Backoff:  noRetry,
		Logger:   logs.log,
	})
	require.NoError(t, err)
	return svc, alerts, logs
}

func seedProducts(t *testing.T, store *memory.Store, products ...domain.Product) {
	t.Helper()
	for _, product := range products {
		require.NoError(t, store.Products().Save(context.Background(), product))
	}
}

func TestInventoryValidateAvailability(t *testing.T) {
	store := memory.New()
	seedProducts(t, store,
		domain.Product{ID: "p1", Name: "Kettle", Stock: 3, Active: true},
		domain.Product{ID: "p2", Name: "Lamp", Stock: 10, Active: false},
	)
	svc, _, _ := newInventoryFixture(t, store.Products())
	ctx := context.Background()

	require.NoError(t, svc.ValidateAvailability(ctx, []StockLine{{ProductID: "p1", Quantity: 3}}))

	err := svc.ValidateAvailability(ctx, []StockLine{{ProductID: "p1", Quantity: 2}, {ProductID: "p1", Quantity: 2}})
	var shortage *StockShortageError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, "Kettle", shortage.ProductName)
	assert.Equal(t, 4, shortage.Requested)
	assert.Equal(t, 3, shortage.Available)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	assert.ErrorIs(t, svc.ValidateAvailability(ctx, []StockLine{{ProductID: "p2", Quantity: 1}}), ErrProductUnavailable)
	assert.ErrorIs(t, svc.ValidateAvailability(ctx, []StockLine{{ProductID: "nope", Quantity: 1}}), ErrProductUnavailable)
	assert.ErrorIs(t, svc.ValidateAvailability(ctx, []StockLine{{ProductID: "p1", Quantity: 0}}), ErrInventoryInvalidInput)
}

func TestInventoryReserveCompensatesPartialFailure(t *testing.T) {
	store := memory.New()
	seedProducts(t, store,
		domain.Product{ID: "p1", Stock: 5, Active: true},
		domain.Product{ID: "p2", Stock: 5, Active: true},
		domain.Product{ID: "p3", Stock: 1, Active: true},
	)
	svc, alerts, logs := newInventoryFixture(t, store.Products())

	err := svc.Reserve(context.Background(), []StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p3", Quantity: 4},
	})

	var partial *PartialReservationError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, ErrPartialReservation)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "p3", partial.Failed.ProductID)
	assert.Len(t, partial.Reserved, 2)
	assert.Equal(t, []StockLine{{ProductID: "p2", Quantity: 1}, {ProductID: "p1", Quantity: 2}}, partial.Compensated)
	assert.Empty(t, partial.Outstanding())

	for id, want := range map[string]int{"p1": 5, "p2": 5, "p3": 1} {
		product, err := store.Products().FindByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, product.Stock, id)
	}
	assert.True(t, logs.has("inventory.reservation.partial"))
	require.Len(t, alerts.partial, 1)
	assert.Empty(t, alerts.partial[0])
}

func TestInventoryReserveReportsUncompensatedLines(t *testing.T) {
	store := memory.New()
	seedProducts(t, store,
		domain.Product{ID: "p1", Stock: 5, Active: true},
		domain.Product{ID: "p2", Stock: 0, Active: true},
	)
	products := &flakyProducts{
		ProductRepository: store.Products(),
		failIncrement:     map[string]error{"p1": errors.New("inventory owner unreachable")},
	}
	svc, alerts, logs := newInventoryFixture(t, products)

	err := svc.Reserve(context.Background(), []StockLine{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}})

	var partial *PartialReservationError
	require.ErrorAs(t, err, &partial)
	assert.Empty(t, partial.Compensated)
	assert.Equal(t, []StockLine{{ProductID: "p1", Quantity: 2}}, partial.Outstanding())
	require.Len(t, alerts.partial, 1)
	assert.Equal(t, []StockLine{{ProductID: "p1", Quantity: 2}}, alerts.partial[0])
	assert.Equal(t, []StockLine{{ProductID: "p1", Quantity: 2}}, alerts.failed)
	assert.True(t, logs.has("inventory.restock.failed"))
}

func TestInventoryReserveFirstLineFailureIsPlain(t *testing.T) {
	store := memory.New()
	seedProducts(t, store, domain.Product{ID: "p1", Stock: 1, Active: true})
	svc, alerts, _ := newInventoryFixture(t, store.Products())

	err := svc.Reserve(context.Background(), []StockLine{{ProductID: "p1", Quantity: 2}})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrPartialReservation)
	assert.Empty(t, alerts.partial)
}

func TestInventoryReleaseContinuesPastFailures(t *testing.T) {
	store := memory.New()
	seedProducts(t, store,
		domain.Product{ID: "p1", Stock: 0, Active: true},
		domain.Product{ID: "p2", Stock: 0, Active: true},
	)
	products := &flakyProducts{
		ProductRepository: store.Products(),
		failIncrement:     map[string]error{"p1": errors.New("timeout")},
	}
	svc, alerts, _ := newInventoryFixture(t, products)

	err := svc.Release(context.Background(), []StockLine{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 3}})
	require.Error(t, err)

	product, findErr := store.Products().FindByID(context.Background(), "p2")
	require.NoError(t, findErr)
	assert.Equal(t, 3, product.Stock)
	assert.Equal(t, []StockLine{{ProductID: "p1", Quantity: 1}}, alerts.failed)
}

func TestInventoryReleaseDoesNotRetryPermanentErrors(t *testing.T) {
	store := memory.New()
	products := &flakyProducts{ProductRepository: store.Products()}
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products: products,
		Backoff:  RestockBackoff(0, 0),
	})
	require.NoError(t, err)

	err = svc.Release(context.Background(), []StockLine{{ProductID: "missing", Quantity: 1}})
	require.Error(t, err)
	assert.Equal(t, 1, products.increments)
}
