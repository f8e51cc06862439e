package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/repositories"
)

func TestRunInTxRollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.Products().Save(ctx, domain.Product{ID: "p1", Stock: 5, Active: true}))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := store.Products().DecrementStock(txCtx, "p1", 3); err != nil {
			return err
		}
		if _, err := store.Counters().Next(txCtx, "orders", 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := store.Products().FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)

	next, err := store.Counters().Next(ctx, "orders", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)
}

func TestOrderUpdateChecksVersion(t *testing.T) {
	store := New()
	ctx := context.Background()
	order := domain.Order{
		ID:     "ord_1",
		UserID: "u1",
		Status: domain.OrderStatusPlaced,
		Items:  []domain.OrderItem{{ID: "oit_1", OrderID: "ord_1", ProductID: "p1", Quantity: 2}},
	}
	require.NoError(t, store.Orders().Insert(ctx, order))

	stored, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Version)

	stored.Status = domain.OrderStatusProcessing
	updated, err := store.Orders().Update(ctx, stored, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)

	_, err = store.Orders().Update(ctx, stored, 1)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())

	item, err := store.Orders().FindItem(ctx, "oit_1")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)
}

func TestDecrementStockReportsShortage(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.Products().Save(ctx, domain.Product{ID: "p1", Stock: 1, Active: true}))
	require.NoError(t, store.Products().Save(ctx, domain.Product{ID: "p2", Stock: 9}))

	_, err := store.Products().DecrementStock(ctx, "p1", 2)
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorInsufficient, stockErr.Code)
	assert.Equal(t, 1, stockErr.Available)

	_, err = store.Products().DecrementStock(ctx, "p2", 1)
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorProductInactive, stockErr.Code)

	_, err = store.Products().DecrementStock(ctx, "missing", 1)
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorProductNotFound, stockErr.Code)
}

func TestReturnCreateSeesExistingReturns(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"ret_a", "ret_b"} {
		_, err := store.Returns().Create(ctx, "ord_1", func(existing []domain.ReturnRequest) (domain.ReturnRequest, error) {
			assert.Len(t, existing, i)
			return domain.ReturnRequest{ID: id, OrderID: "ord_1", Status: domain.ReturnStatusRequested, CreatedAt: base.Add(time.Duration(i) * time.Hour)}, nil
		})
		require.NoError(t, err)
	}

	history, err := store.Returns().ListByOrder(ctx, "ord_1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ret_a", history[0].ID)

	_, err = store.Returns().UpdateStatus(ctx, "ret_a", domain.ReturnStatusApproved, domain.ReturnStatusProcessed, base)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}

func TestListPaginatesNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"ord_1", "ord_2", "ord_3"} {
		require.NoError(t, store.Orders().Insert(ctx, domain.Order{ID: id, UserID: "u1", Status: domain.OrderStatusPlaced, PlacedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, store.Orders().Insert(ctx, domain.Order{ID: "ord_x", UserID: "u2", PlacedAt: base}))

	first, err := store.Orders().List(ctx, repositories.OrderListFilter{UserID: "u1", Pagination: domain.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "ord_3", first.Items[0].ID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := store.Orders().List(ctx, repositories.OrderListFilter{UserID: "u1", Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "ord_1", second.Items[0].ID)
	assert.Empty(t, second.NextPageToken)
}

func TestMarkProcessedIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()
	first, err := store.ProcessedEvents().MarkProcessed(ctx, "evt-1", "user.deleted", time.Now())
	require.NoError(t, err)
	assert.True(t, first)
	again, err := store.ProcessedEvents().MarkProcessed(ctx, "evt-1", "user.deleted", time.Now())
	require.NoError(t, err)
	assert.False(t, again)
}

func TestConcurrentDecrementStockNeverOversells(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.Products().Save(ctx, domain.Product{ID: "p1", Stock: 5, Active: true}))

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Products().DecrementStock(ctx, "p1", 1)
			mu.Lock()
			defer mu.Unlock()
			var stockErr *repositories.StockError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient:
				insufficient++
			default:
				t.Errorf("decrement: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 15, insufficient)
	product, err := store.Products().FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)
}

func TestConcurrentReturnCreateIsSerialisedPerOrder(t *testing.T) {
	store := New()
	ctx := context.Background()
	blocked := errors.New("active return exists")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Returns().Create(ctx, "ord_1", func(existing []domain.ReturnRequest) (domain.ReturnRequest, error) {
				if len(existing) > 0 {
					return domain.ReturnRequest{}, blocked
				}
				return domain.ReturnRequest{ID: fmt.Sprintf("ret_%02d", i), OrderID: "ord_1", Status: domain.ReturnStatusRequested}, nil
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case !errors.Is(err, blocked):
				t.Errorf("create: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	history, err := store.Returns().ListByOrder(ctx, "ord_1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
