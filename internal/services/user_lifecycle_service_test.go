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

func TestUserLifecycleClearsCartOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.PutCart(domain.Cart{UserID: "u1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 1}}})
	logs := &recordingLogger{}

	svc, err := NewUserLifecycleService(UserLifecycleServiceDeps{
		Carts:           store.Carts(),
		ProcessedEvents: store.ProcessedEvents(),
		UnitOfWork:      store,
		Logger:          logs.log,
	})
	require.NoError(t, err)

	event := UserDeletedEvent{EventID: "evt-1", UserID: "u1", Email: "u1@example.com"}
	handled, err := svc.HandleUserDeleted(ctx, event)
	require.NoError(t, err)
	assert.True(t, handled)

	cart, err := store.Carts().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	store.PutCart(domain.Cart{UserID: "u1", Items: []domain.CartItem{{ProductID: "p2", Quantity: 1}}})
	handled, err = svc.HandleUserDeleted(ctx, event)
	require.NoError(t, err)
	assert.False(t, handled)
	cart, err = store.Carts().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.True(t, logs.has("user.deleted.duplicate"))
}

type brokenCarts struct {
	repositories.CartRepository
}

func (brokenCarts) Clear(context.Context, string) error { return errors.New("unavailable") }

func TestUserLifecycleRedeliveryAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc, err := NewUserLifecycleService(UserLifecycleServiceDeps{
		Carts:           brokenCarts{store.Carts()},
		ProcessedEvents: store.ProcessedEvents(),
		UnitOfWork:      store,
	})
	require.NoError(t, err)

	_, err = svc.HandleUserDeleted(ctx, UserDeletedEvent{EventID: "evt-1", UserID: "u1"})
	require.Error(t, err)

	first, err := store.ProcessedEvents().MarkProcessed(ctx, "evt-1", eventTypeUserDeleted, fixtureNow)
	require.NoError(t, err)
	assert.True(t, first, "failed handling must not mark the event processed")
}

func TestUserLifecycleRejectsIncompleteEvents(t *testing.T) {
	store := memory.New()
	svc, err := NewUserLifecycleService(UserLifecycleServiceDeps{Carts: store.Carts(), ProcessedEvents: store.ProcessedEvents()})
	require.NoError(t, err)

	_, err = svc.HandleUserDeleted(context.Background(), UserDeletedEvent{EventID: "evt-1"})
	require.ErrorIs(t, err, ErrUserEventInvalid)
	_, err = svc.HandleUserDeleted(context.Background(), UserDeletedEvent{UserID: "u1"})
	require.ErrorIs(t, err, ErrUserEventInvalid)
}
