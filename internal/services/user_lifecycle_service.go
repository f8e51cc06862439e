package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quickcart/commerce/internal/repositories"
)

const eventTypeUserDeleted = "user.deleted"

// ErrUserEventInvalid marks user lifecycle events that cannot be processed.
var ErrUserEventInvalid = errors.New("user lifecycle: invalid event")

// UserLifecycleServiceDeps bundles collaborators required to react to account lifecycle events.
type UserLifecycleServiceDeps struct {
	Carts           repositories.CartRepository
	ProcessedEvents repositories.ProcessedEventRepository
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type userLifecycleService struct {
	carts      repositories.CartRepository
	processed  repositories.ProcessedEventRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewUserLifecycleService constructs the consumer side of user-deleted notifications.
func NewUserLifecycleService(deps UserLifecycleServiceDeps) (UserLifecycleService, error) {
	if deps.Carts == nil {
		return nil, errors.New("user lifecycle service: cart repository is required")
	}
	if deps.ProcessedEvents == nil {
		return nil, errors.New("user lifecycle service: processed event repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &userLifecycleService{
		carts:      deps.Carts,
		processed:  deps.ProcessedEvents,
		unitOfWork: unit,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// HandleUserDeleted clears the deleted user's cart. It reports false when the event was
// already handled.
func (s *userLifecycleService) HandleUserDeleted(ctx context.Context, event UserDeletedEvent) (bool, error) {
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return false, fmt.Errorf("%w: user id is required", ErrUserEventInvalid)
	}
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		return false, fmt.Errorf("%w: event id is required", ErrUserEventInvalid)
	}
	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		eventType = eventTypeUserDeleted
	}

	var handled bool
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		first, err := s.processed.MarkProcessed(txCtx, eventID, eventType, s.clock())
		if err != nil {
			return err
		}
		handled = first
		if !first {
			return nil
		}
		return s.carts.Clear(txCtx, userID)
	})
	if err != nil {
		return false, fmt.Errorf("user lifecycle: handle %s: %w", eventID, err)
	}

	if !handled {
		s.logger(ctx, "user.deleted.duplicate", map[string]any{"eventId": eventID, "userId": userID})
		return false, nil
	}
	s.logger(ctx, "user.deleted.cart_cleared", map[string]any{"eventId": eventID, "userId": userID})
	return true, nil
}
