package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/platform/textutil"
	"github.com/quickcart/commerce/internal/repositories"
)

const (
	returnIDPrefix     = "ret_"
	returnItemIDPrefix = "rit_"
)

// orderStatusForReturn maps a return status to the order status it drives. Statuses absent
// from the map leave the order untouched.
func orderStatusForReturn(request domain.ReturnRequest, target domain.ReturnStatus) (domain.OrderStatus, bool) {
	switch target {
	case domain.ReturnStatusProcessed:
		if request.Type == domain.ReturnTypeFull {
			return domain.OrderStatusReturned, true
		}
		return domain.OrderStatusPartiallyReturned, true
	case domain.ReturnStatusRefundInitiated:
		return domain.OrderStatusRefundInitiated, true
	case domain.ReturnStatusRefunded:
		return domain.OrderStatusRefunded, true
	default:
		return "", false
	}
}

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRepository
	Orders      repositories.OrderRepository
	Inventory   InventoryService
	UnitOfWork  repositories.UnitOfWork
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns    repositories.ReturnRepository
	orders     repositories.OrderRepository
	inventory  InventoryService
	unitOfWork repositories.UnitOfWork
	events     eventSink
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewReturnService wires the return state machine and ledger.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("return service: inventory service is required")
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
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &returnService{
		returns:    deps.Returns,
		orders:     deps.Orders,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		events:     eventSink{publisher: deps.Events, logger: logger},
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *returnService) CreateReturn(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error) {
	orderID, err := requireID(ErrReturnInvalidInput, "order id", cmd.OrderID)
	if err != nil {
		return ReturnRequest{}, err
	}
	userID, err := requireID(ErrReturnInvalidInput, "user id", cmd.UserID)
	if err != nil {
		return ReturnRequest{}, err
	}
	returnType := domain.ReturnType(strings.ToUpper(strings.TrimSpace(string(cmd.Type))))
	if !returnType.Valid() {
		return ReturnRequest{}, fmt.Errorf("%w: return type must be FULL or PARTIAL", ErrReturnInvalidInput)
	}
	reason := textutil.CleanReason(cmd.Reason, textutil.MaxReasonLength)
	if reason == "" {
		return ReturnRequest{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ReturnRequest{}, s.mapOrderError(err)
	}

	now := s.now()
	if err := checkReturnEligibility(order, userID, now); err != nil {
		return ReturnRequest{}, err
	}

	requested, err := normaliseReturnItems(order, returnType, cmd.Items)
	if err != nil {
		return ReturnRequest{}, err
	}

	created, err := s.returns.Create(ctx, orderID, func(existing []domain.ReturnRequest) (domain.ReturnRequest, error) {
		if blocking, reason, found := blockingReturn(existing); found {
			return domain.ReturnRequest{}, &DuplicateReturnError{OrderID: orderID, ReturnID: blocking.ID, Reason: reason}
		}

		request := domain.ReturnRequest{
			ID:        s.nextID(returnIDPrefix),
			OrderID:   orderID,
			UserID:    userID,
			Status:    domain.ReturnStatusRequested,
			Type:      returnType,
			Reason:    reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		items, err := s.buildReturnItems(request.ID, order, RemainingReturnable(order, existing), returnType, requested)
		if err != nil {
			return domain.ReturnRequest{}, err
		}
		request.Items = items
		return request, nil
	})
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.events.publish(ctx, DomainEvent{
		Type:          eventReturnCreated,
		OrderID:       created.OrderID,
		OrderNumber:   order.OrderNumber,
		ReturnID:      created.ID,
		UserID:        created.UserID,
		CurrentStatus: string(created.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"type":         string(created.Type),
			"refundAmount": created.RefundTotal().StringFixed(2),
		},
	})
	return created, nil
}

func (s *returnService) ApproveReturn(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error) {
	returnID, err := requireID(ErrReturnInvalidInput, "return id", cmd.ReturnID)
	if err != nil {
		return ReturnRequest{}, err
	}
	current, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if current.Status != domain.ReturnStatusRequested {
		return ReturnRequest{}, returnTransitionError(current.Status, domain.ReturnStatusApproved)
	}
	return s.simpleTransition(ctx, current, domain.ReturnStatusApproved, cmd.ActorID)
}

func (s *returnService) CancelReturn(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error) {
	returnID, err := requireID(ErrReturnInvalidInput, "return id", cmd.ReturnID)
	if err != nil {
		return ReturnRequest{}, err
	}
	actorID, err := requireID(ErrReturnInvalidInput, "user id", cmd.ActorID)
	if err != nil {
		return ReturnRequest{}, err
	}
	current, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if current.UserID != actorID {
		return ReturnRequest{}, fmt.Errorf("%w: return %s", ErrReturnAccessDenied, returnID)
	}
	if current.Status != domain.ReturnStatusRequested {
		return ReturnRequest{}, returnTransitionError(current.Status, domain.ReturnStatusCancelled)
	}
	return s.simpleTransition(ctx, current, domain.ReturnStatusCancelled, actorID)
}

// UpdateReturnStatus moves a return through its state machine and applies the order-side
// effects through the order state machine. The return and order writes commit together;
// restocking for PROCESSED runs afterwards with retries.
func (s *returnService) UpdateReturnStatus(ctx context.Context, cmd ReturnStatusCommand) (ReturnRequest, error) {
	returnID, err := requireID(ErrReturnInvalidInput, "return id", cmd.ReturnID)
	if err != nil {
		return ReturnRequest{}, err
	}
	target := domain.ReturnStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if !target.Valid() {
		return ReturnRequest{}, fmt.Errorf("%w: unknown return status %q", ErrReturnInvalidInput, cmd.Status)
	}

	var (
		updated       ReturnRequest
		previous      domain.ReturnStatus
		order         Order
		previousOrder domain.OrderStatus
		orderChanged  bool
	)
	now := s.now()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.returns.FindByID(txCtx, returnID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !CanTransitionReturn(current.Status, target) {
			return returnTransitionError(current.Status, target)
		}
		previous = current.Status

		orderTarget, drives := orderStatusForReturn(current, target)
		orderChanged = drives
		if drives {
			loaded, err := s.orders.FindByID(txCtx, current.OrderID)
			if err != nil {
				return s.mapOrderError(err)
			}
			previousOrder = loaded.Status
			readVersion := loaded.Version
			if err := TransitionOrder(&loaded, orderTarget, TransitionOptions{Now: now}); err != nil {
				return fmt.Errorf("%w: order %s: %w", ErrReturnInvalidTransition, loaded.ID, err)
			}
			saved, err := s.orders.Update(txCtx, loaded, readVersion)
			if err != nil {
				return s.mapOrderError(err)
			}
			order = saved
		}

		saved, err := s.returns.UpdateStatus(txCtx, returnID, current.Status, target, now)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		updated = saved
		return nil
	})
	if err != nil {
		return ReturnRequest{}, err
	}

	if target == domain.ReturnStatusProcessed {
		s.restockReturn(ctx, updated)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	s.events.publish(ctx, DomainEvent{
		Type:           eventReturnStatusChanged,
		OrderID:        updated.OrderID,
		ReturnID:       updated.ID,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        actor,
		OccurredAt:     now,
	})
	if orderChanged {
		s.events.publish(ctx, DomainEvent{
			Type:           eventOrderStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			ReturnID:       updated.ID,
			UserID:         order.UserID,
			PreviousStatus: string(previousOrder),
			CurrentStatus:  string(order.Status),
			ActorID:        actor,
			OccurredAt:     now,
		})
	}
	return updated, nil
}

func (s *returnService) GetReturn(ctx context.Context, query GetReturnQuery) (ReturnRequest, error) {
	returnID, err := requireID(ErrReturnInvalidInput, "return id", query.ReturnID)
	if err != nil {
		return ReturnRequest{}, err
	}
	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if !query.IsAdmin && request.UserID != strings.TrimSpace(query.ActorID) {
		return ReturnRequest{}, fmt.Errorf("%w: return %s", ErrReturnAccessDenied, returnID)
	}
	return request, nil
}

func (s *returnService) ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	filter.OrderID = strings.TrimSpace(filter.OrderID)
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[ReturnRequest]{}, fmt.Errorf("%w: unknown return status %q", ErrReturnInvalidInput, status)
		}
	}
	page, err := s.returns.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *returnService) CalculateTotalRefundAmount(ctx context.Context, query GetReturnQuery) (decimal.Decimal, error) {
	request, err := s.GetReturn(ctx, query)
	if err != nil {
		return decimal.Zero, err
	}
	if request.Status == domain.ReturnStatusCancelled {
		return decimal.Zero, fmt.Errorf("%w: return %s is cancelled", ErrReturnConflict, request.ID)
	}
	return request.RefundTotal(), nil
}

func (s *returnService) RemainingQuantities(ctx context.Context, query RemainingQuery) (map[string]int, error) {
	orderID, err := requireID(ErrReturnInvalidInput, "order id", query.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, s.mapOrderError(err)
	}
	if !query.IsAdmin && order.UserID != strings.TrimSpace(query.ActorID) {
		return nil, fmt.Errorf("%w: order %s", ErrReturnAccessDenied, orderID)
	}
	history, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return RemainingReturnable(order, history), nil
}

func (s *returnService) simpleTransition(ctx context.Context, current ReturnRequest, target domain.ReturnStatus, actorID string) (ReturnRequest, error) {
	now := s.now()
	updated, err := s.returns.UpdateStatus(ctx, current.ID, current.Status, target, now)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	s.events.publish(ctx, DomainEvent{
		Type:           eventReturnStatusChanged,
		OrderID:        updated.OrderID,
		ReturnID:       updated.ID,
		UserID:         updated.UserID,
		PreviousStatus: string(current.Status),
		CurrentStatus:  string(updated.Status),
		ActorID:        strings.TrimSpace(actorID),
		OccurredAt:     now,
	})
	return updated, nil
}

func (s *returnService) buildReturnItems(returnID string, order Order, remaining map[string]int, returnType domain.ReturnType, requested []ReturnItemRequest) ([]ReturnItem, error) {
	if returnType == domain.ReturnTypeFull {
		requested = make([]ReturnItemRequest, 0, len(order.Items))
		for _, line := range order.Items {
			available := remaining[line.ID]
			if available <= 0 {
				return nil, fmt.Errorf("%w: order item %s has no remaining quantity", ErrNothingToReturn, line.ID)
			}
			requested = append(requested, ReturnItemRequest{OrderItemID: line.ID, Quantity: available})
		}
	}

	items := make([]ReturnItem, 0, len(requested))
	for _, req := range requested {
		line, _ := order.Item(req.OrderItemID)
		if available := remaining[line.ID]; req.Quantity > available {
			return nil, &ExceedsRemainingError{OrderItemID: line.ID, Requested: req.Quantity, Available: available}
		}
		items = append(items, ReturnItem{
			ID:           s.nextID(returnItemIDPrefix),
			ReturnID:     returnID,
			OrderItemID:  line.ID,
			ProductID:    line.ProductID,
			Quantity:     req.Quantity,
			RefundAmount: RefundAmount(line.Price, req.Quantity),
		})
	}
	return items, nil
}

func (s *returnService) restockReturn(ctx context.Context, request ReturnRequest) {
	lines := make([]StockLine, 0, len(request.Items))
	for _, item := range request.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if len(lines) == 0 {
		return
	}
	if err := s.inventory.Release(context.WithoutCancel(ctx), lines); err != nil {
		s.logger(ctx, "return.restock.incomplete", map[string]any{
			"return": request.ID,
			"order":  request.OrderID,
			"error":  err.Error(),
		})
	}
}

func checkReturnEligibility(order Order, userID string, now time.Time) error {
	if order.UserID != userID {
		return fmt.Errorf("%w: order %s", ErrReturnAccessDenied, order.ID)
	}
	if order.Status != domain.OrderStatusDelivered && order.Status != domain.OrderStatusPartiallyReturned {
		return fmt.Errorf("%w: order %s is %s", ErrReturnNotEligible, order.ID, order.Status)
	}
	if order.RefundDeadline == nil || !now.Before(*order.RefundDeadline) {
		return fmt.Errorf("%w: order %s", ErrReturnWindowExpired, order.ID)
	}
	return nil
}

// normaliseReturnItems validates the caller's partial selection against the order lines.
// Full returns ignore any supplied items.
func normaliseReturnItems(order Order, returnType domain.ReturnType, items []ReturnItemRequest) ([]ReturnItemRequest, error) {
	if returnType == domain.ReturnTypeFull {
		return nil, nil
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: partial return requires items", ErrReturnInvalidInput)
	}
	seen := make(map[string]struct{}, len(items))
	result := make([]ReturnItemRequest, 0, len(items))
	for _, item := range items {
		itemID := strings.TrimSpace(item.OrderItemID)
		if _, ok := order.Item(itemID); !ok {
			return nil, fmt.Errorf("%w: order item %q not found on order %s", ErrReturnInvalidInput, itemID, order.ID)
		}
		if _, dup := seen[itemID]; dup {
			return nil, fmt.Errorf("%w: order item %s listed more than once", ErrReturnInvalidInput, itemID)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for order item %s must be positive", ErrReturnInvalidInput, itemID)
		}
		seen[itemID] = struct{}{}
		result = append(result, ReturnItemRequest{OrderItemID: itemID, Quantity: item.Quantity})
	}
	return result, nil
}

func (s *returnService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("return: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *returnService) mapOrderError(err error) error {
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
			return fmt.Errorf("return: order repository unavailable: %w", err)
		}
	}
	return err
}

func (s *returnService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *returnService) now() time.Time {
	return s.clock()
}

func (s *returnService) nextID(prefix string) string {
	return prefix + s.newID()
}
