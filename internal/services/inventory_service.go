package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quickcart/commerce/internal/repositories"
)

const (
	defaultRestockInitialInterval = 200 * time.Millisecond
	defaultRestockMaxElapsed      = 30 * time.Second

	restockSourceRelease    = "release"
	restockSourceCompensate = "compensate"
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Alerts   AlertRecorder
	// Backoff builds the retry schedule for each restock line. Defaults to exponential backoff
	// bounded by 30s.
	Backoff func() backoff.BackOff
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	alerts   AlertRecorder
	backoff  func() backoff.BackOff
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService constructs the inventory consistency protocol over the product repository.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	alerts := deps.Alerts
	if alerts == nil {
		alerts = noopAlerts{}
	}

	policy := deps.Backoff
	if policy == nil {
		policy = RestockBackoff(defaultRestockInitialInterval, defaultRestockMaxElapsed)
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &inventoryService{
		products: deps.Products,
		alerts:   alerts,
		backoff:  policy,
		logger:   logger,
	}, nil
}

// RestockBackoff returns an exponential backoff factory suitable for InventoryServiceDeps.
func RestockBackoff(initial, maxElapsed time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		if maxElapsed > 0 {
			b.MaxElapsedTime = maxElapsed
		}
		return b
	}
}

func (s *inventoryService) ValidateAvailability(ctx context.Context, lines []StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	for _, line := range normalised {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return s.mapStockError(line, err)
		}
		if !product.Active {
			return fmt.Errorf("%w: product %s is not active", ErrProductUnavailable, line.ProductID)
		}
		if product.Stock < line.Quantity {
			return &StockShortageError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   line.Quantity,
				Available:   product.Stock,
			}
		}
	}
	return nil
}

// Reserve decrements stock line by line. When a later line fails, earlier decrements are
// compensated and a PartialReservationError is returned so the caller can raise an alert.
func (s *inventoryService) Reserve(ctx context.Context, lines []StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	reserved := make([]StockLine, 0, len(normalised))
	for _, line := range normalised {
		if _, err := s.products.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			cause := s.mapStockError(line, err)
			if len(reserved) == 0 {
				return cause
			}
			return s.compensate(ctx, reserved, line, cause)
		}
		reserved = append(reserved, line)
	}
	return nil
}

// Release increments stock for each line, retrying transient failures. Lines that still fail
// are logged and reported to the alert recorder; the joined error lists them.
func (s *inventoryService) Release(ctx context.Context, lines []StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	var errs []error
	for _, line := range normalised {
		if err := s.restock(ctx, line); err != nil {
			s.reportRestockFailure(ctx, restockSourceRelease, line, err)
			errs = append(errs, fmt.Errorf("restock %s x%d: %w", line.ProductID, line.Quantity, err))
		}
	}
	return errors.Join(errs...)
}

func (s *inventoryService) compensate(ctx context.Context, reserved []StockLine, failed StockLine, cause error) error {
	partial := &PartialReservationError{
		Reserved: slices.Clone(reserved),
		Failed:   failed,
		Cause:    cause,
	}
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := s.restock(ctx, line); err != nil {
			s.reportRestockFailure(ctx, restockSourceCompensate, line, err)
			continue
		}
		partial.Compensated = append(partial.Compensated, line)
	}

	outstanding := partial.Outstanding()
	s.logger(ctx, "inventory.reservation.partial", map[string]any{
		"failedProduct": failed.ProductID,
		"reserved":      len(reserved),
		"compensated":   len(partial.Compensated),
		"outstanding":   len(outstanding),
		"error":         cause.Error(),
	})
	s.alerts.PartialReservation(ctx, outstanding)
	return partial
}

func (s *inventoryService) restock(ctx context.Context, line StockLine) error {
	op := func() error {
		_, err := s.products.IncrementStock(ctx, line.ProductID, line.Quantity)
		if err == nil {
			return nil
		}
		if !isRetryableStockError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(s.backoff(), ctx))
}

func (s *inventoryService) reportRestockFailure(ctx context.Context, source string, line StockLine, err error) {
	s.logger(ctx, "inventory.restock.failed", map[string]any{
		"source":   source,
		"product":  line.ProductID,
		"quantity": line.Quantity,
		"error":    err.Error(),
	})
	s.alerts.RestockFailed(ctx, source, line, err)
}

func (s *inventoryService) mapStockError(line StockLine, err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &StockShortageError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: stockErr.Available,
			}
		case repositories.StockErrorProductNotFound, repositories.StockErrorProductInactive:
			return fmt.Errorf("%w: %v", ErrProductUnavailable, err)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: product %s: %v", ErrProductUnavailable, line.ProductID, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}
	return err
}

func isRetryableStockError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return !repoErr.IsNotFound()
	}
	return true
}

// normaliseStockLines validates lines and merges duplicates per product, preserving first-seen order.
func normaliseStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	index := make(map[string]int, len(lines))
	result := make([]StockLine, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line %d product id is required", ErrInventoryInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInventoryInvalidInput, i)
		}
		if pos, ok := index[productID]; ok {
			result[pos].Quantity += line.Quantity
			continue
		}
		index[productID] = len(result)
		result = append(result, StockLine{ProductID: productID, Quantity: line.Quantity})
	}
	return result, nil
}
