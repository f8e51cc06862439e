package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/quickcart/commerce/internal/domain"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderAccessDenied indicates the caller does not own the order.
	ErrOrderAccessDenied = errors.New("order: access denied")
	// ErrOrderInvalidTransition indicates the requested status is not reachable from the current one.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates an optimistic concurrency conflict. Callers may retry.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentRequired indicates delivery was attempted on an unpaid order.
	ErrOrderPaymentRequired = errors.New("order: payment not completed")
	// ErrOrderEmptyCart indicates placement was attempted with an empty cart.
	ErrOrderEmptyCart = fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	// ErrInvalidCancellationReason indicates the reason is not allowed for the order's status.
	ErrInvalidCancellationReason = fmt.Errorf("%w: cancellation reason not allowed", ErrOrderInvalidInput)

	// ErrAddressNotFound indicates the shipping address does not exist.
	ErrAddressNotFound = errors.New("address: not found")
	// ErrAddressAccessDenied indicates the address belongs to another user.
	ErrAddressAccessDenied = errors.New("address: access denied")

	// ErrProductNotFound indicates the product has no inventory record.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrProductUnavailable indicates the product is missing or withdrawn from sale.
	ErrProductUnavailable = errors.New("inventory: product unavailable")
	// ErrInsufficientStock indicates the requested quantity exceeds stock on hand.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryInvalidInput signals malformed stock lines.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrPartialReservation indicates some lines were decremented before a later line failed.
	ErrPartialReservation = errors.New("inventory: partial reservation")

	// ErrReturnInvalidInput signals the caller provided invalid data.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnAccessDenied indicates the caller does not own the order or return.
	ErrReturnAccessDenied = errors.New("return: access denied")
	// ErrReturnInvalidTransition indicates the requested return status is unreachable.
	ErrReturnInvalidTransition = errors.New("return: invalid status transition")
	// ErrReturnNotEligible indicates the order status does not allow returns.
	ErrReturnNotEligible = errors.New("return: order not eligible for return")
	// ErrReturnWindowExpired indicates the refund deadline has passed.
	ErrReturnWindowExpired = errors.New("return: return window expired")
	// ErrReturnExceedsRemaining indicates a requested quantity is above the returnable remainder.
	ErrReturnExceedsRemaining = errors.New("return: quantity exceeds remaining")
	// ErrNothingToReturn indicates a full return found a line with nothing left to return.
	ErrNothingToReturn = errors.New("return: nothing left to return")
	// ErrReturnConflict indicates an existing return or a concurrent update blocks the operation.
	ErrReturnConflict = errors.New("return: conflict")
)

// ExceedsRemainingError reports the requested and available quantities for an order line.
type ExceedsRemainingError struct {
	OrderItemID string
	Requested   int
	Available   int
}

func (e *ExceedsRemainingError) Error() string {
	return fmt.Sprintf("%s: order item %s requested %d, available %d",
		ErrReturnExceedsRemaining.Error(), e.OrderItemID, e.Requested, e.Available)
}

func (e *ExceedsRemainingError) Unwrap() error {
	return ErrReturnExceedsRemaining
}

// DuplicateReturnReason distinguishes the ways an existing return blocks a new one.
type DuplicateReturnReason string

const (
	DuplicateReturnActive          DuplicateReturnReason = "active_return_exists"
	DuplicateReturnProcessed       DuplicateReturnReason = "return_already_processed"
	DuplicateReturnRefundInitiated DuplicateReturnReason = "refund_in_progress"
	DuplicateReturnRefunded        DuplicateReturnReason = "already_refunded"
)

var duplicateReturnMessages = map[DuplicateReturnReason]string{
	DuplicateReturnActive:          "active return already exists",
	DuplicateReturnProcessed:       "return already processed",
	DuplicateReturnRefundInitiated: "return already processed, refund initiated",
	DuplicateReturnRefunded:        "return already processed and refunded",
}

// DuplicateReturnError is returned when an existing return for the order blocks creation.
type DuplicateReturnError struct {
	OrderID  string
	ReturnID string
	Reason   DuplicateReturnReason
}

func (e *DuplicateReturnError) Error() string {
	return fmt.Sprintf("%s: %s (order %s, return %s)", ErrReturnConflict.Error(), duplicateReturnMessages[e.Reason], e.OrderID, e.ReturnID)
}

func (e *DuplicateReturnError) Unwrap() error {
	return ErrReturnConflict
}

// StockLine is one product quantity handled by the inventory protocol.
type StockLine struct {
	ProductID string
	Quantity  int
}

// PartialReservationError describes a reservation that failed after earlier lines were decremented.
// Compensated lists the lines re-incremented afterwards; Reserved minus Compensated is the
// inconsistency left for manual reconciliation.
type PartialReservationError struct {
	Reserved    []StockLine
	Compensated []StockLine
	Failed      StockLine
	Cause       error
}

func (e *PartialReservationError) Error() string {
	return fmt.Sprintf("%s: product %s failed after %d reserved lines (%d compensated): %v",
		ErrPartialReservation.Error(), e.Failed.ProductID, len(e.Reserved), len(e.Compensated), e.Cause)
}

// Unwrap exposes both the partial reservation sentinel and the underlying cause.
func (e *PartialReservationError) Unwrap() []error {
	return []error{ErrPartialReservation, e.Cause}
}

// Outstanding returns the reserved lines that could not be compensated.
func (e *PartialReservationError) Outstanding() []StockLine {
	compensated := make(map[string]int, len(e.Compensated))
	for _, line := range e.Compensated {
		compensated[line.ProductID] += line.Quantity
	}
	var outstanding []StockLine
	for _, line := range e.Reserved {
		if compensated[line.ProductID] >= line.Quantity {
			compensated[line.ProductID] -= line.Quantity
			continue
		}
		outstanding = append(outstanding, line)
	}
	return outstanding
}

func invalidTransition(sentinel error, from, to string) error {
	return fmt.Errorf("%w: %s -> %s", sentinel, from, to)
}

func orderTransitionError(from, to domain.OrderStatus) error {
	return invalidTransition(ErrOrderInvalidTransition, string(from), string(to))
}

func returnTransitionError(from, to domain.ReturnStatus) error {
	return invalidTransition(ErrReturnInvalidTransition, string(from), string(to))
}

func requireID(sentinel error, label, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s is required", sentinel, label)
	}
	return trimmed, nil
}

// StockShortageError reports the product that could not satisfy the requested quantity.
type StockShortageError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *StockShortageError) Error() string {
	name := e.ProductID
	if e.ProductName != "" {
		name = e.ProductName
	}
	return fmt.Sprintf("%s for %s (available: %d, requested: %d)", ErrInsufficientStock.Error(), name, e.Available, e.Requested)
}

func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}
