package repositories

import "fmt"

// StockErrorCode enumerates failure reasons reported by the inventory owner.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates the requested quantity exceeds the stock on hand.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product has no stock record.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorProductInactive indicates the product is withdrawn from sale.
	StockErrorProductInactive StockErrorCode = "stock_product_inactive"
	// StockErrorInvalidQuantity indicates a non-positive quantity.
	StockErrorInvalidQuantity StockErrorCode = "stock_invalid_quantity"
)

// StockError wraps stock mutation failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error for the product.
func NewStockError(code StockErrorCode, productID string, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}

// InsufficientStock builds the error returned when quantity exceeds availability.
func InsufficientStock(productID string, requested, available int) *StockError {
	err := NewStockError(StockErrorInsufficient, productID,
		fmt.Sprintf("product %s has %d in stock, %d requested", productID, available, requested), nil)
	err.Requested = requested
	err.Available = available
	return err
}
