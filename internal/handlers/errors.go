package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/quickcart/commerce/internal/platform/httpx"
	"github.com/quickcart/commerce/internal/platform/observability"
	"github.com/quickcart/commerce/internal/repositories"
	"github.com/quickcart/commerce/internal/services"

	"go.uber.org/zap"
)

type errorMapping struct {
	targets []error
	code    string
	status  int
	// fixed replaces err.Error() in the response when set.
	fixed string
}

var serviceErrorMappings = []errorMapping{
	{targets: []error{services.ErrOrderNotFound}, code: "order_not_found", status: http.StatusNotFound, fixed: "order not found"},
	{targets: []error{services.ErrReturnNotFound}, code: "return_not_found", status: http.StatusNotFound, fixed: "return not found"},
	{targets: []error{services.ErrAddressNotFound}, code: "address_not_found", status: http.StatusNotFound, fixed: "address not found"},
	{targets: []error{services.ErrProductNotFound}, code: "product_not_found", status: http.StatusNotFound},
	{targets: []error{services.ErrOrderAccessDenied, services.ErrReturnAccessDenied, services.ErrAddressAccessDenied}, code: "access_denied", status: http.StatusForbidden, fixed: "resource belongs to another user"},
	{targets: []error{services.ErrInvalidCancellationReason}, code: "invalid_cancellation_reason", status: http.StatusBadRequest},
	{targets: []error{services.ErrOrderEmptyCart}, code: "cart_empty", status: http.StatusBadRequest},
	{targets: []error{services.ErrOrderInvalidInput, services.ErrReturnInvalidInput, services.ErrInventoryInvalidInput}, code: "invalid_request", status: http.StatusBadRequest},
	{targets: []error{services.ErrOrderInvalidTransition, services.ErrReturnInvalidTransition}, code: "invalid_transition", status: http.StatusConflict},
	{targets: []error{services.ErrInsufficientStock}, code: "insufficient_stock", status: http.StatusConflict},
	{targets: []error{services.ErrProductUnavailable}, code: "product_unavailable", status: http.StatusConflict},
	{targets: []error{services.ErrReturnNotEligible}, code: "return_not_eligible", status: http.StatusUnprocessableEntity},
	{targets: []error{services.ErrReturnWindowExpired}, code: "return_window_expired", status: http.StatusUnprocessableEntity},
	{targets: []error{services.ErrReturnExceedsRemaining}, code: "return_exceeds_remaining", status: http.StatusUnprocessableEntity},
	{targets: []error{services.ErrNothingToReturn}, code: "nothing_to_return", status: http.StatusUnprocessableEntity},
	{targets: []error{services.ErrOrderConflict}, code: "order_conflict", status: http.StatusConflict},
	{targets: []error{services.ErrReturnConflict}, code: "return_conflict", status: http.StatusConflict},
	{targets: []error{services.ErrOrderPaymentRequired}, code: "payment_required", status: http.StatusPreconditionFailed},
}

// writeServiceError maps service and repository failures onto the API error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, serviceError(ctx, err))
}

func serviceError(ctx context.Context, err error) httpx.Error {
	var partial *services.PartialReservationError
	if errors.As(err, &partial) {
		observability.FromContext(ctx).Error("order placement left a partial reservation", zap.Error(err))
		return httpx.NewError("inventory_inconsistent", "order could not be placed; stock requires reconciliation", http.StatusInternalServerError)
	}

	for _, mapping := range serviceErrorMappings {
		if !matchesAny(err, mapping.targets) {
			continue
		}
		message := mapping.fixed
		if message == "" {
			message = err.Error()
		}
		return withErrorDetails(httpx.NewError(mapping.code, message, mapping.status), err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return httpx.NewError("not_found", "resource not found", http.StatusNotFound)
		case repoErr.IsConflict():
			return httpx.NewError("conflict", "resource was modified concurrently; retry", http.StatusConflict)
		case repoErr.IsUnavailable():
			return httpx.Unavailable("storage")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout)
	}

	observability.FromContext(ctx).Error("unhandled service error", zap.Error(err))
	return httpx.NewError("internal", "internal server error", http.StatusInternalServerError)
}

func withErrorDetails(apiErr httpx.Error, err error) httpx.Error {
	var exceeds *services.ExceedsRemainingError
	if errors.As(err, &exceeds) {
		return apiErr.WithDetails(map[string]any{
			"order_item_id": exceeds.OrderItemID,
			"requested":     exceeds.Requested,
			"available":     exceeds.Available,
		})
	}
	var duplicate *services.DuplicateReturnError
	if errors.As(err, &duplicate) {
		return apiErr.WithDetails(map[string]any{
			"reason":    string(duplicate.Reason),
			"return_id": duplicate.ReturnID,
		})
	}
	var shortage *services.StockShortageError
	if errors.As(err, &shortage) {
		return apiErr.WithDetails(map[string]any{
			"product_id": shortage.ProductID,
			"requested":  shortage.Requested,
			"available":  shortage.Available,
		})
	}
	return apiErr
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
