package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quickcart/commerce/internal/services"
)

type fakeRepoError struct {
	notFound, conflict, unavailable bool
}

func (e fakeRepoError) Error() string       { return "repository failure" }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return e.unavailable }

func TestWriteServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "wrapped not found", err: fmt.Errorf("load: %w", services.ErrReturnNotFound), status: http.StatusNotFound, code: "return_not_found"},
		{name: "address denied", err: services.ErrAddressAccessDenied, status: http.StatusForbidden, code: "access_denied"},
		{name: "empty cart", err: services.ErrOrderEmptyCart, status: http.StatusBadRequest, code: "cart_empty"},
		{name: "unavailable product", err: services.ErrProductUnavailable, status: http.StatusConflict, code: "product_unavailable"},
		{name: "partial reservation", err: &services.PartialReservationError{Failed: services.StockLine{ProductID: "p2", Quantity: 1}, Cause: services.ErrInsufficientStock}, status: http.StatusInternalServerError, code: "inventory_inconsistent"},
		{name: "repository unavailable", err: fmt.Errorf("orders: %w", fakeRepoError{unavailable: true}), status: http.StatusServiceUnavailable, code: "storage_unavailable"},
		{name: "repository conflict", err: fakeRepoError{conflict: true}, status: http.StatusConflict, code: "conflict"},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "timeout"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(context.Background(), rr, tt.err)

			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, body["error"])
			}
			if body["status"] != float64(tt.status) {
				t.Fatalf("expected status field %d, got %v", tt.status, body["status"])
			}
		})
	}
}

func TestWriteServiceErrorHidesInternalMessages(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(context.Background(), rr, errors.New("dial tcp 10.0.0.3:443: connection refused"))

	if body := decodeBody(t, rr); body["message"] != "internal server error" {
		t.Fatalf("expected generic message, got %v", body["message"])
	}
}
