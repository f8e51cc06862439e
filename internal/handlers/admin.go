package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/platform/auth"
	"github.com/quickcart/commerce/internal/platform/httpx"
	"github.com/quickcart/commerce/internal/services"
)

const maxAdminBodySize = 4 * 1024

type updateOrderStatusRequest struct {
	Status          string `json:"status"`
	TrackingNumber  string `json:"tracking_number"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type recordPaymentRequest struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

type updateReturnStatusRequest struct {
	Status string `json:"status"`
}

// AdminHandlers exposes the operator endpoints. Every route requires the admin role.
type AdminHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	returns services.ReturnService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, returns services.ReturnService) *AdminHandlers {
	return &AdminHandlers{
		authn:   authn,
		orders:  orders,
		returns: returns,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Use(requireAdminRole)

	r.Get("/orders", h.listOrders)
	r.Put("/orders/{orderID}/status", h.updateOrderStatus)
	r.Put("/orders/{orderID}/payment", h.recordPayment)
	r.Get("/returns", h.listReturns)
	r.Post("/returns/{returnID}:approve", h.approveReturn)
	r.Put("/returns/{returnID}/status", h.updateReturnStatus)
}

// requireAdminRole rejects callers whose resolved identity lacks the admin role. The
// authenticator already enforces this when configured; the check keeps the group closed when
// identities are injected by other middleware.
func requireAdminRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		if !identity.IsAdmin() {
			httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "admin role required", http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order service"))
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	writeOrderPage(w, r, h.orders, filter)
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req updateOrderStatusRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("status must be a valid order status"))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.OrderStatusCommand{
		OrderID:         orderID,
		Status:          status,
		TrackingNumber:  strings.TrimSpace(req.TrackingNumber),
		ExpectedVersion: req.ExpectedVersion,
		ActorID:         identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	status := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("status must be PENDING, PAID, FAILED or REFUNDED"))
		return
	}

	order, err := h.orders.RecordPayment(ctx, services.RecordPaymentCommand{
		OrderID:   orderID,
		Status:    status,
		Reference: strings.TrimSpace(req.Reference),
		ActorID:   identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("return service"))
		return
	}
	filter, ok := parseReturnListFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	writeReturnPage(w, r, h.returns, filter)
}

func (h *AdminHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("return service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	returnID, ok := requirePathParam(w, r, "returnID", "return id")
	if !ok {
		return
	}

	approved, err := h.returns.ApproveReturn(ctx, services.ReturnActionCommand{
		ReturnID: returnID,
		ActorID:  identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(approved)})
}

func (h *AdminHandlers) updateReturnStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("return service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	returnID, ok := requirePathParam(w, r, "returnID", "return id")
	if !ok {
		return
	}

	var req updateReturnStatusRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	status := domain.ReturnStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("status must be a valid return status"))
		return
	}

	updated, err := h.returns.UpdateReturnStatus(ctx, services.ReturnStatusCommand{
		ReturnID: returnID,
		Status:   status,
		ActorID:  identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(updated)})
}
