package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/platform/auth"
	"github.com/quickcart/commerce/internal/platform/httpx"
	"github.com/quickcart/commerce/internal/platform/pagination"
	"github.com/quickcart/commerce/internal/services"
)

const maxOrderBodySize = 4 * 1024

var orderPageOptions = pagination.Options{
	DefaultPageSize: pagination.DefaultPageSize,
	MaxPageSize:     pagination.DefaultMaxPageSize,
}

type placeOrderRequest struct {
	ShippingAddressID string `json:"shipping_address_id"`
	PaymentMethod     string `json:"payment_method"`
}

type cancelOrderRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expected_version"`
}

// OrderHandlers exposes the customer order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	placeOrderM []func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithPlaceOrderMiddleware wraps only the placement route, after authentication. The
// idempotency middleware is attached here so keys are scoped to the resolved user.
func WithPlaceOrderMiddleware(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		for _, m := range mw {
			if m != nil {
				h.placeOrderM = append(h.placeOrderM, m)
			}
		}
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.With(h.placeOrderM...).Post("/", h.placeOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Get("/{orderID}/cancellation-reasons", h.cancellationReasons)
}

// ItemRoutes registers the /order-items endpoints.
func (h *OrderHandlers) ItemRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{itemID}", h.getOrderItem)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod)))
	if !method.Valid() {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("payment_method must be one of COD, UPI, NET_BANKING, CREDIT_CARD, DEBIT_CARD"))
		return
	}

	order, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:            identity.UserID,
		ShippingAddressID: strings.TrimSpace(req.ShippingAddressID),
		PaymentMethod:     method,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = identity.UserID

	writeOrderPage(w, r, h.orders, filter)
}

func writeOrderPage(w http.ResponseWriter, r *http.Request, orders services.OrderService, filter services.OrderListFilter) {
	ctx := r.Context()
	page, err := orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: orderID,
		ActorID: identity.UserID,
		IsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("reason is required"))
		return
	}

	cancelled, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:         orderID,
		UserID:          identity.UserID,
		Reason:          reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

func (h *OrderHandlers) cancellationReasons(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: orderID,
		ActorID: identity.UserID,
		IsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	reasons := services.CancellationReasons(order.Status)
	if reasons == nil {
		reasons = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, cancellationReasonsResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
		Reasons: reasons,
	})
}

func (h *OrderHandlers) getOrderItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	itemID, ok := requirePathParam(w, r, "itemID", "order item id")
	if !ok {
		return
	}

	item, err := h.orders.GetOrderItem(ctx, services.GetOrderItemQuery{
		OrderItemID: itemID,
		ActorID:     identity.UserID,
		IsAdmin:     identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderItemResponse{Item: buildOrderItemPayload(item)})
}

func parseOrderListFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	ctx := r.Context()
	params, err := pagination.FromRequest(r, orderPageOptions)
	if err != nil {
		httpx.WriteError(ctx, w, paginationError(err))
		return services.OrderListFilter{}, false
	}

	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(r.URL.Query()["status"]) {
		status := domain.OrderStatus(strings.ToUpper(raw))
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.InvalidRequest("unknown order status "+raw))
			return services.OrderListFilter{}, false
		}
		statuses = append(statuses, status)
	}

	return services.OrderListFilter{
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}, true
}

// requireIdentity returns the resolved caller or writes 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(r.Context(), w, httpx.Unauthenticated())
		return nil, false
	}
	return identity, true
}

func requirePathParam(w http.ResponseWriter, r *http.Request, name, label string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.InvalidRequest(label+" is required"))
		return "", false
	}
	return value, true
}

func paginationError(err error) httpx.Error {
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		return httpx.InvalidRequest("page_size must be a positive integer")
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return httpx.InvalidRequest("page_token is invalid")
	default:
		return httpx.InvalidRequest(err.Error())
	}
}

// parseFilterValues accepts both repeated and comma separated query values, deduplicating
// case-insensitively.
func parseFilterValues(values []string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key := strings.ToUpper(part)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, part)
		}
	}
	return result
}
