package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/platform/auth"
	"github.com/quickcart/commerce/internal/platform/httpx"
	"github.com/quickcart/commerce/internal/platform/pagination"
	"github.com/quickcart/commerce/internal/services"
)

const maxReturnBodySize = 16 * 1024

type createReturnRequest struct {
	OrderID string                    `json:"order_id"`
	Type    string                    `json:"type"`
	Reason  string                    `json:"reason"`
	Items   []createReturnItemRequest `json:"items"`
}

type createReturnItemRequest struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
}

type remainingQuantitiesResponse struct {
	OrderID string                     `json:"order_id"`
	Items   []remainingQuantityPayload `json:"items"`
}

type remainingQuantityPayload struct {
	OrderItemID string `json:"order_item_id"`
	Remaining   int    `json:"remaining"`
}

// ReturnHandlers exposes the customer return endpoints.
type ReturnHandlers struct {
	authn   *auth.Authenticator
	returns services.ReturnService
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(authn *auth.Authenticator, returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{
		authn:   authn,
		returns: returns,
	}
}

// Routes registers the /returns endpoints.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createReturn)
	r.Get("/", h.listReturns)
	r.Get("/remaining", h.remainingQuantities)
	r.Get("/{returnID}", h.getReturn)
	r.Get("/{returnID}/items", h.getReturnItems)
	r.Get("/{returnID}/refund-total", h.refundTotal)
	r.Post("/{returnID}:cancel", h.cancelReturn)
}

func (h *ReturnHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("return service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createReturnRequest
	if err := httpx.DecodeJSON(r, maxReturnBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	returnType := domain.ReturnType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !returnType.Valid() {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("type must be FULL or PARTIAL"))
		return
	}

	items := make([]services.ReturnItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.ReturnItemRequest{
			OrderItemID: strings.TrimSpace(item.OrderItemID),
			Quantity:    item.Quantity,
		})
	}

	created, err := h.returns.CreateReturn(ctx, services.CreateReturnCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		UserID:  identity.UserID,
		Type:    returnType,
		Reason:  req.Reason,
		Items:   items,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/returns/"+created.ID)
	httpx.WriteJSON(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(created)})
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("return service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	filter, ok := parseReturnListFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = identity.UserID
	writeReturnPage(w, r, h.returns, filter)
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ret, ok := h.loadReturn(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *ReturnHandlers) getReturnItems(w http.ResponseWriter, r *http.Request) {
	ret, ok := h.loadReturn(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, returnItemsResponse{
		ReturnID: ret.ID,
		Items:    buildReturnItemPayloads(ret.Items),
	})
}

func (h *ReturnHandlers) loadReturn(w http.ResponseWriter, r *http.Request) (services.ReturnRequest, bool) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("return service"))
		return services.ReturnRequest{}, false
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return services.ReturnRequest{}, false
	}
	returnID, ok := requirePathParam(w, r, "returnID", "return id")
	if !ok {
		return services.ReturnRequest{}, false
	}

	ret, err := h.returns.GetReturn(ctx, services.GetReturnQuery{
		ReturnID: returnID,
		ActorID:  identity.UserID,
		IsAdmin:  identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.ReturnRequest{}, false
	}
	return ret, true
}

func (h *ReturnHandlers) refundTotal(w http.ResponseWriter, r *http.Request) {
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

	total, err := h.returns.CalculateTotalRefundAmount(ctx, services.GetReturnQuery{
		ReturnID: returnID,
		ActorID:  identity.UserID,
		IsAdmin:  identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, refundTotalResponse{
		ReturnID:    returnID,
		RefundTotal: formatAmount(total),
	})
}

func (h *ReturnHandlers) cancelReturn(w http.ResponseWriter, r *http.Request) {
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

	cancelled, err := h.returns.CancelReturn(ctx, services.ReturnActionCommand{
		ReturnID: returnID,
		ActorID:  identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, returnResponse{Return: buildReturnPayload(cancelled)})
}

func (h *ReturnHandlers) remainingQuantities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("return service"))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("order_id is required"))
		return
	}

	remaining, err := h.returns.RemainingQuantities(ctx, services.RemainingQuery{
		OrderID: orderID,
		ActorID: identity.UserID,
		IsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]remainingQuantityPayload, 0, len(remaining))
	for itemID, qty := range remaining {
		items = append(items, remainingQuantityPayload{OrderItemID: itemID, Remaining: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].OrderItemID < items[j].OrderItemID })
	httpx.WriteJSON(w, http.StatusOK, remainingQuantitiesResponse{OrderID: orderID, Items: items})
}

func parseReturnListFilter(w http.ResponseWriter, r *http.Request) (services.ReturnListFilter, bool) {
	ctx := r.Context()
	params, err := pagination.FromRequest(r, orderPageOptions)
	if err != nil {
		httpx.WriteError(ctx, w, paginationError(err))
		return services.ReturnListFilter{}, false
	}

	query := r.URL.Query()
	var statuses []domain.ReturnStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.ReturnStatus(strings.ToUpper(raw))
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.InvalidRequest("unknown return status "+raw))
			return services.ReturnListFilter{}, false
		}
		statuses = append(statuses, status)
	}

	return services.ReturnListFilter{
		OrderID: strings.TrimSpace(query.Get("order_id")),
		Status:  statuses,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}, true
}

func writeReturnPage(w http.ResponseWriter, r *http.Request, returns services.ReturnService, filter services.ReturnListFilter) {
	ctx := r.Context()
	page, err := returns.ListReturns(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]returnPayload, 0, len(page.Items))
	for _, ret := range page.Items {
		items = append(items, buildReturnPayload(ret))
	}
	httpx.WriteJSON(w, http.StatusOK, returnListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}
