package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quickcart/commerce/internal/platform/httpx"
	"github.com/quickcart/commerce/internal/platform/jobs"
	"github.com/quickcart/commerce/internal/platform/observability"
	"github.com/quickcart/commerce/internal/services"
)

const maxPushBodySize = 64 * 1024

// pushEnvelope is the body Pub/Sub push subscriptions deliver. Data is base64 in JSON and
// decodes straight into a byte slice.
type pushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type userDeletedResponse struct {
	EventID string `json:"event_id"`
	Handled bool   `json:"handled"`
	Skipped bool   `json:"skipped,omitempty"`
}

// InternalEventHandlers receives events pushed by the platform's messaging layer.
type InternalEventHandlers struct {
	users services.UserLifecycleService
}

// NewInternalEventHandlers constructs the push endpoint handlers.
func NewInternalEventHandlers(users services.UserLifecycleService) *InternalEventHandlers {
	return &InternalEventHandlers{users: users}
}

// Routes registers the /internal endpoints. Authentication is applied by the router group.
func (h *InternalEventHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/events/user-deleted", h.userDeleted)
}

// userDeleted acknowledges with 2xx once the event is handled or can never be handled. Any
// other status makes Pub/Sub redeliver.
func (h *InternalEventHandlers) userDeleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("user lifecycle"))
		return
	}

	var envelope pushEnvelope
	data, err := httpx.ReadLimitedBody(r, maxPushBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("invalid push envelope"))
		return
	}
	eventID := strings.TrimSpace(envelope.Message.MessageID)
	if eventID == "" {
		httpx.WriteError(ctx, w, httpx.InvalidRequest("message.messageId is required"))
		return
	}

	var payload jobs.UserDeletedPayload
	if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
		logger.Warn("user-deleted push malformed", zap.String("eventId", eventID), zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, userDeletedResponse{EventID: eventID, Skipped: true})
		return
	}
	if payload.EventType == "" {
		payload.EventType = envelope.Message.Attributes["type"]
	}
	if !payload.IsUserDeleted() {
		logger.Debug("user-deleted push skipped event", zap.String("eventId", eventID), zap.String("eventType", payload.EventType))
		httpx.WriteJSON(w, http.StatusOK, userDeletedResponse{EventID: eventID, Skipped: true})
		return
	}

	handled, err := h.users.HandleUserDeleted(ctx, payload.ToEvent(eventID))
	switch {
	case errors.Is(err, services.ErrUserEventInvalid):
		logger.Warn("user-deleted push rejected", zap.String("eventId", eventID), zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, userDeletedResponse{EventID: eventID, Skipped: true})
		return
	case err != nil:
		logger.Error("user-deleted push failed", zap.String("eventId", eventID), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.Unavailable("user lifecycle"))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, userDeletedResponse{EventID: eventID, Handled: handled})
}
