package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/quickcart/commerce/internal/platform/requestctx"
)

// Error is the JSON body of every failed request. Details are merged into the top-level object
// next to error, message, status, request_id and trace_id, which they may not override.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

var envelopeKeys = []string{"error", "message", "status", "request_id", "trace_id"}

var oneLine = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: truncate(code, 80), Message: truncate(message, 512), Status: status}
}

func Unauthenticated() Error {
	return NewError("unauthenticated", "authentication required", http.StatusUnauthorized)
}

// Unavailable names a missing dependency, e.g. "order service" gives order_service_unavailable.
func Unavailable(component string) Error {
	if component = strings.TrimSpace(component); component == "" {
		component = "service"
	}
	return NewError(strings.ReplaceAll(component, " ", "_")+"_unavailable", component+" unavailable", http.StatusServiceUnavailable)
}

func InvalidRequest(message string) Error {
	return NewError("invalid_request", message, http.StatusBadRequest)
}

func (e Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// WithDetails returns a copy of e with details added.
func (e Error) WithDetails(details map[string]any) Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError writes e with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(e.Details)+len(envelopeKeys))
	for k, v := range e.Details {
		body[k] = v
	}
	for _, k := range envelopeKeys {
		delete(body, k)
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := truncate(middleware.GetReqID(ctx), 80); id != "" {
		body["request_id"] = id
	}
	if id := truncate(requestctx.TraceID(ctx), 64); id != "" {
		body["trace_id"] = id
	}
	WriteJSON(w, e.Status, body)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(oneLine.Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
