package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/quickcart/commerce/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := contextWithIDs(t)
	rr := httptest.NewRecorder()

	err := NewError("return_exceeds_remaining", "quantity exceeds remaining\n", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"requested": 3, "available": 1, "status": 200})
	WriteError(ctx, rr, err)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "return_exceeds_remaining" || body["message"] != "quantity exceeds remaining" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["status"] != float64(http.StatusUnprocessableEntity) {
		t.Fatalf("reserved key overridden: %v", body["status"])
	}
	if body["requested"] != float64(3) || body["available"] != float64(1) {
		t.Fatalf("details missing: %v", body)
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "abc123" {
		t.Fatalf("ids missing: %v", body)
	}
}

func contextWithIDs(t *testing.T) context.Context {
	t.Helper()
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	return requestctx.WithTrace(ctx, requestctx.Trace{TraceID: "abc123"})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Reason string `json:"reason"`
	}
	cases := []struct {
		name     string
		body     string
		limit    int64
		optional bool
		wantErr  error
		want     string
		anyErr   bool
	}{
		{name: "valid", body: `{"reason":"Changed mind"}`, want: "Changed mind"},
		{name: "empty optional", body: "  ", optional: true},
		{name: "empty required", body: "", wantErr: ErrEmptyBody},
		{name: "too large", body: `{"reason":"` + strings.Repeat("x", 64) + `"}`, limit: 16, wantErr: ErrBodyTooLarge},
		{name: "unknown field", body: `{"reason":"x","extra":1}`, anyErr: true},
		{name: "trailing data", body: `{"reason":"x"}{}`, anyErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			err := DecodeJSON(req, tc.limit, &dst, tc.optional)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
				if BodyError(err).Status != http.StatusBadRequest {
					t.Fatalf("expected 400 envelope")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.Reason != tc.want {
					t.Fatalf("expected %q, got %q", tc.want, dst.Reason)
				}
			}
		})
	}
}

func TestBodyErrorStatuses(t *testing.T) {
	if got := BodyError(ErrBodyTooLarge).Status; got != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", got)
	}
	if got := BodyError(ErrEmptyBody).Status; got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
	if got := Unavailable("order service"); got.Code != "order_service_unavailable" || got.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected unavailable envelope %+v", got)
	}
}
