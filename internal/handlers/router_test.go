package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.RequestID == "" {
		t.Fatalf("expected request id in %s", rr.Body)
	}
	return body.Error
}

func TestRouterErrorEnvelopes(t *testing.T) {
	router := NewRouter(WithGroup(GroupOrders, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}))

	cases := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{name: "unknown path", method: http.MethodGet, path: "/does/not/exist", status: http.StatusNotFound, code: "route_not_found"},
		{name: "unregistered group", method: http.MethodGet, path: "/api/v1/returns/ret_1", status: http.StatusNotImplemented, code: "not_implemented"},
		{name: "wrong method", method: http.MethodDelete, path: "/api/v1/orders", status: http.StatusMethodNotAllowed, code: "method_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(router, tc.method, tc.path)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}

	if rr := serve(router, http.MethodGet, "/api/v1/orders"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected registered group to answer, got %d", rr.Code)
	}
}

func TestRouterGroupMiddlewareStaysInGroup(t *testing.T) {
	var seen []string
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	ok := func(r chi.Router) {
		r.Post("/*", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	}
	router := NewRouter(
		WithGroup(GroupInternal, ok),
		WithGroup(GroupAdmin, ok),
		WithGroupMiddlewares(GroupInternal, tag),
	)

	serve(router, http.MethodPost, "/api/v1/internal/events/user-deleted")
	serve(router, http.MethodPost, "/api/v1/admin/orders/ord_1/status")

	if len(seen) != 1 || seen[0] != "/api/v1/internal/events/user-deleted" {
		t.Fatalf("expected middleware on the internal group only, saw %v", seen)
	}
}

func TestRouterRunsGlobalMiddlewareAfterRequestID(t *testing.T) {
	var requestID string
	router := NewRouter(WithMiddlewares(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID = middleware.GetReqID(r.Context())
			next.ServeHTTP(w, r)
		})
	}))
	serve(router, http.MethodGet, "/healthz")
	if requestID == "" {
		t.Fatal("expected request id to be assigned before custom middleware")
	}
}
