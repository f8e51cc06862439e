package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quickcart/commerce/internal/platform/httpx"
	"github.com/quickcart/commerce/internal/services"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// API groups under /api/v1. A group nobody registers answers 501.
const (
	GroupOrders     = "/orders"
	GroupOrderItems = "/order-items"
	GroupReturns    = "/returns"
	GroupAdmin      = "/admin"
	GroupInternal   = "/internal"
)

var apiGroups = []string{GroupOrders, GroupOrderItems, GroupReturns, GroupAdmin, GroupInternal}

// RouteRegistrar adds one group's routes to its sub-router.
type RouteRegistrar func(r chi.Router)

type group struct {
	routes      RouteRegistrar
	middlewares chi.Middlewares
}

type router struct {
	middlewares chi.Middlewares
	health      *HealthHandlers
	groups      map[string]*group
}

type Option func(*router)

func (rt *router) group(path string) *group {
	g, ok := rt.groups[path]
	if !ok {
		g = &group{}
		rt.groups[path] = g
	}
	return g
}

// WithMiddlewares adds middleware run for every request, after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(rt *router) { rt.middlewares = append(rt.middlewares, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(rt *router) { rt.health = h }
}

// WithGroup mounts routes at path below /api/v1.
func WithGroup(path string, routes RouteRegistrar) Option {
	return func(rt *router) { rt.group(path).routes = routes }
}

// WithGroupMiddlewares adds middleware that runs only for the group at path.
func WithGroupMiddlewares(path string, mw ...func(http.Handler) http.Handler) Option {
	return func(rt *router) {
		g := rt.group(path)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// NewRouter serves /healthz and /readyz at the root and the API groups under /api/v1. Unknown
// routes and methods get the JSON error envelope.
func NewRouter(opts ...Option) chi.Router {
	rt := &router{
		middlewares: chi.Middlewares{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		groups:      make(map[string]*group),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.health == nil {
		rt.health = NewHealthHandlers(services.BuildInfo{}, nil)
	}

	r := chi.NewRouter()
	r.Use(rt.middlewares...)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method "+req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", rt.health.Healthz)
	r.Get("/readyz", rt.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, path := range apiGroups {
			g := rt.group(path)
			api.Route(path, func(sub chi.Router) {
				sub.Use(g.middlewares...)
				if g.routes == nil {
					notImplemented(sub, path)
					return
				}
				g.routes(sub)
			})
		}
	})
	return r
}

func notImplemented(r chi.Router, path string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", apiPrefix+path+" is not served by this deployment", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
