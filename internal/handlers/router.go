package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alegny-health/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// RouteGroup is a mount point below the API prefix.
type RouteGroup string

const (
	GroupPatients   RouteGroup = "/patients"
	GroupPharmacies RouteGroup = "/pharmacies"
	GroupDrugs      RouteGroup = "/drugs"
	GroupOrders     RouteGroup = "/orders"
	GroupAdmin      RouteGroup = "/admin"
	GroupInternal   RouteGroup = "/internal"
)

// Mount order is stable so route listings and tests stay deterministic.
var routeGroups = []RouteGroup{GroupPatients, GroupPharmacies, GroupDrugs, GroupOrders, GroupAdmin, GroupInternal}

const (
	defaultAPIPrefix      = "/api/v1"
	defaultRequestTimeout = 30 * time.Second
)

type mountedGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	prefix         string
	requestTimeout time.Duration
	middlewares    []func(http.Handler) http.Handler
	health         *HealthHandlers
	groups         map[RouteGroup]*mountedGroup
}

func (c *routerConfig) group(g RouteGroup) *mountedGroup {
	if c.groups[g] == nil {
		c.groups[g] = &mountedGroup{}
	}
	return c.groups[g]
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter mounts the probes at the root and every route group under the API prefix. A group
// without a registrar answers 503 because its backing service is switched off.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		prefix:         defaultAPIPrefix,
		requestTimeout: defaultRequestTimeout,
		groups:         make(map[RouteGroup]*mountedGroup, len(routeGroups)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.CleanPath)
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		if cfg.requestTimeout > 0 {
			api.Use(middleware.Timeout(cfg.requestTimeout))
		}
		for _, g := range routeGroups {
			mounted := cfg.group(g)
			api.Route(string(g), func(sub chi.Router) {
				for _, mw := range mounted.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if mounted.registrar == nil {
					unavailableGroup(sub, g)
					return
				}
				mounted.registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware, applied to probes and API routes alike.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithRequestTimeout bounds API handlers; zero disables the timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d >= 0 {
			cfg.requestTimeout = d
		}
	}
}

// WithRoutes mounts a registrar on the group.
func WithRoutes(g RouteGroup, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(g).registrar = reg
	}
}

// WithGroupMiddlewares applies middleware to a single group, e.g. OIDC on /internal.
func WithGroupMiddlewares(g RouteGroup, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		group := cfg.group(g)
		group.middlewares = append(group.middlewares, mw...)
	}
}

func unavailableGroup(r chi.Router, g RouteGroup) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("group_unavailable", fmt.Sprintf("%s endpoints are disabled", g), http.StatusServiceUnavailable))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
