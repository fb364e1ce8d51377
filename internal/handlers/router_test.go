package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/services"
)

func serve(router http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestRouterMountsProbesAtRoot(t *testing.T) {
	svc := &stubSystemService{reportFn: func(context.Context) (services.SystemHealthReport, error) {
		return services.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusError}},
		}, nil
	}}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(WithHealthSystemService(svc))))

	if rr := serve(router, http.MethodGet, "/healthz"); rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected healthz %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if rr := serve(router, http.MethodGet, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503 for a Ledger outage, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/api/v1/healthz"); rr.Code != http.StatusNotFound {
		t.Fatalf("probes must not live under the API prefix, got %d", rr.Code)
	}
}

func TestRouterUnwiredGroupsAreUnavailable(t *testing.T) {
	router := NewRouter()
	for _, target := range []string{"/api/v1/drugs", "/api/v1/orders/o-1/bill", "/api/v1/internal/views/reconcile"} {
		rr := serve(router, http.MethodGet, target)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", target, rr.Code)
		}
		if body := decodeEnvelope(t, rr); body.Success || body.Error != "group_unavailable" {
			t.Fatalf("%s: unexpected envelope %+v", target, body)
		}
	}
}

func TestRouterWithRoutesAndCleanPath(t *testing.T) {
	var seen string
	router := NewRouter(WithRoutes(GroupPharmacies, func(r chi.Router) {
		r.Get("/{pharmacyID}", func(w http.ResponseWriter, r *http.Request) {
			seen = chi.URLParam(r, "pharmacyID")
			w.WriteHeader(http.StatusNoContent)
		})
	}))

	rr := serve(router, http.MethodGet, "/api/v1//pharmacies/./ph-7")
	if rr.Code != http.StatusNoContent || seen != "ph-7" {
		t.Fatalf("expected cleaned path to reach ph-7, got %d %q", rr.Code, seen)
	}
	// Other groups stay unwired.
	if rr := serve(router, http.MethodGet, "/api/v1/patients/p-1"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected patients unavailable, got %d", rr.Code)
	}
}

func TestRouterNotFoundAndMethodNotAllowed(t *testing.T) {
	router := NewRouter(WithRoutes(GroupDrugs, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	}))

	rr := serve(router, http.MethodGet, "/metrics")
	if rr.Code != http.StatusNotFound || decodeEnvelope(t, rr).Error != "route_not_found" {
		t.Fatalf("unexpected not found response %d %s", rr.Code, rr.Body.String())
	}
	rr = serve(router, http.MethodDelete, "/api/v1/drugs")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestRouterGroupMiddlewareIsScoped(t *testing.T) {
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	ok := func(r chi.Router) {
		r.Post("/views/reconcile", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	}
	router := NewRouter(
		WithRoutes(GroupInternal, ok),
		WithRoutes(GroupDrugs, ok),
		WithGroupMiddlewares(GroupInternal, guard),
	)

	if rr := serve(router, http.MethodPost, "/api/v1/internal/views/reconcile"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected internal group guarded, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/api/v1/drugs"); rr.Code != http.StatusOK {
		t.Fatalf("expected drugs unguarded, got %d", rr.Code)
	}
}

func TestRouterRequestTimeout(t *testing.T) {
	var deadline time.Time
	router := NewRouter(
		WithRequestTimeout(2*time.Second),
		WithRoutes(GroupDrugs, func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				deadline, _ = r.Context().Deadline()
				w.WriteHeader(http.StatusOK)
			})
		}),
	)
	start := time.Now()
	serve(router, http.MethodGet, "/api/v1/drugs")
	if deadline.IsZero() || deadline.Sub(start) > 2*time.Second+time.Second {
		t.Fatalf("expected a ~2s deadline, got %v", deadline)
	}
}
