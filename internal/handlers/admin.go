package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/platform/httpx"
	"github.com/alegny-health/api/internal/platform/pagination"
	"github.com/alegny-health/api/internal/services"
)

const maxAdminOrderPageSize = 200

// AdminHandlers exposes administrator-only listings.
type AdminHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{authn: authn, orders: orders}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	if _, ok := requireAnyRole(ctx, w, auth.RoleAdmin); !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{MaxPageSize: maxAdminOrderPageSize})
	if err != nil {
		switch {
		case errors.Is(err, pagination.ErrInvalidPageSize):
			writeInvalidInput(ctx, w, "page_size must be a positive integer")
		default:
			writeInvalidInput(ctx, w, "page_token is invalid")
		}
		return
	}

	page, err := h.orders.GetAllOrders(ctx, params.Pagination())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Orders fetched successfully", buildPagedOrders(page))
}
