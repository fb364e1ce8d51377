package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/platform/httpx"
	"github.com/alegny-health/api/internal/services"
)

// OrderHandlers exposes order-addressed resources that are not scoped to a patient.
type OrderHandlers struct {
	authn *auth.Authenticator
	bills services.BillService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, bills services.BillService) *OrderHandlers {
	return &OrderHandlers{
		authn: authn,
		bills: bills,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RolePharmacy, auth.RoleAdmin))
	}
	r.Get("/{orderID}/bill", h.getBill)
}

func (h *OrderHandlers) getBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bills == nil {
		writeServiceUnavailable(ctx, w, "bill")
		return
	}
	identity, ok := requireAnyRole(ctx, w, auth.RolePharmacy)
	if !ok {
		return
	}

	cmd := services.BillURLCommand{OrderID: urlParam(r, "orderID")}
	// Pharmacies only see bills for their own orders.
	if !identity.IsAdmin() {
		cmd.PharmacyID = identity.UID
	}
	link, err := h.bills.BillURL(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	httpx.WriteResult(w, http.StatusOK, "Bill link issued", billLinkPayload{
		OrderID:   link.OrderID,
		Object:    link.Object,
		URL:       link.URL,
		ExpiresAt: link.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
