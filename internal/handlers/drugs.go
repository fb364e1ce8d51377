package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/platform/httpx"
	"github.com/alegny-health/api/internal/services"
)

// DrugHandlers exposes the catalog-wide drug listing.
type DrugHandlers struct {
	authn *auth.Authenticator
	stock services.StockService
}

// NewDrugHandlers constructs the drug handlers.
func NewDrugHandlers(authn *auth.Authenticator, stock services.StockService) *DrugHandlers {
	return &DrugHandlers{authn: authn, stock: stock}
}

// Routes registers the /drugs endpoints.
func (h *DrugHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listDrugs)
}

func (h *DrugHandlers) listDrugs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		writeServiceUnavailable(ctx, w, "stock")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	drugs, err := h.stock.GetAllDrugs(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]drugQuantityPayload, 0, len(drugs))
	for _, drug := range drugs {
		items = append(items, drugQuantityPayload{Name: drug.Name, Quantity: drug.Quantity})
	}
	httpx.WriteResult(w, http.StatusOK, "Drugs fetched successfully", items)
}
