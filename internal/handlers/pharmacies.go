package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/platform/httpx"
	"github.com/alegny-health/api/internal/services"
)

// PharmacyHandlers exposes pharmacy profiles, their orders and stock management.
type PharmacyHandlers struct {
	authn  *auth.Authenticator
	stock  services.StockService
	orders services.OrderService
	views  services.ViewService
}

// NewPharmacyHandlers constructs the pharmacy handlers.
func NewPharmacyHandlers(authn *auth.Authenticator, stock services.StockService, orders services.OrderService, views services.ViewService) *PharmacyHandlers {
	return &PharmacyHandlers{
		authn:  authn,
		stock:  stock,
		orders: orders,
		views:  views,
	}
}

// Routes registers the /pharmacies endpoints.
func (h *PharmacyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{pharmacyID}", h.getPharmacy)
	r.Get("/{pharmacyID}/orders", h.listOrders)
	r.Get("/{pharmacyID}/order-view", h.orderView)
	r.Post("/{pharmacyID}/drugs", h.addDrug)
	r.Patch("/{pharmacyID}/drugs/{drugName}/quantity", h.updateQuantity)
}

func (h *PharmacyHandlers) getPharmacy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		writeServiceUnavailable(ctx, w, "stock")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	pharmacy, err := h.stock.GetPharmacyByID(ctx, urlParam(r, "pharmacyID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Pharmacy fetched successfully", buildPharmacyPayload(pharmacy))
}

func (h *PharmacyHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	pharmacyID := urlParam(r, "pharmacyID")
	if _, ok := requireActor(ctx, w, auth.RolePharmacy, pharmacyID); !ok {
		return
	}

	orders, err := h.orders.GetPharmacyOrders(ctx, pharmacyID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Orders fetched successfully", buildOrderPayloads(orders))
}

func (h *PharmacyHandlers) orderView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.views == nil {
		writeServiceUnavailable(ctx, w, "view")
		return
	}
	pharmacyID := urlParam(r, "pharmacyID")
	if _, ok := requireActor(ctx, w, auth.RolePharmacy, pharmacyID); !ok {
		return
	}

	views, err := h.views.PharmacyView(ctx, pharmacyID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Order view fetched successfully", buildOrderViewPayloads(views))
}

type addDrugRequest struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	Manufacturer string  `json:"manufacturer"`
	Type         string  `json:"type"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
	ExpiryDate   *string `json:"expiryDate"`
}

func (req addDrugRequest) toDrug() (services.Drug, error) {
	drug := services.Drug{
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Manufacturer: req.Manufacturer,
		Type:         req.Type,
		Price:        req.Price,
		Quantity:     req.Quantity,
	}
	if req.ExpiryDate != nil && strings.TrimSpace(*req.ExpiryDate) != "" {
		expiry, err := parseDate(*req.ExpiryDate)
		if err != nil {
			return services.Drug{}, err
		}
		drug.ExpiryDate = &expiry
	}
	return drug, nil
}

func (h *PharmacyHandlers) addDrug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		writeServiceUnavailable(ctx, w, "stock")
		return
	}
	pharmacyID := urlParam(r, "pharmacyID")
	if _, ok := requireActor(ctx, w, auth.RolePharmacy, pharmacyID); !ok {
		return
	}

	var req addDrugRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeInvalidInput(ctx, w, err.Error())
		return
	}
	drug, err := req.toDrug()
	if err != nil {
		writeInvalidInput(ctx, w, "expiryDate must be an RFC3339 timestamp or YYYY-MM-DD date")
		return
	}

	added, err := h.stock.AddDrug(ctx, services.AddDrugCommand{PharmacyID: pharmacyID, Drug: drug})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusCreated, "Drug added successfully", buildDrugPayload(added))
}

type updateQuantityRequest struct {
	Delta    *int `json:"delta"`
	Increase bool `json:"increase"`
}

func (h *PharmacyHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		writeServiceUnavailable(ctx, w, "stock")
		return
	}
	pharmacyID := urlParam(r, "pharmacyID")
	if _, ok := requireActor(ctx, w, auth.RolePharmacy, pharmacyID); !ok {
		return
	}

	var req updateQuantityRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeInvalidInput(ctx, w, err.Error())
		return
	}
	if req.Delta == nil {
		writeInvalidInput(ctx, w, "delta is required")
		return
	}
	drugName, err := url.PathUnescape(urlParam(r, "drugName"))
	if err != nil {
		writeInvalidInput(ctx, w, "drug name is not a valid path segment")
		return
	}

	drug, err := h.stock.UpdateDrugQuantity(ctx, services.UpdateDrugQuantityCommand{
		PharmacyID: pharmacyID,
		DrugName:   drugName,
		Delta:      *req.Delta,
		Increase:   req.Increase,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Drug quantity updated successfully", buildDrugPayload(drug))
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
