package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/platform/httpx"
	"github.com/alegny-health/api/internal/platform/requestctx"
	"github.com/alegny-health/api/internal/services"

	"go.uber.org/zap"
)

// PatientHandlers exposes the patient scoped order endpoints.
type PatientHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	views       services.ViewService
	createChain []func(http.Handler) http.Handler
}

// PatientOption customises PatientHandlers.
type PatientOption func(*PatientHandlers)

// WithCreateOrderMiddleware wraps only the create-order route, typically with the
// rate limiter and the Idempotency-Key middleware. Middlewares run in the order given.
func WithCreateOrderMiddleware(mws ...func(http.Handler) http.Handler) PatientOption {
	return func(h *PatientHandlers) {
		for _, mw := range mws {
			if mw != nil {
				h.createChain = append(h.createChain, mw)
			}
		}
	}
}

// NewPatientHandlers constructs the patient handlers.
func NewPatientHandlers(authn *auth.Authenticator, orders services.OrderService, views services.ViewService, opts ...PatientOption) *PatientHandlers {
	h := &PatientHandlers{
		authn:  authn,
		orders: orders,
		views:  views,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /patients endpoints.
func (h *PatientHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Route("/{patientID}", func(pr chi.Router) {
		pr.With(h.createChain...).Post("/orders", h.createOrder)
		pr.Get("/orders", h.listOrders)
		pr.Get("/order-view", h.orderView)
		pr.Put("/orders/{orderID}/status", h.updateStatus)
		pr.Delete("/orders/{orderID}", h.cancelOrder)
	})
}

type createOrderRequest struct {
	PharmacyID string                   `json:"pharmacyId"`
	Lines      []createOrderLineRequest `json:"lines"`
	Address    *addressPayload          `json:"address"`
}

type createOrderLineRequest struct {
	DrugName string `json:"drugName"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

func (h *PatientHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	patientID := urlParam(r, "patientID")
	if _, ok := requireActor(ctx, w, auth.RolePatient, patientID); !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeInvalidInput(ctx, w, err.Error())
		return
	}
	cmd := services.CreateOrderCommand{
		PatientID:  patientID,
		PharmacyID: req.PharmacyID,
		Lines:      make([]services.OrderLineInput, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.OrderLineInput{
			DrugName: line.DrugName,
			Category: line.Category,
			Quantity: line.Quantity,
		})
	}
	if req.Address != nil {
		cmd.Address = req.Address.toDomain()
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+order.ID)
	httpx.WriteResult(w, http.StatusCreated, "Order created successfully", buildOrderPayload(order))
}

func (h *PatientHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	patientID := urlParam(r, "patientID")
	if _, ok := requireActor(ctx, w, auth.RolePatient, patientID); !ok {
		return
	}

	orders, err := h.orders.GetPatientOrders(ctx, patientID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Orders fetched successfully", buildOrderPayloads(orders))
}

func (h *PatientHandlers) orderView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.views == nil {
		writeServiceUnavailable(ctx, w, "view")
		return
	}
	patientID := urlParam(r, "patientID")
	if _, ok := requireActor(ctx, w, auth.RolePatient, patientID); !ok {
		return
	}

	views, err := h.views.PatientView(ctx, patientID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Order view fetched successfully", buildOrderViewPayloads(views))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *PatientHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireAnyRole(ctx, w, auth.RolePharmacy)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeInvalidInput(ctx, w, err.Error())
		return
	}
	cmd := services.UpdateOrderStatusCommand{
		PatientID: urlParam(r, "patientID"),
		OrderID:   urlParam(r, "orderID"),
		Status:    req.Status,
	}
	// Pharmacies only decide on orders placed with them.
	if !identity.IsAdmin() {
		cmd.PharmacyID = identity.UID
	}
	order, err := h.orders.UpdateOrderStatus(ctx, cmd)
	if err != nil {
		// The status change committed but a follow-up step failed; report the stored order.
		if order.ID != "" && errors.Is(err, services.ErrUnhandled) {
			requestctx.Logger(ctx).Error("order status follow-up failed", zap.String("orderId", order.ID), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError(string(services.ErrorKindUnhandled), "order status updated but stock adjustment failed", http.StatusInternalServerError).
				WithDetails(map[string]any{"data": buildOrderPayload(order)}))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Order status updated successfully", buildOrderPayload(order))
}

func (h *PatientHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	patientID := urlParam(r, "patientID")
	if _, ok := requireActor(ctx, w, auth.RolePatient, patientID); !ok {
		return
	}

	if err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		PatientID: patientID,
		OrderID:   urlParam(r, "orderID"),
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult[any](w, http.StatusOK, "Order cancelled successfully", nil)
}
