package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/platform/httpx"
	"github.com/alegny-health/api/internal/platform/requestctx"
	"github.com/alegny-health/api/internal/services"
)

// InternalHandlers serves service-to-service endpoints called by Cloud Scheduler and Pub/Sub
// push subscriptions. Authentication is applied by the router's internal middlewares.
type InternalHandlers struct {
	views services.ViewService
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(views services.ViewService) *InternalHandlers {
	return &InternalHandlers{views: views}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/views/reconcile", h.reconcile)
	r.Post("/events/orders", h.orderEvent)
}

type reconcileRequest struct {
	OwnerKind string `json:"ownerKind"`
	OwnerID   string `json:"ownerId"`
}

func (h *InternalHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.views == nil {
		writeServiceUnavailable(ctx, w, "view")
		return
	}

	var req reconcileRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeInvalidInput(ctx, w, err.Error())
		return
	}

	var (
		report services.ReconcileReport
		err    error
	)
	if strings.TrimSpace(req.OwnerKind) == "" && strings.TrimSpace(req.OwnerID) == "" {
		report, err = h.views.ReconcileAll(ctx)
	} else {
		report, err = h.views.Reconcile(ctx, domain.ViewOwner{
			Kind: domain.ViewOwnerKind(strings.ToLower(strings.TrimSpace(req.OwnerKind))),
			ID:   req.OwnerID,
		})
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, "Views reconciled", buildReconcileReportPayload(report))
}

type pushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// orderEvent applies a Pub/Sub push of an order event. A 2xx acknowledges the message;
// errors other than invalid input are answered with 500 so Pub/Sub redelivers.
func (h *InternalHandlers) orderEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.views == nil {
		writeServiceUnavailable(ctx, w, "view")
		return
	}

	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeInvalidInput(ctx, w, err.Error())
		return
	}
	var envelope pushEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		writeInvalidInput(ctx, w, "invalid push envelope")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil || len(raw) == 0 {
		writeInvalidInput(ctx, w, "push message data must be base64 encoded JSON")
		return
	}
	var event services.OrderEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		writeInvalidInput(ctx, w, "push message data is not an order event")
		return
	}

	logger := requestctx.Logger(ctx).With(
		zap.String("messageId", envelope.Message.MessageID),
		zap.String("eventType", event.Type),
		zap.String("orderId", event.OrderID),
	)
	if !strings.HasPrefix(event.Type, "order.") {
		logger.Debug("ignoring non-order event")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.views.ApplyEvent(ctx, event); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	logger.Debug("order event applied")
	w.WriteHeader(http.StatusNoContent)
}
