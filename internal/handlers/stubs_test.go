package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/services"
)

var errNotImplemented = errors.New("not implemented")

type stubOrderService struct {
	createFn        func(context.Context, services.CreateOrderCommand) (services.Order, error)
	updateStatusFn  func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFn        func(context.Context, services.CancelOrderCommand) error
	patientOrdersFn func(context.Context, string) ([]services.Order, error)
	pharmacyFn      func(context.Context, string) ([]services.Order, error)
	allFn           func(context.Context, services.Pagination) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return errNotImplemented
}

func (s *stubOrderService) GetPatientOrders(ctx context.Context, patientID string) ([]services.Order, error) {
	if s.patientOrdersFn != nil {
		return s.patientOrdersFn(ctx, patientID)
	}
	return nil, errNotImplemented
}

func (s *stubOrderService) GetPharmacyOrders(ctx context.Context, pharmacyID string) ([]services.Order, error) {
	if s.pharmacyFn != nil {
		return s.pharmacyFn(ctx, pharmacyID)
	}
	return nil, errNotImplemented
}

func (s *stubOrderService) GetAllOrders(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.allFn != nil {
		return s.allFn(ctx, pager)
	}
	return domain.CursorPage[services.Order]{}, errNotImplemented
}

type stubStockService struct {
	addDrugFn  func(context.Context, services.AddDrugCommand) (services.Drug, error)
	updateFn   func(context.Context, services.UpdateDrugQuantityCommand) (services.Drug, error)
	adjustFn   func(context.Context, services.AdjustStockCommand) (services.StockLevel, error)
	pharmacyFn func(context.Context, string) (services.Pharmacy, error)
	drugsFn    func(context.Context) ([]services.DrugQuantity, error)
}

func (s *stubStockService) AddDrug(ctx context.Context, cmd services.AddDrugCommand) (services.Drug, error) {
	if s.addDrugFn != nil {
		return s.addDrugFn(ctx, cmd)
	}
	return services.Drug{}, errNotImplemented
}

func (s *stubStockService) UpdateDrugQuantity(ctx context.Context, cmd services.UpdateDrugQuantityCommand) (services.Drug, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Drug{}, errNotImplemented
}

func (s *stubStockService) AdjustStock(ctx context.Context, cmd services.AdjustStockCommand) (services.StockLevel, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return services.StockLevel{}, errNotImplemented
}

func (s *stubStockService) GetPharmacyByID(ctx context.Context, pharmacyID string) (services.Pharmacy, error) {
	if s.pharmacyFn != nil {
		return s.pharmacyFn(ctx, pharmacyID)
	}
	return services.Pharmacy{}, errNotImplemented
}

func (s *stubStockService) GetAllDrugs(ctx context.Context) ([]services.DrugQuantity, error) {
	if s.drugsFn != nil {
		return s.drugsFn(ctx)
	}
	return nil, errNotImplemented
}

type stubViewService struct {
	patientFn      func(context.Context, string) ([]services.OrderView, error)
	pharmacyFn     func(context.Context, string) ([]services.OrderView, error)
	reconcileFn    func(context.Context, services.ViewOwner) (services.ReconcileReport, error)
	reconcileAllFn func(context.Context) (services.ReconcileReport, error)
	applyFn        func(context.Context, services.OrderEvent) error
}

func (s *stubViewService) Project(context.Context, services.Order) error { return nil }

func (s *stubViewService) Remove(context.Context, services.Order) error { return nil }

func (s *stubViewService) PatientView(ctx context.Context, patientID string) ([]services.OrderView, error) {
	if s.patientFn != nil {
		return s.patientFn(ctx, patientID)
	}
	return nil, errNotImplemented
}

func (s *stubViewService) PharmacyView(ctx context.Context, pharmacyID string) ([]services.OrderView, error) {
	if s.pharmacyFn != nil {
		return s.pharmacyFn(ctx, pharmacyID)
	}
	return nil, errNotImplemented
}

func (s *stubViewService) Reconcile(ctx context.Context, owner services.ViewOwner) (services.ReconcileReport, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, owner)
	}
	return services.ReconcileReport{}, errNotImplemented
}

func (s *stubViewService) ReconcileAll(ctx context.Context) (services.ReconcileReport, error) {
	if s.reconcileAllFn != nil {
		return s.reconcileAllFn(ctx)
	}
	return services.ReconcileReport{}, errNotImplemented
}

func (s *stubViewService) ApplyEvent(ctx context.Context, event services.OrderEvent) error {
	if s.applyFn != nil {
		return s.applyFn(ctx, event)
	}
	return errNotImplemented
}

type stubBillService struct {
	urlFn func(context.Context, services.BillURLCommand) (services.BillLink, error)
}

func (s *stubBillService) Issue(context.Context, services.Order) (services.PharmacyBill, error) {
	return services.PharmacyBill{}, errNotImplemented
}

func (s *stubBillService) BillURL(ctx context.Context, cmd services.BillURLCommand) (services.BillLink, error) {
	if s.urlFn != nil {
		return s.urlFn(ctx, cmd)
	}
	return services.BillLink{}, errNotImplemented
}

var (
	_ services.OrderService = (*stubOrderService)(nil)
	_ services.StockService = (*stubStockService)(nil)
	_ services.ViewService  = (*stubViewService)(nil)
	_ services.BillService  = (*stubBillService)(nil)
)

func serviceError(kind services.ErrorKind, message string) error {
	return &services.Error{Kind: kind, Message: message}
}

func asIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return body
}
