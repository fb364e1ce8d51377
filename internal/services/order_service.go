package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/platform/pagination"
	"github.com/alegny-health/api/internal/platform/textutil"
	"github.com/alegny-health/api/internal/repositories"
)

const orderIDPrefix = "ord_"

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Patients    repositories.PatientRepository
	Pharmacies  repositories.PharmacyRepository
	Drugs       repositories.DrugCatalogRepository
	Orders      repositories.OrderLedgerRepository
	Stock       StockAdjuster
	Views       OrderProjector
	Bills       BillIssuer
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      Logger
}

type orderService struct {
	patients   repositories.PatientRepository
	pharmacies repositories.PharmacyRepository
	drugs      repositories.DrugCatalogRepository
	orders     repositories.OrderLedgerRepository
	stock      StockAdjuster
	views      OrderProjector
	bills      BillIssuer
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     EventPublisher
	logger     Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Patients == nil {
		return nil, errors.New("order service: patient repository is required")
	}
	if deps.Pharmacies == nil {
		return nil, errors.New("order service: pharmacy repository is required")
	}
	if deps.Drugs == nil {
		return nil, errors.New("order service: drug catalog repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order ledger repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock adjuster is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &orderService{
		patients:   deps.Patients,
		pharmacies: deps.Pharmacies,
		drugs:      deps.Drugs,
		orders:     deps.Orders,
		stock:      deps.Stock,
		views:      deps.Views,
		bills:      deps.Bills,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateOrder prices the lines from the catalog and records a Pending order. Reads and the
// Ledger insert share one transaction; the views and the event follow on a best-effort basis.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	patientID := strings.TrimSpace(cmd.PatientID)
	if patientID == "" {
		return Order{}, invalidInput("patient id is required")
	}
	pharmacyID := strings.TrimSpace(cmd.PharmacyID)
	if pharmacyID == "" {
		return Order{}, invalidInput("pharmacy id is required")
	}
	lines, err := normalizeOrderLines(cmd.Lines)
	if err != nil {
		return Order{}, err
	}
	address, err := normalizeAddress(cmd.Address)
	if err != nil {
		return Order{}, err
	}

	var order Order
	err = s.runInTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.FindByID(ctx, patientID); err != nil {
			return mapRepositoryError(err, "patient")
		}
		pharmacy, err := s.pharmacies.FindByID(ctx, pharmacyID)
		if err != nil {
			return mapRepositoryError(err, "pharmacy")
		}

		var cost float64
		quantity := 0
		priced := make([]OrderLine, len(lines))
		for i, line := range lines {
			drug, err := s.drugs.FindByName(ctx, line.DrugName)
			if isNotFound(err) {
				return invalidInput("drug %q is not priced", line.DrugName)
			}
			if err != nil {
				return mapRepositoryError(err, "drug")
			}
			if line.Category == "" {
				line.Category = drug.Category
			}
			cost += float64(line.Quantity) * drug.Price
			quantity += line.Quantity
			priced[i] = line
		}

		now := s.now()
		order = Order{
			ID:                s.nextOrderID(),
			PatientID:         patientID,
			PharmacyID:        pharmacy.ID,
			PharmacyName:      pharmacy.Name,
			Lines:             priced,
			TotalDrugQuantity: quantity,
			TotalCost:         int(cost),
			Status:            domain.OrderStatusPending,
			Address:           address,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if order.PharmacyID == "" {
			order.PharmacyID = pharmacyID
		}
		if err := s.orders.Insert(ctx, order); err != nil {
			return mapRepositoryError(err, "order")
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.project(ctx, order)
	s.publishEvent(ctx, OrderEvent{
		Type:       OrderEventCreated,
		OrderID:    order.ID,
		PatientID:  order.PatientID,
		PharmacyID: order.PharmacyID,
		Status:     order.Status,
		Version:    order.Version,
		OccurredAt: order.CreatedAt,
	})
	return order, nil
}

// UpdateOrderStatus moves a Pending order to Accept or Reject with a compare-and-set on the
// Ledger. Accept then adjusts stock for every line and issues the bill.
func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	patientID := strings.TrimSpace(cmd.PatientID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if patientID == "" || orderID == "" {
		return Order{}, invalidInput("patient id and order id are required")
	}

	if _, err := s.patients.FindByID(ctx, patientID); err != nil {
		return Order{}, mapRepositoryError(err, "patient")
	}
	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order")
	}
	if current.PatientID != patientID {
		return Order{}, notFound("order")
	}
	if pharmacyID := strings.TrimSpace(cmd.PharmacyID); pharmacyID != "" && current.PharmacyID != pharmacyID {
		return Order{}, notFound("order")
	}

	target, ok := parseTargetStatus(cmd.Status)
	if !ok {
		return Order{}, invalidInput("status %q is not one of Accept, Reject", cmd.Status)
	}
	if current.Status != domain.OrderStatusPending || current.Status == target {
		return Order{}, notFoundCause("order", fmt.Errorf("order %s is %s", current.ID, current.Status))
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.StatusChange{
		OrderID:   current.ID,
		PatientID: patientID,
		From:      domain.OrderStatusPending,
		To:        target,
		At:        s.now(),
	})
	if isConflict(err) {
		return Order{}, notFoundCause("order", err)
	}
	if err != nil {
		return Order{}, mapRepositoryError(err, "order")
	}

	var adjustErr error
	if updated.Status == domain.OrderStatusAccept {
		adjustErr = s.adjustStock(ctx, updated)
		s.issueBill(ctx, updated)
	}

	s.project(ctx, updated)
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		PatientID:      updated.PatientID,
		PharmacyID:     updated.PharmacyID,
		PreviousStatus: current.Status,
		Status:         updated.Status,
		Version:        updated.Version,
		OccurredAt:     updated.UpdatedAt,
	})
	if adjustErr != nil {
		return updated, adjustErr
	}
	return updated, nil
}

// CancelOrder hard-deletes the patient's orders matching the id. Stock is not restored.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) error {
	patientID := strings.TrimSpace(cmd.PatientID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if patientID == "" || orderID == "" {
		return invalidInput("patient id and order id are required")
	}

	if _, err := s.patients.FindByID(ctx, patientID); err != nil {
		return mapRepositoryError(err, "patient")
	}
	orders, err := s.orders.ListByPatient(ctx, patientID)
	if err != nil {
		return mapRepositoryError(err, "orders")
	}
	if len(orders) == 0 {
		return notFound("orders")
	}

	var matched []Order
	for _, order := range orders {
		if order.ID == orderID {
			matched = append(matched, order)
		}
	}
	if len(matched) == 0 {
		return notFound("order")
	}

	err = s.runInTx(ctx, func(ctx context.Context) error {
		for _, order := range matched {
			if err := s.orders.Delete(ctx, order.ID); err != nil {
				return mapRepositoryError(err, "order")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	now := s.now()
	for _, order := range matched {
		s.removeViews(ctx, order)
		s.publishEvent(ctx, OrderEvent{
			Type:           OrderEventCancelled,
			OrderID:        order.ID,
			PatientID:      order.PatientID,
			PharmacyID:     order.PharmacyID,
			PreviousStatus: order.Status,
			Version:        order.Version,
			OccurredAt:     now,
		})
	}
	return nil
}

func (s *orderService) GetPatientOrders(ctx context.Context, patientID string) ([]Order, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, invalidInput("patient id is required")
	}
	if _, err := s.patients.FindByID(ctx, patientID); err != nil {
		return nil, mapRepositoryError(err, "patient")
	}
	orders, err := s.orders.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, mapRepositoryError(err, "orders")
	}
	return nonNilOrders(orders), nil
}

func (s *orderService) GetPharmacyOrders(ctx context.Context, pharmacyID string) ([]Order, error) {
	pharmacyID = strings.TrimSpace(pharmacyID)
	if pharmacyID == "" {
		return nil, invalidInput("pharmacy id is required")
	}
	orders, err := s.orders.ListByPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, mapRepositoryError(err, "orders")
	}
	return nonNilOrders(orders), nil
}

func (s *orderService) GetAllOrders(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error) {
	if pager.PageSize < 0 {
		return domain.CursorPage[Order]{}, invalidInput("page size must not be negative")
	}
	page, err := s.orders.List(ctx, pager)
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return domain.CursorPage[Order]{}, invalidInput("page token is invalid")
	}
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, "orders")
	}
	page.Items = nonNilOrders(page.Items)
	return page, nil
}

// adjustStock decrements every accepted line. The Ledger already says Accept, so a failing
// line is logged and the remaining lines are still applied.
func (s *orderService) adjustStock(ctx context.Context, order Order) error {
	var errs []error
	for _, line := range order.Lines {
		_, err := s.stock.AdjustStock(ctx, AdjustStockCommand{
			PharmacyID: order.PharmacyID,
			DrugName:   line.DrugName,
			Delta:      -line.Quantity,
			OrderID:    order.ID,
		})
		if err != nil {
			s.logger(ctx, "order.stock.adjust.failed", map[string]any{
				"order":    order.ID,
				"pharmacy": order.PharmacyID,
				"drug":     line.DrugName,
				"delta":    -line.Quantity,
				"error":    err.Error(),
			})
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return unhandled(fmt.Sprintf("order %s accepted but stock adjustment failed", order.ID), errors.Join(errs...))
	}
	return nil
}

func (s *orderService) issueBill(ctx context.Context, order Order) {
	if s.bills == nil {
		return
	}
	if _, err := s.bills.Issue(ctx, order); err != nil {
		s.logger(ctx, "order.bill.issue.failed", map[string]any{
			"order":    order.ID,
			"pharmacy": order.PharmacyID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) project(ctx context.Context, order Order) {
	if s.views == nil {
		return
	}
	if err := s.views.Project(ctx, order); err != nil {
		s.logger(ctx, "order.view.project.failed", map[string]any{
			"order":   order.ID,
			"version": order.Version,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) removeViews(ctx context.Context, order Order) {
	if s.views == nil {
		return
	}
	if err := s.views.Remove(ctx, order); err != nil {
		s.logger(ctx, "order.view.remove.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.Status),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func parseTargetStatus(raw string) (OrderStatus, bool) {
	switch status := OrderStatus(strings.TrimSpace(raw)); status {
	case domain.OrderStatusAccept, domain.OrderStatusReject:
		return status, true
	default:
		return "", false
	}
}

func normalizeOrderLines(inputs []OrderLineInput) ([]OrderLine, error) {
	if len(inputs) == 0 {
		return nil, invalidInput("order must contain at least one line")
	}
	lines := make([]OrderLine, 0, len(inputs))
	for i, input := range inputs {
		name := textutil.SanitizeText(input.DrugName)
		if name == "" {
			return nil, invalidInput("line %d: drug name is required", i+1)
		}
		if input.Quantity <= 0 {
			return nil, invalidInput("line %d: quantity must be positive", i+1)
		}
		lines = append(lines, OrderLine{
			DrugName: name,
			Category: textutil.SanitizeText(input.Category),
			Quantity: input.Quantity,
		})
	}
	return lines, nil
}

func normalizeAddress(addr Address) (Address, error) {
	out := Address{
		Street:  textutil.SanitizeText(addr.Street),
		City:    textutil.SanitizeText(addr.City),
		State:   textutil.SanitizeText(addr.State),
		ZipCode: textutil.SanitizeText(addr.ZipCode),
	}
	if out.Street == "" || out.City == "" || out.State == "" || out.ZipCode == "" {
		return Address{}, invalidInput("address requires street, city, state and zip code")
	}
	return out, nil
}

func nonNilOrders(orders []Order) []Order {
	if orders == nil {
		return []Order{}
	}
	return orders
}
