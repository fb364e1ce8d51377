package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/repositories"
)

const reconcilePageSize = 200

// ViewServiceDeps bundles collaborators required to construct the view service.
type ViewServiceDeps struct {
	Orders repositories.OrderLedgerRepository
	Views  repositories.OrderViewRepository
	Clock  func() time.Time
	Logger Logger
}

type viewService struct {
	orders repositories.OrderLedgerRepository
	views  repositories.OrderViewRepository
	clock  func() time.Time
	logger Logger
}

var _ ViewService = (*viewService)(nil)

// NewViewService wires dependencies into a concrete ViewService implementation.
func NewViewService(deps ViewServiceDeps) (ViewService, error) {
	if deps.Orders == nil {
		return nil, errors.New("view service: order ledger repository is required")
	}
	if deps.Views == nil {
		return nil, errors.New("view service: order view repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &viewService{
		orders: deps.Orders,
		views:  deps.Views,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Project upserts the snapshot into both owner views. A view already holding a newer version
// is left alone.
func (s *viewService) Project(ctx context.Context, order Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return invalidInput("order id is required")
	}
	now := s.clock()
	var errs []error
	for _, owner := range domain.ViewOwnersFor(order) {
		if strings.TrimSpace(owner.ID) == "" {
			continue
		}
		applied, err := s.views.Upsert(ctx, OrderView{Owner: owner, Order: order, ProjectedAt: now})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !applied {
			s.logger(ctx, "order.view.stale", map[string]any{
				"order":   order.ID,
				"owner":   string(owner.Kind) + "/" + owner.ID,
				"version": order.Version,
			})
		}
	}
	if len(errs) > 0 {
		return mapRepositoryError(errors.Join(errs...), "order view")
	}
	return nil
}

// Remove deletes the snapshot from both owner views. Missing snapshots are ignored.
func (s *viewService) Remove(ctx context.Context, order Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return invalidInput("order id is required")
	}
	var errs []error
	for _, owner := range domain.ViewOwnersFor(order) {
		if strings.TrimSpace(owner.ID) == "" {
			continue
		}
		if err := s.views.Delete(ctx, owner, order.ID); err != nil && !isNotFound(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return mapRepositoryError(errors.Join(errs...), "order view")
	}
	return nil
}

func (s *viewService) PatientView(ctx context.Context, patientID string) ([]OrderView, error) {
	return s.list(ctx, ViewOwner{Kind: domain.ViewOwnerPatient, ID: patientID})
}

func (s *viewService) PharmacyView(ctx context.Context, pharmacyID string) ([]OrderView, error) {
	return s.list(ctx, ViewOwner{Kind: domain.ViewOwnerPharmacy, ID: pharmacyID})
}

func (s *viewService) list(ctx context.Context, owner ViewOwner) ([]OrderView, error) {
	owner, err := normalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	views, err := s.views.List(ctx, owner)
	if err != nil {
		return nil, mapRepositoryError(err, "order view")
	}
	if views == nil {
		views = []OrderView{}
	}
	return views, nil
}

// Reconcile rebuilds one owner's view from the Ledger.
func (s *viewService) Reconcile(ctx context.Context, owner ViewOwner) (ReconcileReport, error) {
	owner, err := normalizeOwner(owner)
	if err != nil {
		return ReconcileReport{}, err
	}
	var orders []Order
	switch owner.Kind {
	case domain.ViewOwnerPatient:
		orders, err = s.orders.ListByPatient(ctx, owner.ID)
	default:
		orders, err = s.orders.ListByPharmacy(ctx, owner.ID)
	}
	if err != nil {
		return ReconcileReport{}, mapRepositoryError(err, "orders")
	}

	report := ReconcileReport{Owners: 1}
	removed, err := s.replace(ctx, owner, orders)
	if err != nil {
		return ReconcileReport{}, mapRepositoryError(err, "order view")
	}
	report.Upserted = len(orders)
	report.Removed = removed
	return report, nil
}

// ReconcileAll walks the Ledger once and rebuilds every owner it references. Owners whose
// rebuild fails are listed in the report and do not stop the rest.
func (s *viewService) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	grouped := map[ViewOwner][]Order{}
	pager := Pagination{PageSize: reconcilePageSize}
	for {
		page, err := s.orders.List(ctx, pager)
		if err != nil {
			return ReconcileReport{}, mapRepositoryError(err, "orders")
		}
		for _, order := range page.Items {
			for _, owner := range domain.ViewOwnersFor(order) {
				if strings.TrimSpace(owner.ID) == "" {
					continue
				}
				grouped[owner] = append(grouped[owner], order)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}

	owners := make([]ViewOwner, 0, len(grouped))
	for owner := range grouped {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		if owners[i].Kind == owners[j].Kind {
			return owners[i].ID < owners[j].ID
		}
		return owners[i].Kind < owners[j].Kind
	})

	report := ReconcileReport{Owners: len(owners)}
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return report, unhandled("reconcile interrupted", err)
		}
		orders := grouped[owner]
		removed, err := s.replace(ctx, owner, orders)
		if err != nil {
			s.logger(ctx, "order.view.reconcile.failed", map[string]any{
				"owner": string(owner.Kind) + "/" + owner.ID,
				"error": err.Error(),
			})
			report.Failed = append(report.Failed, owner)
			continue
		}
		report.Upserted += len(orders)
		report.Removed += removed
	}
	s.logger(ctx, "order.view.reconciled", map[string]any{
		"owners":   report.Owners,
		"upserted": report.Upserted,
		"removed":  report.Removed,
		"failed":   len(report.Failed),
	})
	return report, nil
}

// ApplyEvent treats the event as a hint: the Ledger entry is re-read and projected, or removed
// from the views when the order no longer exists.
func (s *viewService) ApplyEvent(ctx context.Context, event OrderEvent) error {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return invalidInput("event order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if isNotFound(err) {
		return s.Remove(ctx, Order{ID: orderID, PatientID: event.PatientID, PharmacyID: event.PharmacyID})
	}
	if err != nil {
		return mapRepositoryError(err, "order")
	}
	return s.Project(ctx, order)
}

func (s *viewService) replace(ctx context.Context, owner ViewOwner, orders []Order) (int, error) {
	now := s.clock()
	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, OrderView{Owner: owner, Order: order, ProjectedAt: now})
	}
	return s.views.Replace(ctx, owner, views)
}

func normalizeOwner(owner ViewOwner) (ViewOwner, error) {
	owner.ID = strings.TrimSpace(owner.ID)
	if owner.ID == "" {
		return ViewOwner{}, invalidInput("owner id is required")
	}
	switch owner.Kind {
	case domain.ViewOwnerPatient, domain.ViewOwnerPharmacy:
		return owner, nil
	default:
		return ViewOwner{}, invalidInput("owner kind %q is not one of patient, pharmacy", owner.Kind)
	}
}
