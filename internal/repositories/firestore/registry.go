package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/repositories"
)

// Registry wires every Firestore repository to one provider.
type Registry struct {
	provider   *pfirestore.Provider
	patients   *PatientRepository
	pharmacies *PharmacyRepository
	drugs      *DrugRepository
	orders     *OrderRepository
	views      *OrderViewRepository
	stock      *StockRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. health may be nil when readiness is not served.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	patients, err := NewPatientRepository(provider)
	if err != nil {
		return nil, err
	}
	pharmacies, err := NewPharmacyRepository(provider)
	if err != nil {
		return nil, err
	}
	drugs, err := NewDrugRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	views, err := NewOrderViewRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:   provider,
		patients:   patients,
		pharmacies: pharmacies,
		drugs:      drugs,
		orders:     orders,
		views:      views,
		stock:      stock,
		health:     health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Patients() repositories.PatientRepository     { return r.patients }
func (r *Registry) Pharmacies() repositories.PharmacyRepository  { return r.pharmacies }
func (r *Registry) Drugs() repositories.DrugCatalogRepository    { return r.drugs }
func (r *Registry) Orders() repositories.OrderLedgerRepository   { return r.orders }
func (r *Registry) OrderViews() repositories.OrderViewRepository { return r.views }
func (r *Registry) Stock() repositories.StockRepository          { return r.stock }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// RunInTx runs fn in a Firestore transaction. Repository calls made with the ctx passed to fn
// join it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
