package repositories

import (
	"context"
	"time"

	domain "github.com/alegny-health/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Patients() PatientRepository
	Pharmacies() PharmacyRepository
	Drugs() DrugCatalogRepository
	Orders() OrderLedgerRepository
	OrderViews() OrderViewRepository
	Stock() StockRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository writes in one transaction. Repository calls made with the ctx
// passed to fn join that transaction, and all reads must precede writes.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PatientRepository reads patient records owned by the patient-management collaborator.
type PatientRepository interface {
	FindByID(ctx context.Context, patientID string) (domain.Patient, error)
}

// PharmacyRepository reads and replaces pharmacy records including their stock entries.
type PharmacyRepository interface {
	FindByID(ctx context.Context, pharmacyID string) (domain.Pharmacy, error)
	Replace(ctx context.Context, pharmacy domain.Pharmacy) error
}

// DrugCatalogRepository persists the catalog. Names are unique after normalisation and
// FindByName returns a not-found RepositoryError when absent.
type DrugCatalogRepository interface {
	FindByName(ctx context.Context, name string) (domain.Drug, error)
	Insert(ctx context.Context, drug domain.Drug) error
	Replace(ctx context.Context, drug domain.Drug) error
	List(ctx context.Context) ([]domain.Drug, error)
}

// OrderLedgerRepository is the authoritative order store.
type OrderLedgerRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	ListByPatient(ctx context.Context, patientID string) ([]domain.Order, error)
	ListByPharmacy(ctx context.Context, pharmacyID string) ([]domain.Order, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// UpdateStatus moves the order from change.From to change.To atomically. A missing order is
	// not-found; an order no longer in change.From, or owned by another patient, is a conflict.
	UpdateStatus(ctx context.Context, change StatusChange) (domain.Order, error)
}

// StatusChange is a compare-and-set request against the Ledger.
type StatusChange struct {
	OrderID   string
	PatientID string
	From      domain.OrderStatus
	To        domain.OrderStatus
	At        time.Time
}

// OrderViewRepository stores projected order snapshots per owner.
type OrderViewRepository interface {
	// Upsert writes the view unless the stored snapshot has a higher version. It reports
	// whether the write was applied.
	Upsert(ctx context.Context, view domain.OrderView) (bool, error)
	Delete(ctx context.Context, owner domain.ViewOwner, orderID string) error
	List(ctx context.Context, owner domain.ViewOwner) ([]domain.OrderView, error)
	// Replace makes views the exact content of the owner's view and returns how many stale
	// snapshots were removed.
	Replace(ctx context.Context, owner domain.ViewOwner, views []domain.OrderView) (int, error)
}

// StockRepository applies catalog and pharmacy stock changes in one transaction.
type StockRepository interface {
	Adjust(ctx context.Context, adj StockAdjustment) (StockAdjustResult, error)
	AddDrug(ctx context.Context, req AddDrugRequest) (domain.Drug, error)
}

// StockAdjustment applies Delta to the catalog drug and to the pharmacy's first matching stock
// entry. The entry is synthesised from the catalog when the pharmacy does not carry the drug.
type StockAdjustment struct {
	PharmacyID string
	DrugName   string
	Delta      int
	At         time.Time
}

// StockAdjustResult returns both sides after the adjustment.
type StockAdjustResult struct {
	Drug  domain.Drug
	Entry domain.StockEntry
}

// AddDrugRequest inserts Drug into the catalog when its name is new and always appends a stock
// entry to the pharmacy.
type AddDrugRequest struct {
	PharmacyID string
	Drug       domain.Drug
	At         time.Time
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
