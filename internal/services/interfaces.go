package services

import (
	"context"
	"time"

	domain "github.com/alegny-health/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	OrderView          = domain.OrderView
	ViewOwner          = domain.ViewOwner
	ReconcileReport    = domain.ReconcileReport
	Address            = domain.Address
	Drug               = domain.Drug
	DrugQuantity       = domain.DrugQuantity
	StockEntry         = domain.StockEntry
	Patient            = domain.Patient
	Pharmacy           = domain.Pharmacy
	PharmacyBill       = domain.PharmacyBill
	BillLink           = domain.BillLink
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService runs the order lifecycle: creation, status transitions and cancellation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) error
	GetPatientOrders(ctx context.Context, patientID string) ([]Order, error)
	GetPharmacyOrders(ctx context.Context, pharmacyID string) ([]Order, error)
	GetAllOrders(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error)
}

// StockService keeps the drug catalog and pharmacy stock moving together.
type StockService interface {
	AddDrug(ctx context.Context, cmd AddDrugCommand) (Drug, error)
	UpdateDrugQuantity(ctx context.Context, cmd UpdateDrugQuantityCommand) (Drug, error)
	StockAdjuster
	GetPharmacyByID(ctx context.Context, pharmacyID string) (Pharmacy, error)
	GetAllDrugs(ctx context.Context) ([]DrugQuantity, error)
}

// StockAdjuster is the single path that changes stock quantities.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (StockLevel, error)
}

// ViewService maintains the patient and pharmacy order views as projections of the Ledger.
type ViewService interface {
	OrderProjector
	PatientView(ctx context.Context, patientID string) ([]OrderView, error)
	PharmacyView(ctx context.Context, pharmacyID string) ([]OrderView, error)
	Reconcile(ctx context.Context, owner ViewOwner) (ReconcileReport, error)
	ReconcileAll(ctx context.Context) (ReconcileReport, error)
	ApplyEvent(ctx context.Context, event OrderEvent) error
}

// OrderProjector writes Ledger snapshots into the owner views.
type OrderProjector interface {
	Project(ctx context.Context, order Order) error
	Remove(ctx context.Context, order Order) error
}

// BillService issues and serves archived pharmacy bills.
type BillService interface {
	BillIssuer
	BillURL(ctx context.Context, cmd BillURLCommand) (BillLink, error)
}

// BillIssuer archives the bill of an accepted order.
type BillIssuer interface {
	Issue(ctx context.Context, order Order) (PharmacyBill, error)
}

// SystemService exposes health reports and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	BuildInfo() BuildInfo
}

// CreateOrderCommand places a new order for a patient at a pharmacy.
type CreateOrderCommand struct {
	PatientID  string
	PharmacyID string
	Lines      []OrderLineInput
	Address    Address
}

// OrderLineInput is one requested drug. The unit price comes from the catalog.
type OrderLineInput struct {
	DrugName string
	Category string
	Quantity int
}

// UpdateOrderStatusCommand moves a pending order to Accept or Reject. Status is the raw value
// received from the caller. A non-empty PharmacyID restricts the change to orders placed with
// that pharmacy.
type UpdateOrderStatusCommand struct {
	PatientID  string
	OrderID    string
	PharmacyID string
	Status     string
}

// CancelOrderCommand hard-deletes a patient's order.
type CancelOrderCommand struct {
	PatientID string
	OrderID   string
}

// AddDrugCommand adds a drug to a pharmacy and, when new, to the catalog.
type AddDrugCommand struct {
	PharmacyID string
	Drug       Drug
}

// UpdateDrugQuantityCommand raises or lowers a drug's quantity by a non-negative Delta.
type UpdateDrugQuantityCommand struct {
	PharmacyID string
	DrugName   string
	Delta      int
	Increase   bool
}

// AdjustStockCommand applies a signed delta. OrderID is set when the change comes from an
// accepted order.
type AdjustStockCommand struct {
	PharmacyID string
	DrugName   string
	Delta      int
	OrderID    string
}

// StockLevel is the catalog drug and the pharmacy entry after an adjustment.
type StockLevel struct {
	Drug  Drug
	Entry StockEntry
}

// BillURLCommand requests a download link. A non-empty PharmacyID restricts the lookup to
// orders of that pharmacy.
type BillURLCommand struct {
	OrderID    string
	PharmacyID string
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
