package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is a generic container for paginated results.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of a drug order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every order.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusAccept marks an order the pharmacy fulfilled; stock is decremented on entry.
	OrderStatusAccept OrderStatus = "Accept"
	// OrderStatusReject marks an order the pharmacy declined.
	OrderStatusReject OrderStatus = "Reject"
)

// IsTerminal reports whether no further transition is possible from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusAccept || s == OrderStatusReject
}

// Address is a postal address snapshot.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
}

// IsZero reports whether every address field is blank.
func (a Address) IsZero() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.ZipCode == ""
}

// Drug is a catalog record. Quantity is allowed to go negative.
type Drug struct {
	ID           string
	Name         string
	Description  string
	Category     string
	Manufacturer string
	Type         string
	Price        float64
	Quantity     int
	ExpiryDate   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DrugQuantity is the catalog-wide stock summary returned by drug listings.
type DrugQuantity struct {
	Name     string
	Quantity int
}

// StockEntry mirrors a catalog drug inside a pharmacy.
type StockEntry struct {
	DrugID   string
	Name     string
	Price    float64
	Quantity int
}

// Patient is the subset of the patient record used by ordering.
type Patient struct {
	ID          string
	Name        string
	UserName    string
	Address     Address
	ContactInfo string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Pharmacy carries the pharmacy profile and its stock entries.
type Pharmacy struct {
	ID        string
	Name      string
	UserName  string
	Address   Address
	Rating    float64
	Stock     []StockEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FindStock returns the index of the first stock entry matching the drug id or name.
func (p Pharmacy) FindStock(drugID, name string) int {
	for i, entry := range p.Stock {
		if drugID != "" && entry.DrugID == drugID {
			return i
		}
		if drugID == "" && entry.Name == name {
			return i
		}
	}
	return -1
}

// OrderLine is an immutable snapshot of an ordered drug.
type OrderLine struct {
	DrugName string
	Category string
	Quantity int
}

// Order is the Ledger record. TotalCost and line quantities never change after creation.
type Order struct {
	ID                string
	PatientID         string
	PharmacyID        string
	PharmacyName      string
	Lines             []OrderLine
	TotalDrugQuantity int
	TotalCost         int
	Status            OrderStatus
	Address           Address
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ViewOwnerKind identifies which record an order view belongs to.
type ViewOwnerKind string

const (
	// ViewOwnerPatient scopes a view to a patient.
	ViewOwnerPatient ViewOwnerKind = "patient"
	// ViewOwnerPharmacy scopes a view to a pharmacy.
	ViewOwnerPharmacy ViewOwnerKind = "pharmacy"
)

// ViewOwner addresses a single order view.
type ViewOwner struct {
	Kind ViewOwnerKind
	ID   string
}

// ViewOwnersFor returns the patient and pharmacy views an order projects into.
func ViewOwnersFor(order Order) []ViewOwner {
	return []ViewOwner{
		{Kind: ViewOwnerPatient, ID: order.PatientID},
		{Kind: ViewOwnerPharmacy, ID: order.PharmacyID},
	}
}

// OrderView is a projected order snapshot held under an owner.
type OrderView struct {
	Owner       ViewOwner
	Order       Order
	ProjectedAt time.Time
}

// ReconcileReport summarises a view rebuild.
type ReconcileReport struct {
	Owners   int
	Upserted int
	Removed  int
	Failed   []ViewOwner
}

// PharmacyBill is the billing record issued when an order is accepted.
type PharmacyBill struct {
	ID           string
	OrderID      string
	PatientID    string
	PharmacyID   string
	PharmacyName string
	Lines        []OrderLine
	TotalCost    int
	IssuedAt     time.Time
}

// BillLink is a time-limited download location for an archived bill.
type BillLink struct {
	OrderID   string
	Object    string
	URL       string
	ExpiresAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
