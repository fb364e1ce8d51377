package firestore

import (
	"time"

	domain "github.com/alegny-health/api/internal/domain"
)

const (
	patientsCollection   = "patients"
	pharmaciesCollection = "pharmacies"
	drugsCollection      = "drugs"
	ordersCollection     = "orders"
	orderViewsCollection = "orderViews"
)

type addressDocument struct {
	Street  string `firestore:"street"`
	City    string `firestore:"city"`
	State   string `firestore:"state"`
	ZipCode string `firestore:"zipCode"`
}

func newAddressDocument(a domain.Address) addressDocument {
	return addressDocument{Street: a.Street, City: a.City, State: a.State, ZipCode: a.ZipCode}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{Street: d.Street, City: d.City, State: d.State, ZipCode: d.ZipCode}
}

type patientDocument struct {
	Name        string          `firestore:"name"`
	UserName    string          `firestore:"userName"`
	Address     addressDocument `firestore:"address"`
	ContactInfo string          `firestore:"contactInfo"`
	CreatedAt   time.Time       `firestore:"createdAt"`
	UpdatedAt   time.Time       `firestore:"updatedAt"`
}

func (d patientDocument) toDomain(id string) domain.Patient {
	return domain.Patient{
		ID:          id,
		Name:        d.Name,
		UserName:    d.UserName,
		Address:     d.Address.toDomain(),
		ContactInfo: d.ContactInfo,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type stockEntryDocument struct {
	DrugID   string  `firestore:"drugId"`
	Name     string  `firestore:"name"`
	Price    float64 `firestore:"price"`
	Quantity int     `firestore:"quantity"`
}

type pharmacyDocument struct {
	Name      string               `firestore:"name"`
	UserName  string               `firestore:"userName"`
	Address   addressDocument      `firestore:"address"`
	Rating    float64              `firestore:"rating"`
	Stock     []stockEntryDocument `firestore:"stock"`
	CreatedAt time.Time            `firestore:"createdAt"`
	UpdatedAt time.Time            `firestore:"updatedAt"`
}

func newPharmacyDocument(p domain.Pharmacy) pharmacyDocument {
	stock := make([]stockEntryDocument, 0, len(p.Stock))
	for _, entry := range p.Stock {
		stock = append(stock, stockEntryDocument{
			DrugID:   entry.DrugID,
			Name:     entry.Name,
			Price:    entry.Price,
			Quantity: entry.Quantity,
		})
	}
	return pharmacyDocument{
		Name:      p.Name,
		UserName:  p.UserName,
		Address:   newAddressDocument(p.Address),
		Rating:    p.Rating,
		Stock:     stock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (d pharmacyDocument) toDomain(id string) domain.Pharmacy {
	stock := make([]domain.StockEntry, 0, len(d.Stock))
	for _, entry := range d.Stock {
		stock = append(stock, domain.StockEntry{
			DrugID:   entry.DrugID,
			Name:     entry.Name,
			Price:    entry.Price,
			Quantity: entry.Quantity,
		})
	}
	return domain.Pharmacy{
		ID:        id,
		Name:      d.Name,
		UserName:  d.UserName,
		Address:   d.Address.toDomain(),
		Rating:    d.Rating,
		Stock:     stock,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type drugDocument struct {
	Name         string     `firestore:"name"`
	Description  string     `firestore:"description,omitempty"`
	Category     string     `firestore:"category,omitempty"`
	Manufacturer string     `firestore:"manufacturer,omitempty"`
	Type         string     `firestore:"type,omitempty"`
	Price        float64    `firestore:"price"`
	Quantity     int        `firestore:"quantity"`
	ExpiryDate   *time.Time `firestore:"expiryDate,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

func newDrugDocument(d domain.Drug) drugDocument {
	return drugDocument{
		Name:         d.Name,
		Description:  d.Description,
		Category:     d.Category,
		Manufacturer: d.Manufacturer,
		Type:         d.Type,
		Price:        d.Price,
		Quantity:     d.Quantity,
		ExpiryDate:   d.ExpiryDate,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (d drugDocument) toDomain(id string) domain.Drug {
	return domain.Drug{
		ID:           id,
		Name:         d.Name,
		Description:  d.Description,
		Category:     d.Category,
		Manufacturer: d.Manufacturer,
		Type:         d.Type,
		Price:        d.Price,
		Quantity:     d.Quantity,
		ExpiryDate:   d.ExpiryDate,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type orderLineDocument struct {
	DrugName string `firestore:"drugName"`
	Category string `firestore:"category,omitempty"`
	Quantity int    `firestore:"quantity"`
}

type orderDocument struct {
	PatientID         string              `firestore:"patientId"`
	PharmacyID        string              `firestore:"pharmacyId"`
	PharmacyName      string              `firestore:"pharmacyName"`
	Lines             []orderLineDocument `firestore:"lines"`
	TotalDrugQuantity int                 `firestore:"totalDrugQuantity"`
	TotalCost         int                 `firestore:"totalCost"`
	Status            string              `firestore:"status"`
	Address           addressDocument     `firestore:"address"`
	Version           int                 `firestore:"version"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, orderLineDocument{DrugName: line.DrugName, Category: line.Category, Quantity: line.Quantity})
	}
	return orderDocument{
		PatientID:         o.PatientID,
		PharmacyID:        o.PharmacyID,
		PharmacyName:      o.PharmacyName,
		Lines:             lines,
		TotalDrugQuantity: o.TotalDrugQuantity,
		TotalCost:         o.TotalCost,
		Status:            string(o.Status),
		Address:           newAddressDocument(o.Address),
		Version:           o.Version,
		CreatedAt:         o.CreatedAt.UTC(),
		UpdatedAt:         o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.OrderLine{DrugName: line.DrugName, Category: line.Category, Quantity: line.Quantity})
	}
	return domain.Order{
		ID:                id,
		PatientID:         d.PatientID,
		PharmacyID:        d.PharmacyID,
		PharmacyName:      d.PharmacyName,
		Lines:             lines,
		TotalDrugQuantity: d.TotalDrugQuantity,
		TotalCost:         d.TotalCost,
		Status:            domain.OrderStatus(d.Status),
		Address:           d.Address.toDomain(),
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// orderViewDocument is the Ledger snapshot plus projection metadata.
type orderViewDocument struct {
	Order       orderDocument `firestore:"order"`
	Version     int           `firestore:"version"`
	ProjectedAt time.Time     `firestore:"projectedAt"`
}
