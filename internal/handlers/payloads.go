package handlers

import (
	"time"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/services"
)

type addressPayload struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
}

func (p addressPayload) toDomain() services.Address {
	return services.Address{Street: p.Street, City: p.City, State: p.State, ZipCode: p.ZipCode}
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{Street: addr.Street, City: addr.City, State: addr.State, ZipCode: addr.ZipCode}
}

type orderLinePayload struct {
	DrugName string `json:"drugName"`
	Category string `json:"category,omitempty"`
	Quantity int    `json:"quantity"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	PatientID         string             `json:"patientId"`
	PharmacyID        string             `json:"pharmacyId"`
	PharmacyName      string             `json:"pharmacyName,omitempty"`
	Lines             []orderLinePayload `json:"lines"`
	TotalDrugQuantity int                `json:"totalDrugQuantity"`
	TotalCost         int                `json:"totalCost"`
	Status            string             `json:"status"`
	Address           addressPayload     `json:"address"`
	Version           int                `json:"version"`
	CreatedAt         string             `json:"createdAt,omitempty"`
	UpdatedAt         string             `json:"updatedAt,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{DrugName: line.DrugName, Category: line.Category, Quantity: line.Quantity})
	}
	return orderPayload{
		ID:                order.ID,
		PatientID:         order.PatientID,
		PharmacyID:        order.PharmacyID,
		PharmacyName:      order.PharmacyName,
		Lines:             lines,
		TotalDrugQuantity: order.TotalDrugQuantity,
		TotalCost:         order.TotalCost,
		Status:            string(order.Status),
		Address:           buildAddressPayload(order.Address),
		Version:           order.Version,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
}

func buildOrderPayloads(orders []services.Order) []orderPayload {
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	return items
}

type orderViewPayload struct {
	orderPayload
	ProjectedAt string `json:"projectedAt,omitempty"`
}

func buildOrderViewPayloads(views []services.OrderView) []orderViewPayload {
	items := make([]orderViewPayload, 0, len(views))
	for _, view := range views {
		items = append(items, orderViewPayload{
			orderPayload: buildOrderPayload(view.Order),
			ProjectedAt:  formatTime(view.ProjectedAt),
		})
	}
	return items
}

type drugPayload struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Category     string  `json:"category,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Type         string  `json:"type,omitempty"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
	ExpiryDate   string  `json:"expiryDate,omitempty"`
}

func buildDrugPayload(drug services.Drug) drugPayload {
	payload := drugPayload{
		ID:           drug.ID,
		Name:         drug.Name,
		Description:  drug.Description,
		Category:     drug.Category,
		Manufacturer: drug.Manufacturer,
		Type:         drug.Type,
		Price:        drug.Price,
		Quantity:     drug.Quantity,
	}
	if drug.ExpiryDate != nil {
		payload.ExpiryDate = formatTime(*drug.ExpiryDate)
	}
	return payload
}

type stockEntryPayload struct {
	DrugID   string  `json:"drugId"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type pharmacyPayload struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	UserName string              `json:"userName,omitempty"`
	Address  addressPayload      `json:"address"`
	Rating   float64             `json:"rating"`
	Stock    []stockEntryPayload `json:"stock"`
}

func buildPharmacyPayload(pharmacy services.Pharmacy) pharmacyPayload {
	stock := make([]stockEntryPayload, 0, len(pharmacy.Stock))
	for _, entry := range pharmacy.Stock {
		stock = append(stock, stockEntryPayload{DrugID: entry.DrugID, Name: entry.Name, Price: entry.Price, Quantity: entry.Quantity})
	}
	return pharmacyPayload{
		ID:       pharmacy.ID,
		Name:     pharmacy.Name,
		UserName: pharmacy.UserName,
		Address:  buildAddressPayload(pharmacy.Address),
		Rating:   pharmacy.Rating,
		Stock:    stock,
	}
}

type drugQuantityPayload struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type billLinkPayload struct {
	OrderID   string `json:"orderId"`
	Object    string `json:"object"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

type viewOwnerPayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type reconcileReportPayload struct {
	Owners   int                `json:"owners"`
	Upserted int                `json:"upserted"`
	Removed  int                `json:"removed"`
	Failed   []viewOwnerPayload `json:"failed"`
}

func buildReconcileReportPayload(report services.ReconcileReport) reconcileReportPayload {
	failed := make([]viewOwnerPayload, 0, len(report.Failed))
	for _, owner := range report.Failed {
		failed = append(failed, viewOwnerPayload{Kind: string(owner.Kind), ID: owner.ID})
	}
	return reconcileReportPayload{
		Owners:   report.Owners,
		Upserted: report.Upserted,
		Removed:  report.Removed,
		Failed:   failed,
	}
}

// pagedOrdersPayload is the admin listing page.
type pagedOrdersPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildPagedOrders(page domain.CursorPage[services.Order]) pagedOrdersPayload {
	return pagedOrdersPayload{Items: buildOrderPayloads(page.Items), NextPageToken: page.NextPageToken}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
