package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStockServiceUpdateDrugQuantityRoundTrip(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	h := newHarness(t, store)
	ctx := context.Background()

	up, err := h.stock.UpdateDrugQuantity(ctx, UpdateDrugQuantityCommand{PharmacyID: "ph1", DrugName: "Aspirin", Delta: 5, Increase: true})
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if up.Quantity != 55 || store.pharmacy("ph1").Stock[0].Quantity != 55 {
		t.Fatalf("expected both sides at 55, got catalog %d", up.Quantity)
	}
	down, err := h.stock.UpdateDrugQuantity(ctx, UpdateDrugQuantityCommand{PharmacyID: "ph1", DrugName: "aspirin", Delta: 5})
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if down.Quantity != 50 || store.pharmacy("ph1").Stock[0].Quantity != 50 {
		t.Fatalf("expected both sides restored to 50, got catalog %d stock %d", down.Quantity, store.pharmacy("ph1").Stock[0].Quantity)
	}
	if len(h.events.stock) != 2 || h.events.stock[1].Delta != -5 {
		t.Fatalf("unexpected stock events %+v", h.events.stock)
	}
}

func TestStockServiceUpdateDrugQuantityErrors(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	h := newHarness(t, store)
	ctx := context.Background()

	if _, err := h.stock.UpdateDrugQuantity(ctx, UpdateDrugQuantityCommand{PharmacyID: "ph1", DrugName: "Aspirin", Delta: -1, Increase: true}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative delta, got %v", err)
	}
	_, err := h.stock.UpdateDrugQuantity(ctx, UpdateDrugQuantityCommand{PharmacyID: "ph1", DrugName: "Unobtainium", Delta: 1})
	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "drug not found") {
		t.Fatalf("expected drug not found, got %v", err)
	}
	_, err = h.stock.UpdateDrugQuantity(ctx, UpdateDrugQuantityCommand{PharmacyID: "ghost", DrugName: "Aspirin", Delta: 1})
	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "pharmacy not found") {
		t.Fatalf("expected pharmacy not found, got %v", err)
	}
	if got := store.drug("Aspirin").Quantity; got != 50 {
		t.Fatalf("expected catalog untouched, got %d", got)
	}
}

func TestStockServiceAdjustSynthesisesEntry(t *testing.T) {
	store := newMemoryStore()
	store.addDrug("Ibuprofen", 4, 20)
	store.addPharmacy("ph2", "Uptown")
	h := newHarness(t, store)

	level, err := h.stock.AdjustStock(context.Background(), AdjustStockCommand{PharmacyID: "ph2", DrugName: "IBUPROFEN", Delta: -3})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if level.Drug.Quantity != 17 {
		t.Fatalf("expected catalog 17, got %d", level.Drug.Quantity)
	}
	stock := store.pharmacy("ph2").Stock
	if len(stock) != 1 || stock[0].Quantity != -3 || stock[0].Price != 4 || stock[0].DrugID != "ibuprofen" {
		t.Fatalf("expected synthesised entry at -3, got %+v", stock)
	}
	if level.Entry.Quantity != -3 {
		t.Fatalf("expected returned entry at -3, got %+v", level.Entry)
	}
}

func TestStockServiceAdjustAllowsNegative(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	h := newHarness(t, store)

	level, err := h.stock.AdjustStock(context.Background(), AdjustStockCommand{PharmacyID: "ph1", DrugName: "Aspirin", Delta: -60})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if level.Drug.Quantity != -10 || level.Entry.Quantity != -10 {
		t.Fatalf("expected both sides at -10, got %+v", level)
	}
}

func TestStockServiceAdjustPublishFailureIsLogged(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	h := newHarness(t, store)
	h.events.err = errors.New("topic missing")

	if _, err := h.stock.AdjustStock(context.Background(), AdjustStockCommand{PharmacyID: "ph1", DrugName: "Aspirin", Delta: 1}); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if !h.logs.has("stock.event.publish.failed") {
		t.Fatalf("expected publish failure logged, got %v", h.logs.events)
	}
}

func TestStockServiceAddDrug(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	h := newHarness(t, store)
	ctx := context.Background()
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.FixedZone("JST", 9*3600))

	drug, err := h.stock.AddDrug(ctx, AddDrugCommand{PharmacyID: "ph1", Drug: Drug{
		Name:        " Paracetamol ",
		Price:       3,
		Quantity:    12,
		Description: "<i>fever</i> relief",
		ExpiryDate:  &expiry,
	}})
	if err != nil {
		t.Fatalf("AddDrug: %v", err)
	}
	if drug.ID != "paracetamol" || drug.Name != "Paracetamol" || drug.Quantity != 12 {
		t.Fatalf("unexpected catalog drug %+v", drug)
	}
	if drug.Description != "fever relief" {
		t.Fatalf("expected sanitised description, got %q", drug.Description)
	}
	if drug.ExpiryDate == nil || drug.ExpiryDate.Location() != time.UTC {
		t.Fatalf("expected UTC expiry, got %v", drug.ExpiryDate)
	}

	again, err := h.stock.AddDrug(ctx, AddDrugCommand{PharmacyID: "ph1", Drug: Drug{Name: "paracetamol", Price: 9, Quantity: 1}})
	if err != nil {
		t.Fatalf("AddDrug duplicate: %v", err)
	}
	if again.Price != 3 || again.Quantity != 12 {
		t.Fatalf("expected existing catalog entry kept, got %+v", again)
	}
	if got := len(store.pharmacy("ph1").Stock); got != 3 {
		t.Fatalf("expected duplicate stock entry appended, got %d entries", got)
	}
}

func TestStockServiceAddDrugMissingPharmacy(t *testing.T) {
	store := newMemoryStore()
	h := newHarness(t, store)

	_, err := h.stock.AddDrug(context.Background(), AddDrugCommand{PharmacyID: "ghost", Drug: Drug{Name: "Ibuprofen", Price: 1}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(store.drugs) != 0 || store.writeCount() != 0 {
		t.Fatalf("expected no orphan catalog entry, got %+v", store.drugs)
	}
}

func TestStockServiceAddDrugValidation(t *testing.T) {
	cases := map[string]AddDrugCommand{
		"no pharmacy":       {Drug: Drug{Name: "A", Price: 1}},
		"no name":           {PharmacyID: "ph1", Drug: Drug{Name: "  "}},
		"negative price":    {PharmacyID: "ph1", Drug: Drug{Name: "A", Price: -1}},
		"negative quantity": {PharmacyID: "ph1", Drug: Drug{Name: "A", Quantity: -1}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			store := newMemoryStore()
			seedAspirin(store)
			h := newHarness(t, store)
			if _, err := h.stock.AddDrug(context.Background(), cmd); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestStockServiceAddDrugEscapesReservedNames(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	h := newHarness(t, store)

	drug, err := h.stock.AddDrug(context.Background(), AddDrugCommand{PharmacyID: "ph1", Drug: Drug{Name: "..", Price: 3}})
	if err != nil {
		t.Fatalf("AddDrug: %v", err)
	}
	if drug.Name != ".." || drug.Price != 3 {
		t.Fatalf("unexpected drug %+v", drug)
	}
	if _, ok := store.drugs["%2E%2E"]; !ok {
		t.Fatalf("expected catalog key %%2E%%2E, got %v", store.drugs)
	}
}

func TestStockServiceAddDrugKeepsSimilarNamesApart(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	store.addDrug("Vitamin-C", 99, 10)
	h := newHarness(t, store)
	ctx := context.Background()

	drug, err := h.stock.AddDrug(ctx, AddDrugCommand{PharmacyID: "ph1", Drug: Drug{Name: "Vitamin C", Price: 2, Quantity: 5}})
	if err != nil {
		t.Fatalf("AddDrug: %v", err)
	}
	if drug.Name != "Vitamin C" || drug.Price != 2 {
		t.Fatalf("expected a separate catalog row, got %+v", drug)
	}
	if got := store.drug("Vitamin-C").Price; got != 99 {
		t.Fatalf("expected Vitamin-C price untouched, got %v", got)
	}

	order, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		PatientID:  "p1",
		PharmacyID: "ph1",
		Lines:      []OrderLineInput{{DrugName: "Vitamin C", Quantity: 1}},
		Address:    validAddress(),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.TotalCost != 2 {
		t.Fatalf("expected order priced from Vitamin C, got %d", order.TotalCost)
	}
}

func TestStockServiceReads(t *testing.T) {
	store := newMemoryStore()
	seedAspirin(store)
	store.addDrug("Zinc", 1, 4)
	store.addDrug("Biotin", 1, 7)
	store.addPharmacy("ph-empty", "Empty")
	h := newHarness(t, store)
	ctx := context.Background()

	drugs, err := h.stock.GetAllDrugs(ctx)
	if err != nil {
		t.Fatalf("GetAllDrugs: %v", err)
	}
	want := []DrugQuantity{{Name: "Aspirin", Quantity: 50}, {Name: "Biotin", Quantity: 7}, {Name: "Zinc", Quantity: 4}}
	if len(drugs) != len(want) {
		t.Fatalf("expected %d drugs, got %+v", len(want), drugs)
	}
	for i := range want {
		if drugs[i] != want[i] {
			t.Fatalf("drug %d: expected %+v, got %+v", i, want[i], drugs[i])
		}
	}

	pharmacy, err := h.stock.GetPharmacyByID(ctx, "ph-empty")
	if err != nil || pharmacy.Stock == nil {
		t.Fatalf("expected pharmacy with empty stock slice, got %+v (%v)", pharmacy, err)
	}
	if _, err := h.stock.GetPharmacyByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
