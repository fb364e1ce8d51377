//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/alegny-health/api/internal/domain"
	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/platform/firestore/firestoretest"
	"github.com/alegny-health/api/internal/repositories"
)

func TestRegistryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := pfirestore.NewProvider(firestoretest.Start(t))
	registry, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	seed := pfirestore.NewBaseRepository[patientDocument](provider, patientsCollection, nil, nil)
	if err := seed.Set(ctx, "p1", patientDocument{Name: "Ada", UserName: "ada", CreatedAt: now}); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	if err := registry.Pharmacies().Replace(ctx, domain.Pharmacy{ID: "ph1", Name: "Corner Pharmacy", CreatedAt: now}); err != nil {
		t.Fatalf("seed pharmacy: %v", err)
	}

	t.Run("patient lookup", func(t *testing.T) {
		patient, err := registry.Patients().FindByID(ctx, "p1")
		if err != nil || patient.Name != "Ada" {
			t.Fatalf("unexpected patient %+v (%v)", patient, err)
		}
		if _, err := registry.Patients().FindByID(ctx, "nobody"); !isNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("add drug and adjust stock", func(t *testing.T) {
		drug, err := registry.Stock().AddDrug(ctx, repositories.AddDrugRequest{
			PharmacyID: "ph1",
			Drug:       domain.Drug{Name: "Aspirin", Price: 2.5, Quantity: 10},
			At:         now,
		})
		if err != nil {
			t.Fatalf("add drug: %v", err)
		}
		if drug.ID != "aspirin" || drug.Quantity != 10 {
			t.Fatalf("unexpected catalog drug %+v", drug)
		}
		if _, err := registry.Stock().AddDrug(ctx, repositories.AddDrugRequest{
			PharmacyID: "missing",
			Drug:       domain.Drug{Name: "Ibuprofen", Price: 1},
			At:         now,
		}); !isNotFound(err) {
			t.Fatalf("expected missing pharmacy, got %v", err)
		}
		if _, err := registry.Drugs().FindByName(ctx, "Ibuprofen"); !isNotFound(err) {
			t.Fatalf("expected no orphan catalog entry, got %v", err)
		}

		for _, delta := range []int{5, -5, -2} {
			if _, err := registry.Stock().Adjust(ctx, repositories.StockAdjustment{PharmacyID: "ph1", DrugName: "ASPIRIN", Delta: delta, At: now}); err != nil {
				t.Fatalf("adjust %d: %v", delta, err)
			}
		}
		catalog, err := registry.Drugs().FindByName(ctx, " aspirin ")
		if err != nil || catalog.Quantity != 8 {
			t.Fatalf("expected catalog quantity 8, got %+v (%v)", catalog, err)
		}
		pharmacy, err := registry.Pharmacies().FindByID(ctx, "ph1")
		if err != nil || len(pharmacy.Stock) != 1 || pharmacy.Stock[0].Quantity != 8 {
			t.Fatalf("expected stock quantity 8, got %+v (%v)", pharmacy.Stock, err)
		}

		var stockErr *repositories.StockError
		_, err = registry.Stock().Adjust(ctx, repositories.StockAdjustment{PharmacyID: "ph1", DrugName: "Unknown", Delta: 1, At: now})
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorDrugNotFound {
			t.Fatalf("expected drug not found, got %v", err)
		}
	})

	t.Run("ledger compare and set", func(t *testing.T) {
		order := domain.Order{
			ID:         "ord_01",
			PatientID:  "p1",
			PharmacyID: "ph1",
			Lines:      []domain.OrderLine{{DrugName: "Aspirin", Quantity: 2}},
			TotalCost:  5,
			Status:     domain.OrderStatusPending,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := registry.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}

		change := repositories.StatusChange{OrderID: order.ID, PatientID: "p1", From: domain.OrderStatusPending, To: domain.OrderStatusAccept, At: now}
		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = registry.Orders().UpdateStatus(ctx, change)
			}(i)
		}
		wg.Wait()
		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			}
		}
		if wins != 1 {
			t.Fatalf("expected exactly one transition to commit, got %d (%v)", wins, errs)
		}
		stored, err := registry.Orders().FindByID(ctx, order.ID)
		if err != nil || stored.Status != domain.OrderStatusAccept || stored.Version != 2 {
			t.Fatalf("unexpected ledger entry %+v (%v)", stored, err)
		}
		if _, err := registry.Orders().UpdateStatus(ctx, repositories.StatusChange{OrderID: "nope", PatientID: "p1", From: domain.OrderStatusPending, To: domain.OrderStatusReject}); !isNotFound(err) {
			t.Fatalf("expected not found for missing order, got %v", err)
		}
	})

	t.Run("ledger pagination", func(t *testing.T) {
		for _, id := range []string{"ord_02", "ord_03", "ord_04"} {
			if err := registry.Orders().Insert(ctx, domain.Order{ID: id, PatientID: "p1", PharmacyID: "ph1", Status: domain.OrderStatusPending, Version: 1, CreatedAt: now}); err != nil {
				t.Fatalf("insert %s: %v", id, err)
			}
		}
		var seen []string
		token := ""
		for {
			page, err := registry.Orders().List(ctx, domain.Pagination{PageSize: 3, PageToken: token})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			for _, o := range page.Items {
				seen = append(seen, o.ID)
			}
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}
		if len(seen) != 4 || seen[0] != "ord_01" || seen[3] != "ord_04" {
			t.Fatalf("unexpected page walk %v", seen)
		}
		byPatient, err := registry.Orders().ListByPatient(ctx, "p1")
		if err != nil || len(byPatient) != 4 {
			t.Fatalf("expected four patient orders, got %d (%v)", len(byPatient), err)
		}
	})

	t.Run("views are version gated", func(t *testing.T) {
		owner := domain.ViewOwner{Kind: domain.ViewOwnerPatient, ID: "p1"}
		newer := domain.Order{ID: "ord_01", PatientID: "p1", PharmacyID: "ph1", Status: domain.OrderStatusAccept, Version: 2, CreatedAt: now}
		older := newer
		older.Status, older.Version = domain.OrderStatusPending, 1

		if applied, err := registry.OrderViews().Upsert(ctx, domain.OrderView{Owner: owner, Order: newer, ProjectedAt: now}); err != nil || !applied {
			t.Fatalf("expected newer view applied, got %v (%v)", applied, err)
		}
		if applied, err := registry.OrderViews().Upsert(ctx, domain.OrderView{Owner: owner, Order: older, ProjectedAt: now}); err != nil || applied {
			t.Fatalf("expected stale view skipped, got %v (%v)", applied, err)
		}
		if applied, _ := registry.OrderViews().Upsert(ctx, domain.OrderView{Owner: owner, Order: newer, ProjectedAt: now}); !applied {
			t.Fatalf("expected equal version to re-apply")
		}

		stale := domain.Order{ID: "ord_gone", PatientID: "p1", PharmacyID: "ph1", Version: 1, CreatedAt: now}
		if _, err := registry.OrderViews().Upsert(ctx, domain.OrderView{Owner: owner, Order: stale}); err != nil {
			t.Fatalf("seed stale view: %v", err)
		}
		removed, err := registry.OrderViews().Replace(ctx, owner, []domain.OrderView{{Order: newer, ProjectedAt: now}})
		if err != nil || removed != 1 {
			t.Fatalf("expected one stale view removed, got %d (%v)", removed, err)
		}
		views, err := registry.OrderViews().List(ctx, owner)
		if err != nil || len(views) != 1 || views[0].Order.Status != domain.OrderStatusAccept {
			t.Fatalf("unexpected view contents %+v (%v)", views, err)
		}
	})

	t.Run("unit of work", func(t *testing.T) {
		err := registry.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := registry.Orders().FindByID(ctx, "ord_02"); err != nil {
				return err
			}
			return registry.Orders().Delete(ctx, "ord_02")
		})
		if err != nil {
			t.Fatalf("run in tx: %v", err)
		}
		if _, err := registry.Orders().FindByID(ctx, "ord_02"); !isNotFound(err) {
			t.Fatalf("expected deleted order, got %v", err)
		}
	})
}
