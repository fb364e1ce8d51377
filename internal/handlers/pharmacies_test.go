package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/services"
)

func newPharmacyRouter(h *PharmacyHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/pharmacies", h.Routes)
	return router
}

func TestPharmacyHandlersGetPharmacy(t *testing.T) {
	stock := &stubStockService{
		pharmacyFn: func(_ context.Context, id string) (services.Pharmacy, error) {
			if id != "ph1" {
				return services.Pharmacy{}, serviceError(services.ErrorKindNotFound, "pharmacy not found")
			}
			return services.Pharmacy{
				ID:    "ph1",
				Name:  "Corner Pharmacy",
				Stock: []services.StockEntry{{DrugID: "aspirin", Name: "Aspirin", Price: 10, Quantity: 47}},
			}, nil
		},
	}
	router := newPharmacyRouter(NewPharmacyHandlers(nil, stock, nil, nil))

	req := asIdentity(httptest.NewRequest(http.MethodGet, "/pharmacies/ph1", nil), "p1", auth.RolePatient)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var pharmacy pharmacyPayload
	if err := json.Unmarshal(decodeEnvelope(t, rr).Data, &pharmacy); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pharmacy.Name != "Corner Pharmacy" || len(pharmacy.Stock) != 1 || pharmacy.Stock[0].Quantity != 47 {
		t.Fatalf("unexpected pharmacy %+v", pharmacy)
	}

	req = asIdentity(httptest.NewRequest(http.MethodGet, "/pharmacies/ghost", nil), "p1", auth.RolePatient)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pharmacies/ph1", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}

func TestPharmacyHandlersOrdersRequireOwnership(t *testing.T) {
	orders := &stubOrderService{
		pharmacyFn: func(context.Context, string) ([]services.Order, error) {
			return []services.Order{{ID: "ord_1"}, {ID: "ord_2"}}, nil
		},
	}
	views := &stubViewService{
		pharmacyFn: func(context.Context, string) ([]services.OrderView, error) {
			return []services.OrderView{}, nil
		},
	}
	router := newPharmacyRouter(NewPharmacyHandlers(nil, nil, orders, views))

	cases := []struct {
		path   string
		uid    string
		role   string
		status int
	}{
		{path: "/pharmacies/ph1/orders", uid: "ph1", role: auth.RolePharmacy, status: http.StatusOK},
		{path: "/pharmacies/ph1/orders", uid: "ph2", role: auth.RolePharmacy, status: http.StatusForbidden},
		{path: "/pharmacies/ph1/orders", uid: "ph1", role: auth.RolePatient, status: http.StatusForbidden},
		{path: "/pharmacies/ph1/orders", uid: "ops", role: auth.RoleAdmin, status: http.StatusOK},
		{path: "/pharmacies/ph1/order-view", uid: "ph1", role: auth.RolePharmacy, status: http.StatusOK},
		{path: "/pharmacies/ph1/order-view", uid: "ph2", role: auth.RolePharmacy, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		req := asIdentity(httptest.NewRequest(http.MethodGet, tc.path, nil), tc.uid, tc.role)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s as %s/%s: expected %d, got %d", tc.path, tc.role, tc.uid, tc.status, rr.Code)
		}
	}
}

func TestPharmacyHandlersAddDrug(t *testing.T) {
	var captured services.AddDrugCommand
	stock := &stubStockService{
		addDrugFn: func(_ context.Context, cmd services.AddDrugCommand) (services.Drug, error) {
			captured = cmd
			drug := cmd.Drug
			drug.ID = "paracetamol"
			return drug, nil
		},
	}
	router := newPharmacyRouter(NewPharmacyHandlers(nil, stock, nil, nil))

	body := `{"name":"Paracetamol","price":3,"quantity":12,"expiryDate":"2027-01-01"}`
	req := asIdentity(httptest.NewRequest(http.MethodPost, "/pharmacies/ph1/drugs", strings.NewReader(body)), "ph1", auth.RolePharmacy)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PharmacyID != "ph1" || captured.Drug.Name != "Paracetamol" || captured.Drug.Quantity != 12 {
		t.Fatalf("unexpected command %+v", captured)
	}
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if captured.Drug.ExpiryDate == nil || !captured.Drug.ExpiryDate.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, captured.Drug.ExpiryDate)
	}
	var drug drugPayload
	if err := json.Unmarshal(decodeEnvelope(t, rr).Data, &drug); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if drug.ID != "paracetamol" || drug.ExpiryDate != "2027-01-01T00:00:00Z" {
		t.Fatalf("unexpected drug payload %+v", drug)
	}

	req = asIdentity(httptest.NewRequest(http.MethodPost, "/pharmacies/ph1/drugs", strings.NewReader(`{"name":"X","expiryDate":"soon"}`)), "ph1", auth.RolePharmacy)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad expiry, got %d", rr.Code)
	}
}

func TestPharmacyHandlersUpdateQuantity(t *testing.T) {
	var captured services.UpdateDrugQuantityCommand
	stock := &stubStockService{
		updateFn: func(_ context.Context, cmd services.UpdateDrugQuantityCommand) (services.Drug, error) {
			captured = cmd
			if cmd.DrugName == "Unobtainium" {
				return services.Drug{}, serviceError(services.ErrorKindNotFound, "drug not found")
			}
			return services.Drug{ID: "vitamin c", Name: cmd.DrugName, Quantity: 55}, nil
		},
	}
	router := newPharmacyRouter(NewPharmacyHandlers(nil, stock, nil, nil))
	send := func(path, body string) *httptest.ResponseRecorder {
		req := asIdentity(httptest.NewRequest(http.MethodPatch, path, strings.NewReader(body)), "ph1", auth.RolePharmacy)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := send("/pharmacies/ph1/drugs/Vitamin%20C/quantity", `{"delta":5,"increase":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.DrugName != "Vitamin C" || captured.Delta != 5 || !captured.Increase {
		t.Fatalf("unexpected command %+v", captured)
	}

	if rr := send("/pharmacies/ph1/drugs/Aspirin/quantity", `{"increase":true}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without delta, got %d", rr.Code)
	}
	if rr := send("/pharmacies/ph1/drugs/Aspirin/quantity", `{"delta":"five"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric delta, got %d", rr.Code)
	}
	rr = send("/pharmacies/ph1/drugs/Unobtainium/quantity", `{"delta":1}`)
	if rr.Code != http.StatusNotFound || decodeEnvelope(t, rr).Message != "drug not found" {
		t.Fatalf("expected drug not found, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := send("/pharmacies/ph2/drugs/Aspirin/quantity", `{"delta":1}`); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another pharmacy, got %d", rr.Code)
	}
}
