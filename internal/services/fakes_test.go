package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/platform/pagination"
	"github.com/alegny-health/api/internal/platform/textutil"
	"github.com/alegny-health/api/internal/repositories"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func repoNotFound(what string) error {
	return stubRepoError{msg: what + " not found", notFound: true}
}

// memoryStore backs every repository interface with maps so scenarios can check both sides of
// a stock change and the views after each call. writes counts committed mutations.
type memoryStore struct {
	mu         sync.Mutex
	patients   map[string]domain.Patient
	pharmacies map[string]domain.Pharmacy
	drugs      map[string]domain.Drug
	orders     map[string]domain.Order
	views      map[domain.ViewOwner]map[string]domain.OrderView
	writes     int

	updateStatusErr error
	upsertErr       error
	replaceErr      func(owner domain.ViewOwner) error
	adjustErr       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		patients:   map[string]domain.Patient{},
		pharmacies: map[string]domain.Pharmacy{},
		drugs:      map[string]domain.Drug{},
		orders:     map[string]domain.Order{},
		views:      map[domain.ViewOwner]map[string]domain.OrderView{},
	}
}

func (m *memoryStore) addPatient(id string) {
	m.patients[id] = domain.Patient{ID: id, Name: "Patient " + id}
}

func (m *memoryStore) addPharmacy(id, name string, stock ...domain.StockEntry) {
	m.pharmacies[id] = domain.Pharmacy{ID: id, Name: name, Stock: stock}
}

func (m *memoryStore) addDrug(name string, price float64, quantity int) {
	key := textutil.NormalizeKey(name)
	m.drugs[key] = domain.Drug{ID: key, Name: name, Price: price, Quantity: quantity}
}

func (m *memoryStore) drug(name string) domain.Drug {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drugs[textutil.NormalizeKey(name)]
}

func (m *memoryStore) pharmacy(id string) domain.Pharmacy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pharmacies[id]
}

func (m *memoryStore) order(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	return order, ok
}

func (m *memoryStore) view(owner domain.ViewOwner, orderID string) (domain.OrderView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	view, ok := m.views[owner][orderID]
	return view, ok
}

func (m *memoryStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memoryStore) Patients() repositories.PatientRepository     { return memPatients{m} }
func (m *memoryStore) Pharmacies() repositories.PharmacyRepository  { return memPharmacies{m} }
func (m *memoryStore) Drugs() repositories.DrugCatalogRepository    { return memDrugs{m} }
func (m *memoryStore) Orders() repositories.OrderLedgerRepository   { return memLedger{m} }
func (m *memoryStore) OrderViews() repositories.OrderViewRepository { return memViews{m} }
func (m *memoryStore) Stock() repositories.StockRepository          { return memStock{m} }

type memPatients struct{ *memoryStore }

func (r memPatients) FindByID(_ context.Context, id string) (domain.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	patient, ok := r.patients[id]
	if !ok {
		return domain.Patient{}, repoNotFound("patient")
	}
	return patient, nil
}

type memPharmacies struct{ *memoryStore }

func (r memPharmacies) FindByID(_ context.Context, id string) (domain.Pharmacy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pharmacy, ok := r.pharmacies[id]
	if !ok {
		return domain.Pharmacy{}, repoNotFound("pharmacy")
	}
	pharmacy.Stock = append([]domain.StockEntry(nil), pharmacy.Stock...)
	return pharmacy, nil
}

func (r memPharmacies) Replace(_ context.Context, pharmacy domain.Pharmacy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pharmacies[pharmacy.ID] = pharmacy
	r.writes++
	return nil
}

type memDrugs struct{ *memoryStore }

func (r memDrugs) FindByName(_ context.Context, name string) (domain.Drug, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drug, ok := r.drugs[textutil.NormalizeKey(name)]
	if !ok {
		return domain.Drug{}, repoNotFound("drug")
	}
	return drug, nil
}

func (r memDrugs) Insert(_ context.Context, drug domain.Drug) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := textutil.NormalizeKey(drug.Name)
	if _, ok := r.drugs[key]; ok {
		return stubRepoError{msg: "drug exists", conflict: true}
	}
	drug.ID = key
	r.drugs[key] = drug
	r.writes++
	return nil
}

func (r memDrugs) Replace(_ context.Context, drug domain.Drug) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := textutil.NormalizeKey(drug.Name)
	drug.ID = key
	r.drugs[key] = drug
	r.writes++
	return nil
}

func (r memDrugs) List(context.Context) ([]domain.Drug, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Drug, 0, len(r.drugs))
	for _, drug := range r.drugs {
		out = append(out, drug)
	}
	return out, nil
}

type memLedger struct{ *memoryStore }

func (r memLedger) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return stubRepoError{msg: "order exists", conflict: true}
	}
	r.orders[order.ID] = order
	r.writes++
	return nil
}

func (r memLedger) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, repoNotFound("order")
	}
	return order, nil
}

func (r memLedger) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return repoNotFound("order")
	}
	delete(r.orders, id)
	r.writes++
	return nil
}

func (r memLedger) ListByPatient(_ context.Context, id string) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.PatientID == id }), nil
}

func (r memLedger) ListByPharmacy(_ context.Context, id string) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.PharmacyID == id }), nil
}

func (r memLedger) filter(keep func(domain.Order) bool) []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if keep(order) {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r memLedger) List(_ context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	all := r.filter(func(o domain.Order) bool { return o.ID > cursor.After })
	page := domain.CursorPage[domain.Order]{Items: all[:min(size, len(all))]}
	if len(all) > size {
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{After: all[size-1].ID})
	}
	return page, nil
}

func (r memLedger) UpdateStatus(_ context.Context, change repositories.StatusChange) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateStatusErr != nil {
		return domain.Order{}, r.updateStatusErr
	}
	order, ok := r.orders[change.OrderID]
	if !ok {
		return domain.Order{}, repoNotFound("order")
	}
	if order.PatientID != change.PatientID || order.Status != change.From {
		return domain.Order{}, stubRepoError{msg: "status moved", conflict: true}
	}
	order.Status = change.To
	order.Version++
	order.UpdatedAt = change.At
	r.orders[order.ID] = order
	r.writes++
	return order, nil
}

type memViews struct{ *memoryStore }

func (r memViews) Upsert(_ context.Context, view domain.OrderView) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return false, r.upsertErr
	}
	owned := r.views[view.Owner]
	if owned == nil {
		owned = map[string]domain.OrderView{}
		r.views[view.Owner] = owned
	}
	if existing, ok := owned[view.Order.ID]; ok && existing.Order.Version > view.Order.Version {
		return false, nil
	}
	owned[view.Order.ID] = view
	return true, nil
}

func (r memViews) Delete(_ context.Context, owner domain.ViewOwner, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[owner][orderID]; !ok {
		return repoNotFound("order view")
	}
	delete(r.views[owner], orderID)
	return nil
}

func (r memViews) List(_ context.Context, owner domain.ViewOwner) ([]domain.OrderView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OrderView, 0, len(r.views[owner]))
	for _, view := range r.views[owner] {
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.ID < out[j].Order.ID })
	return out, nil
}

func (r memViews) Replace(_ context.Context, owner domain.ViewOwner, views []domain.OrderView) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		if err := r.replaceErr(owner); err != nil {
			return 0, err
		}
	}
	next := make(map[string]domain.OrderView, len(views))
	for _, view := range views {
		view.Owner = owner
		next[view.Order.ID] = view
	}
	removed := 0
	for id := range r.views[owner] {
		if _, ok := next[id]; !ok {
			removed++
		}
	}
	r.views[owner] = next
	return removed, nil
}

type memStock struct{ *memoryStore }

func (r memStock) Adjust(_ context.Context, adj repositories.StockAdjustment) (repositories.StockAdjustResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adjustErr != nil {
		return repositories.StockAdjustResult{}, r.adjustErr
	}
	key := textutil.NormalizeKey(adj.DrugName)
	drug, ok := r.drugs[key]
	if !ok {
		return repositories.StockAdjustResult{}, repositories.NewStockError("stock.adjust", repositories.StockErrorDrugNotFound, adj.DrugName)
	}
	pharmacy, ok := r.pharmacies[adj.PharmacyID]
	if !ok {
		return repositories.StockAdjustResult{}, repositories.NewStockError("stock.adjust", repositories.StockErrorPharmacyNotFound, adj.PharmacyID)
	}
	pharmacy.Stock = append([]domain.StockEntry(nil), pharmacy.Stock...)
	idx := -1
	for i, entry := range pharmacy.Stock {
		if entry.DrugID == key || textutil.NormalizeKey(entry.Name) == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		pharmacy.Stock = append(pharmacy.Stock, domain.StockEntry{DrugID: key, Name: drug.Name, Price: drug.Price})
		idx = len(pharmacy.Stock) - 1
	}
	drug.Quantity += adj.Delta
	drug.UpdatedAt = adj.At
	pharmacy.Stock[idx].Quantity += adj.Delta
	r.drugs[key] = drug
	r.pharmacies[pharmacy.ID] = pharmacy
	r.writes += 2
	return repositories.StockAdjustResult{Drug: drug, Entry: pharmacy.Stock[idx]}, nil
}

func (r memStock) AddDrug(_ context.Context, req repositories.AddDrugRequest) (domain.Drug, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pharmacy, ok := r.pharmacies[req.PharmacyID]
	if !ok {
		return domain.Drug{}, repositories.NewStockError("stock.add_drug", repositories.StockErrorPharmacyNotFound, req.PharmacyID)
	}
	key := textutil.NormalizeKey(req.Drug.Name)
	drug, ok := r.drugs[key]
	if !ok {
		drug = req.Drug
		drug.ID = key
		drug.CreatedAt = req.At
		drug.UpdatedAt = req.At
		r.drugs[key] = drug
		r.writes++
	}
	pharmacy.Stock = append(pharmacy.Stock, domain.StockEntry{
		DrugID:   key,
		Name:     req.Drug.Name,
		Price:    req.Drug.Price,
		Quantity: req.Drug.Quantity,
	})
	r.pharmacies[pharmacy.ID] = pharmacy
	r.writes++
	return drug, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []OrderEvent
	stock  []StockEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, event)
	return p.err
}

func (p *recordingPublisher) PublishStockEvent(_ context.Context, event StockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock = append(p.stock, event)
	return p.err
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type stubBillIssuer struct {
	issueFn func(context.Context, Order) (PharmacyBill, error)
	issued  []Order
}

func (s *stubBillIssuer) Issue(ctx context.Context, order Order) (PharmacyBill, error) {
	s.issued = append(s.issued, order)
	if s.issueFn != nil {
		return s.issueFn(ctx, order)
	}
	return PharmacyBill{ID: "bill_" + order.ID, OrderID: order.ID}, nil
}

type stubUnitOfWork struct {
	calls int
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.calls++
	return fn(ctx)
}

var fixedNow = time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// sequentialIDs returns ids 01, 02, ... so order ids sort in creation order.
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "TEST" + string(rune('0'+n/10)) + string(rune('0'+n%10))
	}
}

type harness struct {
	store  *memoryStore
	orders OrderService
	stock  StockService
	views  ViewService
	bills  *stubBillIssuer
	events *recordingPublisher
	logs   *recordingLogger
	uow    *stubUnitOfWork
}

func newHarness(t *testing.T, store *memoryStore) *harness {
	t.Helper()
	h := &harness{
		store:  store,
		bills:  &stubBillIssuer{},
		events: &recordingPublisher{},
		logs:   &recordingLogger{},
		uow:    &stubUnitOfWork{},
	}
	stock, err := NewStockService(StockServiceDeps{
		Pharmacies: store.Pharmacies(),
		Drugs:      store.Drugs(),
		Stock:      store.Stock(),
		Clock:      fixedClock,
		Events:     h.events,
		Logger:     h.logs.log,
	})
	if err != nil {
		t.Fatalf("NewStockService: %v", err)
	}
	views, err := NewViewService(ViewServiceDeps{
		Orders: store.Orders(),
		Views:  store.OrderViews(),
		Clock:  fixedClock,
		Logger: h.logs.log,
	})
	if err != nil {
		t.Fatalf("NewViewService: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Patients:    store.Patients(),
		Pharmacies:  store.Pharmacies(),
		Drugs:       store.Drugs(),
		Orders:      store.Orders(),
		Stock:       stock,
		Views:       views,
		Bills:       h.bills,
		UnitOfWork:  h.uow,
		Clock:       fixedClock,
		IDGenerator: sequentialIDs(),
		Events:      h.events,
		Logger:      h.logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	h.stock, h.views, h.orders = stock, views, orders
	return h
}

func patientOwner(id string) domain.ViewOwner {
	return domain.ViewOwner{Kind: domain.ViewOwnerPatient, ID: id}
}

func pharmacyOwner(id string) domain.ViewOwner {
	return domain.ViewOwner{Kind: domain.ViewOwnerPharmacy, ID: id}
}

func validAddress() Address {
	return Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701"}
}
