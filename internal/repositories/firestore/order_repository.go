package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/alegny-health/api/internal/domain"
	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/platform/pagination"
	"github.com/alegny-health/api/internal/repositories"
)

// OrderRepository is the Ledger.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderLedgerRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert fails with a conflict if the id is already in the Ledger.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.base.Delete(ctx, orderID)
}

func (r *OrderRepository) ListByPatient(ctx context.Context, patientID string) ([]domain.Order, error) {
	return r.listWhere(ctx, "patientId", patientID)
}

func (r *OrderRepository) ListByPharmacy(ctx context.Context, pharmacyID string) ([]domain.Order, error) {
	return r.listWhere(ctx, "pharmacyId", pharmacyID)
}

// listWhere filters on one field and sorts in memory, so no composite index is needed.
func (r *OrderRepository) listWhere(ctx context.Context, field, value string) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// List pages through the whole Ledger ordered by document id. ULID ids make that creation order.
func (r *OrderRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if cursor.After != "" {
			q = q.StartAfter(cursor.After)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{After: docs[i-1].ID})
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

// UpdateStatus is a compare-and-set on status inside a transaction. Only one of two concurrent
// transitions out of Pending can commit.
func (r *OrderRepository) UpdateStatus(ctx context.Context, change repositories.StatusChange) (domain.Order, error) {
	const op = "orders.update_status"
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		doc, err := r.base.Get(ctx, change.OrderID)
		if err != nil {
			return err
		}
		current := doc.Data
		if current.PatientID != change.PatientID {
			return pfirestore.ConflictError(op, fmt.Sprintf("order %s belongs to another patient", doc.ID))
		}
		if domain.OrderStatus(current.Status) != change.From {
			return pfirestore.ConflictError(op, fmt.Sprintf("order %s is %s, expected %s", doc.ID, current.Status, change.From))
		}
		current.Status = string(change.To)
		current.Version++
		current.UpdatedAt = change.At.UTC()
		if err := r.base.Set(ctx, doc.ID, current); err != nil {
			return err
		}
		updated = current.toDomain(doc.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}
