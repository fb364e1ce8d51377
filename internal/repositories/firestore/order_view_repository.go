package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/alegny-health/api/internal/domain"
	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/repositories"
)

// OrderViewRepository keeps projected orders under patients/{id}/orderViews and
// pharmacies/{id}/orderViews.
type OrderViewRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderViewDocument]
}

var _ repositories.OrderViewRepository = (*OrderViewRepository)(nil)

func NewOrderViewRepository(provider *pfirestore.Provider) (*OrderViewRepository, error) {
	if provider == nil {
		return nil, errors.New("order view repository requires firestore provider")
	}
	return &OrderViewRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderViewDocument](provider, ordersCollection, nil, nil),
	}, nil
}

func viewCollection(owner domain.ViewOwner) (string, error) {
	id := strings.TrimSpace(owner.ID)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("order views: invalid owner id %q", owner.ID)
	}
	switch owner.Kind {
	case domain.ViewOwnerPatient:
		return patientsCollection + "/" + id + "/" + orderViewsCollection, nil
	case domain.ViewOwnerPharmacy:
		return pharmaciesCollection + "/" + id + "/" + orderViewsCollection, nil
	default:
		return "", fmt.Errorf("order views: unknown owner kind %q", owner.Kind)
	}
}

func (r *OrderViewRepository) scoped(owner domain.ViewOwner) (*pfirestore.BaseRepository[orderViewDocument], error) {
	path, err := viewCollection(owner)
	if err != nil {
		return nil, err
	}
	return r.base.In(path), nil
}

// Upsert skips the write when the stored snapshot is newer than the incoming one.
func (r *OrderViewRepository) Upsert(ctx context.Context, view domain.OrderView) (bool, error) {
	repo, err := r.scoped(view.Owner)
	if err != nil {
		return false, err
	}
	incoming := newOrderViewDocument(view)

	applied := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		applied = false
		existing, err := repo.Get(ctx, view.Order.ID)
		switch {
		case err == nil:
			if existing.Data.Version > incoming.Version {
				return nil
			}
		case !isNotFound(err):
			return err
		}
		if err := repo.Set(ctx, view.Order.ID, incoming); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *OrderViewRepository) Delete(ctx context.Context, owner domain.ViewOwner, orderID string) error {
	repo, err := r.scoped(owner)
	if err != nil {
		return err
	}
	return repo.Delete(ctx, orderID)
}

// List returns the owner's snapshots oldest first.
func (r *OrderViewRepository) List(ctx context.Context, owner domain.ViewOwner) ([]domain.OrderView, error) {
	repo, err := r.scoped(owner)
	if err != nil {
		return nil, err
	}
	docs, err := repo.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	views := make([]domain.OrderView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, domain.OrderView{
			Owner:       owner,
			Order:       doc.Data.Order.toDomain(doc.ID),
			ProjectedAt: doc.Data.ProjectedAt,
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Order.CreatedAt.Equal(views[j].Order.CreatedAt) {
			return views[i].Order.ID < views[j].Order.ID
		}
		return views[i].Order.CreatedAt.Before(views[j].Order.CreatedAt)
	})
	return views, nil
}

// Replace writes every view and deletes snapshots the set does not contain. The writes are
// not atomic; a failure leaves a partial view that the next reconcile repairs.
func (r *OrderViewRepository) Replace(ctx context.Context, owner domain.ViewOwner, views []domain.OrderView) (int, error) {
	repo, err := r.scoped(owner)
	if err != nil {
		return 0, err
	}
	coll, err := repo.CollectionRef(ctx)
	if err != nil {
		return 0, err
	}
	existing, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Select()
	})
	if err != nil {
		return 0, err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	keep := make(map[string]struct{}, len(views))
	writer := client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, view := range views {
		view.Owner = owner
		keep[view.Order.ID] = struct{}{}
		job, err := writer.Set(coll.Doc(view.Order.ID), newOrderViewDocument(view))
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("order_views.replace", err)
		}
		jobs = append(jobs, job)
	}
	var deletes []*firestore.BulkWriterJob
	for _, doc := range existing {
		if _, ok := keep[doc.ID]; ok {
			continue
		}
		job, err := writer.Delete(coll.Doc(doc.ID))
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("order_views.replace", err)
		}
		deletes = append(deletes, job)
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return 0, pfirestore.WrapError("order_views.replace", err)
		}
	}
	removed := 0
	for _, job := range deletes {
		if _, err := job.Results(); err != nil {
			return removed, pfirestore.WrapError("order_views.replace", err)
		}
		removed++
	}
	return removed, nil
}

func newOrderViewDocument(view domain.OrderView) orderViewDocument {
	projected := view.ProjectedAt
	if projected.IsZero() {
		projected = time.Now()
	}
	return orderViewDocument{
		Order:       newOrderDocument(view.Order),
		Version:     view.Order.Version,
		ProjectedAt: projected.UTC(),
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
