package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/alegny-health/api/internal/domain"
	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/platform/textutil"
	"github.com/alegny-health/api/internal/repositories"
)

// DrugRepository keys catalog documents by the normalised drug name, so a name lookup is one
// Get and uniqueness is enforced by Create.
type DrugRepository struct {
	base *pfirestore.BaseRepository[drugDocument]
}

var _ repositories.DrugCatalogRepository = (*DrugRepository)(nil)

func NewDrugRepository(provider *pfirestore.Provider) (*DrugRepository, error) {
	if provider == nil {
		return nil, errors.New("drug repository requires firestore provider")
	}
	return &DrugRepository{
		base: pfirestore.NewBaseRepository[drugDocument](provider, drugsCollection, nil, nil),
	}, nil
}

// DrugKey is the catalog document id for name.
func DrugKey(name string) string {
	return textutil.NormalizeKey(name)
}

func (r *DrugRepository) FindByName(ctx context.Context, name string) (domain.Drug, error) {
	key := DrugKey(name)
	if key == "" {
		return domain.Drug{}, pfirestore.NotFoundError("drugs.find", "drug")
	}
	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Drug{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Insert creates the catalog entry and returns a conflict when the name is taken.
func (r *DrugRepository) Insert(ctx context.Context, drug domain.Drug) error {
	key := DrugKey(drug.Name)
	if key == "" {
		return fmt.Errorf("drugs.insert: name %q has no usable key", drug.Name)
	}
	return r.base.Create(ctx, key, newDrugDocument(drug))
}

func (r *DrugRepository) Replace(ctx context.Context, drug domain.Drug) error {
	key := DrugKey(drug.Name)
	if key == "" {
		return fmt.Errorf("drugs.replace: name %q has no usable key", drug.Name)
	}
	return r.base.Set(ctx, key, newDrugDocument(drug))
}

// List returns the whole catalog ordered by name.
func (r *DrugRepository) List(ctx context.Context) ([]domain.Drug, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	drugs := make([]domain.Drug, 0, len(docs))
	for _, doc := range docs {
		drugs = append(drugs, doc.Data.toDomain(doc.ID))
	}
	sort.SliceStable(drugs, func(i, j int) bool { return drugs[i].Name < drugs[j].Name })
	return drugs, nil
}
