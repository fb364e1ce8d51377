package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/alegny-health/api/internal/domain"
	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/repositories"
)

// PharmacyRepository stores the pharmacy profile with its stock entries embedded, so a stock
// update rewrites one document.
type PharmacyRepository struct {
	base *pfirestore.BaseRepository[pharmacyDocument]
}

var _ repositories.PharmacyRepository = (*PharmacyRepository)(nil)

func NewPharmacyRepository(provider *pfirestore.Provider) (*PharmacyRepository, error) {
	if provider == nil {
		return nil, errors.New("pharmacy repository requires firestore provider")
	}
	return &PharmacyRepository{
		base: pfirestore.NewBaseRepository[pharmacyDocument](provider, pharmaciesCollection, nil, nil),
	}, nil
}

func (r *PharmacyRepository) FindByID(ctx context.Context, pharmacyID string) (domain.Pharmacy, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(pharmacyID))
	if err != nil {
		return domain.Pharmacy{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Replace overwrites the pharmacy document, stock included.
func (r *PharmacyRepository) Replace(ctx context.Context, pharmacy domain.Pharmacy) error {
	return r.base.Set(ctx, pharmacy.ID, newPharmacyDocument(pharmacy))
}
