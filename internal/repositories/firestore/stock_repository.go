package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/alegny-health/api/internal/domain"
	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/repositories"
)

// StockRepository changes the catalog and a pharmacy's embedded stock together. Both documents
// are read and written inside one transaction, so their quantity deltas always match.
type StockRepository struct {
	provider   *pfirestore.Provider
	drugs      *pfirestore.BaseRepository[drugDocument]
	pharmacies *pfirestore.BaseRepository[pharmacyDocument]
}

var _ repositories.StockRepository = (*StockRepository)(nil)

func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:   provider,
		drugs:      pfirestore.NewBaseRepository[drugDocument](provider, drugsCollection, nil, nil),
		pharmacies: pfirestore.NewBaseRepository[pharmacyDocument](provider, pharmaciesCollection, nil, nil),
	}, nil
}

// Adjust applies the delta to both sides with no lower bound.
func (r *StockRepository) Adjust(ctx context.Context, adj repositories.StockAdjustment) (repositories.StockAdjustResult, error) {
	const op = "stock.adjust"
	key := DrugKey(adj.DrugName)
	if key == "" {
		return repositories.StockAdjustResult{}, repositories.NewStockError(op, repositories.StockErrorDrugNotFound, adj.DrugName)
	}
	now := adj.At.UTC()

	var result repositories.StockAdjustResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		drugDoc, err := r.drugs.Get(ctx, key)
		if isNotFound(err) {
			return repositories.NewStockError(op, repositories.StockErrorDrugNotFound, adj.DrugName)
		}
		if err != nil {
			return err
		}
		pharmacyDoc, err := r.pharmacies.Get(ctx, strings.TrimSpace(adj.PharmacyID))
		if isNotFound(err) {
			return repositories.NewStockError(op, repositories.StockErrorPharmacyNotFound, adj.PharmacyID)
		}
		if err != nil {
			return err
		}

		drug := drugDoc.Data
		drug.Quantity += adj.Delta
		drug.UpdatedAt = now

		pharmacy := pharmacyDoc.Data
		idx := findStockEntry(pharmacy.Stock, key)
		if idx < 0 {
			pharmacy.Stock = append(pharmacy.Stock, stockEntryDocument{
				DrugID: key,
				Name:   drug.Name,
				Price:  drug.Price,
			})
			idx = len(pharmacy.Stock) - 1
		}
		pharmacy.Stock[idx].Quantity += adj.Delta
		pharmacy.UpdatedAt = now

		if err := r.drugs.Set(ctx, key, drug); err != nil {
			return err
		}
		if err := r.pharmacies.Set(ctx, pharmacyDoc.ID, pharmacy); err != nil {
			return err
		}
		entry := pharmacy.Stock[idx]
		result = repositories.StockAdjustResult{
			Drug: drug.toDomain(key),
			Entry: domain.StockEntry{
				DrugID:   entry.DrugID,
				Name:     entry.Name,
				Price:    entry.Price,
				Quantity: entry.Quantity,
			},
		}
		return nil
	})
	if err != nil {
		return repositories.StockAdjustResult{}, err
	}
	return result, nil
}

// AddDrug resolves the pharmacy before anything is written, so a missing pharmacy leaves no
// orphan catalog entry. An existing catalog drug is kept as is.
func (r *StockRepository) AddDrug(ctx context.Context, req repositories.AddDrugRequest) (domain.Drug, error) {
	const op = "stock.add_drug"
	key := DrugKey(req.Drug.Name)
	if key == "" {
		return domain.Drug{}, repositories.NewStockError(op, repositories.StockErrorDrugNotFound, req.Drug.Name)
	}
	now := req.At.UTC()

	var catalog domain.Drug
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		pharmacyDoc, err := r.pharmacies.Get(ctx, strings.TrimSpace(req.PharmacyID))
		if isNotFound(err) {
			return repositories.NewStockError(op, repositories.StockErrorPharmacyNotFound, req.PharmacyID)
		}
		if err != nil {
			return err
		}
		existing, err := r.drugs.Get(ctx, key)
		insert := isNotFound(err)
		if err != nil && !insert {
			return err
		}

		var drug drugDocument
		if insert {
			drug = newDrugDocument(req.Drug)
			drug.CreatedAt = now
			drug.UpdatedAt = now
			if err := r.drugs.Create(ctx, key, drug); err != nil {
				return err
			}
		} else {
			drug = existing.Data
		}

		pharmacy := pharmacyDoc.Data
		pharmacy.Stock = append(pharmacy.Stock, stockEntryDocument{
			DrugID:   key,
			Name:     req.Drug.Name,
			Price:    req.Drug.Price,
			Quantity: req.Drug.Quantity,
		})
		pharmacy.UpdatedAt = now
		if err := r.pharmacies.Set(ctx, pharmacyDoc.ID, pharmacy); err != nil {
			return err
		}
		catalog = drug.toDomain(key)
		return nil
	})
	if err != nil {
		return domain.Drug{}, err
	}
	return catalog, nil
}

// findStockEntry returns the first entry whose drug id or normalised name matches key.
func findStockEntry(stock []stockEntryDocument, key string) int {
	for i, entry := range stock {
		if entry.DrugID == key || DrugKey(entry.Name) == key {
			return i
		}
	}
	return -1
}
