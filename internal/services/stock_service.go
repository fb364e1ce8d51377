package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/alegny-health/api/internal/platform/textutil"
	"github.com/alegny-health/api/internal/repositories"
)

// StockServiceDeps bundles collaborators required to construct the stock service.
type StockServiceDeps struct {
	Pharmacies repositories.PharmacyRepository
	Drugs      repositories.DrugCatalogRepository
	Stock      repositories.StockRepository
	Clock      func() time.Time
	Events     EventPublisher
	Logger     Logger
}

type stockService struct {
	pharmacies repositories.PharmacyRepository
	drugs      repositories.DrugCatalogRepository
	stock      repositories.StockRepository
	clock      func() time.Time
	events     EventPublisher
	logger     Logger
}

var _ StockService = (*stockService)(nil)

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Pharmacies == nil {
		return nil, errors.New("stock service: pharmacy repository is required")
	}
	if deps.Drugs == nil {
		return nil, errors.New("stock service: drug catalog repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("stock service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &stockService{
		pharmacies: deps.Pharmacies,
		drugs:      deps.Drugs,
		stock:      deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// AddDrug records the drug in the catalog if its name is new and always appends it to the
// pharmacy's stock, duplicates included.
func (s *stockService) AddDrug(ctx context.Context, cmd AddDrugCommand) (Drug, error) {
	pharmacyID := strings.TrimSpace(cmd.PharmacyID)
	if pharmacyID == "" {
		return Drug{}, invalidInput("pharmacy id is required")
	}
	drug, err := normalizeDrug(cmd.Drug)
	if err != nil {
		return Drug{}, err
	}

	catalog, err := s.stock.AddDrug(ctx, repositories.AddDrugRequest{
		PharmacyID: pharmacyID,
		Drug:       drug,
		At:         s.clock(),
	})
	if err != nil {
		return Drug{}, mapStockError(err)
	}
	s.logger(ctx, "stock.drug.added", map[string]any{
		"pharmacy": pharmacyID,
		"drug":     catalog.ID,
		"quantity": drug.Quantity,
	})
	return catalog, nil
}

func (s *stockService) UpdateDrugQuantity(ctx context.Context, cmd UpdateDrugQuantityCommand) (Drug, error) {
	if cmd.Delta < 0 {
		return Drug{}, invalidInput("delta must not be negative")
	}
	delta := cmd.Delta
	if !cmd.Increase {
		delta = -delta
	}
	level, err := s.AdjustStock(ctx, AdjustStockCommand{
		PharmacyID: cmd.PharmacyID,
		DrugName:   cmd.DrugName,
		Delta:      delta,
	})
	if err != nil {
		return Drug{}, err
	}
	return level.Drug, nil
}

// AdjustStock applies delta to the catalog drug and the pharmacy entry in one transaction.
// Quantities have no lower bound.
func (s *stockService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (StockLevel, error) {
	pharmacyID := strings.TrimSpace(cmd.PharmacyID)
	if pharmacyID == "" {
		return StockLevel{}, invalidInput("pharmacy id is required")
	}
	name := strings.TrimSpace(cmd.DrugName)
	if name == "" {
		return StockLevel{}, invalidInput("drug name is required")
	}

	now := s.clock()
	result, err := s.stock.Adjust(ctx, repositories.StockAdjustment{
		PharmacyID: pharmacyID,
		DrugName:   name,
		Delta:      cmd.Delta,
		At:         now,
	})
	if err != nil {
		return StockLevel{}, mapStockError(err)
	}

	level := StockLevel{Drug: result.Drug, Entry: result.Entry}
	s.publishEvent(ctx, StockEvent{
		Type:            StockEventAdjusted,
		PharmacyID:      pharmacyID,
		DrugID:          level.Drug.ID,
		DrugName:        level.Drug.Name,
		Delta:           cmd.Delta,
		CatalogQuantity: level.Drug.Quantity,
		StockQuantity:   level.Entry.Quantity,
		OrderID:         cmd.OrderID,
		OccurredAt:      now,
	})
	return level, nil
}

func (s *stockService) GetPharmacyByID(ctx context.Context, pharmacyID string) (Pharmacy, error) {
	pharmacyID = strings.TrimSpace(pharmacyID)
	if pharmacyID == "" {
		return Pharmacy{}, invalidInput("pharmacy id is required")
	}
	pharmacy, err := s.pharmacies.FindByID(ctx, pharmacyID)
	if err != nil {
		return Pharmacy{}, mapRepositoryError(err, "pharmacy")
	}
	if pharmacy.Stock == nil {
		pharmacy.Stock = []StockEntry{}
	}
	return pharmacy, nil
}

// GetAllDrugs summarises the catalog by name.
func (s *stockService) GetAllDrugs(ctx context.Context) ([]DrugQuantity, error) {
	drugs, err := s.drugs.List(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, "drugs")
	}
	out := make([]DrugQuantity, 0, len(drugs))
	for _, drug := range drugs {
		out = append(out, DrugQuantity{Name: drug.Name, Quantity: drug.Quantity})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *stockService) publishEvent(ctx context.Context, event StockEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock.event.publish.failed", map[string]any{
			"type":     event.Type,
			"pharmacy": event.PharmacyID,
			"drug":     event.DrugID,
			"error":    err.Error(),
		})
	}
}

func normalizeDrug(drug Drug) (Drug, error) {
	drug.Name = textutil.SanitizeText(drug.Name)
	if drug.Name == "" {
		return Drug{}, invalidInput("drug name is required")
	}
	if drug.Price < 0 {
		return Drug{}, invalidInput("price must not be negative")
	}
	if drug.Quantity < 0 {
		return Drug{}, invalidInput("quantity must not be negative")
	}
	drug.ID = ""
	drug.Description = textutil.SanitizeText(drug.Description)
	drug.Category = textutil.SanitizeText(drug.Category)
	drug.Manufacturer = textutil.SanitizeText(drug.Manufacturer)
	drug.Type = textutil.SanitizeText(drug.Type)
	if drug.ExpiryDate != nil {
		expiry := drug.ExpiryDate.UTC()
		drug.ExpiryDate = &expiry
	}
	return drug, nil
}
