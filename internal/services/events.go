package services

import (
	"context"
	"time"

	domain "github.com/alegny-health/api/internal/domain"
)

// Order lifecycle event types.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventCancelled     = "order.cancelled"
	StockEventAdjusted      = "stock.adjusted"
)

// OrderEvent is published after a Ledger write. Consumers treat it as a hint and re-read the
// Ledger, so it carries identifiers and the version rather than the full order.
type OrderEvent struct {
	Type           string             `json:"type"`
	OrderID        string             `json:"orderId"`
	PatientID      string             `json:"patientId"`
	PharmacyID     string             `json:"pharmacyId"`
	PreviousStatus domain.OrderStatus `json:"previousStatus,omitempty"`
	Status         domain.OrderStatus `json:"status,omitempty"`
	Version        int                `json:"version"`
	OccurredAt     time.Time          `json:"occurredAt"`
}

// StockEvent is published after AdjustStock commits.
type StockEvent struct {
	Type            string    `json:"type"`
	PharmacyID      string    `json:"pharmacyId"`
	DrugID          string    `json:"drugId"`
	DrugName        string    `json:"drugName"`
	Delta           int       `json:"delta"`
	CatalogQuantity int       `json:"catalogQuantity"`
	StockQuantity   int       `json:"stockQuantity"`
	OrderID         string    `json:"orderId,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// EventPublisher delivers domain events to the event bus.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// Logger receives structured service events. cmd/api adapts it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}
