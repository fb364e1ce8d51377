package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/alegny-health/api/internal/domain"
	pstorage "github.com/alegny-health/api/internal/platform/storage"
	"github.com/alegny-health/api/internal/repositories"
)

const billIDPrefix = "bill_"

// BillArchive stores rendered bills and signs download links for them.
type BillArchive interface {
	PutJSON(ctx context.Context, object string, value any, metadata map[string]string) error
	Exists(ctx context.Context, object string) (bool, error)
	SignedGetURL(ctx context.Context, object string) (pstorage.SignedURL, error)
}

// BillServiceDeps bundles collaborators required to construct the bill service.
type BillServiceDeps struct {
	Orders      repositories.OrderLedgerRepository
	Archive     BillArchive
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type billService struct {
	orders  repositories.OrderLedgerRepository
	archive BillArchive
	clock   func() time.Time
	newID   func() string
	logger  Logger
}

var _ BillService = (*billService)(nil)

// NewBillService wires dependencies into a concrete BillService implementation.
func NewBillService(deps BillServiceDeps) (BillService, error) {
	if deps.Orders == nil {
		return nil, errors.New("bill service: order ledger repository is required")
	}
	if deps.Archive == nil {
		return nil, errors.New("bill service: archive is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &billService{
		orders:  deps.Orders,
		archive: deps.Archive,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// billDocument is the archived JSON shape.
type billDocument struct {
	BillID       string         `json:"billId"`
	OrderID      string         `json:"orderId"`
	PatientID    string         `json:"patientId"`
	PharmacyID   string         `json:"pharmacyId"`
	PharmacyName string         `json:"pharmacyName"`
	Lines        []billLineItem `json:"lines"`
	TotalCost    int            `json:"totalCost"`
	IssuedAt     time.Time      `json:"issuedAt"`
}

type billLineItem struct {
	DrugName string `json:"drugName"`
	Category string `json:"category,omitempty"`
	Quantity int    `json:"quantity"`
}

// Issue renders the bill of an accepted order and overwrites its archive object.
func (s *billService) Issue(ctx context.Context, order Order) (PharmacyBill, error) {
	if order.Status != domain.OrderStatusAccept {
		return PharmacyBill{}, invalidInput("order %s is %s, bills are issued for accepted orders", order.ID, order.Status)
	}
	object, err := pstorage.BillPath(order.PharmacyID, order.ID)
	if err != nil {
		return PharmacyBill{}, invalidInput("%v", err)
	}

	bill := PharmacyBill{
		ID:           billIDPrefix + s.newID(),
		OrderID:      order.ID,
		PatientID:    order.PatientID,
		PharmacyID:   order.PharmacyID,
		PharmacyName: order.PharmacyName,
		Lines:        append([]OrderLine(nil), order.Lines...),
		TotalCost:    order.TotalCost,
		IssuedAt:     s.clock(),
	}
	metadata := map[string]string{
		"billId":     bill.ID,
		"orderId":    bill.OrderID,
		"pharmacyId": bill.PharmacyID,
	}
	if err := s.archive.PutJSON(ctx, object, newBillDocument(bill), metadata); err != nil {
		return PharmacyBill{}, unhandled("archive bill", err)
	}
	s.logger(ctx, "bill.issued", map[string]any{
		"bill":   bill.ID,
		"order":  bill.OrderID,
		"object": object,
	})
	return bill, nil
}

// BillURL signs a download link for the archived bill of an accepted order.
func (s *billService) BillURL(ctx context.Context, cmd BillURLCommand) (BillLink, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return BillLink{}, invalidInput("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return BillLink{}, mapRepositoryError(err, "order")
	}
	if pharmacyID := strings.TrimSpace(cmd.PharmacyID); pharmacyID != "" && order.PharmacyID != pharmacyID {
		return BillLink{}, notFound("order")
	}
	if order.Status != domain.OrderStatusAccept {
		return BillLink{}, notFound("bill")
	}

	object, err := pstorage.BillPath(order.PharmacyID, order.ID)
	if err != nil {
		return BillLink{}, unhandled("bill path", err)
	}
	exists, err := s.archive.Exists(ctx, object)
	if err != nil {
		return BillLink{}, unhandled("stat bill", err)
	}
	if !exists {
		return BillLink{}, notFound("bill")
	}
	signed, err := s.archive.SignedGetURL(ctx, object)
	if err != nil {
		return BillLink{}, unhandled("sign bill url", err)
	}
	return BillLink{
		OrderID:   order.ID,
		Object:    object,
		URL:       signed.URL,
		ExpiresAt: signed.ExpiresAt,
	}, nil
}

func newBillDocument(bill PharmacyBill) billDocument {
	lines := make([]billLineItem, 0, len(bill.Lines))
	for _, line := range bill.Lines {
		lines = append(lines, billLineItem{
			DrugName: line.DrugName,
			Category: line.Category,
			Quantity: line.Quantity,
		})
	}
	return billDocument{
		BillID:       bill.ID,
		OrderID:      bill.OrderID,
		PatientID:    bill.PatientID,
		PharmacyID:   bill.PharmacyID,
		PharmacyName: bill.PharmacyName,
		Lines:        lines,
		TotalCost:    bill.TotalCost,
		IssuedAt:     bill.IssuedAt,
	}
}
