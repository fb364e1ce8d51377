package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/alegny-health/api/internal/platform/requestctx"
	"github.com/alegny-health/api/internal/platform/textutil"
	"github.com/alegny-health/api/internal/services"
)

// Pub/Sub caps attribute values at 1024 bytes.
const maxAttributeValueBytes = 1024

// EventPublisher publishes order and stock events to their Pub/Sub topics. Order events use the
// order id as ordering key so one order's events reach subscribers in sequence.
type EventPublisher struct {
	orders  *pubsub.Topic
	stock   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher enables message ordering on the order topic.
func NewEventPublisher(orders, stock *pubsub.Topic) (*EventPublisher, error) {
	if orders == nil || stock == nil {
		return nil, errors.New("event publisher: order and stock topics are required")
	}
	orders.EnableMessageOrdering = true
	return &EventPublisher{orders: orders, stock: stock, marshal: json.Marshal}, nil
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message.
func (p *EventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	attrs := map[string]string{
		"type":       event.Type,
		"orderId":    event.OrderID,
		"patientId":  event.PatientID,
		"pharmacyId": event.PharmacyID,
		"status":     string(event.Status),
		"version":    strconv.Itoa(event.Version),
	}
	err := p.publish(ctx, p.orders, event, attrs, event.OrderID)
	if err != nil && event.OrderID != "" {
		// A failed ordered publish pauses the key until resumed.
		p.orders.ResumePublish(event.OrderID)
	}
	return err
}

// PublishStockEvent blocks until Pub/Sub acknowledges the message.
func (p *EventPublisher) PublishStockEvent(ctx context.Context, event services.StockEvent) error {
	attrs := map[string]string{
		"type":       event.Type,
		"pharmacyId": event.PharmacyID,
		"drugId":     event.DrugID,
		"orderId":    event.OrderID,
	}
	return p.publish(ctx, p.stock, event, attrs, "")
}

func (p *EventPublisher) publish(ctx context.Context, topic *pubsub.Topic, payload any, attrs map[string]string, orderingKey string) error {
	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs["requestId"] = requestctx.RequestID(ctx)
	attrs["traceId"] = requestctx.TraceID(ctx)

	result := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  textutil.MessageAttributes(attrs, maxAttributeValueBytes),
		OrderingKey: orderingKey,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", topic.ID(), err)
	}
	return nil
}
