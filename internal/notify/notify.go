// Package notify publishes order and stock events to Kafka. Every event
// rides the same envelope; payloads are the structs the orders package
// hands over.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/hpratama/go-fieldsales-orders/internal/kafka"
	"github.com/hpratama/go-fieldsales-orders/internal/orders"
)

const (
	TopicOrderPlaced      = "order.placed"
	TopicOrderConfirmed   = "order.confirmed"
	TopicOrderRejected    = "order.rejected"
	TopicOrderCancelled   = "order.cancelled"
	TopicStockDiscrepancy = "stock.discrepancy"
	TopicPendingFulfilled = "order.pending.fulfilled"
)

const (
	EventOrderPlaced      = "OrderPlaced"
	EventOrderConfirmed   = "OrderConfirmed"
	EventOrderRejected    = "OrderRejected"
	EventOrderCancelled   = "OrderCancelled"
	EventStockDiscrepancy = "StockDiscrepancy"
	EventPendingFulfilled = "PendingFulfilled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Partition key keeps every event of one order in order.
func PartitionKey(id string) []byte { return []byte(id) }

type publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Kafka implements orders.Notifier on top of the shared async producer.
// Publish never blocks past the producer's inbox, so notifying after
// commit stays cheap for the request path.
type Kafka struct {
	p       publisher
	service string
}

func NewKafka(p *kafkax.Producer, service string) *Kafka {
	return &Kafka{p: p, service: service}
}

func (k *Kafka) publish(topic, eventType, correlationID string, payload any) {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      k.service,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	k.p.Publish(topic, PartitionKey(correlationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (k *Kafka) OrderPlaced(_ context.Context, ev orders.OrderPlacedEvent) {
	key := ev.OrderID
	if key == "" { // every line deferred, no order row exists
		key = ev.PlacerID
	}
	k.publish(TopicOrderPlaced, EventOrderPlaced, key, ev)
}

func (k *Kafka) OrderConfirmed(_ context.Context, ev orders.OrderConfirmedEvent) {
	k.publish(TopicOrderConfirmed, EventOrderConfirmed, ev.OrderID, ev)
}

func (k *Kafka) OrderRejected(_ context.Context, ev orders.OrderRejectedEvent) {
	k.publish(TopicOrderRejected, EventOrderRejected, ev.OrderID, ev)
}

func (k *Kafka) OrderCancelled(_ context.Context, ev orders.OrderCancelledEvent) {
	k.publish(TopicOrderCancelled, EventOrderCancelled, ev.OrderID, ev)
}

func (k *Kafka) StockDiscrepancy(_ context.Context, ev orders.StockDiscrepancyEvent) {
	k.publish(TopicStockDiscrepancy, EventStockDiscrepancy, ev.BatchID, ev)
}

func (k *Kafka) PendingFulfilled(_ context.Context, ev orders.PendingFulfilledEvent) {
	k.publish(TopicPendingFulfilled, EventPendingFulfilled, ev.FulfilledOrderID, ev)
}
