package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Notifier is the outbound notification port. Implementations deliver to
// the messaging subsystem; the engine never formats user-facing text.
// Calls happen after the enclosing transaction committed and must not
// block the caller on delivery.
type Notifier interface {
	OrderPlaced(ctx context.Context, ev OrderPlacedEvent)
	OrderConfirmed(ctx context.Context, ev OrderConfirmedEvent)
	OrderRejected(ctx context.Context, ev OrderRejectedEvent)
	OrderCancelled(ctx context.Context, ev OrderCancelledEvent)
	StockDiscrepancy(ctx context.Context, ev StockDiscrepancyEvent)
	PendingFulfilled(ctx context.Context, ev PendingFulfilledEvent)
}

type PlacedItem struct {
	ProductCode  string          `json:"product_code"`
	Quantity     int             `json:"quantity"`
	FreeQuantity int             `json:"free_quantity,omitempty"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

type OrderPlacedEvent struct {
	OrderID      string          `json:"order_id,omitempty"` // empty when every line was deferred
	PlacerID     string          `json:"placer_id"`
	CustomerID   string          `json:"customer_id,omitempty"`
	SelfOrder    bool            `json:"self_order"`
	Items        []PlacedItem    `json:"items"`
	PendingCount int             `json:"pending_count,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type AdjustedItem struct {
	ItemID           string `json:"item_id"`
	ProductCode      string `json:"product_code"`
	OrderedQuantity  int    `json:"ordered_quantity"`
	DispatchQuantity int    `json:"dispatch_quantity"`
	Reason           string `json:"reason,omitempty"`
}

type OrderConfirmedEvent struct {
	OrderID      string          `json:"order_id"`
	ConfirmedBy  string          `json:"confirmed_by"`
	Adjustments  []AdjustedItem  `json:"adjustments,omitempty"`
	PendingCount int             `json:"pending_count,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type OrderRejectedEvent struct {
	OrderID    string `json:"order_id"`
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason,omitempty"`
}

type OrderCancelledEvent struct {
	OrderID     string `json:"order_id"`
	CancelledBy string `json:"cancelled_by"`
}

type StockDiscrepancyEvent struct {
	BatchID          string `json:"batch_id"`
	DealerID         string `json:"dealer_id"`
	ProductCode      string `json:"product_code"`
	LotNumber        string `json:"lot_number,omitempty"`
	ExpectedQuantity int    `json:"expected_quantity"`
	CountedQuantity  int    `json:"counted_quantity"`
}

type PendingFulfilledEvent struct {
	PendingID        string `json:"pending_id"`
	FulfilledOrderID string `json:"fulfilled_order_id"`
	ActorID          string `json:"actor_id"`
	ProductCode      string `json:"product_code"`
	Quantity         int    `json:"quantity"`
	FreeQuantity     int    `json:"free_quantity,omitempty"`
}

// NopNotifier discards every event; used in tests and as a default.
type NopNotifier struct{}

func (NopNotifier) OrderPlaced(context.Context, OrderPlacedEvent)           {}
func (NopNotifier) OrderConfirmed(context.Context, OrderConfirmedEvent)     {}
func (NopNotifier) OrderRejected(context.Context, OrderRejectedEvent)       {}
func (NopNotifier) OrderCancelled(context.Context, OrderCancelledEvent)     {}
func (NopNotifier) StockDiscrepancy(context.Context, StockDiscrepancyEvent) {}
func (NopNotifier) PendingFulfilled(context.Context, PendingFulfilledEvent) {}
