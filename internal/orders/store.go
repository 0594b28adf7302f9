package orders

import (
	"context"

	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
)

// Tx is one open storage transaction. Row-returning methods that feed
// later writes lock what they return (FOR UPDATE), so quantities observed
// through a Tx stay valid until commit. ErrNotFound and the pricing/stock
// sentinels cross this boundary unchanged.
type Tx interface {
	stock.BatchTx
	stock.ShipmentTx

	ActorByID(ctx context.Context, id string) (Actor, error)
	ProductByID(ctx context.Context, id string) (pricing.Product, error)
	ProductByCode(ctx context.Context, code string) (pricing.Product, error)

	// CartLines locks the actor's cart rows; failFast uses the NOWAIT
	// variant so an already-locked cart rejects instead of queueing.
	CartLines(ctx context.Context, actorID string, failFast bool) ([]CartLine, error)
	UpsertCartLine(ctx context.Context, line CartLine) error
	DeleteCartLine(ctx context.Context, actorID, productID string) error
	ClearCart(ctx context.Context, actorID string) error

	InsertOrder(ctx context.Context, o Order) error
	OrderByID(ctx context.Context, orderID string) (Order, error)
	OrderForUpdate(ctx context.Context, orderID string) (Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status Status, stage string) error
	FinalizeOrder(ctx context.Context, o Order) error
	InsertOrderItem(ctx context.Context, it OrderItem) error
	ItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error)
	UpdateItemAdjustment(ctx context.Context, it OrderItem) error

	InsertPendingProduct(ctx context.Context, p PendingOrderProduct) error
	OpenPendingProducts(ctx context.Context) ([]PendingOrderProduct, error)
	// OpenPendingByItem locks the still-open pending rows that were split
	// off one order item, so confirmation can settle them instead of
	// deferring the same quantity twice.
	OpenPendingByItem(ctx context.Context, orderItemID string) ([]PendingOrderProduct, error)
	UpdatePendingQuantity(ctx context.Context, id string, requestedQty int) error
	CancelPendingProduct(ctx context.Context, id string) error
	PendingProductForUpdate(ctx context.Context, id string) (PendingOrderProduct, error)
	// MarkPendingFulfilled flips pending -> fulfilled; it fails with
	// ErrInvalidState if the row is no longer pending, which is the sole
	// double-fulfillment guard.
	MarkPendingFulfilled(ctx context.Context, id, fulfilledOrderID string) error
}

// Store opens transactions. A failed fn leaves nothing committed.
type Store interface {
	Transact(ctx context.Context, fn func(tx Tx) error) error
}
