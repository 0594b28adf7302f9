package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hpratama/go-fieldsales-orders/internal/postgres"
	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
)

const (
	StagePlaced    = "placed"
	StageConfirmed = "confirmed"
	StageRejected  = "rejected"
	StageCancelled = "cancelled"
)

const reasonShortStock = "insufficient stock at confirmation"

// Lifecycle drives the order state machine: placement, distributor
// confirmation with adjustments, rejection and cancellation. Every
// operation is one transaction with bounded retry on transient storage
// failures; notifications fire only after commit.
type Lifecycle struct {
	store    Store
	alloc    *stock.Allocator
	notifier Notifier
	taxRate  decimal.Decimal
	retries  int
	now      func() time.Time
}

func NewLifecycle(store Store, alloc *stock.Allocator, notifier Notifier, taxRate decimal.Decimal, retries int) *Lifecycle {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Lifecycle{
		store:    store,
		alloc:    alloc,
		notifier: notifier,
		taxRate:  taxRate,
		retries:  retries,
		now:      time.Now,
	}
}

func (l *Lifecycle) transact(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.WithRetry(ctx, l.retries, func(ctx context.Context) error {
		return l.store.Transact(ctx, fn)
	})
}

func scopeFor(actor Actor) stock.Scope {
	if actor.Role == RoleDistributor {
		return stock.DealerScope(actor.DealerID)
	}
	return stock.AreaScope(actor.AreaID)
}

// quoteLine prices a line, translating pricing sentinels into the
// operation taxonomy.
func quoteLine(p pricing.Product, qty int) (pricing.Result, error) {
	q, err := pricing.Quote(p, qty)
	switch {
	case err == nil:
		return q.Rounded(), nil
	case errors.Is(err, pricing.ErrInvalidQuantity), errors.Is(err, pricing.ErrInvalidPromotion):
		return pricing.Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return pricing.Result{}, err
}

func (l *Lifecycle) lookupProduct(ctx context.Context, tx Tx, productID string) (pricing.Product, error) {
	p, err := tx.ProductByID(ctx, productID)
	if errors.Is(err, pricing.ErrProductNotFound) {
		return pricing.Product{}, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return p, err
}

// PlaceOrder turns the placer's cart into an order. Lines with enough
// non-expired stock are blocked in full; a line with no FOC and some stock
// is split (blocked part + pending remainder); everything else is
// deferred whole as pending order products. A distributor placing against
// their own stock gets an auto-confirmed order with the blocked quantities
// moved straight to sold. When not a single unit could be allocated, no
// order row is created at all.
func (l *Lifecycle) PlaceOrder(ctx context.Context, placerID, customerID string) (Result, error) {
	var (
		res Result
		ev  OrderPlacedEvent
	)
	err := l.transact(ctx, func(tx Tx) error {
		res = Result{}
		placer, err := tx.ActorByID(ctx, placerID)
		if err != nil {
			return err
		}
		lines, err := tx.CartLines(ctx, placerID, false)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%w: cart is empty", ErrValidation)
		}

		self := placer.Role == RoleDistributor
		scope := scopeFor(placer)
		now := l.now()
		orderID := uuid.NewString()

		var (
			items    []OrderItem
			pendings []PendingOrderProduct
			subtotal = decimal.Zero
		)
		for _, line := range lines {
			product, err := l.lookupProduct(ctx, tx, line.ProductID)
			if err != nil {
				return err
			}
			quote, err := quoteLine(product, line.Quantity)
			if err != nil {
				return err
			}
			free := quote.FreeQuantity()
			needed := line.Quantity + free

			avail, err := l.alloc.Available(ctx, tx, product.Code, scope)
			if err != nil {
				return err
			}

			switch {
			case avail >= needed:
				if err := l.alloc.Block(ctx, tx, product.Code, scope, needed); err != nil {
					return err
				}
				items = append(items, OrderItem{
					ID:           uuid.NewString(),
					OrderID:      orderID,
					ProductID:    product.ID,
					ProductCode:  product.Code,
					Quantity:     line.Quantity,
					FreeQuantity: free,
					UnitPrice:    quote.FinalPrice,
					TotalPrice:   quote.TotalAmount,
				})
				subtotal = subtotal.Add(quote.TotalAmount)

			case !self && free == 0 && avail > 0:
				// split: block what exists, defer the remainder
				if err := l.alloc.Block(ctx, tx, product.Code, scope, avail); err != nil {
					return err
				}
				items = append(items, OrderItem{
					ID:              uuid.NewString(),
					OrderID:         orderID,
					ProductID:       product.ID,
					ProductCode:     product.Code,
					Quantity:        line.Quantity,
					UnitPrice:       quote.FinalPrice,
					TotalPrice:      quote.TotalAmount,
					PendingQuantity: line.Quantity - avail,
				})
				subtotal = subtotal.Add(quote.TotalAmount)
				pendings = append(pendings, PendingOrderProduct{
					ID:                  uuid.NewString(),
					OriginalOrderID:     orderID,
					OriginalOrderItemID: items[len(items)-1].ID,
					ProductCode:         product.Code,
					RequestedQuantity:   line.Quantity - avail,
					ActorID:             placerID,
					CustomerID:          customerID,
					Status:              PendingOpen,
					CreatedAt:           now,
				})

			default:
				// insufficient or only-expired stock: defer the whole line,
				// freezing the FOC it would have earned
				pendings = append(pendings, PendingOrderProduct{
					ID:                  uuid.NewString(),
					ProductCode:         product.Code,
					RequestedQuantity:   line.Quantity,
					OriginalFOCQuantity: free,
					ActorID:             placerID,
					CustomerID:          customerID,
					Status:              PendingOpen,
					CreatedAt:           now,
				})
			}
		}

		if len(items) == 0 {
			for _, p := range pendings {
				if err := tx.InsertPendingProduct(ctx, p); err != nil {
					return err
				}
			}
			if err := tx.ClearCart(ctx, placerID); err != nil {
				return err
			}
			res = Result{
				Success:      true,
				Message:      "no stock could be allocated; all items deferred for later fulfillment",
				PendingCount: len(pendings),
			}
			ev = OrderPlacedEvent{PlacerID: placerID, CustomerID: customerID, SelfOrder: self, PendingCount: len(pendings), TotalAmount: decimal.Zero}
			return nil
		}

		tax := subtotal.Mul(l.taxRate).Round(2)
		order := Order{
			ID:          orderID,
			PlacerID:    placerID,
			CustomerID:  customerID,
			Status:      StatusPending,
			OrderStage:  StagePlaced,
			Subtotal:    subtotal,
			TaxAmount:   tax,
			TotalAmount: subtotal.Add(tax),
			CreatedAt:   now,
		}
		if self {
			order.Status = StatusConfirmed
			order.OrderStage = StageConfirmed
			order.ConfirmedBy = placerID
			order.ConfirmedAt = &now
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for _, it := range items {
			if err := tx.InsertOrderItem(ctx, it); err != nil {
				return err
			}
		}
		for i := range pendings {
			if pendings[i].OriginalOrderID == "" {
				pendings[i].OriginalOrderID = orderID
			}
			if err := tx.InsertPendingProduct(ctx, pendings[i]); err != nil {
				return err
			}
		}
		if self {
			for _, it := range items {
				if err := l.alloc.MoveBlockedToSold(ctx, tx, it.ProductCode, scope, it.BlockedQuantity()); err != nil {
					return err
				}
			}
		}
		if err := tx.ClearCart(ctx, placerID); err != nil {
			return err
		}

		res = Result{
			Success:      true,
			Message:      "order placed",
			OrderID:      orderID,
			PendingCount: len(pendings),
		}
		ev = OrderPlacedEvent{
			OrderID:      orderID,
			PlacerID:     placerID,
			CustomerID:   customerID,
			SelfOrder:    self,
			PendingCount: len(pendings),
			TotalAmount:  order.TotalAmount,
		}
		for _, it := range items {
			ev.Items = append(ev.Items, PlacedItem{
				ProductCode:  it.ProductCode,
				Quantity:     it.Quantity,
				FreeQuantity: it.FreeQuantity,
				TotalPrice:   it.TotalPrice,
			})
		}
		return nil
	})
	if err != nil {
		if r, ok := resultFromErr(err); ok {
			return r, nil
		}
		return Result{}, err
	}
	l.notifier.OrderPlaced(ctx, ev)
	return res, nil
}

// ConfirmOrderByDistributor approves a pending order, applying optional
// per-line edits. The dispatch quantity never exceeds what was ordered;
// shortfalls are topped up from other non-expired area stock when
// possible, and whatever remains undeliverable becomes a pending order
// product. All dispatched stock moves from blocked to sold.
func (l *Lifecycle) ConfirmOrderByDistributor(ctx context.Context, orderID, distributorID string, edits map[string]ItemEdit) (Result, error) {
	var (
		res Result
		ev  OrderConfirmedEvent
	)
	err := l.transact(ctx, func(tx Tx) error {
		res = Result{}
		ev = OrderConfirmedEvent{}
		order, dist, err := l.lockOrderForDistributor(ctx, tx, orderID, distributorID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return fmt.Errorf("%w: cannot confirm order in status %s", ErrInvalidState, order.Status)
		}
		items, err := tx.ItemsByOrder(ctx, orderID)
		if err != nil {
			return err
		}

		scope := stock.AreaScope(dist.AreaID)
		now := l.now()
		pendingCount := 0
		subtotal := decimal.Zero
		dispatchTotals := make(map[string]int, len(items))

		for i := range items {
			item := &items[i]
			ordered := item.Quantity
			dispatch := ordered

			edit, hasEdit := edits[item.ID]
			if hasEdit && edit.Quantity != nil && *edit.Quantity > 0 && *edit.Quantity <= ordered {
				dispatch = *edit.Quantity
			}

			blocked := item.BlockedQuantity()
			want := dispatch + item.FreeQuantity
			if blocked < want {
				short := want - blocked
				avail, err := l.alloc.Available(ctx, tx, item.ProductCode, scope)
				if err != nil {
					return err
				}
				if avail < short {
					short = avail
				}
				if short > 0 {
					if err := l.alloc.Block(ctx, tx, item.ProductCode, scope, short); err != nil {
						return err
					}
					blocked += short
				}
				if blocked < want {
					dispatch = blocked - item.FreeQuantity
					if dispatch < 0 {
						dispatch = 0
					}
					want = dispatch + item.FreeQuantity
				}
			} else if blocked > want {
				if err := l.alloc.Unblock(ctx, tx, item.ProductCode, scope, blocked-want); err != nil {
					return err
				}
			}

			remainder := ordered - dispatch
			item.PendingQuantity = remainder

			// settle any deferral split off this item at placement: the
			// remainder is re-derived from the dispatch decision, so the old
			// rows must not stay open next to it
			split, err := tx.OpenPendingByItem(ctx, item.ID)
			if err != nil {
				return err
			}
			switch {
			case remainder == 0:
				for _, p := range split {
					if err := tx.CancelPendingProduct(ctx, p.ID); err != nil {
						return err
					}
				}
			case len(split) > 0:
				pendingCount++
				if err := tx.UpdatePendingQuantity(ctx, split[0].ID, remainder); err != nil {
					return err
				}
				for _, p := range split[1:] {
					if err := tx.CancelPendingProduct(ctx, p.ID); err != nil {
						return err
					}
				}
			default:
				pendingCount++
				if err := tx.InsertPendingProduct(ctx, PendingOrderProduct{
					ID:                  uuid.NewString(),
					OriginalOrderID:     order.ID,
					OriginalOrderItemID: item.ID,
					ProductCode:         item.ProductCode,
					RequestedQuantity:   remainder,
					ActorID:             order.PlacerID,
					CustomerID:          order.CustomerID,
					Status:              PendingOpen,
					CreatedAt:           now,
				}); err != nil {
					return err
				}
			}

			if hasEdit {
				item.AdjustedLotNumber = edit.LotNumber
				item.AdjustedExpiryDate = edit.ExpiryDate
				if edit.Reason != "" {
					item.AdjustmentReason = edit.Reason
				}
			}
			if dispatch != ordered {
				adj := dispatch
				item.AdjustedQuantity = &adj
				if item.AdjustmentReason == "" {
					item.AdjustmentReason = reasonShortStock
				}
				if dispatch > 0 {
					product, err := tx.ProductByCode(ctx, item.ProductCode)
					if err != nil {
						return err
					}
					quote, err := quoteLine(product, dispatch)
					if err != nil {
						return err
					}
					item.UnitPrice = quote.FinalPrice
					item.TotalPrice = quote.TotalAmount
				} else {
					item.TotalPrice = decimal.Zero
				}
				ev.Adjustments = append(ev.Adjustments, AdjustedItem{
					ItemID:           item.ID,
					ProductCode:      item.ProductCode,
					OrderedQuantity:  ordered,
					DispatchQuantity: dispatch,
					Reason:           item.AdjustmentReason,
				})
			}
			if err := tx.UpdateItemAdjustment(ctx, *item); err != nil {
				return err
			}

			dispatchTotals[item.ID] = want
			subtotal = subtotal.Add(item.TotalPrice)
		}

		for _, item := range items {
			if qty := dispatchTotals[item.ID]; qty > 0 {
				if err := l.alloc.MoveBlockedToSold(ctx, tx, item.ProductCode, scope, qty); err != nil {
					return err
				}
			}
		}

		tax := subtotal.Mul(l.taxRate).Round(2)
		order.Status = StatusConfirmed
		order.OrderStage = StageConfirmed
		order.ConfirmedBy = dist.ID
		order.ConfirmedAt = &now
		order.Subtotal = subtotal
		order.TaxAmount = tax
		order.TotalAmount = subtotal.Add(tax)
		if err := tx.FinalizeOrder(ctx, order); err != nil {
			return err
		}

		res = Result{Success: true, Message: "order confirmed", OrderID: order.ID, PendingCount: pendingCount}
		ev.OrderID = order.ID
		ev.ConfirmedBy = dist.ID
		ev.PendingCount = pendingCount
		ev.TotalAmount = order.TotalAmount
		return nil
	})
	if err != nil {
		if r, ok := resultFromErr(err); ok {
			return r, nil
		}
		return Result{}, err
	}
	l.notifier.OrderConfirmed(ctx, ev)
	return res, nil
}

// RejectOrderByDistributor releases every blocked unit and marks the order
// rejected. Terminal: a second call fails with an invalid-state result and
// releases nothing further.
func (l *Lifecycle) RejectOrderByDistributor(ctx context.Context, orderID, distributorID, reason string) (Result, error) {
	var res Result
	err := l.transact(ctx, func(tx Tx) error {
		res = Result{}
		order, dist, err := l.lockOrderForDistributor(ctx, tx, orderID, distributorID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return fmt.Errorf("%w: cannot reject order in status %s", ErrInvalidState, order.Status)
		}
		if err := l.releaseOrderStock(ctx, tx, order.ID, stock.AreaScope(dist.AreaID)); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, StatusRejected, StageRejected); err != nil {
			return err
		}
		res = Result{Success: true, Message: "order rejected", OrderID: order.ID}
		return nil
	})
	if err != nil {
		if r, ok := resultFromErr(err); ok {
			return r, nil
		}
		return Result{}, err
	}
	l.notifier.OrderRejected(ctx, OrderRejectedEvent{OrderID: orderID, RejectedBy: distributorID, Reason: reason})
	return res, nil
}

// CancelOrderByMR lets the placer withdraw an order that the distributor
// has not acted on yet.
func (l *Lifecycle) CancelOrderByMR(ctx context.Context, orderID, placerID string) (Result, error) {
	var res Result
	err := l.transact(ctx, func(tx Tx) error {
		res = Result{}
		order, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PlacerID != placerID {
			return fmt.Errorf("%w: order %s was not placed by %s", ErrUnauthorized, orderID, placerID)
		}
		if order.Status != StatusPending && order.Status != StatusDraft {
			return fmt.Errorf("%w: cannot cancel order in status %s", ErrInvalidState, order.Status)
		}
		placer, err := tx.ActorByID(ctx, placerID)
		if err != nil {
			return err
		}
		if err := l.releaseOrderStock(ctx, tx, order.ID, scopeFor(placer)); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, StatusCancelled, StageCancelled); err != nil {
			return err
		}
		res = Result{Success: true, Message: "order cancelled", OrderID: order.ID}
		return nil
	})
	if err != nil {
		if r, ok := resultFromErr(err); ok {
			return r, nil
		}
		return Result{}, err
	}
	l.notifier.OrderCancelled(ctx, OrderCancelledEvent{OrderID: orderID, CancelledBy: placerID})
	return res, nil
}

// GetOrderStatus returns the order as its placer sees it. Read-only.
func (l *Lifecycle) GetOrderStatus(ctx context.Context, orderID, requesterID string) (OrderView, error) {
	var view OrderView
	err := l.store.Transact(ctx, func(tx Tx) error {
		order, err := tx.OrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PlacerID != requesterID {
			return fmt.Errorf("%w: order %s was not placed by %s", ErrUnauthorized, orderID, requesterID)
		}
		items, err := tx.ItemsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		view = OrderView{Order: order, Items: items}
		return nil
	})
	return view, err
}

// GetOrderStatusUnchecked returns the order without an authorization
// check. Only the lightweight status probe uses it; the full views go
// through the authorized variants.
func (l *Lifecycle) GetOrderStatusUnchecked(ctx context.Context, orderID string) (OrderView, error) {
	var view OrderView
	err := l.store.Transact(ctx, func(tx Tx) error {
		order, err := tx.OrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		view = OrderView{Order: order}
		return nil
	})
	return view, err
}

// GetOrderStatusForDistributor returns the order for the distributor
// owning the placer's area. Read-only.
func (l *Lifecycle) GetOrderStatusForDistributor(ctx context.Context, orderID, distributorID string) (OrderView, error) {
	var view OrderView
	err := l.store.Transact(ctx, func(tx Tx) error {
		order, err := tx.OrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := l.authorizeDistributor(ctx, tx, order, distributorID); err != nil {
			return err
		}
		items, err := tx.ItemsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		view = OrderView{Order: order, Items: items}
		return nil
	})
	return view, err
}

// ValidateShipment confirms an incoming batch with the dealer's count and
// emits a stock-discrepancy notification when the count disagrees with the
// intake record.
func (l *Lifecycle) ValidateShipment(ctx context.Context, batchID, distributorID string, countedQty int) (Result, error) {
	var shipment stock.ShipmentResult
	err := l.transact(ctx, func(tx Tx) error {
		dist, err := tx.ActorByID(ctx, distributorID)
		if err != nil {
			return err
		}
		if dist.Role != RoleDistributor {
			return fmt.Errorf("%w: %s is not a distributor", ErrUnauthorized, distributorID)
		}
		shipment, err = stock.ValidateShipment(ctx, tx, batchID, dist.DealerID, countedQty)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, stock.ErrBatchNotFound):
			return fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
		case errors.Is(err, stock.ErrNotBatchOwner):
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case errors.Is(err, stock.ErrBatchAlreadyConfirmed):
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	})
	if err != nil {
		if r, ok := resultFromErr(err); ok {
			return r, nil
		}
		return Result{}, err
	}
	if shipment.Discrepancy != 0 {
		l.notifier.StockDiscrepancy(ctx, StockDiscrepancyEvent{
			BatchID:          shipment.BatchID,
			DealerID:         shipment.DealerID,
			ProductCode:      shipment.ProductCode,
			LotNumber:        shipment.LotNumber,
			ExpectedQuantity: shipment.ExpectedQuantity,
			CountedQuantity:  shipment.CountedQuantity,
		})
	}
	return Result{Success: true, Message: "shipment validated"}, nil
}

func (l *Lifecycle) lockOrderForDistributor(ctx context.Context, tx Tx, orderID, distributorID string) (Order, Actor, error) {
	order, err := tx.OrderForUpdate(ctx, orderID)
	if err != nil {
		return Order{}, Actor{}, err
	}
	dist, err := tx.ActorByID(ctx, distributorID)
	if err != nil {
		return Order{}, Actor{}, err
	}
	if dist.Role != RoleDistributor {
		return Order{}, Actor{}, fmt.Errorf("%w: %s is not a distributor", ErrUnauthorized, distributorID)
	}
	placer, err := tx.ActorByID(ctx, order.PlacerID)
	if err != nil {
		return Order{}, Actor{}, err
	}
	if placer.AreaID != dist.AreaID {
		return Order{}, Actor{}, fmt.Errorf("%w: order belongs to area %s, distributor covers %s",
			ErrUnauthorized, placer.AreaID, dist.AreaID)
	}
	return order, dist, nil
}

func (l *Lifecycle) authorizeDistributor(ctx context.Context, tx Tx, order Order, distributorID string) error {
	dist, err := tx.ActorByID(ctx, distributorID)
	if err != nil {
		return err
	}
	if dist.Role != RoleDistributor {
		return fmt.Errorf("%w: %s is not a distributor", ErrUnauthorized, distributorID)
	}
	placer, err := tx.ActorByID(ctx, order.PlacerID)
	if err != nil {
		return err
	}
	if placer.AreaID != dist.AreaID {
		return fmt.Errorf("%w: order belongs to area %s, distributor covers %s",
			ErrUnauthorized, placer.AreaID, dist.AreaID)
	}
	return nil
}

// releaseOrderStock unblocks every unit still reserved for the order's
// items. The total released always equals the total still blocked, so
// reject/cancel can never leak or double-free.
func (l *Lifecycle) releaseOrderStock(ctx context.Context, tx Tx, orderID string, scope stock.Scope) error {
	items, err := tx.ItemsByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if blocked := item.BlockedQuantity(); blocked > 0 {
			if err := l.alloc.Unblock(ctx, tx, item.ProductCode, scope, blocked); err != nil {
				return err
			}
		}
	}
	return nil
}
