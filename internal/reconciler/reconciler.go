// Package reconciler periodically matches newly available stock to order
// lines that could not be allocated when they were requested.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hpratama/go-fieldsales-orders/internal/orders"
	"github.com/hpratama/go-fieldsales-orders/internal/postgres"
	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
)

// Sweeper fulfills pending order products once enough non-expired stock
// exists in the requester's area. Each candidate runs in its own
// transaction so one failure never blocks the rest of the sweep.
type Sweeper struct {
	store    orders.Store
	alloc    *stock.Allocator
	notifier orders.Notifier
	taxRate  decimal.Decimal
	retries  int
	now      func() time.Time
}

func NewSweeper(store orders.Store, alloc *stock.Allocator, notifier orders.Notifier, taxRate decimal.Decimal, retries int) *Sweeper {
	if notifier == nil {
		notifier = orders.NopNotifier{}
	}
	return &Sweeper{
		store:    store,
		alloc:    alloc,
		notifier: notifier,
		taxRate:  taxRate,
		retries:  retries,
		now:      time.Now,
	}
}

type SweepStats struct {
	Scanned   int
	Fulfilled int
	Skipped   int
	Failed    int
}

// SweepPendingOrders runs one reconciliation cycle over every pending
// order product.
func (s *Sweeper) SweepPendingOrders(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	var candidates []orders.PendingOrderProduct
	err := s.store.Transact(ctx, func(tx orders.Tx) error {
		var err error
		candidates, err = tx.OpenPendingProducts(ctx)
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("listing pending order products: %w", err)
	}
	stats.Scanned = len(candidates)

	for _, candidate := range candidates {
		fulfilled, err := s.fulfillOne(ctx, candidate.ID)
		switch {
		case err != nil:
			stats.Failed++
			log.Printf("reconciler: pending %s: %v", candidate.ID, err)
		case fulfilled:
			stats.Fulfilled++
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

// fulfillOne attempts to place the follow-up order for one pending row.
// It re-locks and re-checks the row inside the transaction: the
// pending->fulfilled flip is the sole fulfillment guard and commits
// atomically with the follow-up order.
func (s *Sweeper) fulfillOne(ctx context.Context, pendingID string) (bool, error) {
	fulfilled := false
	var ev orders.PendingFulfilledEvent

	err := postgres.WithRetry(ctx, s.retries, func(ctx context.Context) error {
		fulfilled = false
		return s.store.Transact(ctx, func(tx orders.Tx) error {
			p, err := tx.PendingProductForUpdate(ctx, pendingID)
			if err != nil {
				return err
			}
			if p.Status != orders.PendingOpen {
				return nil // fulfilled by a concurrent sweep
			}
			actor, err := tx.ActorByID(ctx, p.ActorID)
			if err != nil {
				return err
			}
			product, err := tx.ProductByCode(ctx, p.ProductCode)
			if err != nil {
				return err
			}

			scope := stock.AreaScope(actor.AreaID)
			if actor.Role == orders.RoleDistributor {
				scope = stock.DealerScope(actor.DealerID)
			}

			// the FOC amount was frozen at deferral time; it is never
			// recomputed against today's promotion configuration
			totalNeeded := p.RequestedQuantity + p.OriginalFOCQuantity
			avail, err := s.alloc.Available(ctx, tx, p.ProductCode, scope)
			if err != nil {
				return err
			}
			if avail < totalNeeded {
				return nil // leave pending for the next sweep
			}

			quote, err := pricing.Quote(product, p.RequestedQuantity)
			if err != nil {
				return err
			}
			quote = quote.Rounded()

			if err := s.alloc.Block(ctx, tx, p.ProductCode, scope, totalNeeded); err != nil {
				if errors.Is(err, stock.ErrInsufficientStock) {
					return nil
				}
				return err
			}

			now := s.now()
			order := orders.Order{
				ID:          uuid.NewString(),
				PlacerID:    p.ActorID,
				CustomerID:  p.CustomerID,
				Status:      orders.StatusPending,
				OrderStage:  orders.StagePlaced,
				Subtotal:    quote.TotalAmount,
				TaxAmount:   quote.TotalAmount.Mul(s.taxRate).Round(2),
				CreatedAt:   now,
			}
			order.TotalAmount = order.Subtotal.Add(order.TaxAmount)
			if actor.Role == orders.RoleDistributor {
				order.Status = orders.StatusConfirmed
				order.OrderStage = orders.StageConfirmed
				order.ConfirmedBy = actor.ID
				order.ConfirmedAt = &now
			}
			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			if err := tx.InsertOrderItem(ctx, orders.OrderItem{
				ID:           uuid.NewString(),
				OrderID:      order.ID,
				ProductID:    product.ID,
				ProductCode:  product.Code,
				Quantity:     p.RequestedQuantity,
				FreeQuantity: p.OriginalFOCQuantity,
				UnitPrice:    quote.FinalPrice,
				TotalPrice:   quote.TotalAmount,
			}); err != nil {
				return err
			}
			if actor.Role == orders.RoleDistributor {
				if err := s.alloc.MoveBlockedToSold(ctx, tx, p.ProductCode, scope, totalNeeded); err != nil {
					return err
				}
			}
			if err := tx.MarkPendingFulfilled(ctx, p.ID, order.ID); err != nil {
				return err
			}

			fulfilled = true
			ev = orders.PendingFulfilledEvent{
				PendingID:        p.ID,
				FulfilledOrderID: order.ID,
				ActorID:          p.ActorID,
				ProductCode:      p.ProductCode,
				Quantity:         p.RequestedQuantity,
				FreeQuantity:     p.OriginalFOCQuantity,
			}
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if fulfilled {
		s.notifier.PendingFulfilled(ctx, ev)
	}
	return fulfilled, nil
}
