package stock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// Scope selects the batch rows an allocation may touch: every confirmed
// dealer in an area (representative orders) or one dealer's own stock
// (self-orders). Exactly one field is set.
type Scope struct {
	AreaID   string
	DealerID string
}

func AreaScope(areaID string) Scope     { return Scope{AreaID: areaID} }
func DealerScope(dealerID string) Scope { return Scope{DealerID: dealerID} }

func (s Scope) String() string {
	if s.DealerID != "" {
		return "dealer:" + s.DealerID
	}
	return "area:" + s.AreaID
}

// BatchTx is the slice of a storage transaction the allocator needs. The
// pgx implementation locks the returned rows FOR UPDATE; correctness under
// concurrency rests on those row locks, not on the traversal order.
type BatchTx interface {
	// BatchesForAllocation returns the confirmed batches for the product in
	// scope, FEFO-ordered and locked for the rest of the transaction.
	BatchesForAllocation(ctx context.Context, productCode string, scope Scope) ([]Batch, error)
	// ApplyBatchDelta adjusts blocked/sold on one row and recomputes
	// available_for_sale in the same statement.
	ApplyBatchDelta(ctx context.Context, batchID string, blockedDelta, soldDelta int) error
}

type step struct {
	batchID string
	qty     int
}

// planGreedy walks FEFO-ordered batches taking up to capacity(b) from each
// until qty is covered. It returns the per-batch steps and any shortfall.
func planGreedy(batches []Batch, qty int, capacity func(Batch) int) ([]step, int) {
	remaining := qty
	steps := make([]step, 0, len(batches))
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := capacity(b)
		if take <= 0 {
			continue
		}
		if take > remaining {
			take = remaining
		}
		steps = append(steps, step{batchID: b.ID, qty: take})
		remaining -= take
	}
	return steps, remaining
}

// Allocator moves quantities between the available, blocked and sold
// buckets of the ledger, earliest expiry first. It holds no state of its
// own; every call works inside the caller's transaction.
type Allocator struct {
	Now func() time.Time
}

func NewAllocator() *Allocator { return &Allocator{Now: time.Now} }

func (a *Allocator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Available sums the non-expired available_for_sale in scope.
func (a *Allocator) Available(ctx context.Context, tx BatchTx, productCode string, scope Scope) (int, error) {
	batches, err := tx.BatchesForAllocation(ctx, productCode, scope)
	if err != nil {
		return 0, err
	}
	now := a.now()
	total := 0
	for _, b := range batches {
		if !b.Expired(now) {
			total += b.AvailableForSale
		}
	}
	return total, nil
}

// Block reserves qty units against not-yet-finalized orders. The locked
// rows make the availability sum stable for the rest of the transaction,
// so the decision is taken up front: either the whole quantity is blocked
// or nothing is touched and ErrInsufficientStock reports what was there.
func (a *Allocator) Block(ctx context.Context, tx BatchTx, productCode string, scope Scope, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("block %s: quantity %d must be positive", productCode, qty)
	}
	batches, err := tx.BatchesForAllocation(ctx, productCode, scope)
	if err != nil {
		return err
	}
	now := a.now()
	fresh := batches[:0]
	for _, b := range batches {
		if !b.Expired(now) {
			fresh = append(fresh, b)
		}
	}
	steps, shortfall := planGreedy(fresh, qty, func(b Batch) int { return b.AvailableForSale })
	if shortfall > 0 {
		return fmt.Errorf("%w: product %s %s: need %d, available %d",
			ErrInsufficientStock, productCode, scope, qty, qty-shortfall)
	}
	for _, s := range steps {
		if err := tx.ApplyBatchDelta(ctx, s.batchID, s.qty, 0); err != nil {
			return err
		}
	}
	return nil
}

// Unblock releases previously blocked units back to available, FEFO order.
// Releasing more than is blocked means accounting went wrong somewhere and
// is reported as a hard error.
func (a *Allocator) Unblock(ctx context.Context, tx BatchTx, productCode string, scope Scope, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("unblock %s: quantity %d must be positive", productCode, qty)
	}
	batches, err := tx.BatchesForAllocation(ctx, productCode, scope)
	if err != nil {
		return err
	}
	steps, shortfall := planGreedy(batches, qty, func(b Batch) int { return b.BlockedQuantity })
	if shortfall > 0 {
		return fmt.Errorf("unblock %s %s: %d units blocked, asked to release %d",
			productCode, scope, qty-shortfall, qty)
	}
	for _, s := range steps {
		if err := tx.ApplyBatchDelta(ctx, s.batchID, -s.qty, 0); err != nil {
			return err
		}
	}
	return nil
}

// MoveBlockedToSold finalizes dispatched stock: blocked goes down, sold
// goes up, available is untouched.
func (a *Allocator) MoveBlockedToSold(ctx context.Context, tx BatchTx, productCode string, scope Scope, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("move to sold %s: quantity %d must be positive", productCode, qty)
	}
	batches, err := tx.BatchesForAllocation(ctx, productCode, scope)
	if err != nil {
		return err
	}
	steps, shortfall := planGreedy(batches, qty, func(b Batch) int { return b.BlockedQuantity })
	if shortfall > 0 {
		return fmt.Errorf("move to sold %s %s: %d units blocked, asked to sell %d",
			productCode, scope, qty-shortfall, qty)
	}
	for _, s := range steps {
		if err := tx.ApplyBatchDelta(ctx, s.batchID, -s.qty, s.qty); err != nil {
			return err
		}
	}
	return nil
}
