package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Cart mutations are opportunistic: they run as a single attempt under the
// fail-fast (NOWAIT) lock variant, so a cart already locked by another
// request rejects immediately instead of queueing. They never touch
// blocked stock; allocation happens at placement.

// AddCartLine adds qty units of a product to the actor's cart, merging
// with an existing line for the same product. The pricing snapshot on the
// line is refreshed for the merged quantity.
func (l *Lifecycle) AddCartLine(ctx context.Context, actorID, productID string, qty int) (Result, error) {
	return l.setCartLine(ctx, actorID, productID, qty, true)
}

// UpdateCartLine replaces the line's quantity; zero removes the line.
func (l *Lifecycle) UpdateCartLine(ctx context.Context, actorID, productID string, qty int) (Result, error) {
	if qty == 0 {
		return l.RemoveCartLine(ctx, actorID, productID)
	}
	return l.setCartLine(ctx, actorID, productID, qty, false)
}

func (l *Lifecycle) setCartLine(ctx context.Context, actorID, productID string, qty int, merge bool) (Result, error) {
	var res Result
	err := l.store.Transact(ctx, func(tx Tx) error {
		if qty <= 0 {
			return fmt.Errorf("%w: quantity %d must be positive", ErrValidation, qty)
		}
		if _, err := tx.ActorByID(ctx, actorID); err != nil {
			return err
		}
		product, err := l.lookupProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !product.Active {
			return fmt.Errorf("%w: product %s is not active", ErrValidation, product.Code)
		}

		lines, err := tx.CartLines(ctx, actorID, true)
		if err != nil {
			return err
		}
		line := CartLine{ID: uuid.NewString(), ActorID: actorID, ProductID: productID, Quantity: qty, CreatedAt: l.now()}
		for _, existing := range lines {
			if existing.ProductID == productID {
				line.ID = existing.ID
				line.CreatedAt = existing.CreatedAt
				if merge {
					line.Quantity += existing.Quantity
				}
				break
			}
		}

		quote, err := quoteLine(product, line.Quantity)
		if err != nil {
			return err
		}
		line.UnitPrice = quote.FinalPrice
		line.FreeQuantity = quote.FreeQuantity()
		if err := tx.UpsertCartLine(ctx, line); err != nil {
			return err
		}
		res = Result{Success: true, Message: "cart updated"}
		return nil
	})
	if err != nil {
		if r, ok := resultFromErr(err); ok {
			return r, nil
		}
		return Result{}, err
	}
	return res, nil
}

// RemoveCartLine drops the product from the actor's cart.
func (l *Lifecycle) RemoveCartLine(ctx context.Context, actorID, productID string) (Result, error) {
	var res Result
	err := l.store.Transact(ctx, func(tx Tx) error {
		if _, err := tx.ActorByID(ctx, actorID); err != nil {
			return err
		}
		if err := tx.DeleteCartLine(ctx, actorID, productID); err != nil {
			return err
		}
		res = Result{Success: true, Message: "cart line removed"}
		return nil
	})
	if err != nil {
		if r, ok := resultFromErr(err); ok {
			return r, nil
		}
		return Result{}, err
	}
	return res, nil
}

// GetCart returns the actor's current cart lines. Read-only.
func (l *Lifecycle) GetCart(ctx context.Context, actorID string) ([]CartLine, error) {
	var lines []CartLine
	err := l.store.Transact(ctx, func(tx Tx) error {
		if _, err := tx.ActorByID(ctx, actorID); err != nil {
			return err
		}
		var err error
		lines, err = tx.CartLines(ctx, actorID, false)
		return err
	})
	return lines, err
}
