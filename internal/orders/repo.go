package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
)

// Repo is the pgx-backed Store. It also serves as the pricing catalog for
// the standalone price operation (pool reads, no transaction).
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Transact(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgxTx{TxAdapter: stock.TxAdapter{Tx: tx}, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) ProductByID(ctx context.Context, id string) (pricing.Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, productQuery+` WHERE p.id = $1`, id))
}

func (r *Repo) ProductByCode(ctx context.Context, code string) (pricing.Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, productQuery+` WHERE p.code = $1`, code))
}

// pgxTx implements Tx on one open transaction; the embedded stock adapter
// contributes the batch ledger operations.
type pgxTx struct {
	stock.TxAdapter
	tx pgx.Tx
}

const productQuery = `
	SELECT p.id, p.code, p.name, p.unit_price, p.active,
	       pr.discount_type, pr.discount_value,
	       pr.scheme_type, pr.buy_quantity, pr.get_quantity, pr.scheme_discount_pct
	FROM products p
	LEFT JOIN promotions pr ON pr.product_id = p.id`

func scanProduct(row pgx.Row) (pricing.Product, error) {
	var (
		p        pricing.Product
		dType    *string
		dValue   *decimal.Decimal
		sType    *string
		buyQty   *int
		getQty   *int
		sPct     *decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.UnitPrice, &p.Active,
		&dType, &dValue, &sType, &buyQty, &getQty, &sPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return pricing.Product{}, pricing.ErrProductNotFound
	}
	if err != nil {
		return pricing.Product{}, err
	}
	if dType != nil || sType != nil {
		promo := &pricing.Promotion{}
		if dType != nil {
			promo.DiscountType = pricing.DiscountType(*dType)
		}
		if dValue != nil {
			promo.DiscountValue = *dValue
		}
		if sType != nil {
			promo.SchemeType = pricing.SchemeType(*sType)
		}
		if buyQty != nil {
			promo.BuyQuantity = *buyQty
		}
		if getQty != nil {
			promo.GetQuantity = *getQty
		}
		if sPct != nil {
			promo.SchemeDiscountPct = *sPct
		}
		p.Promo = promo
	}
	return p, nil
}

func (t *pgxTx) ProductByID(ctx context.Context, id string) (pricing.Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, productQuery+` WHERE p.id = $1`, id))
}

func (t *pgxTx) ProductByCode(ctx context.Context, code string) (pricing.Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, productQuery+` WHERE p.code = $1`, code))
}

func (t *pgxTx) ActorByID(ctx context.Context, id string) (Actor, error) {
	var (
		a        Actor
		dealerID *string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, role, area_id, dealer_id FROM actors WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Role, &a.AreaID, &dealerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Actor{}, fmt.Errorf("%w: actor %s", ErrNotFound, id)
	}
	if err != nil {
		return Actor{}, err
	}
	if dealerID != nil {
		a.DealerID = *dealerID
	}
	return a, nil
}

const cartColumns = `id, actor_id, product_id, quantity, unit_price, free_quantity, created_at`

func (t *pgxTx) CartLines(ctx context.Context, actorID string, failFast bool) ([]CartLine, error) {
	lock := ` FOR UPDATE`
	if failFast {
		lock = ` FOR UPDATE NOWAIT`
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+cartColumns+` FROM cart_lines
		WHERE actor_id = $1 ORDER BY created_at, id`+lock, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CartLine
	for rows.Next() {
		var c CartLine
		if err := rows.Scan(&c.ID, &c.ActorID, &c.ProductID, &c.Quantity, &c.UnitPrice, &c.FreeQuantity, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgxTx) UpsertCartLine(ctx context.Context, line CartLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cart_lines (id, actor_id, product_id, quantity, unit_price, free_quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (actor_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    unit_price = EXCLUDED.unit_price,
		    free_quantity = EXCLUDED.free_quantity`,
		line.ID, line.ActorID, line.ProductID, line.Quantity, line.UnitPrice, line.FreeQuantity, line.CreatedAt)
	return err
}

func (t *pgxTx) DeleteCartLine(ctx context.Context, actorID, productID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_lines WHERE actor_id = $1 AND product_id = $2`, actorID, productID)
	return err
}

func (t *pgxTx) ClearCart(ctx context.Context, actorID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_lines WHERE actor_id = $1`, actorID)
	return err
}

const orderColumns = `id, placer_id, customer_id, status, order_stage,
	subtotal, tax_amount, total_amount, confirmed_by, confirmed_at, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o           Order
		customerID  *string
		confirmedBy *string
	)
	err := row.Scan(&o.ID, &o.PlacerID, &customerID, &o.Status, &o.OrderStage,
		&o.Subtotal, &o.TaxAmount, &o.TotalAmount, &confirmedBy, &o.ConfirmedAt, &o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	if customerID != nil {
		o.CustomerID = *customerID
	}
	if confirmedBy != nil {
		o.ConfirmedBy = *confirmedBy
	}
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (t *pgxTx) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, placer_id, customer_id, status, order_stage,
			subtotal, tax_amount, total_amount, confirmed_by, confirmed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.PlacerID, nullable(o.CustomerID), o.Status, o.OrderStage,
		o.Subtotal, o.TaxAmount, o.TotalAmount, nullable(o.ConfirmedBy), o.ConfirmedAt, o.CreatedAt)
	return err
}

func (t *pgxTx) OrderByID(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return o, err
}

func (t *pgxTx) OrderForUpdate(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return o, err
}

func (t *pgxTx) UpdateOrderStatus(ctx context.Context, orderID string, status Status, stage string) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, order_stage = $3 WHERE id = $1`, orderID, status, stage)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return nil
}

func (t *pgxTx) FinalizeOrder(ctx context.Context, o Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, order_stage = $3, confirmed_by = $4, confirmed_at = $5,
		    subtotal = $6, tax_amount = $7, total_amount = $8
		WHERE id = $1`,
		o.ID, o.Status, o.OrderStage, nullable(o.ConfirmedBy), o.ConfirmedAt,
		o.Subtotal, o.TaxAmount, o.TotalAmount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", ErrNotFound, o.ID)
	}
	return nil
}

const itemColumns = `id, order_id, product_id, product_code, quantity, free_quantity,
	unit_price, total_price, adjusted_quantity, pending_quantity,
	adjustment_reason, adjusted_lot_number, adjusted_expiry_date`

func (t *pgxTx) InsertOrderItem(ctx context.Context, it OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		it.ID, it.OrderID, it.ProductID, it.ProductCode, it.Quantity, it.FreeQuantity,
		it.UnitPrice, it.TotalPrice, it.AdjustedQuantity, it.PendingQuantity,
		nullable(it.AdjustmentReason), nullable(it.AdjustedLotNumber), it.AdjustedExpiryDate)
	return err
}

func (t *pgxTx) ItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var (
			it     OrderItem
			reason *string
			lot    *string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductCode, &it.Quantity, &it.FreeQuantity,
			&it.UnitPrice, &it.TotalPrice, &it.AdjustedQuantity, &it.PendingQuantity,
			&reason, &lot, &it.AdjustedExpiryDate); err != nil {
			return nil, err
		}
		if reason != nil {
			it.AdjustmentReason = *reason
		}
		if lot != nil {
			it.AdjustedLotNumber = *lot
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgxTx) UpdateItemAdjustment(ctx context.Context, it OrderItem) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE order_items
		SET unit_price = $2, total_price = $3, adjusted_quantity = $4, pending_quantity = $5,
		    adjustment_reason = $6, adjusted_lot_number = $7, adjusted_expiry_date = $8
		WHERE id = $1`,
		it.ID, it.UnitPrice, it.TotalPrice, it.AdjustedQuantity, it.PendingQuantity,
		nullable(it.AdjustmentReason), nullable(it.AdjustedLotNumber), it.AdjustedExpiryDate)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order item %s", ErrNotFound, it.ID)
	}
	return nil
}

const pendingColumns = `id, original_order_id, original_order_item_id, product_code,
	requested_quantity, original_foc_quantity, actor_id, customer_id,
	status, fulfilled_order_id, created_at`

func scanPending(row pgx.Row) (PendingOrderProduct, error) {
	var (
		p          PendingOrderProduct
		orderID    *string
		itemID     *string
		customerID *string
		fulfilled  *string
	)
	err := row.Scan(&p.ID, &orderID, &itemID, &p.ProductCode,
		&p.RequestedQuantity, &p.OriginalFOCQuantity, &p.ActorID, &customerID,
		&p.Status, &fulfilled, &p.CreatedAt)
	if err != nil {
		return PendingOrderProduct{}, err
	}
	if orderID != nil {
		p.OriginalOrderID = *orderID
	}
	if itemID != nil {
		p.OriginalOrderItemID = *itemID
	}
	if customerID != nil {
		p.CustomerID = *customerID
	}
	if fulfilled != nil {
		p.FulfilledOrderID = *fulfilled
	}
	return p, nil
}

func (t *pgxTx) InsertPendingProduct(ctx context.Context, p PendingOrderProduct) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pending_order_products (`+pendingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, nullable(p.OriginalOrderID), nullable(p.OriginalOrderItemID), p.ProductCode,
		p.RequestedQuantity, p.OriginalFOCQuantity, p.ActorID, nullable(p.CustomerID),
		p.Status, nullable(p.FulfilledOrderID), p.CreatedAt)
	return err
}

func (t *pgxTx) OpenPendingProducts(ctx context.Context) ([]PendingOrderProduct, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+pendingColumns+` FROM pending_order_products
		WHERE status = 'pending' ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingOrderProduct
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgxTx) OpenPendingByItem(ctx context.Context, orderItemID string) ([]PendingOrderProduct, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+pendingColumns+` FROM pending_order_products
		WHERE original_order_item_id = $1 AND status = 'pending'
		ORDER BY created_at, id
		FOR UPDATE`, orderItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingOrderProduct
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgxTx) UpdatePendingQuantity(ctx context.Context, id string, requestedQty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE pending_order_products
		SET requested_quantity = $2
		WHERE id = $1 AND status = 'pending'`, id, requestedQty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: pending order product %s is not pending", ErrInvalidState, id)
	}
	return nil
}

func (t *pgxTx) CancelPendingProduct(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE pending_order_products
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: pending order product %s is not pending", ErrInvalidState, id)
	}
	return nil
}

func (t *pgxTx) PendingProductForUpdate(ctx context.Context, id string) (PendingOrderProduct, error) {
	p, err := scanPending(t.tx.QueryRow(ctx, `
		SELECT `+pendingColumns+` FROM pending_order_products WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingOrderProduct{}, fmt.Errorf("%w: pending order product %s", ErrNotFound, id)
	}
	return p, err
}

func (t *pgxTx) MarkPendingFulfilled(ctx context.Context, id, fulfilledOrderID string) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE pending_order_products
		SET status = 'fulfilled', fulfilled_order_id = $2
		WHERE id = $1 AND status = 'pending'`, id, fulfilledOrderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: pending order product %s is not pending", ErrInvalidState, id)
	}
	return nil
}
