package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxAdapter implements BatchTx and ShipmentTx on top of an open pgx
// transaction. All row selection locks FOR UPDATE so the quantities read
// stay valid until commit.
type TxAdapter struct{ Tx pgx.Tx }

const batchColumns = `id, dealer_id, product_id, product_code,
	received_quantity, blocked_quantity, sold_quantity, available_for_sale,
	expiry_date, lot_number, status, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.DealerID, &b.ProductID, &b.ProductCode,
		&b.ReceivedQuantity, &b.BlockedQuantity, &b.SoldQuantity, &b.AvailableForSale,
		&b.ExpiryDate, &b.LotNumber, &b.Status, &b.CreatedAt)
	return b, err
}

func (a TxAdapter) BatchesForAllocation(ctx context.Context, productCode string, scope Scope) ([]Batch, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if scope.DealerID != "" {
		rows, err = a.Tx.Query(ctx, `
			SELECT `+batchColumns+`
			FROM stock_batches
			WHERE product_code = $1 AND dealer_id = $2 AND status = 'confirmed'
			ORDER BY expiry_date ASC NULLS LAST, created_at, id
			FOR UPDATE`, productCode, scope.DealerID)
	} else {
		rows, err = a.Tx.Query(ctx, `
			SELECT `+batchColumns+`
			FROM stock_batches b
			WHERE b.product_code = $1 AND b.status = 'confirmed'
			  AND b.dealer_id IN (
				SELECT dealer_id FROM actors
				WHERE role = 'distributor' AND area_id = $2 AND dealer_id IS NOT NULL
			  )
			ORDER BY b.expiry_date ASC NULLS LAST, b.created_at, b.id
			FOR UPDATE OF b`, productCode, scope.AreaID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (a TxAdapter) ApplyBatchDelta(ctx context.Context, batchID string, blockedDelta, soldDelta int) error {
	ct, err := a.Tx.Exec(ctx, `
		UPDATE stock_batches
		SET blocked_quantity = blocked_quantity + $2,
		    sold_quantity = sold_quantity + $3,
		    available_for_sale = received_quantity - (blocked_quantity + $2) - (sold_quantity + $3)
		WHERE id = $1`, batchID, blockedDelta, soldDelta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("batch %s: delta applied to %d rows", batchID, ct.RowsAffected())
	}
	return nil
}

func (a TxAdapter) BatchForUpdate(ctx context.Context, batchID string) (Batch, error) {
	b, err := scanBatch(a.Tx.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM stock_batches WHERE id = $1
		FOR UPDATE`, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

func (a TxAdapter) ConfirmBatch(ctx context.Context, batchID string, receivedQty int) error {
	ct, err := a.Tx.Exec(ctx, `
		UPDATE stock_batches
		SET status = 'confirmed',
		    received_quantity = $2,
		    available_for_sale = $2 - blocked_quantity - sold_quantity
		WHERE id = $1 AND status = 'blocked'`, batchID, receivedQty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrBatchAlreadyConfirmed
	}
	return nil
}
