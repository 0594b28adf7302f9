package stock

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBatchNotFound         = errors.New("stock batch not found")
	ErrBatchAlreadyConfirmed = errors.New("stock batch already confirmed")
	ErrNotBatchOwner         = errors.New("batch belongs to another dealer")
)

// ShipmentTx is the transaction slice shipment validation needs.
type ShipmentTx interface {
	BatchForUpdate(ctx context.Context, batchID string) (Batch, error)
	ConfirmBatch(ctx context.Context, batchID string, receivedQty int) error
}

// ShipmentResult reports the validated count against what was recorded at
// intake. Discrepancy is counted minus expected; callers emit a
// stock-discrepancy notification when it is non-zero.
type ShipmentResult struct {
	BatchID          string
	DealerID         string
	ProductCode      string
	LotNumber        string
	ExpectedQuantity int
	CountedQuantity  int
	Discrepancy      int
}

// ValidateShipment confirms an incoming batch with the dealer's physical
// count, moving it into the allocation pool. The count replaces
// received_quantity when it differs from the intake record.
func ValidateShipment(ctx context.Context, tx ShipmentTx, batchID, dealerID string, countedQty int) (ShipmentResult, error) {
	if countedQty < 0 {
		return ShipmentResult{}, fmt.Errorf("counted quantity %d must not be negative", countedQty)
	}
	b, err := tx.BatchForUpdate(ctx, batchID)
	if err != nil {
		return ShipmentResult{}, err
	}
	if b.DealerID != dealerID {
		return ShipmentResult{}, ErrNotBatchOwner
	}
	if b.Status != StatusBlocked {
		return ShipmentResult{}, ErrBatchAlreadyConfirmed
	}
	if countedQty < b.BlockedQuantity+b.SoldQuantity {
		return ShipmentResult{}, fmt.Errorf("counted quantity %d below already committed %d",
			countedQty, b.BlockedQuantity+b.SoldQuantity)
	}
	if err := tx.ConfirmBatch(ctx, batchID, countedQty); err != nil {
		return ShipmentResult{}, err
	}
	return ShipmentResult{
		BatchID:          b.ID,
		DealerID:         b.DealerID,
		ProductCode:      b.ProductCode,
		LotNumber:        b.LotNumber,
		ExpectedQuantity: b.ReceivedQuantity,
		CountedQuantity:  countedQty,
		Discrepancy:      countedQty - b.ReceivedQuantity,
	}, nil
}
