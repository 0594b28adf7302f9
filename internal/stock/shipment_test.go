package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShipmentTx struct {
	batches map[string]*Batch
}

func (f *fakeShipmentTx) BatchForUpdate(_ context.Context, batchID string) (Batch, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return *b, nil
}

func (f *fakeShipmentTx) ConfirmBatch(_ context.Context, batchID string, receivedQty int) error {
	b := f.batches[batchID]
	if b.Status != StatusBlocked {
		return ErrBatchAlreadyConfirmed
	}
	b.Status = StatusConfirmed
	b.ReceivedQuantity = receivedQty
	b.AvailableForSale = receivedQty - b.BlockedQuantity - b.SoldQuantity
	return nil
}

func incomingBatch() *Batch {
	b := newBatch("in-1", 20, day(90))
	b.Status = StatusBlocked
	b.AvailableForSale = 0
	return b
}

func TestValidateShipmentMatchingCount(t *testing.T) {
	b := incomingBatch()
	tx := &fakeShipmentTx{batches: map[string]*Batch{b.ID: b}}

	res, err := ValidateShipment(context.Background(), tx, "in-1", "dealer-1", 20)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Discrepancy)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, 20, b.AvailableForSale)
	require.NoError(t, b.CheckInvariant())
}

func TestValidateShipmentCountMismatch(t *testing.T) {
	b := incomingBatch()
	tx := &fakeShipmentTx{batches: map[string]*Batch{b.ID: b}}

	res, err := ValidateShipment(context.Background(), tx, "in-1", "dealer-1", 18)
	require.NoError(t, err)
	assert.Equal(t, -2, res.Discrepancy)
	assert.Equal(t, "dealer-1", res.DealerID)
	assert.Equal(t, 20, res.ExpectedQuantity)
	assert.Equal(t, 18, res.CountedQuantity)
	assert.Equal(t, 18, b.ReceivedQuantity)
}

func TestValidateShipmentGuards(t *testing.T) {
	b := incomingBatch()
	tx := &fakeShipmentTx{batches: map[string]*Batch{b.ID: b}}

	_, err := ValidateShipment(context.Background(), tx, "missing", "dealer-1", 20)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = ValidateShipment(context.Background(), tx, "in-1", "dealer-2", 20)
	assert.ErrorIs(t, err, ErrNotBatchOwner)

	_, err = ValidateShipment(context.Background(), tx, "in-1", "dealer-1", -1)
	assert.Error(t, err)

	_, err = ValidateShipment(context.Background(), tx, "in-1", "dealer-1", 20)
	require.NoError(t, err)
	_, err = ValidateShipment(context.Background(), tx, "in-1", "dealer-1", 20)
	assert.ErrorIs(t, err, ErrBatchAlreadyConfirmed)
}
