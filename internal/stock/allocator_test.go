package stock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	batches []*Batch
}

func (f *fakeTx) BatchesForAllocation(_ context.Context, productCode string, _ Scope) ([]Batch, error) {
	var out []Batch
	for _, b := range f.batches {
		if b.ProductCode == productCode && b.Status == StatusConfirmed {
			out = append(out, *b)
		}
	}
	SortFEFO(out)
	return out, nil
}

func (f *fakeTx) ApplyBatchDelta(_ context.Context, batchID string, blockedDelta, soldDelta int) error {
	for _, b := range f.batches {
		if b.ID == batchID {
			b.BlockedQuantity += blockedDelta
			b.SoldQuantity += soldDelta
			b.AvailableForSale = b.ReceivedQuantity - b.BlockedQuantity - b.SoldQuantity
			return b.CheckInvariant()
		}
	}
	return fmt.Errorf("no batch %s", batchID)
}

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func day(offset int) *time.Time {
	t := testNow.AddDate(0, 0, offset)
	return &t
}

func newBatch(id string, received int, expiry *time.Time) *Batch {
	return &Batch{
		ID:               id,
		ExpiryDate:       expiry,
		DealerID:         "dealer-1",
		ProductID:        "p-1",
		ProductCode:      "AMX500",
		ReceivedQuantity: received,
		AvailableForSale: received,
		Status:           StatusConfirmed,
		LotNumber:        "LOT-" + id,
		CreatedAt:        testNow.AddDate(0, -1, 0),
	}
}

func testAllocator() *Allocator {
	return &Allocator{Now: func() time.Time { return testNow }}
}

func TestSortFEFOOrdersNilExpiryLast(t *testing.T) {
	a := *newBatch("a", 5, day(30))
	b := *newBatch("b", 5, nil)
	c := *newBatch("c", 5, day(10))

	got := []Batch{a, b, c}
	SortFEFO(got)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestBlockExhaustsEarlierBatchFirst(t *testing.T) {
	near := newBatch("near", 4, day(10))
	far := newBatch("far", 10, day(60))
	noExp := newBatch("noexp", 10, nil)
	tx := &fakeTx{batches: []*Batch{far, noExp, near}}

	alloc := testAllocator()
	require.NoError(t, alloc.Block(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 6))

	// nearest expiry fully exhausted before the next batch is touched
	assert.Equal(t, 4, near.BlockedQuantity)
	assert.Equal(t, 0, near.AvailableForSale)
	assert.Equal(t, 2, far.BlockedQuantity)
	assert.Equal(t, 0, noExp.BlockedQuantity)
	for _, b := range tx.batches {
		require.NoError(t, b.CheckInvariant())
	}
}

func TestBlockInsufficientStockTouchesNothing(t *testing.T) {
	b1 := newBatch("b1", 3, day(10))
	b2 := newBatch("b2", 2, nil)
	tx := &fakeTx{batches: []*Batch{b1, b2}}

	err := testAllocator().Block(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 6)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "available 5")
	assert.Equal(t, 0, b1.BlockedQuantity)
	assert.Equal(t, 0, b2.BlockedQuantity)
}

func TestBlockSkipsExpiredBatches(t *testing.T) {
	expired := newBatch("old", 10, day(-1))
	fresh := newBatch("fresh", 7, day(20))
	tx := &fakeTx{batches: []*Batch{expired, fresh}}

	alloc := testAllocator()

	avail, err := alloc.Available(context.Background(), tx, "AMX500", DealerScope("dealer-1"))
	require.NoError(t, err)
	assert.Equal(t, 7, avail)

	err = alloc.Block(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 8)
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, alloc.Block(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 7))
	assert.Equal(t, 0, expired.BlockedQuantity)
	assert.Equal(t, 7, fresh.BlockedQuantity)
}

func TestUnblockReturnsExactlyWhatWasBlocked(t *testing.T) {
	b1 := newBatch("b1", 5, day(5))
	b2 := newBatch("b2", 5, day(15))
	tx := &fakeTx{batches: []*Batch{b1, b2}}
	alloc := testAllocator()

	require.NoError(t, alloc.Block(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 8))
	require.NoError(t, alloc.Unblock(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 8))

	assert.Equal(t, 0, b1.BlockedQuantity+b2.BlockedQuantity)
	assert.Equal(t, 5, b1.AvailableForSale)
	assert.Equal(t, 5, b2.AvailableForSale)

	// double free must fail loudly
	err := alloc.Unblock(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 1)
	require.Error(t, err)
}

func TestMoveBlockedToSold(t *testing.T) {
	b1 := newBatch("b1", 6, day(5))
	tx := &fakeTx{batches: []*Batch{b1}}
	alloc := testAllocator()

	require.NoError(t, alloc.Block(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 4))
	require.NoError(t, alloc.MoveBlockedToSold(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 4))

	assert.Equal(t, 0, b1.BlockedQuantity)
	assert.Equal(t, 4, b1.SoldQuantity)
	assert.Equal(t, 2, b1.AvailableForSale)
	require.NoError(t, b1.CheckInvariant())
}

func TestBlockRejectsNonPositiveQuantity(t *testing.T) {
	tx := &fakeTx{}
	err := testAllocator().Block(context.Background(), tx, "AMX500", DealerScope("dealer-1"), 0)
	require.Error(t, err)
}
