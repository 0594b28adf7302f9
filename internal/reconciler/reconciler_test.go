package reconciler_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpratama/go-fieldsales-orders/internal/orders"
	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/reconciler"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
	"github.com/hpratama/go-fieldsales-orders/internal/storetest"
)

var testNow = time.Date(2026, time.March, 2, 6, 0, 0, 0, time.UTC)

func newStore() *storetest.Store {
	st := storetest.New()
	st.AddActor(orders.Actor{ID: "mr-1", Role: orders.RoleRepresentative, AreaID: "area-1"})
	st.AddActor(orders.Actor{ID: "dist-1", Role: orders.RoleDistributor, AreaID: "area-1", DealerID: "dealer-1"})
	st.AddProduct(pricing.Product{
		ID: "prod-1", Code: "P001", Name: "Amoxicillin 500mg",
		UnitPrice: decimal.NewFromInt(100), Active: true,
	})
	return st
}

func newSweeper(st *storetest.Store) *reconciler.Sweeper {
	alloc := &stock.Allocator{Now: func() time.Time { return testNow }}
	return reconciler.NewSweeper(st, alloc, nil, decimal.RequireFromString("0.1"), 1)
}

func addBatch(st *storetest.Store, id string, qty int) {
	st.AddBatch(stock.Batch{
		ID: id, DealerID: "dealer-1", ProductID: "prod-1", ProductCode: "P001",
		ReceivedQuantity: qty, AvailableForSale: qty,
		Status: stock.StatusConfirmed, CreatedAt: testNow,
	})
}

func addPending(t *testing.T, st *storetest.Store, p orders.PendingOrderProduct) {
	t.Helper()
	err := st.Transact(context.Background(), func(tx orders.Tx) error {
		return tx.InsertPendingProduct(context.Background(), p)
	})
	require.NoError(t, err)
}

func TestSweepFulfillsWithFrozenFOC(t *testing.T) {
	st := newStore()
	addBatch(st, "b1", 10)
	addPending(t, st, orders.PendingOrderProduct{
		ID: "pend-1", ProductCode: "P001",
		RequestedQuantity: 3, OriginalFOCQuantity: 1,
		ActorID: "mr-1", CustomerID: "cust-1",
		Status: orders.PendingOpen, CreatedAt: testNow,
	})

	s := newSweeper(st)
	stats, err := s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Fulfilled)
	assert.Equal(t, 0, stats.Failed)

	pendings := st.Pendings()
	require.Len(t, pendings, 1)
	assert.Equal(t, orders.PendingFulfilled, pendings[0].Status)
	require.NotEmpty(t, pendings[0].FulfilledOrderID)

	order, ok := st.Order(pendings[0].FulfilledOrderID)
	require.True(t, ok)
	assert.Equal(t, orders.StatusPending, order.Status, "representative follow-up awaits confirmation")
	assert.Equal(t, "mr-1", order.PlacerID)
	assert.Equal(t, "cust-1", order.CustomerID)
	assert.True(t, decimal.NewFromInt(300).Equal(order.Subtotal), "only the deferred remainder is charged, got %s", order.Subtotal)

	items := st.ItemsOf(order.ID)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 1, items[0].FreeQuantity, "FOC frozen at deferral time")

	b := st.Batch("b1")
	assert.Equal(t, 4, b.BlockedQuantity)
	assert.Equal(t, 6, b.AvailableForSale)

	// a second sweep sees nothing open
	stats, err = s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
}

func TestSweepSkipsWhenStockStillShort(t *testing.T) {
	st := newStore()
	addBatch(st, "b1", 3)
	addPending(t, st, orders.PendingOrderProduct{
		ID: "pend-1", ProductCode: "P001",
		RequestedQuantity: 3, OriginalFOCQuantity: 1,
		ActorID: "mr-1", Status: orders.PendingOpen, CreatedAt: testNow,
	})

	s := newSweeper(st)
	stats, err := s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 0, stats.Fulfilled)
	assert.Equal(t, 1, stats.Skipped)

	pendings := st.Pendings()
	assert.Equal(t, orders.PendingOpen, pendings[0].Status)
	assert.Equal(t, 0, st.Batch("b1").BlockedQuantity)
	assert.Empty(t, st.Orders())
}

func TestSweepIgnoresExpiredStock(t *testing.T) {
	st := newStore()
	past := testNow.AddDate(0, 0, -1)
	st.AddBatch(stock.Batch{
		ID: "b1", DealerID: "dealer-1", ProductID: "prod-1", ProductCode: "P001",
		ReceivedQuantity: 10, AvailableForSale: 10, ExpiryDate: &past,
		Status: stock.StatusConfirmed, CreatedAt: testNow,
	})
	addPending(t, st, orders.PendingOrderProduct{
		ID: "pend-1", ProductCode: "P001", RequestedQuantity: 2,
		ActorID: "mr-1", Status: orders.PendingOpen, CreatedAt: testNow,
	})

	s := newSweeper(st)
	stats, err := s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, orders.PendingOpen, st.Pendings()[0].Status)
}

// Full chain over one split line: place 10 against 7, confirm short,
// sweep once stock arrives. At every stage the units sold plus units
// blocked plus open deferred quantity must equal the ordered 10, and the
// remainder ships exactly once.
func TestSplitOrderFulfilledExactlyOnce(t *testing.T) {
	st := newStore()
	addBatch(st, "b1", 7)

	alloc := &stock.Allocator{Now: func() time.Time { return testNow }}
	lc := orders.NewLifecycle(st, alloc, nil, decimal.RequireFromString("0.1"), 1)
	s := reconciler.NewSweeper(st, alloc, nil, decimal.RequireFromString("0.1"), 1)

	accounted := func() (sold, blocked, open int) {
		for _, b := range st.Batches() {
			sold += b.SoldQuantity
			blocked += b.BlockedQuantity
		}
		for _, p := range st.Pendings() {
			if p.Status == orders.PendingOpen {
				open += p.RequestedQuantity
			}
		}
		return
	}

	res, err := lc.AddCartLine(context.Background(), "mr-1", "prod-1", 10)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	res, err = lc.PlaceOrder(context.Background(), "mr-1", "cust-1")
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	orderID := res.OrderID

	sold, blocked, open := accounted()
	assert.Equal(t, [3]int{0, 7, 3}, [3]int{sold, blocked, open})

	res, err = lc.ConfirmOrderByDistributor(context.Background(), orderID, "dist-1", nil)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	sold, blocked, open = accounted()
	assert.Equal(t, [3]int{7, 0, 3}, [3]int{sold, blocked, open})

	// nothing to allocate yet
	stats, err := s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	addBatch(st, "b2", 5)
	stats, err = s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fulfilled)

	sold, blocked, open = accounted()
	assert.Equal(t, [3]int{7, 3, 0}, [3]int{sold, blocked, open})

	var followUp string
	for _, p := range st.Pendings() {
		if p.Status == orders.PendingFulfilled {
			followUp = p.FulfilledOrderID
		}
	}
	require.NotEmpty(t, followUp)
	items := st.ItemsOf(followUp)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)

	// a second sweep has nothing left
	stats, err = s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)

	res, err = lc.ConfirmOrderByDistributor(context.Background(), followUp, "dist-1", nil)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	sold, blocked, open = accounted()
	assert.Equal(t, [3]int{10, 0, 0}, [3]int{sold, blocked, open},
		"the shortfall is delivered exactly once")
}

func TestSweepDistributorFollowUpAutoConfirms(t *testing.T) {
	st := newStore()
	addBatch(st, "b1", 10)
	addPending(t, st, orders.PendingOrderProduct{
		ID: "pend-1", ProductCode: "P001", RequestedQuantity: 4,
		ActorID: "dist-1", Status: orders.PendingOpen, CreatedAt: testNow,
	})

	s := newSweeper(st)
	stats, err := s.SweepPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fulfilled)

	pendings := st.Pendings()
	order, ok := st.Order(pendings[0].FulfilledOrderID)
	require.True(t, ok)
	assert.Equal(t, orders.StatusConfirmed, order.Status)
	assert.Equal(t, "dist-1", order.ConfirmedBy)

	b := st.Batch("b1")
	assert.Equal(t, 0, b.BlockedQuantity)
	assert.Equal(t, 4, b.SoldQuantity)
	assert.Equal(t, 6, b.AvailableForSale)
}
