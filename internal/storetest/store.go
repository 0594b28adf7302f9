// Package storetest provides an in-memory orders.Store for service-level
// tests. Transact serializes callers behind one mutex, which has the same
// effect the row locks have in Postgres, and restores a snapshot when the
// closure fails so a failed operation commits nothing.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hpratama/go-fieldsales-orders/internal/orders"
	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
)

type state struct {
	actors   map[string]orders.Actor
	products map[string]pricing.Product
	batches  map[string]stock.Batch
	orders   map[string]orders.Order
	items    []orders.OrderItem
	carts    []orders.CartLine
	pendings []orders.PendingOrderProduct
}

func (s *state) clone() state {
	out := state{
		actors:   make(map[string]orders.Actor, len(s.actors)),
		products: make(map[string]pricing.Product, len(s.products)),
		batches:  make(map[string]stock.Batch, len(s.batches)),
		orders:   make(map[string]orders.Order, len(s.orders)),
		items:    append([]orders.OrderItem(nil), s.items...),
		carts:    append([]orders.CartLine(nil), s.carts...),
		pendings: append([]orders.PendingOrderProduct(nil), s.pendings...),
	}
	for k, v := range s.actors {
		out.actors[k] = v
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.batches {
		out.batches[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	return out
}

type Store struct {
	mu sync.Mutex
	st state
}

func New() *Store {
	return &Store{st: state{
		actors:   map[string]orders.Actor{},
		products: map[string]pricing.Product{},
		batches:  map[string]stock.Batch{},
		orders:   map[string]orders.Order{},
	}}
}

func (s *Store) Transact(_ context.Context, fn func(tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&memTx{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// --- seeding and inspection helpers ---

func (s *Store) AddActor(a orders.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.actors[a.ID] = a
}

func (s *Store) AddProduct(p pricing.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) AddBatch(b stock.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.batches[b.ID] = b
}

func (s *Store) Batch(id string) stock.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.batches[id]
}

func (s *Store) Batches() []stock.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stock.Batch, 0, len(s.st.batches))
	for _, b := range s.st.batches {
		out = append(out, b)
	}
	stock.SortFEFO(out)
	return out
}

func (s *Store) Order(id string) (orders.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	return o, ok
}

func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	return out
}

func (s *Store) ItemsOf(orderID string) []orders.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.OrderItem
	for _, it := range s.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out
}

func (s *Store) Pendings() []orders.PendingOrderProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.PendingOrderProduct(nil), s.st.pendings...)
}

func (s *Store) CartOf(actorID string) []orders.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.CartLine
	for _, c := range s.st.carts {
		if c.ActorID == actorID {
			out = append(out, c)
		}
	}
	return out
}

// --- transaction view ---

type memTx struct{ st *state }

func (t *memTx) dealersInArea(areaID string) map[string]bool {
	dealers := map[string]bool{}
	for _, a := range t.st.actors {
		if a.Role == orders.RoleDistributor && a.AreaID == areaID && a.DealerID != "" {
			dealers[a.DealerID] = true
		}
	}
	return dealers
}

func (t *memTx) BatchesForAllocation(_ context.Context, productCode string, scope stock.Scope) ([]stock.Batch, error) {
	var dealers map[string]bool
	if scope.DealerID == "" {
		dealers = t.dealersInArea(scope.AreaID)
	}
	var out []stock.Batch
	for _, b := range t.st.batches {
		if b.ProductCode != productCode || b.Status != stock.StatusConfirmed {
			continue
		}
		if scope.DealerID != "" {
			if b.DealerID != scope.DealerID {
				continue
			}
		} else if !dealers[b.DealerID] {
			continue
		}
		out = append(out, b)
	}
	stock.SortFEFO(out)
	return out, nil
}

func (t *memTx) ApplyBatchDelta(_ context.Context, batchID string, blockedDelta, soldDelta int) error {
	b, ok := t.st.batches[batchID]
	if !ok {
		return fmt.Errorf("no batch %s", batchID)
	}
	b.BlockedQuantity += blockedDelta
	b.SoldQuantity += soldDelta
	b.AvailableForSale = b.ReceivedQuantity - b.BlockedQuantity - b.SoldQuantity
	if err := b.CheckInvariant(); err != nil {
		return err
	}
	t.st.batches[batchID] = b
	return nil
}

func (t *memTx) BatchForUpdate(_ context.Context, batchID string) (stock.Batch, error) {
	b, ok := t.st.batches[batchID]
	if !ok {
		return stock.Batch{}, stock.ErrBatchNotFound
	}
	return b, nil
}

func (t *memTx) ConfirmBatch(_ context.Context, batchID string, receivedQty int) error {
	b, ok := t.st.batches[batchID]
	if !ok {
		return stock.ErrBatchNotFound
	}
	if b.Status != stock.StatusBlocked {
		return stock.ErrBatchAlreadyConfirmed
	}
	b.Status = stock.StatusConfirmed
	b.ReceivedQuantity = receivedQty
	b.AvailableForSale = receivedQty - b.BlockedQuantity - b.SoldQuantity
	t.st.batches[batchID] = b
	return nil
}

func (t *memTx) ActorByID(_ context.Context, id string) (orders.Actor, error) {
	a, ok := t.st.actors[id]
	if !ok {
		return orders.Actor{}, fmt.Errorf("%w: actor %s", orders.ErrNotFound, id)
	}
	return a, nil
}

func (t *memTx) ProductByID(_ context.Context, id string) (pricing.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return pricing.Product{}, pricing.ErrProductNotFound
	}
	return p, nil
}

func (t *memTx) ProductByCode(_ context.Context, code string) (pricing.Product, error) {
	for _, p := range t.st.products {
		if p.Code == code {
			return p, nil
		}
	}
	return pricing.Product{}, pricing.ErrProductNotFound
}

func (t *memTx) CartLines(_ context.Context, actorID string, _ bool) ([]orders.CartLine, error) {
	var out []orders.CartLine
	for _, c := range t.st.carts {
		if c.ActorID == actorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memTx) UpsertCartLine(_ context.Context, line orders.CartLine) error {
	for i, c := range t.st.carts {
		if c.ActorID == line.ActorID && c.ProductID == line.ProductID {
			t.st.carts[i] = line
			return nil
		}
	}
	t.st.carts = append(t.st.carts, line)
	return nil
}

func (t *memTx) DeleteCartLine(_ context.Context, actorID, productID string) error {
	out := t.st.carts[:0]
	for _, c := range t.st.carts {
		if !(c.ActorID == actorID && c.ProductID == productID) {
			out = append(out, c)
		}
	}
	t.st.carts = out
	return nil
}

func (t *memTx) ClearCart(_ context.Context, actorID string) error {
	out := t.st.carts[:0]
	for _, c := range t.st.carts {
		if c.ActorID != actorID {
			out = append(out, c)
		}
	}
	t.st.carts = out
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o orders.Order) error {
	if _, exists := t.st.orders[o.ID]; exists {
		return fmt.Errorf("duplicate order %s", o.ID)
	}
	t.st.orders[o.ID] = o
	return nil
}

func (t *memTx) OrderByID(_ context.Context, orderID string) (orders.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return o, nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, orderID string) (orders.Order, error) {
	return t.OrderByID(ctx, orderID)
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID string, status orders.Status, stage string) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	o.Status = status
	o.OrderStage = stage
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) FinalizeOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, o.ID)
	}
	t.st.orders[o.ID] = o
	return nil
}

func (t *memTx) InsertOrderItem(_ context.Context, it orders.OrderItem) error {
	t.st.items = append(t.st.items, it)
	return nil
}

func (t *memTx) ItemsByOrder(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	var out []orders.OrderItem
	for _, it := range t.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *memTx) UpdateItemAdjustment(_ context.Context, it orders.OrderItem) error {
	for i, existing := range t.st.items {
		if existing.ID == it.ID {
			t.st.items[i] = it
			return nil
		}
	}
	return fmt.Errorf("%w: order item %s", orders.ErrNotFound, it.ID)
}

func (t *memTx) InsertPendingProduct(_ context.Context, p orders.PendingOrderProduct) error {
	t.st.pendings = append(t.st.pendings, p)
	return nil
}

func (t *memTx) OpenPendingProducts(_ context.Context) ([]orders.PendingOrderProduct, error) {
	var out []orders.PendingOrderProduct
	for _, p := range t.st.pendings {
		if p.Status == orders.PendingOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) OpenPendingByItem(_ context.Context, orderItemID string) ([]orders.PendingOrderProduct, error) {
	var out []orders.PendingOrderProduct
	for _, p := range t.st.pendings {
		if p.OriginalOrderItemID == orderItemID && p.Status == orders.PendingOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) UpdatePendingQuantity(_ context.Context, id string, requestedQty int) error {
	for i, p := range t.st.pendings {
		if p.ID == id {
			if p.Status != orders.PendingOpen {
				return fmt.Errorf("%w: pending order product %s is not pending", orders.ErrInvalidState, id)
			}
			p.RequestedQuantity = requestedQty
			t.st.pendings[i] = p
			return nil
		}
	}
	return fmt.Errorf("%w: pending order product %s", orders.ErrNotFound, id)
}

func (t *memTx) CancelPendingProduct(_ context.Context, id string) error {
	for i, p := range t.st.pendings {
		if p.ID == id {
			if p.Status != orders.PendingOpen {
				return fmt.Errorf("%w: pending order product %s is not pending", orders.ErrInvalidState, id)
			}
			p.Status = orders.PendingCancelled
			t.st.pendings[i] = p
			return nil
		}
	}
	return fmt.Errorf("%w: pending order product %s", orders.ErrNotFound, id)
}

func (t *memTx) PendingProductForUpdate(_ context.Context, id string) (orders.PendingOrderProduct, error) {
	for _, p := range t.st.pendings {
		if p.ID == id {
			return p, nil
		}
	}
	return orders.PendingOrderProduct{}, fmt.Errorf("%w: pending order product %s", orders.ErrNotFound, id)
}

func (t *memTx) MarkPendingFulfilled(_ context.Context, id, fulfilledOrderID string) error {
	for i, p := range t.st.pendings {
		if p.ID == id {
			if p.Status != orders.PendingOpen {
				return fmt.Errorf("%w: pending order product %s is not pending", orders.ErrInvalidState, id)
			}
			p.Status = orders.PendingFulfilled
			p.FulfilledOrderID = fulfilledOrderID
			t.st.pendings[i] = p
			return nil
		}
	}
	return fmt.Errorf("%w: pending order product %s", orders.ErrNotFound, id)
}
