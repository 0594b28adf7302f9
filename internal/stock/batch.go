package stock

import (
	"fmt"
	"sort"
	"time"
)

type Status string

const (
	// StatusBlocked marks a freshly recorded shipment awaiting the dealer's
	// count validation; it is invisible to the allocator.
	StatusBlocked Status = "blocked"
	// StatusConfirmed batches are part of the allocation pool.
	StatusConfirmed Status = "confirmed"
)

// Batch is one dealer/product/lot inventory row. Rows are never deleted;
// quantities only move between received, blocked and sold.
type Batch struct {
	ID               string
	DealerID         string
	ProductID        string
	ProductCode      string
	ReceivedQuantity int
	BlockedQuantity  int
	SoldQuantity     int
	AvailableForSale int
	ExpiryDate       *time.Time
	LotNumber        string
	Status           Status
	CreatedAt        time.Time
}

// CheckInvariant verifies available = received - blocked - sold with all
// quantities non-negative.
func (b Batch) CheckInvariant() error {
	if b.ReceivedQuantity < 0 || b.BlockedQuantity < 0 || b.SoldQuantity < 0 || b.AvailableForSale < 0 {
		return fmt.Errorf("batch %s: negative quantity (received=%d blocked=%d sold=%d available=%d)",
			b.ID, b.ReceivedQuantity, b.BlockedQuantity, b.SoldQuantity, b.AvailableForSale)
	}
	if b.AvailableForSale != b.ReceivedQuantity-b.BlockedQuantity-b.SoldQuantity {
		return fmt.Errorf("batch %s: available %d != received %d - blocked %d - sold %d",
			b.ID, b.AvailableForSale, b.ReceivedQuantity, b.BlockedQuantity, b.SoldQuantity)
	}
	return nil
}

// Expired reports whether the batch is past its expiry date. Batches
// without an expiry never expire.
func (b Batch) Expired(now time.Time) bool {
	return b.ExpiryDate != nil && !b.ExpiryDate.After(now)
}

// SortFEFO orders batches earliest expiry first, batches without an expiry
// last; ties break on creation time then id so concurrent allocators see
// one deterministic traversal order.
func SortFEFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
