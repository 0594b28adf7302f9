package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleRepresentative Role = "representative"
	RoleDistributor    Role = "distributor"
)

// Actor is a sales representative or an area distributor. Distributors
// carry the dealer whose stock they hold.
type Actor struct {
	ID       string
	Name     string
	Role     Role
	AreaID   string
	DealerID string // distributors only
}

type Order struct {
	ID          string
	PlacerID    string
	CustomerID  string // optional
	Status      Status
	OrderStage  string
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
	ConfirmedBy string
	ConfirmedAt *time.Time
	CreatedAt   time.Time
}

// OrderItem is one product line. Quantity is the ordered (paid) quantity;
// FreeQuantity is the promotional FOC on top of it. PendingQuantity is the
// part that could not be allocated and is tracked as a pending order
// product. Adjusted fields are written only during distributor
// confirmation.
type OrderItem struct {
	ID                 string
	OrderID            string
	ProductID          string
	ProductCode        string
	Quantity           int
	FreeQuantity       int
	UnitPrice          decimal.Decimal
	TotalPrice         decimal.Decimal
	AdjustedQuantity   *int
	PendingQuantity    int
	AdjustmentReason   string
	AdjustedLotNumber  string
	AdjustedExpiryDate *time.Time
}

// BlockedQuantity is the stock currently reserved for this line: paid plus
// FOC units, minus whatever was deferred.
func (i OrderItem) BlockedQuantity() int {
	return i.Quantity + i.FreeQuantity - i.PendingQuantity
}

type PendingStatus string

const (
	PendingOpen      PendingStatus = "pending"
	PendingFulfilled PendingStatus = "fulfilled"
	// PendingCancelled marks deferred quantity that was delivered another
	// way, e.g. topped up from newly arrived stock at confirmation.
	PendingCancelled PendingStatus = "cancelled"
)

// PendingOrderProduct is a deferred line item: quantity that could not be
// allocated, kept for the reconciler. OriginalFOCQuantity is frozen at the
// moment of deferral and never recomputed.
type PendingOrderProduct struct {
	ID                  string
	OriginalOrderID     string // empty when the placement produced no order
	OriginalOrderItemID string
	ProductCode         string
	RequestedQuantity   int
	OriginalFOCQuantity int
	ActorID             string
	CustomerID          string
	Status              PendingStatus
	FulfilledOrderID    string
	CreatedAt           time.Time
}

// CartLine is a transient pre-order line owned by exactly one actor. The
// pricing fields are a snapshot taken when the line was added.
type CartLine struct {
	ID           string
	ActorID      string
	ProductID    string
	Quantity     int
	UnitPrice    decimal.Decimal
	FreeQuantity int
	CreatedAt    time.Time
}

// ItemEdit is a distributor's optional per-line override at confirmation.
type ItemEdit struct {
	Quantity   *int       `json:"quantity,omitempty"`
	LotNumber  string     `json:"lot_number,omitempty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// OrderView is the read-only projection returned by the status queries.
type OrderView struct {
	Order Order
	Items []OrderItem
}
