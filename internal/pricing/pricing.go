package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
	DiscountBulk       DiscountType = "bulk" // percentage, active only from BulkThreshold units
)

// BulkThreshold is the minimum quantity for a bulk discount to apply.
const BulkThreshold = 10

type SchemeType string

const (
	SchemeBuyXGetYFree     SchemeType = "buy_x_get_y_free"
	SchemeBuyXGetYDiscount SchemeType = "buy_x_get_y_discount"
	SchemePercentageOff    SchemeType = "percentage_off"
	SchemeFreeShipping     SchemeType = "free_shipping"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidPromotion = errors.New("invalid promotion configuration")
)

type Product struct {
	ID        string
	Code      string
	Name      string
	UnitPrice decimal.Decimal
	Active    bool
	Promo     *Promotion
}

// Promotion is the per-product discount and scheme configuration. A nil
// Promotion means the product sells at its base price.
type Promotion struct {
	DiscountType  DiscountType
	DiscountValue decimal.Decimal

	SchemeType        SchemeType
	BuyQuantity       int // X in buy-X schemes, N in percentage_off
	GetQuantity       int // Y in buy-X-get-Y schemes
	SchemeDiscountPct decimal.Decimal
}

// Validate rejects malformed promotion rows instead of silently pricing
// without them, so bad configuration surfaces at the first quote.
func (p *Promotion) Validate() error {
	if p == nil {
		return nil
	}
	switch p.DiscountType {
	case "", DiscountPercentage, DiscountFixed, DiscountBulk:
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidPromotion, p.DiscountType)
	}
	if p.DiscountType != "" && p.DiscountValue.IsNegative() {
		return fmt.Errorf("%w: negative discount value", ErrInvalidPromotion)
	}
	switch p.SchemeType {
	case "":
	case SchemeFreeShipping:
	case SchemeBuyXGetYFree, SchemeBuyXGetYDiscount:
		if p.BuyQuantity <= 0 || p.GetQuantity <= 0 {
			return fmt.Errorf("%w: scheme %s needs positive buy/get quantities", ErrInvalidPromotion, p.SchemeType)
		}
	case SchemePercentageOff:
		if p.BuyQuantity <= 0 {
			return fmt.Errorf("%w: scheme %s needs a positive full-price quantity", ErrInvalidPromotion, p.SchemeType)
		}
	default:
		return fmt.Errorf("%w: unknown scheme type %q", ErrInvalidPromotion, p.SchemeType)
	}
	if p.SchemeType == SchemeBuyXGetYDiscount || p.SchemeType == SchemePercentageOff {
		if p.SchemeDiscountPct.IsNegative() || p.SchemeDiscountPct.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: scheme discount must be within [0,100]", ErrInvalidPromotion)
		}
	}
	return nil
}

type Discount struct {
	Type   DiscountType    `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"` // total amount taken off by the discount
}

type Scheme struct {
	Type            SchemeType `json:"type"`
	FreeQuantity    int        `json:"free_quantity"`
	PaidQuantity    int        `json:"paid_quantity"`
	TotalQuantity   int        `json:"total_quantity"` // units the buyer receives
	FullPriceItems  int        `json:"full_price_items,omitempty"`
	DiscountedItems int        `json:"discounted_items,omitempty"`
	FreeShipping    bool       `json:"free_shipping,omitempty"`
}

// Result is the priced breakdown for one product line. Monetary fields keep
// full precision; Rounded trims them at the output boundary.
type Result struct {
	BasePrice   decimal.Decimal `json:"base_price"`
	Discount    *Discount       `json:"discount,omitempty"`
	Scheme      *Scheme         `json:"scheme,omitempty"`
	FinalPrice  decimal.Decimal `json:"final_price"` // effective unit price
	TotalAmount decimal.Decimal `json:"total_amount"`
	Savings     decimal.Decimal `json:"savings"`
}

// FreeQuantity is the FOC units granted on top of the paid quantity.
func (r Result) FreeQuantity() int {
	if r.Scheme == nil {
		return 0
	}
	return r.Scheme.FreeQuantity
}

// Rounded returns a copy with every monetary field rounded to two decimals.
func (r Result) Rounded() Result {
	out := r
	out.BasePrice = r.BasePrice.Round(2)
	out.FinalPrice = r.FinalPrice.Round(2)
	out.TotalAmount = r.TotalAmount.Round(2)
	out.Savings = r.Savings.Round(2)
	if r.Discount != nil {
		d := *r.Discount
		d.Amount = d.Amount.Round(2)
		out.Discount = &d
	}
	return out
}

var hundred = decimal.NewFromInt(100)

func pctOff(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
}

// Quote computes the priced breakdown for qty units of p. The discount is
// applied to the unit price first; the scheme then works on the discounted
// price. No rounding happens here.
func Quote(p Product, qty int) (Result, error) {
	if qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if err := p.Promo.Validate(); err != nil {
		return Result{}, err
	}

	base := p.UnitPrice
	unit := base
	qtyDec := decimal.NewFromInt(int64(qty))

	res := Result{BasePrice: base}

	if p.Promo != nil && p.Promo.DiscountType != "" {
		applied := true
		switch p.Promo.DiscountType {
		case DiscountPercentage:
			unit = pctOff(base, p.Promo.DiscountValue)
		case DiscountFixed:
			unit = base.Sub(p.Promo.DiscountValue)
			if unit.IsNegative() {
				unit = decimal.Zero
			}
		case DiscountBulk:
			if qty >= BulkThreshold {
				unit = pctOff(base, p.Promo.DiscountValue)
			} else {
				applied = false
			}
		}
		if applied {
			res.Discount = &Discount{
				Type:   p.Promo.DiscountType,
				Value:  p.Promo.DiscountValue,
				Amount: base.Sub(unit).Mul(qtyDec),
			}
		}
	}

	total := unit.Mul(qtyDec)
	received := qty

	if p.Promo != nil && p.Promo.SchemeType != "" {
		sc := &Scheme{Type: p.Promo.SchemeType, PaidQuantity: qty, TotalQuantity: qty}
		switch p.Promo.SchemeType {
		case SchemeBuyXGetYFree:
			groups := qty / p.Promo.BuyQuantity
			sc.FreeQuantity = groups * p.Promo.GetQuantity
			sc.TotalQuantity = qty + sc.FreeQuantity
			received = sc.TotalQuantity
			// buyer pays for the full ordered quantity
			total = unit.Mul(qtyDec)

		case SchemeBuyXGetYDiscount:
			groupSize := p.Promo.BuyQuantity + p.Promo.GetQuantity
			groups := qty / groupSize
			remainder := qty % groupSize
			full := groups*p.Promo.BuyQuantity + remainder
			disc := groups * p.Promo.GetQuantity
			if full+disc != qty {
				// rebalance any discrepancy into the full-price bucket
				full = qty - disc
			}
			sc.FullPriceItems = full
			sc.DiscountedItems = disc
			total = unit.Mul(decimal.NewFromInt(int64(full))).
				Add(pctOff(unit, p.Promo.SchemeDiscountPct).Mul(decimal.NewFromInt(int64(disc))))

		case SchemePercentageOff:
			full := qty
			if p.Promo.BuyQuantity < qty {
				full = p.Promo.BuyQuantity
			}
			disc := qty - full
			sc.FullPriceItems = full
			sc.DiscountedItems = disc
			total = unit.Mul(decimal.NewFromInt(int64(full))).
				Add(pctOff(unit, p.Promo.SchemeDiscountPct).Mul(decimal.NewFromInt(int64(disc))))

		case SchemeFreeShipping:
			sc.FreeShipping = true
		}
		res.Scheme = sc
	}

	res.TotalAmount = total
	res.FinalPrice = total.Div(qtyDec)
	res.Savings = base.Mul(decimal.NewFromInt(int64(received))).Sub(total)
	return res, nil
}

// Catalog resolves product and promotion configuration for the engine.
type Catalog interface {
	ProductByID(ctx context.Context, id string) (Product, error)
	ProductByCode(ctx context.Context, code string) (Product, error)
}

// Engine prices product quantities against the catalog. It performs no
// writes and is safe for concurrent use.
type Engine struct {
	catalog Catalog
}

func NewEngine(c Catalog) *Engine { return &Engine{catalog: c} }

// Price returns the rounded breakdown for qty units of the product.
func (e *Engine) Price(ctx context.Context, productID string, qty int) (Result, error) {
	p, err := e.catalog.ProductByID(ctx, productID)
	if err != nil {
		return Result{}, err
	}
	res, err := Quote(p, qty)
	if err != nil {
		return Result{}, err
	}
	return res.Rounded(), nil
}

// PriceByCode is Price keyed by product code.
func (e *Engine) PriceByCode(ctx context.Context, code string, qty int) (Result, error) {
	p, err := e.catalog.ProductByCode(ctx, code)
	if err != nil {
		return Result{}, err
	}
	res, err := Quote(p, qty)
	if err != nil {
		return Result{}, err
	}
	return res.Rounded(), nil
}
