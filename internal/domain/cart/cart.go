package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Line is a single cart position as seen by the discount engine. CategoryID
// and VendorID may be empty on input; the engine fills them from the catalog
// snapshot before eligibility matching.
type Line struct {
	ProductID  string
	CategoryID string
	VendorID   string
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Total returns unit price multiplied by quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the immutable input to a quote: merchandise lines plus the
// shipping cost the order pipeline has already selected. The engine never
// mutates a cart.
type Cart struct {
	Lines        []Line
	ShippingCost decimal.Decimal
}

// Subtotal returns the merchandise total across all lines, before discounts.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Total returns merchandise subtotal plus shipping.
func (c Cart) Total() decimal.Decimal {
	return c.Subtotal().Add(c.ShippingCost)
}

// ProductScope holds the catalog attributes needed for scope matching.
type ProductScope struct {
	CategoryID string
	VendorID   string
}

// CatalogProvider supplies product attributes from a read-only catalog
// snapshot. Implementations may serve stale data; scope resolution is
// advisory input to eligibility, re-checked nowhere else.
type CatalogProvider interface {
	LookupScope(ctx context.Context, productIDs []string) (map[string]ProductScope, error)
}
