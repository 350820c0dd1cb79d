// Package discount computes the monetary effect of an eligible instrument.
// All arithmetic is decimal; rounding is half-up to 2 places, applied once
// on the aggregate so repeated quotes never drift.
package discount

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/instrument"
)

var hundred = decimal.NewFromInt(100)

// Amount is the computed effect of one instrument. Merchandise and Shipping
// are reported separately: a shipping waiver never reduces merchandise
// totals and vice versa.
type Amount struct {
	Merchandise decimal.Decimal
	Shipping    decimal.Decimal
}

// Total returns the combined discount across both categories.
func (a Amount) Total() decimal.Decimal {
	return a.Merchandise.Add(a.Shipping)
}

// IsShippingWaiver reports whether the amount applies to the shipping line.
func (a Amount) IsShippingWaiver() bool {
	return a.Shipping.IsPositive() && a.Merchandise.IsZero()
}

// Compute calculates the discount for inst against the cart lines matching
// its scope. The result is never negative and never exceeds the matching
// subtotal (or the shipping cost, for shipping waivers). An error indicates
// a malformed spec, which the caller must log and fail — defaulting here
// could grant unintended discounts.
func Compute(inst instrument.Instrument, matching []cart.Line, shippingCost decimal.Decimal) (Amount, error) {
	spec := inst.DiscountSpec()
	if spec == nil {
		return Amount{}, errors.Wrapf(instrument.ErrMalformedSpec, "instrument %s has no discount spec", inst.InstrumentID())
	}
	if err := spec.Validate(); err != nil {
		return Amount{}, errors.Wrapf(err, "instrument %s", inst.InstrumentID())
	}

	subtotal := cart.Cart{Lines: matching}.Subtotal()

	switch s := spec.(type) {
	case instrument.PercentOff:
		return Amount{Merchandise: percentOff(s, subtotal)}, nil
	case instrument.FixedAmountOff:
		return Amount{Merchandise: clamp(decimal.Min(s.Amount, subtotal), subtotal)}, nil
	case instrument.FreeShipping:
		// No shipping cost means a no-op waiver, not an error.
		if !shippingCost.IsPositive() {
			return Amount{}, nil
		}
		return Amount{Shipping: shippingCost.Round(2)}, nil
	case instrument.BuyXGetY:
		return Amount{Merchandise: clamp(buyXGetY(s, matching), subtotal)}, nil
	case instrument.TieredQuantity:
		return Amount{Merchandise: clamp(tieredQuantity(s, matching, subtotal), subtotal)}, nil
	default:
		return Amount{}, errors.Wrapf(instrument.ErrMalformedSpec, "unhandled discount spec %T for instrument %s", spec, inst.InstrumentID())
	}
}

func percentOff(s instrument.PercentOff, subtotal decimal.Decimal) decimal.Decimal {
	amount := subtotal.Mul(s.Percent).Div(hundred).Round(2)
	if s.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, s.MaxDiscount)
	}
	return clamp(amount, subtotal)
}

// buyXGetY expands matching lines into units per product, forms complete
// groups of BuyQty+GetQty, and discounts the GetQty cheapest units of each
// complete group. Incomplete trailing groups get nothing. Products are
// walked cheapest-first so the discount lands on the cheapest eligible
// units, the standard "cheapest free" semantics.
func buyXGetY(s instrument.BuyXGetY, matching []cart.Line) decimal.Decimal {
	groupSize := s.BuyQty + s.GetQty

	// Collapse lines by product, keeping the unit price.
	type bucket struct {
		price decimal.Decimal
		qty   int
	}
	byProduct := make(map[string]*bucket)
	order := make([]string, 0, len(matching))
	for _, l := range matching {
		b, ok := byProduct[l.ProductID]
		if !ok {
			b = &bucket{price: l.UnitPrice}
			byProduct[l.ProductID] = b
			order = append(order, l.ProductID)
		}
		b.qty += l.Quantity
	}
	sort.SliceStable(order, func(i, j int) bool {
		return byProduct[order[i]].price.LessThan(byProduct[order[j]].price)
	})

	total := decimal.Zero
	for _, id := range order {
		b := byProduct[id]
		groups := b.qty / groupSize
		if groups == 0 {
			continue
		}
		discountedUnits := decimal.NewFromInt(int64(groups * s.GetQty))
		total = total.Add(b.price.Mul(discountedUnits).Mul(s.GetDiscountPercent).Div(hundred))
	}
	return total.Round(2)
}

// tieredQuantity applies the single highest breakpoint satisfied by the
// matching quantity. Breakpoints are not cumulative.
func tieredQuantity(s instrument.TieredQuantity, matching []cart.Line, subtotal decimal.Decimal) decimal.Decimal {
	qty := 0
	for _, l := range matching {
		qty += l.Quantity
	}

	best := decimal.Zero
	bestMin := -1
	for _, t := range s.Tiers {
		if qty >= t.MinQuantity && t.MinQuantity > bestMin {
			best = t.Percent
			bestMin = t.MinQuantity
		}
	}
	if bestMin < 0 {
		return decimal.Zero
	}
	return subtotal.Mul(best).Div(hundred).Round(2)
}

// clamp bounds amount to [0, limit].
func clamp(amount, limit decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(limit) {
		return limit
	}
	return amount
}
