package instrument

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Spec is the closed set of discount behaviours. Every variant has exactly
// one calculation path in the discount package; an unknown variant there is
// a programming fault, never a silent default.
type Spec interface {
	isSpec()
	// Validate reports data-integrity faults in the variant's parameters.
	Validate() error
}

// PercentOff takes a percentage off the matching subtotal, optionally capped
// at MaxDiscount (zero = uncapped).
type PercentOff struct {
	Percent     decimal.Decimal
	MaxDiscount decimal.Decimal
}

// FixedAmountOff takes a fixed amount off, never more than the matching
// subtotal.
type FixedAmountOff struct {
	Amount decimal.Decimal
}

// FreeShipping waives the shipping cost. It never touches merchandise lines.
type FreeShipping struct{}

// BuyXGetY discounts the GetQty cheapest units in each complete group of
// BuyQty+GetQty matching units.
type BuyXGetY struct {
	BuyQty             int
	GetQty             int
	GetDiscountPercent decimal.Decimal
}

// QuantityTier is one breakpoint of a bulk discount rule.
type QuantityTier struct {
	MinQuantity int
	Percent     decimal.Decimal
}

// TieredQuantity applies the single highest satisfied breakpoint to the
// matching subtotal. Breakpoints are not cumulative.
type TieredQuantity struct {
	Tiers []QuantityTier
}

func (PercentOff) isSpec()     {}
func (FixedAmountOff) isSpec() {}
func (FreeShipping) isSpec()   {}
func (BuyXGetY) isSpec()       {}
func (TieredQuantity) isSpec() {}

func (s PercentOff) Validate() error {
	if s.Percent.IsNegative() || s.Percent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Wrapf(ErrMalformedSpec, "percent %s out of [0,100]", s.Percent)
	}
	if s.MaxDiscount.IsNegative() {
		return errors.Wrap(ErrMalformedSpec, "negative max discount")
	}
	return nil
}

func (s FixedAmountOff) Validate() error {
	if s.Amount.IsNegative() {
		return errors.Wrap(ErrMalformedSpec, "negative fixed amount")
	}
	return nil
}

func (FreeShipping) Validate() error { return nil }

func (s BuyXGetY) Validate() error {
	if s.BuyQty <= 0 || s.GetQty <= 0 {
		return errors.Wrapf(ErrMalformedSpec, "buy %d get %d", s.BuyQty, s.GetQty)
	}
	if s.GetDiscountPercent.IsNegative() || s.GetDiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Wrapf(ErrMalformedSpec, "get discount percent %s out of [0,100]", s.GetDiscountPercent)
	}
	return nil
}

func (s TieredQuantity) Validate() error {
	if len(s.Tiers) == 0 {
		return errors.Wrap(ErrMalformedSpec, "no quantity tiers")
	}
	for _, t := range s.Tiers {
		if t.MinQuantity <= 0 {
			return errors.Wrapf(ErrMalformedSpec, "tier min quantity %d", t.MinQuantity)
		}
		if t.Percent.IsNegative() || t.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return errors.Wrapf(ErrMalformedSpec, "tier percent %s out of [0,100]", t.Percent)
		}
	}
	return nil
}
