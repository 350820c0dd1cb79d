// Package eligibility decides whether a single instrument may apply to a
// (cart, shopper) pair. Expected ineligibility is a Result with a Reason,
// never an error; errors are reserved for malformed instruments.
package eligibility

import (
	"time"

	"github.com/go-faster/errors"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/instrument"
)

// Reason is a machine-readable ineligibility or rejection code, surfaced to
// shoppers by the calling UI.
type Reason string

const (
	ReasonInactive           Reason = "INACTIVE"
	ReasonNotStarted         Reason = "NOT_STARTED"
	ReasonExpired            Reason = "EXPIRED"
	ReasonScopeMismatch      Reason = "SCOPE_MISMATCH"
	ReasonBelowMinimum       Reason = "BELOW_MINIMUM"
	ReasonAboveMaximum       Reason = "ABOVE_MAXIMUM"
	ReasonGlobalLimitReached Reason = "GLOBAL_LIMIT_REACHED"
	ReasonUserLimitReached   Reason = "USER_LIMIT_REACHED"
)

// Result is the outcome of evaluating one instrument.
type Result struct {
	Eligible bool
	Reason   Reason
}

func eligible() Result           { return Result{Eligible: true} }
func ineligible(r Reason) Result { return Result{Reason: r} }

// Evaluate runs the eligibility checks in fixed order, short-circuiting on
// the first failure so the cheapest checks run first and the returned reason
// is deterministic:
//
//  1. kill switch, 2. time window, 3. scope intersection,
//  4. order-value bounds (coupons), 5. global limit (advisory here,
//     authoritative in the ledger), 6. per-user limit.
//
// shopperUses is the count of the shopper's prior committed redemptions of
// this instrument. An error means the instrument itself is malformed.
func Evaluate(inst instrument.Instrument, c cart.Cart, shopperUses int, now time.Time) (Result, error) {
	spec := inst.DiscountSpec()
	if spec == nil {
		return Result{}, errors.Wrapf(instrument.ErrMalformedSpec, "instrument %s has no discount spec", inst.InstrumentID())
	}
	if err := spec.Validate(); err != nil {
		return Result{}, errors.Wrapf(err, "instrument %s", inst.InstrumentID())
	}

	if !inst.Active() {
		return ineligible(ReasonInactive), nil
	}

	from, until := inst.Window()
	if from != nil && now.Before(*from) {
		return ineligible(ReasonNotStarted), nil
	}
	if until != nil && !now.Before(*until) {
		return ineligible(ReasonExpired), nil
	}

	scope := inst.EligibleScope()
	matching := scope.MatchingLines(c.Lines)
	if len(matching) == 0 {
		return ineligible(ReasonScopeMismatch), nil
	}

	if coupon, ok := inst.(*instrument.Coupon); ok {
		matchingTotal := cart.Cart{Lines: matching}.Subtotal()
		if coupon.MinOrderValue.IsPositive() && matchingTotal.LessThan(coupon.MinOrderValue) {
			return ineligible(ReasonBelowMinimum), nil
		}
		if coupon.MaxOrderValue.IsPositive() && matchingTotal.GreaterThan(coupon.MaxOrderValue) {
			return ineligible(ReasonAboveMaximum), nil
		}
	}

	limits := inst.UsageLimits()
	if limits.GlobalExhausted() {
		return ineligible(ReasonGlobalLimitReached), nil
	}
	if limits.PerUser > 0 && shopperUses >= limits.PerUser {
		return ineligible(ReasonUserLimitReached), nil
	}

	return eligible(), nil
}
