// Package stacking decides which combination of eligible instruments applies
// to a cart and emits the DiscountDecision the order pipeline consumes.
package stacking

import (
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/discount"
	"github.com/vendly/promo-engine/internal/domain/eligibility"
	"github.com/vendly/promo-engine/internal/domain/instrument"
)

// ReasonNotSelected marks instruments that were eligible but lost the
// one-deal/one-coupon selection to a better candidate.
const ReasonNotSelected = eligibility.Reason("NOT_SELECTED")

// ReasonNotFound marks a shopper-entered coupon code that resolved to no
// active coupon.
const ReasonNotFound = eligibility.Reason("NOT_FOUND")

// Applied is one instrument that made it into the decision, in application
// order (deal first, then coupon, then shipping waiver).
type Applied struct {
	InstrumentID   string
	Kind           instrument.Kind
	AmountOff      decimal.Decimal
	ShippingWaiver bool
}

// Rejected is an instrument that was considered but not applied, retained
// for shopper-facing messaging.
type Rejected struct {
	InstrumentID string
	Kind         instrument.Kind
	Reason       eligibility.Reason
}

// Decision is the engine's output: which instruments apply, for how much,
// and why the rest were rejected. It is ephemeral; the engine never persists
// it.
type Decision struct {
	Applied       []Applied
	Rejected      []Rejected
	OriginalTotal decimal.Decimal
	FinalTotal    decimal.Decimal
}

// TotalOff returns the summed discount across applied instruments.
func (d *Decision) TotalOff() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range d.Applied {
		sum = sum.Add(a.AmountOff)
	}
	return sum
}

// candidate pairs an eligible instrument with its independently computed
// amount, so selection can compare without recomputation.
type candidate struct {
	inst   instrument.Instrument
	amount discount.Amount
}

// Resolve applies the stacking policy to the eligible instruments:
//
//   - at most one merchandise deal and one merchandise coupon apply;
//   - a free-shipping coupon composes with them, filling its own slot;
//   - amounts are computed independently against the original line totals
//     and summed, never chained, so the total is order-independent;
//   - ties on amount break toward the earliest end of window, preferring
//     instruments about to expire, then by instrument id for determinism.
//
// Pre-rejected instruments (failed eligibility upstream) are carried into
// the decision untouched.
func Resolve(eligibleInstruments []instrument.Instrument, c cart.Cart, preRejected []Rejected) (*Decision, error) {
	var (
		deals           []candidate
		coupons         []candidate
		shippingCoupons []candidate
	)

	for _, inst := range eligibleInstruments {
		matching := inst.EligibleScope().MatchingLines(c.Lines)
		amount, err := discount.Compute(inst, matching, c.ShippingCost)
		if err != nil {
			return nil, errors.Wrap(err, "compute discount")
		}

		cand := candidate{inst: inst, amount: amount}
		switch {
		case amount.IsShippingWaiver() || isFreeShipping(inst):
			shippingCoupons = append(shippingCoupons, cand)
		case inst.InstrumentKind() == instrument.KindDeal:
			deals = append(deals, cand)
		default:
			coupons = append(coupons, cand)
		}
	}

	decision := &Decision{
		Rejected:      append([]Rejected(nil), preRejected...),
		OriginalTotal: c.Total().Round(2),
	}

	bestDeal := pickBest(deals)
	bestCoupon := pickBest(coupons)
	bestShipping := pickBest(shippingCoupons)

	appendLosers(decision, deals, bestDeal)
	appendLosers(decision, coupons, bestCoupon)
	appendLosers(decision, shippingCoupons, bestShipping)

	// Display and rounding order: deal, coupon, shipping waiver.
	for _, cand := range []*candidate{bestDeal, bestCoupon} {
		if cand == nil {
			continue
		}
		decision.Applied = append(decision.Applied, Applied{
			InstrumentID: cand.inst.InstrumentID(),
			Kind:         cand.inst.InstrumentKind(),
			AmountOff:    cand.amount.Merchandise,
		})
	}
	if bestShipping != nil {
		decision.Applied = append(decision.Applied, Applied{
			InstrumentID:   bestShipping.inst.InstrumentID(),
			Kind:           bestShipping.inst.InstrumentKind(),
			AmountOff:      bestShipping.amount.Shipping,
			ShippingWaiver: true,
		})
	}

	final := decision.OriginalTotal.Sub(decision.TotalOff())
	if final.IsNegative() {
		final = decimal.Zero
	}
	decision.FinalTotal = final.Round(2)

	return decision, nil
}

func isFreeShipping(inst instrument.Instrument) bool {
	_, ok := inst.DiscountSpec().(instrument.FreeShipping)
	return ok
}

// pickBest selects the candidate with the greatest amount; ties break by
// earliest window end (nil end sorts last), then by instrument id.
func pickBest(cands []candidate) *candidate {
	if len(cands) == 0 {
		return nil
	}
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := sorted[i].amount.Total(), sorted[j].amount.Total()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		ei := windowEnd(sorted[i].inst)
		ej := windowEnd(sorted[j].inst)
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return sorted[i].inst.InstrumentID() < sorted[j].inst.InstrumentID()
	})
	return &sorted[0]
}

// windowEnd returns the instrument's end of window, or a far-future sentinel
// when unbounded so bounded windows win ties.
func windowEnd(inst instrument.Instrument) time.Time {
	_, until := inst.Window()
	if until == nil {
		return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return *until
}

func appendLosers(d *Decision, cands []candidate, winner *candidate) {
	for _, cand := range cands {
		if winner != nil && cand.inst.InstrumentID() == winner.inst.InstrumentID() {
			continue
		}
		d.Rejected = append(d.Rejected, Rejected{
			InstrumentID: cand.inst.InstrumentID(),
			Kind:         cand.inst.InstrumentKind(),
			Reason:       ReasonNotSelected,
		})
	}
}
